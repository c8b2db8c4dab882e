package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/portfolio"
	"venue-execution-engine/engine/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeGate struct {
	mu        sync.Mutex
	approval  models.TradeApproval
	err       error
	released  []string
	committed []string
	ended     map[string]float64
	balances  map[string]float64
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		approval: models.TradeApproval{Approved: true, RecommendedAmount: 7.5, RiskLevel: models.RiskLow},
		ended:    make(map[string]float64),
		balances: make(map[string]float64),
	}
}

func (g *fakeGate) Reserve(_ context.Context, req models.TradeRequest) (models.TradeApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.approval
	a.ReservationID = req.ID
	return a, g.err
}

func (g *fakeGate) Release(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, id)
	return nil
}

func (g *fakeGate) Commit(id, _, contractID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.committed = append(g.committed, id+"/"+contractID)
	return nil
}

func (g *fakeGate) RecordTradeEnd(id string, profit float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended[id] = profit
	return nil
}

func (g *fakeGate) UpdateBalance(venue string, balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[venue] = balance
}

func (g *fakeGate) endedFor(id string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.ended[id]
	return p, ok
}

type fakeExecutor struct {
	mu        sync.Mutex
	err       error
	params    []models.ExecutionParams
	venues    []string
	closed    []string
	onExec    func(models.ExecutionParams)
	salePrice float64
}

func (x *fakeExecutor) ExecuteTrade(_ context.Context, p models.ExecutionParams, venueID string) (*models.Contract, error) {
	x.mu.Lock()
	x.params = append(x.params, p)
	x.venues = append(x.venues, venueID)
	err, hook := x.err, x.onExec
	x.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(p)
	}
	if venueID == "" {
		venueID = "alpha"
	}
	return &models.Contract{
		ID:        "c-" + p.TradeID,
		TradeID:   p.TradeID,
		Venue:     venueID,
		Asset:     p.Asset,
		Direction: p.Direction,
		Amount:    p.Amount,
		Status:    models.ContractActive,
	}, nil
}

func (x *fakeExecutor) CloseContract(_ context.Context, venueID, contractID string) (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = append(x.closed, venueID+"/"+contractID)
	return x.salePrice, nil
}

type memArchive struct {
	mu        sync.Mutex
	contracts []models.Contract
	// when set, every write waits for it to close
	hold chan struct{}
}

func (a *memArchive) ArchiveContract(ctx context.Context, c models.Contract) error {
	if a.hold != nil {
		select {
		case <-a.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contracts = append(a.contracts, c)
	return nil
}

func (a *memArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.contracts)
}

func testLogger(t *testing.T) *logger.Logger {
	return logger.FromZap(zaptest.NewLogger(t), 100, logger.LevelDebug)
}

func tradeRequest(id string) models.TradeRequest {
	return models.TradeRequest{
		ID:        id,
		Asset:     "R_100",
		Direction: models.DirectionCall,
		Amount:    10,
		Duration:  5,
		Strategy:  "momentum",
	}
}

func TestSubmitExecutesApprovedAmount(t *testing.T) {
	gate, exec := newFakeGate(), &fakeExecutor{}
	e := NewEngine(gate, exec, events.NewBus(logger.Nop()), testLogger(t))

	order, err := e.Submit(context.Background(), tradeRequest("t1"))
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, order.Status)
	require.NotNil(t, order.Contract)
	assert.Equal(t, "c-t1", order.Contract.ID)

	require.Len(t, exec.params, 1)
	assert.Equal(t, 7.5, exec.params[0].Amount)
	assert.Equal(t, "t", exec.params[0].DurationUnit)
	assert.Equal(t, []string{"t1/c-t1"}, gate.committed)
	assert.Empty(t, gate.released)
}

func TestSubmitAssignsID(t *testing.T) {
	e := NewEngine(newFakeGate(), &fakeExecutor{}, events.NewBus(logger.Nop()), testLogger(t))
	order, err := e.Submit(context.Background(), tradeRequest(""))
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)

	_, ok := e.Order(order.ID)
	assert.True(t, ok)
}

func TestSubmitRejected(t *testing.T) {
	gate, exec := newFakeGate(), &fakeExecutor{}
	gate.approval = models.TradeApproval{Approved: false, Reason: risk.ReasonEmergencyStop}
	e := NewEngine(gate, exec, events.NewBus(logger.Nop()), testLogger(t))

	order, err := e.Submit(context.Background(), tradeRequest("t1"))
	var rej *risk.Rejection
	require.ErrorAs(t, err, &rej)
	assert.True(t, errors.Is(err, risk.ErrEmergencyStop))
	assert.Equal(t, StatusRejected, order.Status)
	assert.Equal(t, risk.ReasonEmergencyStop, order.Error)
	assert.Empty(t, exec.params)
}

func TestSubmitReleasesOnVenueFailure(t *testing.T) {
	gate := newFakeGate()
	exec := &fakeExecutor{err: errors.New("no venues")}
	e := NewEngine(gate, exec, events.NewBus(logger.Nop()), testLogger(t))

	order, err := e.Submit(context.Background(), tradeRequest("t1"))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, order.Status)
	assert.Equal(t, []string{"t1"}, gate.released)
	assert.Empty(t, gate.committed)
}

func TestSubmitInvalidAndDuplicate(t *testing.T) {
	gate, exec := newFakeGate(), &fakeExecutor{}
	e := NewEngine(gate, exec, events.NewBus(logger.Nop()), testLogger(t))

	bad := tradeRequest("bad")
	bad.Direction = "UP"
	_, err := e.Submit(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, ok := e.Order("bad")
	assert.False(t, ok)

	_, err = e.Submit(context.Background(), tradeRequest("t1"))
	require.NoError(t, err)
	_, err = e.Submit(context.Background(), tradeRequest("t1"))
	assert.ErrorIs(t, err, ErrDuplicateOrder)
	assert.Len(t, exec.params, 1)
}

func TestSettlementFromBus(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	gate, exec := newFakeGate(), &fakeExecutor{}
	archive := &memArchive{}
	tracker := portfolio.NewTracker(testLogger(t))
	e := NewEngine(gate, exec, bus, testLogger(t), WithArchiver(archive), WithPerformance(tracker))
	e.Start(context.Background())
	defer e.Stop()

	order, err := e.Submit(context.Background(), tradeRequest("t1"))
	require.NoError(t, err)

	settled := *order.Contract
	settled.Status = models.ContractCompleted
	settled.Profit = -7.5
	settled.Result = models.ResultLoss
	bus.Publish(events.TradeClosed{Contract: settled, Timestamp: time.Now()})
	bus.Publish(events.BalanceUpdate{Venue: "alpha", Balance: 992.5, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		o, _ := e.Order("t1")
		return o.Status == StatusSettled && archive.len() == 1
	}, time.Second, 5*time.Millisecond)

	profit, ok := gate.endedFor("t1")
	require.True(t, ok)
	assert.Equal(t, -7.5, profit)

	perf, ok := tracker.Get("momentum")
	require.True(t, ok)
	assert.Equal(t, 1, perf.Losses)

	require.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		return gate.balances["alpha"] == 992.5
	}, time.Second, 5*time.Millisecond)
}

func TestSettlementsSurviveSlowArchiveAndBalanceBurst(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	gate := risk.NewGate(config.DefaultRiskConfig(), testLogger(t), risk.WithPublisher(bus))
	gate.UpdateBalance("alpha", 1000)
	archive := &memArchive{hold: make(chan struct{})}
	e := NewEngine(gate, &fakeExecutor{}, bus, testLogger(t), WithArchiver(archive))
	e.Start(context.Background())

	var contracts []models.Contract
	for _, id := range []string{"t0", "t1"} {
		order, err := e.Submit(context.Background(), tradeRequest(id))
		require.NoError(t, err)
		c := *order.Contract
		c.Status = models.ContractCompleted
		c.Profit = -c.Amount
		c.Result = models.ResultLoss
		contracts = append(contracts, c)
	}
	require.Equal(t, 2, gate.ActiveCount())

	bus.Publish(events.TradeClosed{Contract: contracts[0], Timestamp: time.Now()})
	for i := 0; i < 300; i++ {
		bus.Publish(events.BalanceUpdate{Venue: "alpha", Balance: 999, Timestamp: time.Now()})
	}
	bus.Publish(events.TradeClosed{Contract: contracts[1], Timestamp: time.Now()})

	require.Eventually(t, func() bool { return gate.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, bus.Dropped())
	assert.Zero(t, archive.len(), "archive writes still held")

	close(archive.hold)
	e.Stop()
	assert.Equal(t, 2, archive.len())
}

func TestSettlementBeforeCommitKeepsSettledStatus(t *testing.T) {
	gate := newFakeGate()
	exec := &fakeExecutor{}
	e := NewEngine(gate, exec, events.NewBus(logger.Nop()), testLogger(t))
	exec.onExec = func(p models.ExecutionParams) {
		e.settle(context.Background(), models.Contract{
			ID: "c-" + p.TradeID, TradeID: p.TradeID, Venue: "alpha",
			Status: models.ContractCompleted, Profit: 6, Result: models.ResultWin,
		})
	}

	order, err := e.Submit(context.Background(), tradeRequest("t1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, order.Status)
	assert.Equal(t, models.ContractCompleted, order.Contract.Status)
}

func TestCloseOpenOrder(t *testing.T) {
	exec := &fakeExecutor{salePrice: 4.2}
	e := NewEngine(newFakeGate(), exec, events.NewBus(logger.Nop()), testLogger(t))

	_, err := e.Close(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownOrder)

	_, err = e.Submit(context.Background(), tradeRequest("t1"))
	require.NoError(t, err)
	price, err := e.Close(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 4.2, price)
	assert.Equal(t, []string{"alpha/c-t1"}, exec.closed)
}

func TestGetAllOrdersAndReset(t *testing.T) {
	gate, exec := newFakeGate(), &fakeExecutor{}
	now := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	e := NewEngine(gate, exec, events.NewBus(logger.Nop()), testLogger(t),
		WithClock(func() time.Time { now = now.Add(time.Second); return now }))

	_, err := e.Submit(context.Background(), tradeRequest("first"))
	require.NoError(t, err)
	gate.approval = models.TradeApproval{Approved: false, Reason: risk.ReasonDailyLoss}
	_, err = e.Submit(context.Background(), tradeRequest("second"))
	require.Error(t, err)

	orders := e.GetAllOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, "first", orders[0].ID)
	assert.Equal(t, "second", orders[1].ID)

	e.Reset()
	orders = e.GetAllOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, StatusExecuted, orders[0].Status)
}

func TestEngineWithRiskGate(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	gate := risk.NewGate(config.DefaultRiskConfig(), testLogger(t), risk.WithPublisher(bus))
	gate.UpdateBalance("alpha", 1000)
	e := NewEngine(gate, &fakeExecutor{}, bus, testLogger(t))
	e.Start(context.Background())
	defer e.Stop()

	order, err := e.Submit(context.Background(), tradeRequest("t1"))
	require.NoError(t, err)
	assert.Equal(t, 1, gate.ActiveCount())

	settled := *order.Contract
	settled.Status = models.ContractCompleted
	settled.Profit = 5
	bus.Publish(events.TradeClosed{Contract: settled, Timestamp: time.Now()})

	require.Eventually(t, func() bool { return gate.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "5", gate.State().Daily.NetPL.String())
}
