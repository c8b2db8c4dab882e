package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubVenue is an in-memory venue client
type stubVenue struct {
	id string

	mu          sync.Mutex
	ready       bool
	unavailable bool
	authFailed  bool
	startErr    error
	execErr     error
	starts      int
	resets      int
	pings       int
	executed    []models.ExecutionParams
	ticks       []string

	inflight    *atomic.Int32
	maxInflight *atomic.Int32
	calls       *[]string
	callsMu     *sync.Mutex
}

func (s *stubVenue) ID() string { return s.id }

func (s *stubVenue) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.unavailable {
		return venue.ErrUnavailable
	}
	if s.startErr != nil {
		if errors.Is(s.startErr, venue.ErrAuthenticationFailed) {
			s.authFailed = true
		}
		return s.startErr
	}
	s.ready = true
	return nil
}

func (s *stubVenue) Disconnect() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

func (s *stubVenue) Reset() {
	s.mu.Lock()
	s.resets++
	s.unavailable = false
	s.authFailed = false
	s.mu.Unlock()
}

func (s *stubVenue) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubVenue) Unavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

func (s *stubVenue) AuthFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailed
}

func (s *stubVenue) Reconnecting() bool { return false }

func (s *stubVenue) Ping(context.Context) error {
	s.mu.Lock()
	s.pings++
	s.mu.Unlock()
	return nil
}

func (s *stubVenue) ExecuteTrade(_ context.Context, p models.ExecutionParams) (*models.Contract, error) {
	if s.inflight != nil {
		n := s.inflight.Add(1)
		for {
			cur := s.maxInflight.Load()
			if n <= cur || s.maxInflight.CompareAndSwap(cur, n) {
				break
			}
		}
		defer s.inflight.Add(-1)
		time.Sleep(5 * time.Millisecond)
	}
	if s.calls != nil {
		s.callsMu.Lock()
		*s.calls = append(*s.calls, s.id)
		s.callsMu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, p)
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &models.Contract{ID: fmt.Sprintf("%s-%d", s.id, len(s.executed)), TradeID: p.TradeID, Venue: s.id,
		Asset: p.Asset, Direction: p.Direction, Amount: p.Amount, Status: models.ContractActive}, nil
}

func (s *stubVenue) CloseContract(_ context.Context, id string) (float64, error) {
	return 1.5, nil
}

func (s *stubVenue) SubscribeTicks(_ context.Context, asset string) error {
	s.mu.Lock()
	s.ticks = append(s.ticks, asset)
	s.mu.Unlock()
	return nil
}

func (s *stubVenue) Status() venue.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := venue.StateDisconnected
	if s.ready {
		state = venue.StateAuthenticated
	}
	return venue.Status{Venue: s.id, State: state.String(), Unavailable: s.unavailable}
}

func (s *stubVenue) executedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}

func (s *stubVenue) counts() (starts, resets, pings int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.resets, s.pings
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		AutoFailover:     true,
		HealthInterval:   time.Hour,
		HealthMaxRetries: 3,
		VolatilityWindow: 10,
	}
}

func newTestOrchestrator(t *testing.T, cfg config.OrchestratorConfig, venues ...*stubVenue) (*Orchestrator, *events.Bus) {
	log := logger.FromZap(zaptest.NewLogger(t), 100, logger.LevelDebug)
	bus := events.NewBus(log)
	o := New(cfg, bus, log)
	for i, v := range venues {
		require.NoError(t, o.Register(v, i))
	}
	return o, bus
}

func params(id string) models.ExecutionParams {
	return models.ExecutionParams{TradeID: id, Asset: "R_100", Direction: models.DirectionCall, Amount: 10, Duration: 5, DurationUnit: "t"}
}

func TestConnectAllInPriorityOrder(t *testing.T) {
	a := &stubVenue{id: "a", startErr: errors.New("dial refused")}
	b := &stubVenue{id: "b"}
	c := &stubVenue{id: "c"}
	log := logger.Nop()
	o := New(testConfig(), events.NewBus(log), log)
	require.NoError(t, o.Register(c, 3))
	require.NoError(t, o.Register(a, 1))
	require.NoError(t, o.Register(b, 2))
	assert.Error(t, o.Register(&stubVenue{id: "b"}, 9))

	require.NoError(t, o.ConnectAll(context.Background()))
	assert.Equal(t, "b", o.ActiveVenue())
	assert.True(t, c.IsReady())

	statuses := o.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{statuses[0].Venue, statuses[1].Venue, statuses[2].Venue})
	assert.True(t, statuses[1].Active)
}

func TestConnectAllFailsOnlyWhenNothingConnects(t *testing.T) {
	a := &stubVenue{id: "a", startErr: errors.New("dial refused")}
	b := &stubVenue{id: "b", startErr: venue.ErrAuthenticationFailed}
	o, _ := newTestOrchestrator(t, testConfig(), a, b)

	err := o.ConnectAll(context.Background())
	assert.ErrorIs(t, err, ErrNoVenuesAvailable)
	assert.ErrorIs(t, err, venue.ErrAuthenticationFailed)
	assert.Empty(t, o.ActiveVenue())
}

func TestFailoverAfterRejectionIsSequential(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	var calls []string
	var callsMu sync.Mutex
	mk := func(id string) *stubVenue {
		return &stubVenue{id: id, inflight: &inflight, maxInflight: &maxInflight, calls: &calls, callsMu: &callsMu}
	}
	a, b, c := mk("a"), mk("b"), mk("c")
	a.execErr = &venue.VenueRejection{Venue: "a", Code: "ContractBuyValidationError", Message: "market closed"}

	o, _ := newTestOrchestrator(t, testConfig(), a, b, c)
	require.NoError(t, o.ConnectAll(context.Background()))

	contract, err := o.ExecuteTrade(context.Background(), params("t1"), "")
	require.NoError(t, err)
	assert.Equal(t, "b", contract.Venue)
	assert.Equal(t, "t1", contract.TradeID)

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, int32(1), maxInflight.Load())
	assert.Zero(t, c.executedCount())
}

func TestNoFailoverForFatalErrorsOrWhenDisabled(t *testing.T) {
	a := &stubVenue{id: "a", execErr: fmt.Errorf("venue a: %w", venue.ErrAuthenticationFailed)}
	b := &stubVenue{id: "b"}
	o, _ := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))

	_, err := o.ExecuteTrade(context.Background(), params("t1"), "")
	assert.ErrorIs(t, err, venue.ErrAuthenticationFailed)
	assert.Zero(t, b.executedCount())

	cfg := testConfig()
	cfg.AutoFailover = false
	a2 := &stubVenue{id: "a", execErr: venue.ErrProtocolTimeout}
	b2 := &stubVenue{id: "b"}
	o2, _ := newTestOrchestrator(t, cfg, a2, b2)
	require.NoError(t, o2.ConnectAll(context.Background()))

	_, err = o2.ExecuteTrade(context.Background(), params("t2"), "")
	assert.ErrorIs(t, err, venue.ErrProtocolTimeout)
	assert.Zero(t, b2.executedCount())
}

func TestFailoverExhaustionReturnsLastError(t *testing.T) {
	a := &stubVenue{id: "a", execErr: venue.ErrProtocolTimeout}
	b := &stubVenue{id: "b", execErr: &venue.TransportError{Venue: "b", Op: "write", Err: errors.New("broken pipe")}}
	o, _ := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))

	_, err := o.ExecuteTrade(context.Background(), params("t1"), "")
	var te *venue.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 1, a.executedCount())
	assert.Equal(t, 1, b.executedCount())
}

func TestExplicitVenue(t *testing.T) {
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b"}
	o, _ := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))

	contract, err := o.ExecuteTrade(context.Background(), params("t1"), "b")
	require.NoError(t, err)
	assert.Equal(t, "b", contract.Venue)
	assert.Zero(t, a.executedCount())

	_, err = o.ExecuteTrade(context.Background(), params("t2"), "zzz")
	assert.ErrorIs(t, err, ErrUnknownVenue)

	sold, err := o.CloseContract(context.Background(), "b", contract.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.5, sold)
}

type stopFlag struct{ stopped atomic.Bool }

func (s *stopFlag) Stopped() bool { return s.stopped.Load() }

func TestEmergencyStopHaltsExecutions(t *testing.T) {
	a := &stubVenue{id: "a"}
	log := logger.Nop()
	bus := events.NewBus(log)
	flag := &stopFlag{}
	o := New(testConfig(), bus, log, WithStopSource(flag))
	require.NoError(t, o.Register(a, 0))
	require.NoError(t, o.ConnectAll(context.Background()))

	o.Start(context.Background())
	defer o.Stop()

	flag.stopped.Store(true)
	bus.Publish(events.EmergencyStop{Reason: "daily loss", Timestamp: time.Now()})
	require.Eventually(t, o.Halted, time.Second, time.Millisecond)

	_, err := o.ExecuteTrade(context.Background(), params("t1"), "")
	assert.ErrorIs(t, err, ErrEmergencyStop)
	assert.Zero(t, a.executedCount())

	// the stop source clearing (daily reset) lifts the halt
	flag.stopped.Store(false)
	_, err = o.ExecuteTrade(context.Background(), params("t2"), "")
	assert.NoError(t, err)
}

func TestManualHaltAndResume(t *testing.T) {
	a := &stubVenue{id: "a"}
	o, _ := newTestOrchestrator(t, testConfig(), a)
	require.NoError(t, o.ConnectAll(context.Background()))

	o.Halt("operator")
	_, err := o.ExecuteTrade(context.Background(), params("t1"), "")
	assert.ErrorIs(t, err, ErrEmergencyStop)

	o.Resume()
	_, err = o.ExecuteTrade(context.Background(), params("t1"), "")
	assert.NoError(t, err)
}

func TestSwitchActiveVenue(t *testing.T) {
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b"}
	o, bus := newTestOrchestrator(t, testConfig(), a, b)
	all := bus.Subscribe("test", 4, events.KindAllVenuesUnavailable)
	require.NoError(t, o.ConnectAll(context.Background()))
	require.Equal(t, "a", o.ActiveVenue())

	a.Disconnect()
	next, err := o.SwitchActiveVenue()
	require.NoError(t, err)
	assert.Equal(t, "b", next)

	b.Disconnect()
	_, err = o.SwitchActiveVenue()
	assert.ErrorIs(t, err, ErrNoVenuesAvailable)
	assert.Empty(t, o.ActiveVenue())
	assert.Len(t, all.Events(), 1)

	_, err = o.ExecuteTrade(context.Background(), params("t1"), "")
	assert.ErrorIs(t, err, ErrNoVenuesAvailable)
}

func TestDisconnectedActiveVenueIsReplaced(t *testing.T) {
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b"}
	o, bus := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))
	o.Start(context.Background())
	defer o.Stop()
	require.Equal(t, "a", o.ActiveVenue())

	a.Disconnect()
	bus.Publish(events.VenueDisconnected{Venue: "a", Reason: "read: connection reset", Timestamp: time.Now()})
	require.Eventually(t, func() bool { return o.ActiveVenue() == "b" }, time.Second, time.Millisecond)

	bus.Publish(events.VenueDisconnected{Venue: "a", Reason: "stale", Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "b", o.ActiveVenue(), "a non-active venue does not move the selection")
}

func TestUnavailableActiveVenueIsReplaced(t *testing.T) {
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b"}
	o, bus := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))
	o.Start(context.Background())
	defer o.Stop()

	a.Disconnect()
	bus.Publish(events.VenueUnavailable{Venue: "a", Reason: "reconnection failed", Timestamp: time.Now()})
	require.Eventually(t, func() bool { return o.ActiveVenue() == "b" }, time.Second, time.Millisecond)
}

func TestHealthCheckDormancyAndRevive(t *testing.T) {
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b", startErr: errors.New("dial refused")}
	o, _ := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))

	for i := 0; i < 5; i++ {
		o.CheckHealth(context.Background())
	}
	starts, _, _ := b.counts()
	assert.Equal(t, 4, starts, "one ConnectAll attempt plus three health retries")
	_, _, pings := a.counts()
	assert.Equal(t, 5, pings)

	st := o.Statuses()
	assert.True(t, st[1].Dormant)
	assert.Equal(t, 3, st[1].HealthFailures)

	b.mu.Lock()
	b.startErr = nil
	b.mu.Unlock()
	require.NoError(t, o.Revive(context.Background(), "b"))
	assert.True(t, b.IsReady())
	_, resets, _ := b.counts()
	assert.Equal(t, 1, resets)
	assert.False(t, o.Statuses()[1].Dormant)

	assert.ErrorIs(t, o.Revive(context.Background(), "nope"), ErrUnknownVenue)
}

func TestHealthCheckResetsUnavailableVenue(t *testing.T) {
	a := &stubVenue{id: "a"}
	o, _ := newTestOrchestrator(t, testConfig(), a)
	require.NoError(t, o.ConnectAll(context.Background()))

	a.mu.Lock()
	a.ready = false
	a.unavailable = true
	a.mu.Unlock()

	o.CheckHealth(context.Background())
	assert.True(t, a.IsReady())
	assert.Equal(t, "a", o.ActiveVenue())
}

func TestHealthCheckLeavesRefusedTokenAlone(t *testing.T) {
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b", startErr: fmt.Errorf("venue b: %w: invalid token", venue.ErrAuthenticationFailed)}
	o, _ := newTestOrchestrator(t, testConfig(), a, b)
	require.NoError(t, o.ConnectAll(context.Background()))

	for i := 0; i < 4; i++ {
		o.CheckHealth(context.Background())
	}
	starts, resets, _ := b.counts()
	assert.Equal(t, 1, starts, "no authorize retries against a refused token")
	assert.Zero(t, resets)
	assert.True(t, o.Statuses()[1].Dormant)

	// refused during its own reconnect loop: unavailable and auth failed
	b.mu.Lock()
	b.unavailable = true
	b.mu.Unlock()
	o.mu.Lock()
	o.byID["b"].dormant = false
	o.mu.Unlock()
	o.CheckHealth(context.Background())
	starts, resets, _ = b.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, resets)

	b.mu.Lock()
	b.startErr = nil
	b.mu.Unlock()
	require.NoError(t, o.Revive(context.Background(), "b"))
	assert.True(t, b.IsReady())
}

func TestHealthLoopRuns(t *testing.T) {
	cfg := testConfig()
	cfg.HealthInterval = 2 * time.Millisecond
	a := &stubVenue{id: "a"}
	o, _ := newTestOrchestrator(t, cfg, a)
	require.NoError(t, o.ConnectAll(context.Background()))

	o.Start(context.Background())
	require.Eventually(t, func() bool {
		_, _, pings := a.counts()
		return pings >= 2
	}, time.Second, time.Millisecond)
	o.Stop()
}

func TestWatchedAssetsAndPrices(t *testing.T) {
	cfg := testConfig()
	cfg.WatchedAssets = []string{"R_100", "frxEURUSD"}
	a := &stubVenue{id: "a"}
	b := &stubVenue{id: "b"}
	o, bus := newTestOrchestrator(t, cfg, a, b)
	require.NoError(t, o.ConnectAll(context.Background()))
	assert.Equal(t, []string{"R_100", "frxEURUSD"}, a.ticks)
	assert.Equal(t, []string{"R_100", "frxEURUSD"}, b.ticks)

	// health check must not add references to the same streams
	o.CheckHealth(context.Background())
	assert.Len(t, a.ticks, 2)

	o.Start(context.Background())
	defer o.Stop()

	now := time.Now()
	bus.Publish(events.PriceTick{Venue: "a", Asset: "R_100", Price: 100.1, Timestamp: now})
	bus.Publish(events.PriceTick{Venue: "b", Asset: "R_100", Price: 100.3, Timestamp: now.Add(time.Millisecond)})

	require.Eventually(t, func() bool {
		p, ok := o.Prices("R_100")
		return ok && len(p.Venues) == 2
	}, time.Second, time.Millisecond)
	p, _ := o.Prices("R_100")
	assert.Equal(t, 100.3, p.Latest.Price)
	assert.Equal(t, "b", p.Latest.Venue)
}
