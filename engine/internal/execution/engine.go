package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/metrics"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/portfolio"
	"venue-execution-engine/engine/internal/risk"
)

const archiveTimeout = 10 * time.Second

// Engine runs trade requests through the risk gate and onto a venue, then
// settles them from the event bus.
type Engine struct {
	gate     RiskGate
	exec     Executor
	archiver Archiver
	perf     PerformanceRecorder
	bus      *events.Bus
	log      *logger.Logger
	now      func() time.Time

	mu     sync.RWMutex
	orders map[string]*Order

	loopMu sync.Mutex
	sub    *events.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	archives sync.WaitGroup
}

func NewEngine(gate RiskGate, exec Executor, bus *events.Bus, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		gate:   gate,
		exec:   exec,
		bus:    bus,
		log:    log.Named("execution"),
		now:    time.Now,
		orders: make(map[string]*Order),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit checks a request with the risk gate and places it. A risk refusal
// returns the rejected order together with a *risk.Rejection.
func (e *Engine) Submit(ctx context.Context, req models.TradeRequest) (Order, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Order{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := e.now()
	e.mu.Lock()
	if _, exists := e.orders[req.ID]; exists {
		e.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, req.ID)
	}
	order := &Order{ID: req.ID, Request: req, Status: StatusPending, SubmittedAt: now, UpdatedAt: now}
	e.orders[req.ID] = order
	e.mu.Unlock()

	approval, err := e.gate.Reserve(ctx, req)
	if err != nil {
		return e.fail(req.ID, err), err
	}
	e.mu.Lock()
	order.Approval = approval
	e.mu.Unlock()

	if !approval.Approved {
		e.updateOrderStatus(req.ID, StatusRejected, approval.Reason)
		return e.snapshot(req.ID), &risk.Rejection{Reason: approval.Reason}
	}

	e.updateOrderStatus(req.ID, StatusSubmitted, "")
	params := models.ParamsFor(req, approval.RecommendedAmount)
	contract, err := e.exec.ExecuteTrade(ctx, params, req.Venue)
	if err != nil {
		if relErr := e.gate.Release(req.ID); relErr != nil {
			e.log.Warnf("Release %s: %v", req.ID, relErr)
		}
		return e.fail(req.ID, err), err
	}

	// a fast contract may settle before we get here
	if err := e.gate.Commit(req.ID, contract.Venue, contract.ID); err != nil && !errors.Is(err, risk.ErrUnknownReservation) {
		e.log.Warnf("Commit %s: %v", req.ID, err)
	}

	e.mu.Lock()
	if order.Contract == nil {
		order.Contract = contract
	}
	e.mu.Unlock()
	if e.snapshot(req.ID).Status == StatusSubmitted {
		e.updateOrderStatus(req.ID, StatusExecuted, "")
	}
	e.log.Infof("Order %s executed on %s as contract %s (%.2f %s %s)",
		req.ID, contract.Venue, contract.ID, params.Amount, params.Direction, params.Asset)
	return e.snapshot(req.ID), nil
}

func (e *Engine) fail(id string, err error) Order {
	e.updateOrderStatus(id, StatusFailed, err.Error())
	return e.snapshot(id)
}

func (e *Engine) updateOrderStatus(id string, status OrderStatus, reason string) {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	order.Status = status
	order.Error = reason
	order.UpdatedAt = e.now()
	e.mu.Unlock()

	switch status {
	case StatusRejected, StatusFailed, StatusExecuted, StatusSettled:
		metrics.Orders.WithLabelValues(string(status)).Inc()
	}
	if reason != "" {
		e.log.Infof("Order %s status updated to %s: %s", id, status, reason)
		return
	}
	e.log.Debugf("Order %s status updated to %s", id, status)
}

func (e *Engine) snapshot(id string) Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if o, ok := e.orders[id]; ok {
		return o.clone()
	}
	return Order{}
}

// Order returns one tracked order
func (e *Engine) Order(id string) (Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// GetAllOrders returns every tracked order, oldest first
func (e *Engine) GetAllOrders() []Order {
	e.mu.RLock()
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Close sells an open contract early and returns the sale price
func (e *Engine) Close(ctx context.Context, id string) (float64, error) {
	o, ok := e.Order(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if o.Status != StatusExecuted || o.Contract == nil {
		return 0, fmt.Errorf("%w: %s is %s", ErrNotOpen, id, o.Status)
	}
	price, err := e.exec.CloseContract(ctx, o.Contract.Venue, o.Contract.ID)
	if err != nil {
		return 0, err
	}
	e.log.Infof("Order %s closed early at %.2f", id, price)
	return price, nil
}

// Reset drops finished orders
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, o := range e.orders {
		switch o.Status {
		case StatusRejected, StatusFailed, StatusSettled:
			delete(e.orders, id)
		}
	}
	e.log.Info("Finished orders cleared")
}

// Start consumes settlements and balance updates until Stop
func (e *Engine) Start(ctx context.Context) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	// settlements must never be dropped or the risk gate keeps a phantom reservation
	e.sub = e.bus.SubscribeUnbounded("execution", events.KindTradeClosed, events.KindBalanceUpdate)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func(sub *events.Subscription, done chan struct{}) {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				e.handle(ctx, ev)
			}
		}
	}(e.sub, e.done)
}

func (e *Engine) handle(ctx context.Context, ev events.Event) {
	switch ev := ev.(type) {
	case events.TradeClosed:
		e.settle(ctx, ev.Contract)
	case events.BalanceUpdate:
		e.gate.UpdateBalance(ev.Venue, ev.Balance)
	}
}

func (e *Engine) settle(ctx context.Context, c models.Contract) {
	id := c.TradeID
	if err := e.gate.RecordTradeEnd(id, c.Profit); err != nil {
		e.log.Warnf("Settlement for contract %s on %s: %v", c.ID, c.Venue, err)
	}

	strategy := portfolio.DefaultStrategy
	e.mu.Lock()
	if o, ok := e.orders[id]; ok {
		if o.Request.Strategy != "" {
			strategy = o.Request.Strategy
		}
		settled := c
		o.Contract = &settled
	}
	e.mu.Unlock()
	e.updateOrderStatus(id, StatusSettled, "")

	if e.perf != nil {
		e.perf.Record(strategy, c.Profit)
	}
	if e.archiver != nil {
		e.archives.Add(1)
		go e.archive(context.WithoutCancel(ctx), c)
	}
	e.log.Infof("Contract %s settled on %s: %s %.2f", c.ID, c.Venue, c.Result, c.Profit)
}

func (e *Engine) archive(ctx context.Context, c models.Contract) {
	defer e.archives.Done()
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := e.archiver.ArchiveContract(ctx, c); err != nil {
		e.log.Errorf("Archive contract %s: %v", c.ID, err)
	}
}

// Stop ends the settlement loop and waits for pending archive writes
func (e *Engine) Stop() {
	e.loopMu.Lock()
	cancel, done, sub := e.cancel, e.done, e.sub
	e.cancel, e.done, e.sub = nil, nil, nil
	e.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.bus.Unsubscribe(sub)
	e.archives.Wait()
}
