// Package orchestrator connects to a priority-ordered set of venues, routes
// trades to the active one and fails over between them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/marketdata"
	"venue-execution-engine/engine/internal/metrics"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/venue"
)

const (
	defaultHealthInterval = 30 * time.Second
	defaultHealthRetries  = 3
	defaultVolWindow      = 50
)

// Orchestrator owns the venue clients. Failover is strictly sequential: a
// trade is only sent to the next venue after the previous attempt resolved.
type Orchestrator struct {
	cfg  config.OrchestratorConfig
	bus  *events.Bus
	book *marketdata.Book
	log  *logger.Logger
	now  func() time.Time

	mu      sync.RWMutex
	members []*member
	byID    map[string]*member
	active  string

	halted     atomic.Bool
	stopSource StopReporter

	loopMu sync.Mutex
	stops  []context.CancelFunc
	subs   []*events.Subscription
	wg     sync.WaitGroup
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithStopSource lets the halt flag clear itself once the source reports
// the emergency stop is over
func WithStopSource(s StopReporter) Option {
	return func(o *Orchestrator) { o.stopSource = s }
}

// WithBook shares a price book instead of creating one
func WithBook(b *marketdata.Book) Option {
	return func(o *Orchestrator) { o.book = b }
}

// New creates an orchestrator without venues
func New(cfg config.OrchestratorConfig, bus *events.Bus, log *logger.Logger, opts ...Option) *Orchestrator {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.HealthMaxRetries <= 0 {
		cfg.HealthMaxRetries = defaultHealthRetries
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = defaultVolWindow
	}
	if log == nil {
		log = logger.Nop()
	}
	if bus == nil {
		bus = events.NewBus(log)
	}
	o := &Orchestrator{
		cfg:  cfg,
		bus:  bus,
		log:  log.Named("orchestrator"),
		now:  time.Now,
		byID: make(map[string]*member),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.book == nil {
		o.book = marketdata.NewBook(cfg.VolatilityWindow, log)
	}
	return o
}

// Register adds a venue; lower priority values are tried first
func (o *Orchestrator) Register(v Venue, priority int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.byID[v.ID()]; exists {
		return fmt.Errorf("orchestrator: venue %s already registered", v.ID())
	}
	m := &member{client: v, priority: priority}
	o.members = append(o.members, m)
	o.byID[v.ID()] = m
	sort.SliceStable(o.members, func(i, j int) bool { return o.members[i].priority < o.members[j].priority })
	return nil
}

// ordered returns the members in priority order
func (o *Orchestrator) ordered() []*member {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*member(nil), o.members...)
}

func (o *Orchestrator) member(id string) (*member, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.byID[id]
	return m, ok
}

// Venue returns a registered venue client
func (o *Orchestrator) Venue(id string) (Venue, bool) {
	m, ok := o.member(id)
	if !ok {
		return nil, false
	}
	return m.client, true
}

// Book is the consolidated price book fed by every venue
func (o *Orchestrator) Book() *marketdata.Book {
	return o.book
}

// ConnectAll starts every venue in priority order. Failures are logged and
// skipped; only a run where no venue comes up is an error.
func (o *Orchestrator) ConnectAll(ctx context.Context) error {
	var errs []error
	connected := 0
	for _, m := range o.ordered() {
		id := m.client.ID()
		if err := m.client.Start(ctx); err != nil {
			o.log.Warnf("Venue %s failed to connect: %v", id, err)
			errs = append(errs, err)
			continue
		}
		connected++
		o.watch(ctx, m)

		o.mu.Lock()
		if o.active == "" {
			o.active = id
			o.log.Infof("Active venue: %s", id)
		}
		o.mu.Unlock()
	}

	if connected == 0 {
		if len(errs) == 0 {
			return ErrNoVenuesAvailable
		}
		return fmt.Errorf("%w: %w", ErrNoVenuesAvailable, errors.Join(errs...))
	}
	o.log.Infof("Connected to %d of %d venues", connected, len(o.ordered()))
	return nil
}

// watch subscribes a freshly connected venue to the watched assets once;
// the client restores the streams itself after reconnecting
func (o *Orchestrator) watch(ctx context.Context, m *member) {
	o.mu.Lock()
	if m.watching {
		o.mu.Unlock()
		return
	}
	m.watching = true
	o.mu.Unlock()

	for _, asset := range o.cfg.WatchedAssets {
		if err := m.client.SubscribeTicks(ctx, asset); err != nil {
			o.log.Warnf("Venue %s could not subscribe to %s ticks: %v", m.client.ID(), asset, err)
		}
	}
}

// ActiveVenue returns the id of the venue trades go to by default
func (o *Orchestrator) ActiveVenue() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// SwitchActiveVenue moves to the first connected venue, in priority order,
// other than the current one. With nothing connected it reports every venue
// unavailable.
func (o *Orchestrator) SwitchActiveVenue() (string, error) {
	o.mu.Lock()
	prev := o.active
	next := ""
	for _, m := range o.members {
		if m.client.ID() != prev && m.client.IsReady() {
			next = m.client.ID()
			break
		}
	}
	if next == "" && prev != "" {
		if m, ok := o.byID[prev]; ok && m.client.IsReady() {
			next = prev
		}
	}
	o.active = next
	o.mu.Unlock()

	if next == "" {
		o.log.Errorf("All venues unavailable")
		o.bus.Publish(events.AllVenuesUnavailable{Timestamp: o.now()})
		return "", ErrNoVenuesAvailable
	}
	if next != prev {
		o.log.Warnf("Active venue switched from %q to %s", prev, next)
	}
	return next, nil
}

// ExecuteTrade sends params to venueID, or to the active venue when empty.
// A recoverable failure is retried on the remaining connected venues in
// priority order when failover is enabled.
func (o *Orchestrator) ExecuteTrade(ctx context.Context, params models.ExecutionParams, venueID string) (*models.Contract, error) {
	if o.Halted() {
		return nil, ErrEmergencyStop
	}

	target := venueID
	if target == "" {
		target = o.ActiveVenue()
	}
	if target == "" {
		next, err := o.SwitchActiveVenue()
		if err != nil {
			return nil, err
		}
		target = next
	}
	first, ok := o.member(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, target)
	}

	contract, err := first.client.ExecuteTrade(ctx, params)
	if err == nil {
		return contract, nil
	}
	if !o.cfg.AutoFailover || !venue.IsRecoverable(err) {
		return nil, err
	}

	lastErr := err
	failed := target
	for _, m := range o.ordered() {
		id := m.client.ID()
		if id == target || !m.client.IsReady() {
			continue
		}
		if o.Halted() {
			return nil, ErrEmergencyStop
		}

		metrics.Failovers.Inc()
		o.log.Warnf("Trade %s failed on %s (%v), failing over to %s", params.TradeID, failed, lastErr, id)
		contract, err = m.client.ExecuteTrade(ctx, params)
		if err == nil {
			return contract, nil
		}
		if !venue.IsRecoverable(err) {
			return nil, err
		}
		lastErr = err
		failed = id
	}
	return nil, fmt.Errorf("trade %s failed on every venue: %w", params.TradeID, lastErr)
}

// CloseContract sells an open contract on the venue that holds it
func (o *Orchestrator) CloseContract(ctx context.Context, venueID, contractID string) (float64, error) {
	m, ok := o.member(venueID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownVenue, venueID)
	}
	return m.client.CloseContract(ctx, contractID)
}

// Prices returns the consolidated quotes for an asset
func (o *Orchestrator) Prices(asset string) (marketdata.Consolidated, bool) {
	return o.book.Prices(asset)
}

// Halt refuses further executions until Resume or the stop source clears
func (o *Orchestrator) Halt(reason string) {
	if o.halted.CompareAndSwap(false, true) {
		o.log.Errorf("Executions halted: %s", reason)
	}
}

// Resume lifts the halt
func (o *Orchestrator) Resume() {
	if o.halted.CompareAndSwap(true, false) {
		o.log.Infof("Executions resumed")
	}
}

// Halted reports whether executions are refused
func (o *Orchestrator) Halted() bool {
	if !o.halted.Load() {
		return false
	}
	if o.stopSource != nil && !o.stopSource.Stopped() {
		o.Resume()
		return false
	}
	return true
}

// Statuses lists every venue in priority order
func (o *Orchestrator) Statuses() []VenueStatus {
	members := o.ordered()
	out := make([]VenueStatus, 0, len(members))
	for _, m := range members {
		st := m.client.Status()
		o.mu.RLock()
		out = append(out, VenueStatus{
			Status:         st,
			Priority:       m.priority,
			Active:         o.active == m.client.ID(),
			Dormant:        m.dormant,
			HealthFailures: m.failures,
		})
		o.mu.RUnlock()
	}
	return out
}

// Start runs the event watcher, the price book and the health loop
func (o *Orchestrator) Start(ctx context.Context) {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()

	control := o.bus.SubscribeUnbounded("orchestrator", events.KindEmergencyStop,
		events.KindVenueDisconnected, events.KindVenueUnavailable, events.KindVenueConnected)
	ticks := o.bus.Subscribe("orchestrator-ticks", 1024, events.KindPriceTick)
	o.subs = append(o.subs, control, ticks)

	o.spawn(ctx, func(ctx context.Context) { o.handleEvents(ctx, control) })
	o.spawn(ctx, func(ctx context.Context) { o.book.Run(ctx, ticks) })
	o.spawn(ctx, o.healthLoop)
	o.log.Infof("Orchestrator started (health check every %s)", o.cfg.HealthInterval)
}

func (o *Orchestrator) spawn(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	o.stops = append(o.stops, cancel)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(ctx)
	}()
}

func (o *Orchestrator) handleEvents(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			switch ev := e.(type) {
			case events.EmergencyStop:
				o.Halt(ev.Reason)
			case events.VenueDisconnected:
				if ev.Venue == o.ActiveVenue() {
					_, _ = o.SwitchActiveVenue()
				}
			case events.VenueUnavailable:
				if ev.Venue == o.ActiveVenue() {
					_, _ = o.SwitchActiveVenue()
				}
			case events.VenueConnected:
				o.mu.Lock()
				if o.active == "" {
					o.active = ev.Venue
					o.log.Infof("Active venue: %s", ev.Venue)
				}
				o.mu.Unlock()
			}
		}
	}
}

// Stop ends the background loops; venue connections stay open
func (o *Orchestrator) Stop() {
	o.loopMu.Lock()
	stops, subs := o.stops, o.subs
	o.stops, o.subs = nil, nil
	o.loopMu.Unlock()

	for _, cancel := range stops {
		cancel()
	}
	o.wg.Wait()
	for _, sub := range subs {
		o.bus.Unsubscribe(sub)
	}
}

// DisconnectAll closes every venue connection
func (o *Orchestrator) DisconnectAll() {
	for _, m := range o.ordered() {
		m.client.Disconnect()
	}
	o.mu.Lock()
	o.active = ""
	o.mu.Unlock()
}
