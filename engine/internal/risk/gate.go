// Package risk gates every trade against daily and account state, sizes
// approved trades and owns the emergency stop.
package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/metrics"
	"venue-execution-engine/engine/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// Gate is the single authority that approves trades. Every read and write of
// risk state happens under one mutex so validation and recording a trade
// start are one atomic step.
type Gate struct {
	mu          sync.Mutex
	cfg         config.RiskConfig
	baseMaxRisk float64

	daily    DailyStats
	account  AccountStats
	stop     StopState
	active   map[string]*ActiveTrade
	balances map[string]decimal.Decimal

	pausedUntil     time.Time
	criticalActions int
	alerts          map[alertKey]time.Time
	targetLogged    bool
	last            Metrics

	winRates  WinRates
	vol       Volatility
	persister Persister
	bus       events.Publisher
	log       *logger.Logger
	now       func() time.Time

	loopMu sync.Mutex
	stops  []context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Gate
type Option func(*Gate)

// WithClock replaces time.Now; the calendar date for daily resets comes from it
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithWinRates(w WinRates) Option {
	return func(g *Gate) { g.winRates = w }
}

func WithVolatility(v Volatility) Option {
	return func(g *Gate) { g.vol = v }
}

func WithPersister(p Persister) Option {
	return func(g *Gate) { g.persister = p }
}

func WithPublisher(p events.Publisher) Option {
	return func(g *Gate) { g.bus = p }
}

// NewGate creates an armed gate for today
func NewGate(cfg config.RiskConfig, log *logger.Logger, opts ...Option) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	g := &Gate{
		cfg:         cfg,
		baseMaxRisk: cfg.MaxRiskPerTrade,
		active:      make(map[string]*ActiveTrade),
		balances:    make(map[string]decimal.Decimal),
		alerts:      make(map[alertKey]time.Time),
		bus:         nopPublisher{},
		log:         log.Named("risk"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.daily = DailyStats{Date: g.now().Format(dateLayout)}
	metrics.EmergencyStop.Set(0)
	return g
}

// effects collects what must happen once the lock is released
type effects struct {
	events     []events.Event
	riskEvents []RiskEvent
	archived   *DailyStats
}

func (fx *effects) publish(e events.Event) {
	fx.events = append(fx.events, e)
}

func (fx *effects) record(ev RiskEvent) {
	fx.riskEvents = append(fx.riskEvents, ev)
}

// flush publishes events and hands persistence to a goroutine
func (g *Gate) flush(fx *effects) {
	for _, e := range fx.events {
		g.bus.Publish(e)
	}
	if g.persister == nil || (fx.archived == nil && len(fx.riskEvents) == 0) {
		return
	}

	archived := fx.archived
	riskEvents := fx.riskEvents
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if archived != nil {
			if err := g.persister.SaveDailyStats(ctx, *archived); err != nil {
				g.log.Warnf("Failed to archive daily stats for %s: %v", archived.Date, err)
			}
		}
		for _, ev := range riskEvents {
			if err := g.persister.SaveRiskEvent(ctx, ev); err != nil {
				g.log.Warnf("Failed to persist risk event %s: %v", ev.Type, err)
			}
		}
	}()
}

// Reserve validates req and, when approved, records the trade start in the
// same critical section. The approval's ReservationID must later be passed
// to Commit, Release or RecordTradeEnd.
func (g *Gate) Reserve(ctx context.Context, req models.TradeRequest) (models.TradeApproval, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return models.TradeApproval{}, err
	}

	var fx effects
	g.mu.Lock()
	approval, err := g.reserveLocked(req, &fx)
	g.mu.Unlock()
	g.flush(&fx)

	if err != nil {
		return models.TradeApproval{}, err
	}
	if approval.Approved {
		metrics.RiskDecisions.WithLabelValues(metrics.OutcomeApproved, "").Inc()
	} else {
		metrics.RiskDecisions.WithLabelValues(metrics.OutcomeRejected, reasonKey(approval.Reason)).Inc()
	}
	return approval, nil
}

func (g *Gate) reserveLocked(req models.TradeRequest, fx *effects) (models.TradeApproval, error) {
	now := g.now()
	g.rolloverLocked(now, fx)
	g.evaluateStopLocked(now, fx)

	if _, exists := g.active[req.ID]; exists {
		return models.TradeApproval{}, fmt.Errorf("%w: %s", ErrDuplicateReservation, req.ID)
	}

	reject := func(reason string) (models.TradeApproval, error) {
		g.log.Warnf("Trade %s %s %s %.2f rejected: %s", req.ID, req.Direction, req.Asset, req.Amount, reason)
		fx.record(RiskEvent{Type: "trade_rejected", Level: "info", Message: reason, TradeID: req.ID, Timestamp: now})
		return models.TradeApproval{Approved: false, Reason: reason, RiskLevel: models.RiskHigh}, nil
	}

	amount := decimal.NewFromFloat(req.Amount)
	balance := g.account.CurrentBalance

	if g.stop.Active {
		return reject(ReasonEmergencyStop)
	}
	if now.Before(g.pausedUntil) {
		return reject(ReasonCooldown)
	}

	if g.daily.NetPL.LessThanOrEqual(decimal.NewFromFloat(-g.cfg.MaxDailyLoss)) {
		return reject(ReasonDailyLoss)
	}
	if g.daily.TradesExecuted >= g.cfg.DailyTradeLimit {
		return reject(ReasonDailyTrades)
	}

	if g.availableLocked().Sub(amount).LessThan(decimal.NewFromFloat(g.cfg.MinAccountBalance)) {
		return reject(ReasonInsufficientFunds)
	}

	if !balance.IsPositive() || amount.Div(balance).GreaterThan(decimal.NewFromFloat(g.cfg.MaxRiskPerTrade)) {
		return reject(ReasonTradeSize)
	}

	if len(g.active) >= g.cfg.MaxConcurrentTrades {
		return reject(ReasonMaxConcurrent)
	}

	if g.daily.ConsecutiveLosses >= g.cfg.ConsecutiveLossLimit {
		return reject(fmt.Sprintf(reasonConsecutiveLossFmt, g.daily.ConsecutiveLosses))
	}

	if g.account.CurrentDrawdown > g.cfg.MaxDrawdown {
		return reject(ReasonDrawdown)
	}

	var notes []string
	highVol := false
	if g.vol != nil {
		if v, err := g.vol.Volatility(req.Asset); err == nil && v > g.cfg.VolatilityThreshold {
			highVol = true
			notes = append(notes, fmt.Sprintf("high volatility %.4f on %s, size reduced", v, req.Asset))
		}
	}

	if g.correlatedOpenLocked(req.Asset) > g.cfg.CorrelationLimit {
		return reject(ReasonCorrelation)
	}

	winRate := defaultWin
	if g.winRates != nil {
		winRate = g.winRates.WinRate(req.Strategy)
	}
	size := positionSize(sizingInput{
		requested:   amount,
		balance:     balance,
		winRate:     winRate,
		defaultRisk: g.cfg.DefaultRiskPerTrade,
		highVol:     highVol,
		minAmount:   decimal.NewFromFloat(g.cfg.MinTradeAmount),
	})
	if size.LessThan(amount) {
		notes = append(notes, fmt.Sprintf("size reduced from %s to %s", amount.StringFixed(2), size.StringFixed(2)))
	}

	heat := g.exposureLocked().Add(size).Div(balance).InexactFloat64()
	level := models.RiskLow
	switch {
	case highVol || heat > 0.5:
		level = models.RiskHigh
	case size.LessThan(amount) || heat > 0.25:
		level = models.RiskMedium
	}

	g.active[req.ID] = &ActiveTrade{
		ID:       req.ID,
		Asset:    req.Asset,
		Amount:   size,
		Strategy: req.Strategy,
		Pending:  true,
		OpenedAt: now,
	}
	g.daily.TradesExecuted++

	g.log.Infof("Trade %s approved: %s %s %s (requested %s, risk %s)",
		req.ID, req.Direction, req.Asset, size.StringFixed(2), amount.StringFixed(2), level)

	return models.TradeApproval{
		Approved:          true,
		RecommendedAmount: size.InexactFloat64(),
		RiskLevel:         level,
		Notes:             notes,
		ReservationID:     req.ID,
	}, nil
}

// availableLocked is the balance not yet spoken for by reservations that
// have no contract; committed stakes are already reflected in venue balances
func (g *Gate) availableLocked() decimal.Decimal {
	avail := g.account.CurrentBalance
	for _, t := range g.active {
		if t.Pending {
			avail = avail.Sub(t.Amount)
		}
	}
	return avail
}

func (g *Gate) exposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, t := range g.active {
		total = total.Add(t.Amount)
	}
	return total
}

func (g *Gate) correlatedOpenLocked(asset string) int {
	n := 0
	for _, t := range g.active {
		if correlated(t.Asset, asset) {
			n++
		}
	}
	return n
}

// Release undoes a reservation whose execution failed
func (g *Gate) Release(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.active[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	delete(g.active, id)
	if g.daily.TradesExecuted > 0 {
		g.daily.TradesExecuted--
	}
	g.log.Infof("Reservation %s released", id)
	return nil
}

// Commit binds a reservation to the venue contract that was opened for it
func (g *Gate) Commit(id, venue, contractID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.active[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	t.Pending = false
	t.Venue = venue
	t.ContractID = contractID
	return nil
}

// RecordTradeEnd settles a trade. Profit is negative for a loss. A settlement
// for an unknown reservation still counts towards the day's P&L.
func (g *Gate) RecordTradeEnd(id string, profit float64) error {
	var fx effects
	g.mu.Lock()
	err := g.recordEndLocked(id, decimal.NewFromFloat(profit), &fx)
	g.mu.Unlock()
	g.flush(&fx)
	return err
}

func (g *Gate) recordEndLocked(id string, pl decimal.Decimal, fx *effects) error {
	now := g.now()
	g.rolloverLocked(now, fx)

	_, known := g.active[id]
	delete(g.active, id)

	if pl.IsPositive() {
		g.daily.Profit = g.daily.Profit.Add(pl)
		g.daily.Wins++
		g.daily.ConsecutiveLosses = 0
		g.account.TotalProfit = g.account.TotalProfit.Add(pl)
		g.account.TotalWins++
	} else {
		loss := pl.Neg()
		g.daily.Loss = g.daily.Loss.Add(loss)
		g.daily.Losses++
		g.daily.ConsecutiveLosses++
		g.account.TotalLoss = g.account.TotalLoss.Add(loss)
		g.account.TotalLosses++
	}
	g.daily.NetPL = g.daily.Profit.Sub(g.daily.Loss)

	g.log.Infof("Trade %s settled %s, daily net %s, consecutive losses %d",
		id, pl.StringFixed(2), g.daily.NetPL.StringFixed(2), g.daily.ConsecutiveLosses)

	if !g.targetLogged && g.cfg.DailyProfitTarget > 0 &&
		g.daily.NetPL.GreaterThanOrEqual(decimal.NewFromFloat(g.cfg.DailyProfitTarget)) {
		g.targetLogged = true
		g.log.Infof("Daily profit target %.2f reached (net %s)", g.cfg.DailyProfitTarget, g.daily.NetPL.StringFixed(2))
	}

	g.evaluateStopLocked(now, fx)
	g.refreshMetricsLocked(now, fx)

	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	return nil
}

// UpdateBalance records a venue's balance. The account balance is the sum
// over venues; peak and drawdown follow it.
func (g *Gate) UpdateBalance(venue string, balance float64) {
	var fx effects
	g.mu.Lock()
	now := g.now()
	g.balances[venue] = decimal.NewFromFloat(balance)

	total := decimal.Zero
	for _, b := range g.balances {
		total = total.Add(b)
	}
	g.account.CurrentBalance = total
	if total.GreaterThan(g.account.PeakBalance) {
		g.account.PeakBalance = total
	}
	if g.account.PeakBalance.IsPositive() {
		g.account.CurrentDrawdown = g.account.PeakBalance.Sub(total).Div(g.account.PeakBalance).InexactFloat64()
	}
	if g.account.CurrentDrawdown > g.account.MaxDrawdown {
		g.account.MaxDrawdown = g.account.CurrentDrawdown
	}
	g.evaluateStopLocked(now, &fx)
	g.mu.Unlock()
	g.flush(&fx)
}

// State returns a copy of the risk state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	trades := make([]ActiveTrade, 0, len(g.active))
	for _, t := range g.active {
		trades = append(trades, *t)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].OpenedAt.Before(trades[j].OpenedAt) })

	return State{
		Daily:         g.daily,
		Account:       g.account,
		EmergencyStop: g.stop,
		ActiveTrades:  trades,
		PausedUntil:   g.pausedUntil,
	}
}

// ActiveCount returns the number of open reservations
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// Config returns the thresholds in force, including protective adjustments
func (g *Gate) Config() config.RiskConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}
