// Package portfolio tracks realized results per strategy. Its win rates feed
// position sizing.
package portfolio

import (
	"sort"
	"time"

	"venue-execution-engine/engine/internal/logger"

	"github.com/shopspring/decimal"
)

const (
	// below this many settled trades a strategy is treated as a coin flip
	defaultMinSamples = 10
	neutralWinRate    = 0.5
)

// NewTracker creates an empty tracker
func NewTracker(log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{
		entries:    make(map[string]*Performance),
		minSamples: defaultMinSamples,
		log:        log.Named("portfolio"),
		now:        time.Now,
	}
}

// Record adds one settled trade. Profit <= 0 counts as a loss.
func (t *Tracker) Record(strategy string, profit float64) {
	if strategy == "" {
		strategy = DefaultStrategy
	}
	pl := decimal.NewFromFloat(profit)

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[strategy]
	if !exists {
		entry = &Performance{Strategy: strategy, BestTrade: pl, WorstTrade: pl}
		t.entries[strategy] = entry
	}
	if pl.IsPositive() {
		entry.Wins++
	} else {
		entry.Losses++
	}
	entry.RealizedPL = entry.RealizedPL.Add(pl)
	entry.BestTrade = decimal.Max(entry.BestTrade, pl)
	entry.WorstTrade = decimal.Min(entry.WorstTrade, pl)
	entry.UpdatedAt = t.now()
}

// WinRate returns the strategy's historical win rate, or 0.5 until it has
// enough settled trades
func (t *Tracker) WinRate(strategy string) float64 {
	if strategy == "" {
		strategy = DefaultStrategy
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[strategy]
	if !ok || entry.Trades() < t.minSamples {
		return neutralWinRate
	}
	return float64(entry.Wins) / float64(entry.Trades())
}

// Get returns a copy of one strategy's performance
func (t *Tracker) Get(strategy string) (Performance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[strategy]
	if !ok {
		return Performance{}, false
	}
	return *entry, true
}

// GetEntries returns copies of all entries ordered by strategy name
func (t *Tracker) GetEntries() []Performance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Performance, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

// GetTotal sums realized PnL across strategies
func (t *Tracker) GetTotal() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := decimal.Zero
	for _, entry := range t.entries {
		total = total.Add(entry.RealizedPL)
	}
	return total
}

// PrintSummary logs the per-strategy summary at debug level
func (t *Tracker) PrintSummary() {
	entries := t.GetEntries()
	t.log.Debug("================ STRATEGY SUMMARY ================")
	for _, e := range entries {
		t.log.Debugf("%-12s | W %4d | L %4d | PnL $%9s | best $%8s | worst $%8s",
			e.Strategy, e.Wins, e.Losses, e.RealizedPL.StringFixed(2), e.BestTrade.StringFixed(2), e.WorstTrade.StringFixed(2))
	}
	t.log.Debugf("TOTAL realized PnL: $%s", t.GetTotal().StringFixed(2))
}
