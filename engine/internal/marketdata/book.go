// Package marketdata consolidates price ticks from every venue and estimates
// per-asset volatility from them.
package marketdata

import (
	"context"
	"sort"
	"sync"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
)

// Book holds the latest quote per (asset, venue) and a rolling price window per asset
type Book struct {
	mu      sync.RWMutex
	quotes  map[string]map[string]Quote
	latest  map[string]Quote
	history map[string]*window
	size    int
	log     *logger.Logger
}

// NewBook creates a book whose volatility window holds windowSize prices
func NewBook(windowSize int, log *logger.Logger) *Book {
	if windowSize <= 0 {
		windowSize = 50
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Book{
		quotes:  make(map[string]map[string]Quote),
		latest:  make(map[string]Quote),
		history: make(map[string]*window),
		size:    windowSize,
		log:     log.Named("marketdata"),
	}
}

// Update records a tick
func (b *Book) Update(tick events.PriceTick) {
	if tick.Price <= 0 {
		return
	}
	q := Quote{Venue: tick.Venue, Asset: tick.Asset, Price: tick.Price, Timestamp: tick.Timestamp}

	b.mu.Lock()
	defer b.mu.Unlock()

	byVenue, ok := b.quotes[q.Asset]
	if !ok {
		byVenue = make(map[string]Quote)
		b.quotes[q.Asset] = byVenue
	}
	byVenue[q.Venue] = q

	if cur, ok := b.latest[q.Asset]; !ok || !q.Timestamp.Before(cur.Timestamp) {
		b.latest[q.Asset] = q
	}

	w, ok := b.history[q.Asset]
	if !ok {
		w = newWindow(b.size)
		b.history[q.Asset] = w
	}
	w.add(q.Price)
}

// Prices returns the consolidated view of an asset
func (b *Book) Prices(asset string) (Consolidated, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byVenue, ok := b.quotes[asset]
	if !ok {
		return Consolidated{}, false
	}
	out := Consolidated{Asset: asset, Venues: make(map[string]Quote, len(byVenue)), Latest: b.latest[asset]}
	for venue, q := range byVenue {
		out.Venues[venue] = q
	}
	return out, true
}

// Volatility is the standard deviation of log returns over the asset's window
func (b *Book) Volatility(asset string) (float64, error) {
	b.mu.RLock()
	w, ok := b.history[asset]
	var prices []float64
	if ok {
		prices = w.ordered()
	}
	b.mu.RUnlock()

	if len(prices) < 3 {
		return 0, ErrNotEnoughData
	}
	return logReturnStdDev(prices)
}

// Samples returns how many prices the asset's window currently holds
func (b *Book) Samples(asset string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if w, ok := b.history[asset]; ok {
		return w.len()
	}
	return 0
}

// Assets lists every asset seen so far
func (b *Book) Assets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.quotes))
	for asset := range b.quotes {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// Run feeds the book from a bus subscription until ctx ends or the subscription closes
func (b *Book) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if tick, ok := e.(events.PriceTick); ok {
				b.Update(tick)
			}
		}
	}
}
