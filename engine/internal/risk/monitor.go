package risk

import (
	"context"
	"fmt"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/metrics"
)

const (
	alertRetention = time.Hour
	cooldown       = 5 * time.Minute
)

type alertKey struct {
	kind  string
	level events.AlertLevel
}

// refreshMetricsLocked recomputes the snapshot and raises threshold alerts
func (g *Gate) refreshMetricsLocked(now time.Time, fx *effects) {
	m := Metrics{
		Timestamp:       now,
		Balance:         g.account.CurrentBalance.InexactFloat64(),
		CurrentDrawdown: g.account.CurrentDrawdown,
		MaxDrawdown:     g.account.MaxDrawdown,
		DailyNetPL:      g.daily.NetPL.InexactFloat64(),
		ActiveTrades:    len(g.active),
		MaxRiskPerTrade: g.cfg.MaxRiskPerTrade,
		EmergencyStop:   g.stop.Active,
	}
	if g.account.TotalLoss.IsPositive() {
		m.ProfitFactor = g.account.TotalProfit.Div(g.account.TotalLoss).InexactFloat64()
	}
	if g.account.CurrentBalance.IsPositive() {
		m.PortfolioHeat = g.exposureLocked().Div(g.account.CurrentBalance).InexactFloat64()
	}
	if settled := g.account.TotalWins + g.account.TotalLosses; settled > 0 {
		m.WinRate = float64(g.account.TotalWins) / float64(settled)
	}
	m.DiversificationRatio = 1
	if len(g.active) > 0 {
		groups := make(map[string]bool)
		for _, t := range g.active {
			groups[correlationGroup(t.Asset)] = true
		}
		m.DiversificationRatio = float64(len(groups)) / float64(len(g.active))
	}
	g.last = m

	metrics.DailyNetPL.Set(m.DailyNetPL)
	metrics.Drawdown.Set(m.CurrentDrawdown)
	metrics.PortfolioHeat.Set(m.PortfolioHeat)

	g.checkThresholdsLocked(m, now, fx)
}

func (g *Gate) checkThresholdsLocked(m Metrics, now time.Time, fx *effects) {
	if limit := g.cfg.MaxDrawdown; limit > 0 {
		switch {
		case m.CurrentDrawdown >= 0.8*limit:
			g.alertLocked(events.AlertCritical, "drawdown", fmt.Sprintf("drawdown %.2f%% near limit %.2f%%", m.CurrentDrawdown*100, limit*100), now, fx)
		case m.CurrentDrawdown >= 0.5*limit:
			g.alertLocked(events.AlertWarning, "drawdown", fmt.Sprintf("drawdown %.2f%% past half of limit", m.CurrentDrawdown*100), now, fx)
		}
	}

	switch {
	case m.PortfolioHeat > 0.5:
		g.alertLocked(events.AlertCritical, "portfolio_heat", fmt.Sprintf("portfolio heat %.2f", m.PortfolioHeat), now, fx)
	case m.PortfolioHeat > 0.25:
		g.alertLocked(events.AlertWarning, "portfolio_heat", fmt.Sprintf("portfolio heat %.2f", m.PortfolioHeat), now, fx)
	}

	if limit := g.cfg.MaxDailyLoss; limit > 0 {
		loss := -m.DailyNetPL
		switch {
		case loss >= 0.8*limit:
			g.alertLocked(events.AlertCritical, "daily_loss", fmt.Sprintf("daily loss %.2f near limit %.2f", loss, limit), now, fx)
		case loss >= 0.5*limit:
			g.alertLocked(events.AlertWarning, "daily_loss", fmt.Sprintf("daily loss %.2f past half of limit %.2f", loss, limit), now, fx)
		}
	}

	if limit := g.cfg.ConsecutiveLossLimit; limit > 0 {
		n := g.daily.ConsecutiveLosses
		switch {
		case n >= limit:
			g.alertLocked(events.AlertCritical, "consecutive_losses", fmt.Sprintf("%d consecutive losses", n), now, fx)
		case n >= limit-1 && n > 0:
			g.alertLocked(events.AlertWarning, "consecutive_losses", fmt.Sprintf("%d consecutive losses", n), now, fx)
		}
	}
}

// alertLocked raises an alert at most once per (type, level) per hour. The
// first critical alert halves MaxRiskPerTrade, later ones pause approvals.
func (g *Gate) alertLocked(level events.AlertLevel, kind, msg string, now time.Time, fx *effects) {
	key := alertKey{kind: kind, level: level}
	if at, ok := g.alerts[key]; ok && now.Sub(at) < alertRetention {
		return
	}
	g.alerts[key] = now
	for k, at := range g.alerts {
		if now.Sub(at) >= alertRetention {
			delete(g.alerts, k)
		}
	}

	g.log.Warnf("Risk alert [%s] %s: %s", level, kind, msg)
	fx.publish(events.RiskAlert{Level: level, Type: kind, Message: msg, Timestamp: now})
	fx.record(RiskEvent{Type: "alert_" + kind, Level: string(level), Message: msg, Timestamp: now})

	if level != events.AlertCritical {
		return
	}
	if g.criticalActions == 0 {
		g.cfg.MaxRiskPerTrade /= 2
		g.log.Warnf("Protective action: max risk per trade halved to %.4f", g.cfg.MaxRiskPerTrade)
	} else {
		g.pausedUntil = now.Add(cooldown)
		g.log.Warnf("Protective action: approvals paused until %s", g.pausedUntil.Format(time.RFC3339))
	}
	g.criticalActions++
}

// RefreshMetrics recomputes the snapshot outside a settlement
func (g *Gate) RefreshMetrics() {
	var fx effects
	g.mu.Lock()
	g.refreshMetricsLocked(g.now(), &fx)
	g.mu.Unlock()
	g.flush(&fx)
}

// Snapshot returns the last computed metrics
func (g *Gate) Snapshot() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Start runs the metrics loop and the daily reset loop until Stop or ctx ends
func (g *Gate) Start(ctx context.Context) {
	interval := g.cfg.MetricsInterval
	if interval <= 0 {
		interval = time.Minute
	}

	g.loopMu.Lock()
	defer g.loopMu.Unlock()
	g.spawn(ctx, interval, g.RefreshMetrics)
	g.spawn(ctx, 30*time.Second, g.CheckDailyReset)
	g.log.Infof("Risk loops started (metrics every %s)", interval)
}

func (g *Gate) spawn(ctx context.Context, every time.Duration, fn func()) {
	ctx, cancel := context.WithCancel(ctx)
	g.stops = append(g.stops, cancel)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop cancels the loops and waits for them
func (g *Gate) Stop() {
	g.loopMu.Lock()
	stops := g.stops
	g.stops = nil
	g.loopMu.Unlock()

	for _, cancel := range stops {
		cancel()
	}
	g.wg.Wait()
}
