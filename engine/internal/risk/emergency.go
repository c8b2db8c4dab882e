package risk

import (
	"fmt"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/metrics"

	"github.com/shopspring/decimal"
)

// rolloverLocked starts a new day when the calendar date has changed. The
// previous day is archived and the emergency stop is re-armed.
func (g *Gate) rolloverLocked(now time.Time, fx *effects) {
	today := now.Format(dateLayout)
	if g.daily.Date == today {
		return
	}

	prev := g.daily
	fx.archived = &prev
	g.daily = DailyStats{Date: today}
	g.targetLogged = false

	if g.stop.Active {
		g.log.Infof("Emergency stop (%s) cleared by daily reset", g.stop.Reason)
		fx.record(RiskEvent{Type: "emergency_stop_cleared", Level: "info", Message: "daily reset", Timestamp: now})
	}
	g.stop = StopState{}
	metrics.EmergencyStop.Set(0)

	g.cfg.MaxRiskPerTrade = g.baseMaxRisk
	g.criticalActions = 0
	g.pausedUntil = time.Time{}

	g.log.Infof("Daily stats reset for %s (previous day %s net %s over %d trades)",
		today, prev.Date, prev.NetPL.StringFixed(2), prev.TradesExecuted)
}

// evaluateStopLocked moves Armed to Stopped when any trigger holds
func (g *Gate) evaluateStopLocked(now time.Time, fx *effects) {
	if g.stop.Active {
		return
	}

	var reason string
	switch {
	case g.cfg.EmergencyStopLoss > 0 && g.daily.NetPL.LessThanOrEqual(decimal.NewFromFloat(-g.cfg.EmergencyStopLoss)):
		reason = fmt.Sprintf("daily loss %s reached emergency stop loss %.2f", g.daily.NetPL.Neg().StringFixed(2), g.cfg.EmergencyStopLoss)
	case len(g.balances) > 0 && g.account.CurrentBalance.LessThanOrEqual(decimal.NewFromFloat(g.cfg.MinAccountBalance)):
		reason = fmt.Sprintf("account balance %s at or below minimum %.2f", g.account.CurrentBalance.StringFixed(2), g.cfg.MinAccountBalance)
	case g.cfg.MaxDrawdown > 0 && g.account.CurrentDrawdown >= g.cfg.MaxDrawdown:
		reason = fmt.Sprintf("drawdown %.2f%% reached maximum %.2f%%", g.account.CurrentDrawdown*100, g.cfg.MaxDrawdown*100)
	case g.daily.ConsecutiveLosses >= g.cfg.ConsecutiveLossLimit+2:
		reason = fmt.Sprintf("%d consecutive losses", g.daily.ConsecutiveLosses)
	default:
		return
	}
	g.haltLocked(reason, now, fx)
}

func (g *Gate) haltLocked(reason string, now time.Time, fx *effects) {
	g.stop = StopState{Active: true, Reason: reason, At: now}
	metrics.EmergencyStop.Set(1)
	g.log.Errorf("EMERGENCY STOP: %s", reason)

	fx.publish(events.EmergencyStop{
		Reason:         reason,
		AccountBalance: g.account.CurrentBalance.InexactFloat64(),
		DailyPL:        g.daily.NetPL.InexactFloat64(),
		Drawdown:       g.account.CurrentDrawdown,
		Timestamp:      now,
	})
	fx.record(RiskEvent{Type: "emergency_stop", Level: string(events.AlertCritical), Message: reason, Timestamp: now})
}

// TriggerEmergencyStop halts trading by hand. It stays halted until the
// next daily reset or ManualOverride.
func (g *Gate) TriggerEmergencyStop(reason string) {
	var fx effects
	g.mu.Lock()
	if !g.stop.Active {
		g.haltLocked("manual: "+reason, g.now(), &fx)
	}
	g.mu.Unlock()
	g.flush(&fx)
}

// ManualOverride re-arms the gate and lifts any protective pause
func (g *Gate) ManualOverride(reason string) {
	var fx effects
	g.mu.Lock()
	now := g.now()
	prev := g.stop
	g.stop = StopState{}
	g.pausedUntil = time.Time{}
	metrics.EmergencyStop.Set(0)
	fx.record(RiskEvent{Type: "manual_override", Level: string(events.AlertWarning), Message: reason, Timestamp: now})
	g.mu.Unlock()

	if prev.Active {
		g.log.Warnf("Emergency stop (%s) overridden: %s", prev.Reason, reason)
	} else {
		g.log.Warnf("Manual override: %s", reason)
	}
	g.flush(&fx)
}

// CheckDailyReset applies a pending calendar rollover
func (g *Gate) CheckDailyReset() {
	var fx effects
	g.mu.Lock()
	g.rolloverLocked(g.now(), &fx)
	g.mu.Unlock()
	g.flush(&fx)
}

// Stopped reports whether the emergency stop is active
func (g *Gate) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stop.Active
}
