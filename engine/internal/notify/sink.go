// Package notify delivers engine events to external channels. Delivery is
// best effort: failures are logged and counted, never retried.
package notify

import (
	"context"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
)

// Sink is one outbound channel
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e events.Event) error
}

// LogSink writes events to the engine log
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.EmergencyStop:
		s.log.Errorf("EMERGENCY STOP: %s (balance %.2f, daily P&L %.2f, drawdown %.2f%%)",
			ev.Reason, ev.AccountBalance, ev.DailyPL, ev.Drawdown*100)
	case events.RiskAlert:
		if ev.Level == events.AlertCritical {
			s.log.Errorf("Risk alert [%s] %s: %s", ev.Level, ev.Type, ev.Message)
		} else {
			s.log.Warnf("Risk alert [%s] %s: %s", ev.Level, ev.Type, ev.Message)
		}
	case events.TradeExecuted:
		s.log.Infof("Trade executed on %s: %s %s %.2f (contract %s)",
			ev.Contract.Venue, ev.Contract.Direction, ev.Contract.Asset, ev.Contract.Amount, ev.Contract.ID)
	case events.TradeClosed:
		s.log.Infof("Trade closed on %s: contract %s %s %.2f",
			ev.Contract.Venue, ev.Contract.ID, ev.Contract.Result, ev.Contract.Profit)
	case events.VenueUnavailable:
		s.log.Errorf("Venue %s unavailable: %s", ev.Venue, ev.Reason)
	case events.AllVenuesUnavailable:
		s.log.Errorf("All venues unavailable")
	default:
		s.log.Debugf("Event %s", e.Kind())
	}
	return nil
}
