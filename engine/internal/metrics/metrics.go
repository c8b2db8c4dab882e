// Package metrics holds the prometheus collectors shared by the engine
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "engine"

var (
	// Venue connection metrics
	VenueState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "state",
			Help:      "Connection state per venue (0 disconnected .. 3 authenticated)",
		},
		[]string{"venue"},
	)

	PendingRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "pending_requests",
			Help:      "Requests awaiting a correlated response",
		},
		[]string{"venue"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "request_duration_seconds",
			Help:      "Round trip time of venue requests",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"venue", "outcome"},
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts per venue",
		},
		[]string{"venue", "outcome"},
	)

	// Execution metrics
	TradesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "trades_total",
			Help:      "Trade executions per venue and outcome",
		},
		[]string{"venue", "outcome"},
	)

	Orders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_total",
			Help:      "Submitted trade requests by final status",
		},
		[]string{"status"},
	)

	Failovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "failovers_total",
			Help:      "Trades retried on a secondary venue",
		},
	)

	// Risk metrics
	RiskDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "decisions_total",
			Help:      "Risk gate verdicts",
		},
		[]string{"outcome", "reason"},
	)

	EmergencyStop = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "emergency_stop",
			Help:      "1 while trading is halted",
		},
	)

	DailyNetPL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_net_pl",
			Help:      "Net profit and loss for the current day",
		},
	)

	Drawdown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "drawdown_ratio",
			Help:      "Current drawdown from peak balance",
		},
	)

	PortfolioHeat = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "portfolio_heat",
			Help:      "Open exposure as a fraction of balance",
		},
	)

	// Notification metrics
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Event deliveries per sink and outcome",
		},
		[]string{"sink", "outcome"},
	)
)

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
)
