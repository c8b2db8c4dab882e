package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DailyStats accumulates the current calendar day
type DailyStats struct {
	Date              string          `json:"date"`
	Profit            decimal.Decimal `json:"profit"`
	Loss              decimal.Decimal `json:"loss"`
	NetPL             decimal.Decimal `json:"netPL"`
	TradesExecuted    int             `json:"tradesExecuted"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
}

// AccountStats spans the lifetime of the gate
type AccountStats struct {
	CurrentBalance  decimal.Decimal `json:"currentBalance"`
	PeakBalance     decimal.Decimal `json:"peakBalance"`
	CurrentDrawdown float64         `json:"currentDrawdown"`
	MaxDrawdown     float64         `json:"maxDrawdown"`
	TotalProfit     decimal.Decimal `json:"totalProfit"`
	TotalLoss       decimal.Decimal `json:"totalLoss"`
	TotalWins       int             `json:"totalWins"`
	TotalLosses     int             `json:"totalLosses"`
}

// StopState is the emergency stop: Armed when Active is false
type StopState struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// ActiveTrade is a reservation; Pending until a contract is bound to it
type ActiveTrade struct {
	ID         string          `json:"id"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	Strategy   string          `json:"strategy,omitempty"`
	ContractID string          `json:"contractId,omitempty"`
	Venue      string          `json:"venue,omitempty"`
	Pending    bool            `json:"pending"`
	OpenedAt   time.Time       `json:"openedAt"`
}

// State is a copy of everything the gate tracks
type State struct {
	Daily         DailyStats    `json:"daily"`
	Account       AccountStats  `json:"account"`
	EmergencyStop StopState     `json:"emergencyStop"`
	ActiveTrades  []ActiveTrade `json:"activeTrades"`
	PausedUntil   time.Time     `json:"pausedUntil,omitempty"`
}

// Metrics is the periodic risk snapshot
type Metrics struct {
	Timestamp            time.Time `json:"timestamp"`
	Balance              float64   `json:"balance"`
	CurrentDrawdown      float64   `json:"currentDrawdown"`
	MaxDrawdown          float64   `json:"maxDrawdown"`
	ProfitFactor         float64   `json:"profitFactor"`
	PortfolioHeat        float64   `json:"portfolioHeat"`
	DiversificationRatio float64   `json:"diversificationRatio"`
	WinRate              float64   `json:"winRate"`
	DailyNetPL           float64   `json:"dailyNetPL"`
	ActiveTrades         int       `json:"activeTrades"`
	MaxRiskPerTrade      float64   `json:"maxRiskPerTrade"`
	EmergencyStop        bool      `json:"emergencyStop"`
}

// RiskEvent is what gets persisted for rejections, alerts and stops
type RiskEvent struct {
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	TradeID   string    `json:"tradeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Persister stores daily stats and risk events. Calls are best effort.
type Persister interface {
	SaveDailyStats(ctx context.Context, stats DailyStats) error
	SaveRiskEvent(ctx context.Context, event RiskEvent) error
}

// WinRates reports a strategy's historical win rate in [0, 1]
type WinRates interface {
	WinRate(strategy string) float64
}

// Volatility estimates an asset's current volatility
type Volatility interface {
	Volatility(asset string) (float64, error)
}
