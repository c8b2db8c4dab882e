package events

import (
	"time"

	"venue-execution-engine/engine/internal/models"
)

// Kind discriminates event variants
type Kind string

const (
	KindTradeExecuted        Kind = "trade_executed"
	KindTradeClosed          Kind = "trade_closed"
	KindBalanceUpdate        Kind = "balance_update"
	KindPriceTick            Kind = "price_tick"
	KindRiskAlert            Kind = "risk_alert"
	KindEmergencyStop        Kind = "emergency_stop"
	KindVenueConnected       Kind = "venue_connected"
	KindVenueDisconnected    Kind = "venue_disconnected"
	KindVenueUnavailable     Kind = "venue_unavailable"
	KindAllVenuesUnavailable Kind = "all_venues_unavailable"
)

// Event is implemented by every variant published on the bus
type Event interface {
	Kind() Kind
	At() time.Time
}

// AlertLevel grades a risk alert
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type TradeExecuted struct {
	Contract  models.Contract `json:"contract"`
	Timestamp time.Time       `json:"timestamp"`
}

type TradeClosed struct {
	Contract  models.Contract `json:"contract"`
	Timestamp time.Time       `json:"timestamp"`
}

type BalanceUpdate struct {
	Venue     string    `json:"venue"`
	Balance   float64   `json:"balance"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

type PriceTick struct {
	Venue     string    `json:"venue"`
	Asset     string    `json:"asset"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type RiskAlert struct {
	Level     AlertLevel `json:"level"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

type EmergencyStop struct {
	Reason         string    `json:"reason"`
	AccountBalance float64   `json:"accountBalance"`
	DailyPL        float64   `json:"dailyPL"`
	Drawdown       float64   `json:"drawdown"`
	Timestamp      time.Time `json:"timestamp"`
}

type VenueConnected struct {
	Venue     string    `json:"venue"`
	Timestamp time.Time `json:"timestamp"`
}

// VenueDisconnected reports a lost transport; the client is reconnecting
type VenueDisconnected struct {
	Venue     string    `json:"venue"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// VenueUnavailable is terminal for a venue until it is reset externally
type VenueUnavailable struct {
	Venue     string    `json:"venue"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type AllVenuesUnavailable struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e TradeExecuted) Kind() Kind        { return KindTradeExecuted }
func (e TradeClosed) Kind() Kind          { return KindTradeClosed }
func (e BalanceUpdate) Kind() Kind        { return KindBalanceUpdate }
func (e PriceTick) Kind() Kind            { return KindPriceTick }
func (e RiskAlert) Kind() Kind            { return KindRiskAlert }
func (e EmergencyStop) Kind() Kind        { return KindEmergencyStop }
func (e VenueConnected) Kind() Kind       { return KindVenueConnected }
func (e VenueDisconnected) Kind() Kind    { return KindVenueDisconnected }
func (e VenueUnavailable) Kind() Kind     { return KindVenueUnavailable }
func (e AllVenuesUnavailable) Kind() Kind { return KindAllVenuesUnavailable }

func (e TradeExecuted) At() time.Time        { return e.Timestamp }
func (e TradeClosed) At() time.Time          { return e.Timestamp }
func (e BalanceUpdate) At() time.Time        { return e.Timestamp }
func (e PriceTick) At() time.Time            { return e.Timestamp }
func (e RiskAlert) At() time.Time            { return e.Timestamp }
func (e EmergencyStop) At() time.Time        { return e.Timestamp }
func (e VenueConnected) At() time.Time       { return e.Timestamp }
func (e VenueDisconnected) At() time.Time    { return e.Timestamp }
func (e VenueUnavailable) At() time.Time     { return e.Timestamp }
func (e AllVenuesUnavailable) At() time.Time { return e.Timestamp }
