package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Direction is the side of a binary contract
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// Valid reports whether d is CALL or PUT
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// RiskLevel grades an approved trade
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var validate = validator.New()

// TradeRequest is what a signal source submits
type TradeRequest struct {
	ID           string    `json:"id"`
	Asset        string    `json:"asset" validate:"required"`
	Direction    Direction `json:"direction" validate:"required,oneof=CALL PUT"`
	Amount       float64   `json:"amount" validate:"gt=0"`
	Duration     int       `json:"duration" validate:"gt=0"`
	DurationUnit string    `json:"durationUnit" validate:"omitempty,oneof=t s m h d"`
	Venue        string    `json:"venue,omitempty"`
	Strategy     string    `json:"strategy,omitempty"`
}

// Normalize assigns an id and the default duration unit (ticks)
func (r *TradeRequest) Normalize() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.DurationUnit == "" {
		r.DurationUnit = "t"
	}
}

// Validate checks field constraints
func (r *TradeRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid trade request: %w", err)
	}
	return nil
}

// TradeApproval is the risk gate's verdict on a request
type TradeApproval struct {
	Approved          bool      `json:"approved"`
	RecommendedAmount float64   `json:"recommendedAmount"`
	RiskLevel         RiskLevel `json:"riskLevel"`
	Reason            string    `json:"reason,omitempty"`
	Notes             []string  `json:"notes,omitempty"`
	ReservationID     string    `json:"reservationId,omitempty"`
}

// ExecutionParams is what a venue client needs to place a trade
type ExecutionParams struct {
	TradeID      string
	Asset        string
	Direction    Direction
	Amount       float64
	Duration     int
	DurationUnit string
}

// ParamsFor builds execution params from a request and a sized amount
func ParamsFor(req TradeRequest, amount float64) ExecutionParams {
	return ExecutionParams{
		TradeID:      req.ID,
		Asset:        req.Asset,
		Direction:    req.Direction,
		Amount:       amount,
		Duration:     req.Duration,
		DurationUnit: req.DurationUnit,
	}
}

// ContractStatus represents the lifecycle of a contract
type ContractStatus string

const (
	ContractActive    ContractStatus = "Active"
	ContractCompleted ContractStatus = "Completed"
)

// ContractResult is the outcome of a settled contract
type ContractResult string

const (
	ResultWin  ContractResult = "win"
	ResultLoss ContractResult = "loss"
)

// Contract is a venue's view of one trade position
type Contract struct {
	ID         string         `json:"id"`
	TradeID    string         `json:"tradeId"`
	Venue      string         `json:"venue"`
	Asset      string         `json:"asset"`
	Direction  Direction      `json:"direction"`
	Amount     float64        `json:"amount"`
	EntryPrice float64        `json:"entryPrice"`
	EntryTime  time.Time      `json:"entryTime"`
	ExpiryTime time.Time      `json:"expiryTime"`
	Status     ContractStatus `json:"status"`
	Payout     float64        `json:"payout"`
	Profit     float64        `json:"profit"`
	Result     ContractResult `json:"result,omitempty"`
}

// Settled reports whether the contract has completed
func (c *Contract) Settled() bool {
	return c.Status == ContractCompleted
}

// DurationOf converts a duration/unit pair to wall time; ticks count as one second each
func DurationOf(duration int, unit string) time.Duration {
	d := time.Duration(duration)
	switch unit {
	case "m":
		return d * time.Minute
	case "h":
		return d * time.Hour
	case "d":
		return d * 24 * time.Hour
	default:
		return d * time.Second
	}
}
