package execution

import (
	"context"
	"errors"
	"time"

	"venue-execution-engine/engine/internal/models"
)

// OrderStatus represents the status of a submitted trade request
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusFailed    OrderStatus = "FAILED"
	StatusSettled   OrderStatus = "SETTLED"
)

var (
	ErrInvalidRequest = errors.New("execution: invalid trade request")
	ErrDuplicateOrder = errors.New("execution: order already submitted")
	ErrUnknownOrder   = errors.New("execution: unknown order")
	ErrNotOpen        = errors.New("execution: order has no open contract")
)

// Order tracks one trade request from submission to settlement
type Order struct {
	ID          string               `json:"id"`
	Request     models.TradeRequest  `json:"request"`
	Status      OrderStatus          `json:"status"`
	Approval    models.TradeApproval `json:"approval"`
	Contract    *models.Contract     `json:"contract,omitempty"`
	Error       string               `json:"error,omitempty"`
	SubmittedAt time.Time            `json:"submittedAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

func (o *Order) clone() Order {
	c := *o
	if o.Contract != nil {
		ct := *o.Contract
		c.Contract = &ct
	}
	c.Approval.Notes = append([]string(nil), o.Approval.Notes...)
	return c
}

// RiskGate is the part of the risk gate the engine drives
type RiskGate interface {
	Reserve(ctx context.Context, req models.TradeRequest) (models.TradeApproval, error)
	Release(id string) error
	Commit(id, venue, contractID string) error
	RecordTradeEnd(id string, profit float64) error
	UpdateBalance(venue string, balance float64)
}

// Executor places and closes contracts on a venue
type Executor interface {
	ExecuteTrade(ctx context.Context, params models.ExecutionParams, venueID string) (*models.Contract, error)
	CloseContract(ctx context.Context, venueID, contractID string) (float64, error)
}

// Archiver keeps settled contracts
type Archiver interface {
	ArchiveContract(ctx context.Context, c models.Contract) error
}

// PerformanceRecorder tracks per-strategy results
type PerformanceRecorder interface {
	Record(strategy string, profit float64)
}

// Option configures an Engine
type Option func(*Engine)

func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

func WithPerformance(p PerformanceRecorder) Option {
	return func(e *Engine) { e.perf = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
