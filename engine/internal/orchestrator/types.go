package orchestrator

import (
	"context"

	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/venue"
)

// Venue is the part of a venue client the orchestrator drives
type Venue interface {
	ID() string
	Start(ctx context.Context) error
	Disconnect()
	Reset()
	IsReady() bool
	Unavailable() bool
	AuthFailed() bool
	Reconnecting() bool
	Ping(ctx context.Context) error
	ExecuteTrade(ctx context.Context, params models.ExecutionParams) (*models.Contract, error)
	CloseContract(ctx context.Context, contractID string) (float64, error)
	SubscribeTicks(ctx context.Context, asset string) error
	Status() venue.Status
}

// StopReporter tells whether the emergency stop is still in force
type StopReporter interface {
	Stopped() bool
}

// VenueStatus is a venue client's status plus its place in the orchestrator
type VenueStatus struct {
	venue.Status
	Priority       int  `json:"priority"`
	Active         bool `json:"active"`
	Dormant        bool `json:"dormant"`
	HealthFailures int  `json:"healthFailures"`
}

type member struct {
	client   Venue
	priority int
	failures int
	dormant  bool
	watching bool
}
