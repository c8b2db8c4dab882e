package orchestrator

import (
	"errors"

	"venue-execution-engine/engine/internal/risk"
)

var (
	ErrNoVenuesAvailable = errors.New("orchestrator: no venues available")
	ErrUnknownVenue      = errors.New("orchestrator: unknown venue")

	// ErrEmergencyStop is returned while trading is halted
	ErrEmergencyStop = risk.ErrEmergencyStop
)
