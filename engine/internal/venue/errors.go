package venue

import (
	"errors"
	"fmt"
)

var (
	ErrProtocolTimeout      = errors.New("venue: request timed out")
	ErrAuthenticationFailed = errors.New("venue: authentication failed")
	ErrNotReady             = errors.New("venue: not authenticated")
	ErrUnavailable          = errors.New("venue: unavailable")
	ErrInvalidTrade         = errors.New("venue: invalid trade parameters")
	ErrUnknownContract      = errors.New("venue: unknown contract")
)

// TransportError wraps a connection level failure
type TransportError struct {
	Venue string
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("venue %s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VenueRejection is an error envelope returned by the venue for a request
type VenueRejection struct {
	Venue   string
	Code    string
	Message string
}

func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue %s rejected request: %s: %s", e.Venue, e.Code, e.Message)
}

// IsRecoverable reports whether another venue may succeed where this one failed
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, ErrAuthenticationFailed) {
		return false
	}
	var te *TransportError
	var rej *VenueRejection
	switch {
	case errors.As(err, &te), errors.As(err, &rej):
		return true
	case errors.Is(err, ErrProtocolTimeout), errors.Is(err, ErrInvalidTrade),
		errors.Is(err, ErrNotReady), errors.Is(err, ErrUnavailable):
		return true
	}
	return false
}
