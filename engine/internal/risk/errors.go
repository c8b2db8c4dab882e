package risk

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ReasonEmergencyStop      = "emergency stop active"
	ReasonCooldown           = "risk cooldown active"
	ReasonDailyLoss          = "daily loss limit reached"
	ReasonDailyTrades        = "daily trade limit reached"
	ReasonInsufficientFunds  = "insufficient balance"
	ReasonTradeSize          = "trade size exceeds risk limit"
	ReasonMaxConcurrent      = "max concurrent trades reached"
	ReasonDrawdown           = "max drawdown exceeded"
	ReasonCorrelation        = "correlation limit exceeded"
	ReasonConsecutiveLosses  = "consecutive loss limit reached"
	reasonConsecutiveLossFmt = ReasonConsecutiveLosses + ": %d"
)

var (
	ErrEmergencyStop        = errors.New("risk: emergency stop active")
	ErrUnknownReservation   = errors.New("risk: unknown reservation")
	ErrDuplicateReservation = errors.New("risk: reservation already exists")
)

// Rejection is the gate refusing a trade; it is an expected outcome, not a fault
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejected trade: %s", r.Reason)
}

// Is lets errors.Is(err, ErrEmergencyStop) match a stop rejection
func (r *Rejection) Is(target error) bool {
	return target == ErrEmergencyStop && r.Reason == ReasonEmergencyStop
}

// reasonKey maps a rejection reason to its bounded metric label
func reasonKey(reason string) string {
	if strings.HasPrefix(reason, ReasonConsecutiveLosses) {
		return ReasonConsecutiveLosses
	}
	return reason
}
