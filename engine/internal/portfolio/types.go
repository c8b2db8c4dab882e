package portfolio

import (
	"sync"
	"time"

	"venue-execution-engine/engine/internal/logger"

	"github.com/shopspring/decimal"
)

// DefaultStrategy is the bucket for trades submitted without a strategy
const DefaultStrategy = "default"

// Performance is the settled history of one strategy
type Performance struct {
	Strategy   string          `json:"strategy"`
	Wins       int             `json:"wins"`
	Losses     int             `json:"losses"`
	RealizedPL decimal.Decimal `json:"realizedPL"`
	BestTrade  decimal.Decimal `json:"bestTrade"`
	WorstTrade decimal.Decimal `json:"worstTrade"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Trades is the number of settled trades
func (p Performance) Trades() int {
	return p.Wins + p.Losses
}

// Tracker keeps per-strategy results of settled contracts
type Tracker struct {
	mu         sync.RWMutex
	entries    map[string]*Performance
	minSamples int
	log        *logger.Logger
	now        func() time.Time
}
