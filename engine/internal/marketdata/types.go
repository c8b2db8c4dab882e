package marketdata

import (
	"errors"
	"time"
)

var ErrNotEnoughData = errors.New("marketdata: not enough prices to estimate volatility")

// Quote is the last price one venue reported for an asset
type Quote struct {
	Venue     string    `json:"venue"`
	Asset     string    `json:"asset"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Consolidated is an asset's last price per venue plus the most recent overall
type Consolidated struct {
	Asset  string           `json:"asset"`
	Venues map[string]Quote `json:"venues"`
	Latest Quote            `json:"latest"`
}
