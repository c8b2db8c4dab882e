package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyStatsRecord is one archived trading day
type DailyStatsRecord struct {
	ID                uint            `gorm:"primaryKey"`
	Date              string          `gorm:"uniqueIndex;size:10"`
	Profit            decimal.Decimal `gorm:"type:text"`
	Loss              decimal.Decimal `gorm:"type:text"`
	NetPL             decimal.Decimal `gorm:"column:net_pl;type:text"`
	TradesExecuted    int
	Wins              int
	Losses            int
	ConsecutiveLosses int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DailyStatsRecord) TableName() string { return "daily_stats" }

// RiskEventRecord is a rejection, alert or stop
type RiskEventRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Type      string `gorm:"index;size:64"`
	Level     string `gorm:"size:16"`
	Message   string
	TradeID   string    `gorm:"index;size:64"`
	CreatedAt time.Time `gorm:"index"`
}

func (RiskEventRecord) TableName() string { return "risk_events" }

// ContractRecord is a settled contract
type ContractRecord struct {
	ID         string `gorm:"primaryKey;size:64"`
	TradeID    string `gorm:"index;size:64"`
	Venue      string `gorm:"index;size:64"`
	Asset      string `gorm:"size:32"`
	Direction  string `gorm:"size:8"`
	Amount     float64
	EntryPrice float64
	EntryTime  time.Time
	ExpiryTime time.Time
	Status     string `gorm:"size:16"`
	Payout     float64
	Profit     float64
	Result     string    `gorm:"size:8"`
	ArchivedAt time.Time `gorm:"index"`
}

func (ContractRecord) TableName() string { return "contracts" }
