// Package store persists daily stats, risk events and settled contracts to sqlite
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/risk"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("store: record not found")

// Store is the gorm backed persistence sink
type Store struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

// Open opens (or creates) the sqlite database at dsn and migrates it
func Open(dsn string, log *logger.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	// sqlite has a single writer, and ":memory:" is per connection
	sqlDB.SetMaxOpenConns(1)

	return New(db, log)
}

// New wraps an open gorm handle and migrates the schema
func New(db *gorm.DB, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := db.AutoMigrate(&DailyStatsRecord{}, &RiskEventRecord{}, &ContractRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, log: log.Named("store"), now: time.Now}, nil
}

// SaveDailyStats archives a day; saving the same date again overwrites it
func (s *Store) SaveDailyStats(ctx context.Context, stats risk.DailyStats) error {
	rec := DailyStatsRecord{
		Date:              stats.Date,
		Profit:            stats.Profit,
		Loss:              stats.Loss,
		NetPL:             stats.NetPL,
		TradesExecuted:    stats.TradesExecuted,
		Wins:              stats.Wins,
		Losses:            stats.Losses,
		ConsecutiveLosses: stats.ConsecutiveLosses,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"profit", "loss", "net_pl", "trades_executed", "wins", "losses", "consecutive_losses", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save daily stats for %s: %w", stats.Date, err)
	}
	s.log.Debugf("Archived daily stats for %s", stats.Date)
	return nil
}

// DailyStats loads an archived day
func (s *Store) DailyStats(ctx context.Context, date string) (risk.DailyStats, error) {
	var rec DailyStatsRecord
	err := s.db.WithContext(ctx).Where("date = ?", date).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return risk.DailyStats{}, fmt.Errorf("%w: daily stats %s", ErrNotFound, date)
	}
	if err != nil {
		return risk.DailyStats{}, fmt.Errorf("failed to load daily stats %s: %w", date, err)
	}
	return risk.DailyStats{
		Date:              rec.Date,
		Profit:            rec.Profit,
		Loss:              rec.Loss,
		NetPL:             rec.NetPL,
		TradesExecuted:    rec.TradesExecuted,
		Wins:              rec.Wins,
		Losses:            rec.Losses,
		ConsecutiveLosses: rec.ConsecutiveLosses,
	}, nil
}

// SaveRiskEvent appends a risk event
func (s *Store) SaveRiskEvent(ctx context.Context, ev risk.RiskEvent) error {
	at := ev.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	rec := RiskEventRecord{
		Type:      ev.Type,
		Level:     ev.Level,
		Message:   ev.Message,
		TradeID:   ev.TradeID,
		CreatedAt: at,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save risk event %s: %w", ev.Type, err)
	}
	return nil
}

// RecentRiskEvents returns the newest events first
func (s *Store) RecentRiskEvents(ctx context.Context, limit int) ([]risk.RiskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []RiskEventRecord
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load risk events: %w", err)
	}
	out := make([]risk.RiskEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, risk.RiskEvent{Type: r.Type, Level: r.Level, Message: r.Message, TradeID: r.TradeID, Timestamp: r.CreatedAt})
	}
	return out, nil
}

// ArchiveContract stores a settled contract; archiving it twice keeps the latest copy
func (s *Store) ArchiveContract(ctx context.Context, c models.Contract) error {
	rec := ContractRecord{
		ID:         c.ID,
		TradeID:    c.TradeID,
		Venue:      c.Venue,
		Asset:      c.Asset,
		Direction:  string(c.Direction),
		Amount:     c.Amount,
		EntryPrice: c.EntryPrice,
		EntryTime:  c.EntryTime,
		ExpiryTime: c.ExpiryTime,
		Status:     string(c.Status),
		Payout:     c.Payout,
		Profit:     c.Profit,
		Result:     string(c.Result),
		ArchivedAt: s.now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to archive contract %s: %w", c.ID, err)
	}
	return nil
}

// ContractFilter narrows a contract query; zero fields match everything
type ContractFilter struct {
	Venue string
	Since time.Time
	Limit int
}

// Contracts lists archived contracts, newest first
func (s *Store) Contracts(ctx context.Context, f ContractFilter) ([]models.Contract, error) {
	q := s.db.WithContext(ctx).Model(&ContractRecord{})
	if f.Venue != "" {
		q = q.Where("venue = ?", f.Venue)
	}
	if !f.Since.IsZero() {
		q = q.Where("entry_time >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var recs []ContractRecord
	if err := q.Order("entry_time desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}
	out := make([]models.Contract, 0, len(recs))
	for _, r := range recs {
		out = append(out, models.Contract{
			ID:         r.ID,
			TradeID:    r.TradeID,
			Venue:      r.Venue,
			Asset:      r.Asset,
			Direction:  models.Direction(r.Direction),
			Amount:     r.Amount,
			EntryPrice: r.EntryPrice,
			EntryTime:  r.EntryTime,
			ExpiryTime: r.ExpiryTime,
			Status:     models.ContractStatus(r.Status),
			Payout:     r.Payout,
			Profit:     r.Profit,
			Result:     models.ContractResult(r.Result),
		})
	}
	return out, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
