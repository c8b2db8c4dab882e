package store

import (
	"context"
	"testing"
	"time"

	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open(":memory:", logger.FromZap(zaptest.NewLogger(t), 50, logger.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDailyStatsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := risk.DailyStats{
		Date:           "2024-05-14",
		Profit:         decimal.RequireFromString("12.35"),
		Loss:           decimal.RequireFromString("20.10"),
		NetPL:          decimal.RequireFromString("-7.75"),
		TradesExecuted: 6,
		Wins:           2,
		Losses:         4,
	}
	require.NoError(t, s.SaveDailyStats(ctx, day))

	got, err := s.DailyStats(ctx, "2024-05-14")
	require.NoError(t, err)
	assert.True(t, got.NetPL.Equal(day.NetPL), got.NetPL.String())
	assert.True(t, got.Profit.Equal(day.Profit))
	assert.Equal(t, 6, got.TradesExecuted)

	day.TradesExecuted = 7
	day.Loss = decimal.RequireFromString("21.10")
	day.NetPL = day.Profit.Sub(day.Loss)
	require.NoError(t, s.SaveDailyStats(ctx, day))

	got, err = s.DailyStats(ctx, "2024-05-14")
	require.NoError(t, err)
	assert.Equal(t, 7, got.TradesExecuted)
	assert.Equal(t, "-8.75", got.NetPL.String())

	var count int64
	require.NoError(t, s.db.Model(&DailyStatsRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = s.DailyStats(ctx, "2024-05-15")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRiskEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

	for i, typ := range []string{"trade_rejected", "alert_drawdown", "emergency_stop"} {
		require.NoError(t, s.SaveRiskEvent(ctx, risk.RiskEvent{
			Type: typ, Level: "info", Message: typ, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := s.RecentRiskEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "emergency_stop", events[0].Type)
	assert.Equal(t, "alert_drawdown", events[1].Type)
}

func TestArchiveContract(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	entry := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

	c := models.Contract{
		ID: "1001", TradeID: "t1", Venue: "alpha", Asset: "R_100", Direction: models.DirectionCall,
		Amount: 10, EntryPrice: 1234.5, EntryTime: entry, ExpiryTime: entry.Add(5 * time.Second),
		Status: models.ContractCompleted, Payout: 18.5, Profit: 8.5, Result: models.ResultWin,
	}
	require.NoError(t, s.ArchiveContract(ctx, c))
	require.NoError(t, s.ArchiveContract(ctx, models.Contract{
		ID: "2002", TradeID: "t2", Venue: "beta", Asset: "R_50", Direction: models.DirectionPut,
		Amount: 5, EntryTime: entry.Add(time.Minute), Status: models.ContractCompleted, Profit: -5, Result: models.ResultLoss,
	}))

	all, err := s.Contracts(ctx, ContractFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2002", all[0].ID)

	alpha, err := s.Contracts(ctx, ContractFilter{Venue: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, c.TradeID, alpha[0].TradeID)
	assert.Equal(t, models.ResultWin, alpha[0].Result)
	assert.Equal(t, 8.5, alpha[0].Profit)
	assert.True(t, alpha[0].EntryTime.Equal(entry))

	c.Profit = 9
	require.NoError(t, s.ArchiveContract(ctx, c))
	alpha, err = s.Contracts(ctx, ContractFilter{Venue: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, 9.0, alpha[0].Profit)
}

func TestStoreSatisfiesRiskPersister(t *testing.T) {
	var _ risk.Persister = newTestStore(t)
}
