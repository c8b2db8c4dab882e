package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeRequestValidate(t *testing.T) {
	req := TradeRequest{Asset: "R_100", Direction: DirectionCall, Amount: 10, Duration: 5}
	req.Normalize()
	require.NoError(t, req.Validate())
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "t", req.DurationUnit)

	bad := req
	bad.Direction = "UP"
	assert.Error(t, bad.Validate())

	bad = req
	bad.Amount = 0
	assert.Error(t, bad.Validate())

	bad = req
	bad.Asset = ""
	assert.Error(t, bad.Validate())
}

func TestNormalizeKeepsExplicitID(t *testing.T) {
	req := TradeRequest{ID: "abc", DurationUnit: "m"}
	req.Normalize()
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, "m", req.DurationUnit)
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, 5*time.Second, DurationOf(5, "t"))
	assert.Equal(t, 2*time.Minute, DurationOf(2, "m"))
	assert.Equal(t, 48*time.Hour, DurationOf(2, "d"))
}

func TestDirectionValid(t *testing.T) {
	assert.True(t, DirectionCall.Valid())
	assert.True(t, DirectionPut.Valid())
	assert.False(t, Direction("call").Valid())
}
