package contract

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-option-bot/internal/models"
)

var mwf = []time.Weekday{time.Monday, time.Wednesday, time.Friday}

func newTestResolver(now time.Time, holidays []time.Time) *Resolver {
	base := models.ContractDescriptor{
		Symbol:      "ES",
		Exchange:    "CME",
		Right:       models.RightCall,
		StrikeBasis: decimal.RequireFromString("5"),
		Multiplier:  50,
	}
	r := NewResolver(base, mwf, holidays, 30)
	return r.WithClock(func() time.Time { return now })
}

func TestNextExpiryPicksNearestTradingDay(t *testing.T) {
	// Tuesday Sep 1 2026: nearest of Mon/Wed/Fri is Wednesday Sep 2.
	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	r := newTestResolver(now, nil)

	expiry, err := r.NextExpiry(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), expiry)
}

func TestNextExpiryAllowsSameDay(t *testing.T) {
	// Wednesday morning: today is itself an eligible expiry.
	now := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	r := newTestResolver(now, nil)

	expiry, err := r.NextExpiry(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), expiry)
}

func TestNextExpirySkipsHolidays(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	holiday := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	r := newTestResolver(now, []time.Time{holiday})

	expiry, err := r.NextExpiry(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC), expiry)
}

func TestNextExpiryStrictlyLaterThanPrevious(t *testing.T) {
	now := time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC)
	r := newTestResolver(now, nil)

	prev := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	expiry, err := r.NextExpiry(prev)
	require.NoError(t, err)
	assert.True(t, expiry.After(prev), "expiry %s not after %s", expiry, prev)
	assert.Equal(t, time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC), expiry)
}

func TestNextExpiryHorizonExhausted(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	base := models.ContractDescriptor{Symbol: "ES", Exchange: "CME", Right: models.RightCall}
	// No permitted weekdays: nothing within the horizon qualifies.
	r := NewResolver(base, nil, nil, 30).WithClock(func() time.Time { return now })

	_, err := r.NextExpiry(time.Time{})
	assert.ErrorIs(t, err, ErrNoEligibleContract)
}

func TestResolveBuildsOptionDescriptor(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	r := newTestResolver(now, nil)

	c, err := r.Resolve(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.SecurityFuturesOption, c.SecType)
	assert.Equal(t, "ES", c.Symbol)
	assert.Equal(t, models.RightCall, c.Right)
	assert.True(t, c.Strike.IsZero())
	assert.Equal(t, time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), c.Expiry)
}

func TestUnderlyingIsContinuousFuture(t *testing.T) {
	r := newTestResolver(time.Now(), nil)
	u := r.Underlying()
	assert.Equal(t, models.SecurityFuture, u.SecType)
	assert.Equal(t, "ES", u.Symbol)
	assert.True(t, u.Strike.IsZero())
}
