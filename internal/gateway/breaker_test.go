package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-option-bot/internal/models"
)

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	fake := NewFakeGateway()
	fake.SnapshotFn = func(models.ContractDescriptor) (models.ReferenceQuote, error) {
		return models.ReferenceQuote{}, errors.New("gateway timeout")
	}

	cb := NewCircuitBreakerGatewayWithSettings(fake, nil, BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.SnapshotPrice(ctx, testContract())
		require.Error(t, err)
	}

	_, err := cb.SnapshotPrice(ctx, testContract())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	want := models.ReferenceQuote{
		Price:    decimal.RequireFromString("6450.25"),
		At:       time.Now().UTC(),
		Contract: testContract(),
	}
	fake := NewFakeGateway()
	fake.SnapshotFn = func(models.ContractDescriptor) (models.ReferenceQuote, error) {
		return want, nil
	}

	cb := NewCircuitBreakerGateway(fake, nil)
	got, err := cb.SnapshotPrice(context.Background(), testContract())
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(want.Price))
}

func TestCircuitBreakerDoesNotGateOrderRouting(t *testing.T) {
	fake := NewFakeGateway()
	fake.SnapshotFn = func(models.ContractDescriptor) (models.ReferenceQuote, error) {
		return models.ReferenceQuote{}, errors.New("gateway timeout")
	}

	cb := NewCircuitBreakerGatewayWithSettings(fake, nil, BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  1,
		FailureRatio: 0.1,
	})

	ctx := context.Background()
	_, _ = cb.SnapshotPrice(ctx, testContract())
	_, err := cb.SnapshotPrice(ctx, testContract())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)

	// Flattening must still route while the query breaker is open.
	_, stream, err := cb.PlaceOrder(ctx, testContract(), models.SideBuy, 1, models.OrderMarket)
	require.NoError(t, err)
	stream.Close()
	require.Len(t, fake.Placed, 1)
}
