package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-option-bot/internal/models"
)

type scriptedSnapshotter struct {
	calls   int
	results []func() (models.ReferenceQuote, error)
}

func (s *scriptedSnapshotter) SnapshotPrice(_ context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func quoteAt(price string) func() (models.ReferenceQuote, error) {
	return func() (models.ReferenceQuote, error) {
		return models.ReferenceQuote{
			Price: decimal.RequireFromString(price),
			At:    time.Now().UTC(),
		}, nil
	}
}

func quoteErr(err error) func() (models.ReferenceQuote, error) {
	return func() (models.ReferenceQuote, error) {
		return models.ReferenceQuote{}, err
	}
}

func esFuture() models.ContractDescriptor {
	return models.ContractDescriptor{Symbol: "ES", SecType: models.SecurityFuture, Exchange: "CME"}
}

func TestReferenceReturnsSnapshot(t *testing.T) {
	gw := &scriptedSnapshotter{results: []func() (models.ReferenceQuote, error){quoteAt("6448.50")}}
	o := NewOracle(gw, Options{Timeout: time.Second})

	q, err := o.Reference(context.Background(), esFuture())
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("6448.50")))
}

func TestReferenceMapsGatewayError(t *testing.T) {
	gw := &scriptedSnapshotter{results: []func() (models.ReferenceQuote, error){
		quoteErr(errors.New("request timed out")),
	}}
	o := NewOracle(gw, Options{Timeout: time.Second})

	_, err := o.Reference(context.Background(), esFuture())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestReferenceRejectsNonPositivePrice(t *testing.T) {
	gw := &scriptedSnapshotter{results: []func() (models.ReferenceQuote, error){quoteAt("0")}}
	o := NewOracle(gw, Options{Timeout: time.Second})

	_, err := o.Reference(context.Background(), esFuture())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestAwaitTradableRetriesUntilPriced(t *testing.T) {
	gw := &scriptedSnapshotter{results: []func() (models.ReferenceQuote, error){
		quoteErr(errors.New("no market yet")),
		quoteErr(errors.New("no market yet")),
		quoteAt("12.25"),
	}}
	o := NewOracle(gw, Options{
		Timeout:      time.Second,
		WaitInterval: 5 * time.Millisecond,
		WaitMax:      time.Second,
	})

	q, err := o.AwaitTradable(context.Background(), esFuture())
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("12.25")))
	assert.Equal(t, 3, gw.calls)
}

func TestAwaitTradableGivesUpAtWaitMax(t *testing.T) {
	gw := &scriptedSnapshotter{results: []func() (models.ReferenceQuote, error){
		quoteErr(errors.New("no market")),
	}}
	o := NewOracle(gw, Options{
		Timeout:      time.Second,
		WaitInterval: 10 * time.Millisecond,
		WaitMax:      25 * time.Millisecond,
	})

	_, err := o.AwaitTradable(context.Background(), esFuture())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.GreaterOrEqual(t, gw.calls, 2)
}

func TestAwaitTradableHonorsContextCancel(t *testing.T) {
	gw := &scriptedSnapshotter{results: []func() (models.ReferenceQuote, error){
		quoteErr(errors.New("no market")),
	}}
	o := NewOracle(gw, Options{
		Timeout:      time.Second,
		WaitInterval: time.Hour,
		WaitMax:      2 * time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.AwaitTradable(ctx, esFuture())
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQuoteUnavailable)
	case <-time.After(time.Second):
		t.Fatal("AwaitTradable did not return after cancel")
	}
}
