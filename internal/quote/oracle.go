// Package quote fetches the reference prices every entry decision is based
// on. A fresh snapshot is taken per attempt; quotes are never cached or
// reused across attempts.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"es-option-bot/internal/models"
)

// ErrQuoteUnavailable is returned when no usable reference price could be
// obtained within the configured bound. The entry attempt is abandoned; the
// scheduler retries on its next cycle.
var ErrQuoteUnavailable = errors.New("reference quote unavailable")

// Snapshotter is the slice of the gateway the oracle needs.
type Snapshotter interface {
	SnapshotPrice(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error)
}

// Options configures an Oracle.
type Options struct {
	// Timeout bounds a single snapshot request.
	Timeout time.Duration
	// WaitInterval is the pause between attempts while waiting for a
	// contract to show a tradable price.
	WaitInterval time.Duration
	// WaitMax caps the total time spent waiting for a tradable price.
	WaitMax time.Duration
	Logger  *zap.Logger
}

// Oracle obtains reference prices from the gateway with bounded waits.
type Oracle struct {
	gw           Snapshotter
	timeout      time.Duration
	waitInterval time.Duration
	waitMax      time.Duration
	log          *zap.Logger
}

// NewOracle creates an oracle over gw.
func NewOracle(gw Snapshotter, opts Options) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 10 * time.Second
	}
	if opts.WaitMax <= 0 {
		opts.WaitMax = 100 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Oracle{
		gw:           gw,
		timeout:      opts.Timeout,
		waitInterval: opts.WaitInterval,
		waitMax:      opts.WaitMax,
		log:          opts.Logger.Named("quote"),
	}
}

// Reference takes one snapshot of the contract, bounded by the oracle's
// timeout. Errors and non-positive prices map to ErrQuoteUnavailable.
func (o *Oracle) Reference(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	q, err := o.gw.SnapshotPrice(ctx, c)
	if err != nil {
		return models.ReferenceQuote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if q.Price.Sign() <= 0 {
		return models.ReferenceQuote{}, fmt.Errorf("%w: non-positive price %s for %s",
			ErrQuoteUnavailable, q.Price, c.LocalName())
	}
	return q, nil
}

// AwaitTradable polls the contract until it shows a positive price, pausing
// WaitInterval between attempts and giving up after WaitMax. Newly derived
// option legs often have no market for the first seconds after they are
// qualified.
func (o *Oracle) AwaitTradable(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error) {
	deadline := time.Now().Add(o.waitMax)

	for attempt := 1; ; attempt++ {
		q, err := o.Reference(ctx, c)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return models.ReferenceQuote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, ctx.Err())
		}
		if time.Now().Add(o.waitInterval).After(deadline) {
			return models.ReferenceQuote{}, fmt.Errorf("%w: %s not tradable after %s",
				ErrQuoteUnavailable, c.LocalName(), o.waitMax)
		}

		o.log.Debug("contract not tradable yet, waiting",
			zap.String("contract", c.LocalName()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", o.waitInterval))

		select {
		case <-ctx.Done():
			return models.ReferenceQuote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, ctx.Err())
		case <-time.After(o.waitInterval):
		}
	}
}
