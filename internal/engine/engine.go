// Package engine turns an entry decision into a filled position. It derives
// the option leg from a fresh reference quote, routes the order, tracks it
// through the gateway's event stream to a terminal state, and hands the
// resulting position to the stop-loss supervisor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"es-option-bot/internal/gateway"
	"es-option-bot/internal/metrics"
	"es-option-bot/internal/models"
	"es-option-bot/internal/storage"
	"es-option-bot/internal/util"
)

// ErrOrderRejected is returned when the venue refuses an order. The attempt
// is abandoned without retry; the scheduler decides whether to try again.
var ErrOrderRejected = errors.New("order rejected by venue")

// OrderGateway is the slice of the gateway the engine needs. Connection
// events let the monitor reconcile a working order as soon as a dropped
// session comes back instead of waiting out the fill timeout.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, c models.ContractDescriptor, side models.Side, quantity int64, typ models.OrderType) (*models.Order, *gateway.OrderStream, error)
	CancelOrder(ctx context.Context, orderID int64) error
	OrderStatus(ctx context.Context, orderID int64) (models.OrderUpdate, error)
	ConnEvents() (<-chan gateway.ConnEvent, func())
}

// Quoter supplies reference prices for strike derivation and the
// tradability wait on freshly derived legs.
type Quoter interface {
	Reference(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error)
	AwaitTradable(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error)
}

// Guard receives a freshly opened position for supervision. Implemented by
// the stop-loss supervisor; attached after construction because the
// supervisor flattens through the engine.
type Guard interface {
	Arm(pos models.Position, watch models.StopLossWatch) error
}

// Options configures an Engine.
type Options struct {
	Side         models.Side
	Quantity     int64
	StrikeOffset decimal.Decimal
	StopDistance decimal.Decimal
	FillTimeout  time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Engine places and supervises orders to their terminal state.
type Engine struct {
	gw      OrderGateway
	quotes  Quoter
	journal storage.Interface

	side         models.Side
	quantity     int64
	strikeOffset decimal.Decimal
	stopDistance decimal.Decimal
	fillTimeout  time.Duration

	log   *zap.Logger
	met   *metrics.Metrics
	guard Guard
}

// New creates an engine. Call AttachGuard before the first PlaceEntry.
func New(gw OrderGateway, quotes Quoter, journal storage.Interface, opts Options) *Engine {
	if opts.FillTimeout <= 0 {
		opts.FillTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		gw:           gw,
		quotes:       quotes,
		journal:      journal,
		side:         opts.Side,
		quantity:     opts.Quantity,
		strikeOffset: opts.StrikeOffset,
		stopDistance: opts.StopDistance,
		fillTimeout:  opts.FillTimeout,
		log:          opts.Logger.Named("engine"),
		met:          opts.Metrics,
	}
}

// AttachGuard wires the stop-loss supervisor in. Must happen before trading
// starts; the engine refuses to open a position without a guard.
func (e *Engine) AttachGuard(g Guard) {
	e.guard = g
}

// DeriveLeg rounds the reference price to the contract's strike basis,
// applies the configured offset, and returns the dated option leg.
func (e *Engine) DeriveLeg(opt models.ContractDescriptor, ref models.ReferenceQuote) models.ContractDescriptor {
	strike := util.RoundToStep(ref.Price, opt.StrikeBasis).Add(e.strikeOffset)
	return opt.WithStrike(strike)
}

// watchFor computes the protective threshold for a freshly opened position.
// Short calls stop when the underlying rises to strike plus the distance;
// short puts mirror below.
func (e *Engine) watchFor(pos models.Position, leg models.ContractDescriptor) models.StopLossWatch {
	threshold := leg.Strike.Add(e.stopDistance)
	direction := models.StopAbove
	if leg.Right == models.RightPut {
		threshold = leg.Strike.Sub(e.stopDistance)
		direction = models.StopBelow
	}
	return models.StopLossWatch{
		PositionID: pos.ID,
		Threshold:  threshold,
		Direction:  direction,
		State:      models.WatchActive,
		ArmedAt:    time.Now().UTC(),
	}
}

// PlaceEntry opens the next position on the given option series: fetch a
// reference quote, derive the leg, wait for it to become tradable, route a
// market order, and follow it to a terminal state. On a fill the position is
// journaled and handed to the guard.
func (e *Engine) PlaceEntry(ctx context.Context, opt models.ContractDescriptor) (*models.Position, error) {
	if e.guard == nil {
		return nil, errors.New("engine has no stop-loss guard attached")
	}

	underlying := opt.Underlying()
	ref, err := e.quotes.Reference(ctx, underlying)
	if err != nil {
		return nil, err
	}

	leg := e.DeriveLeg(opt, ref)
	e.log.Info("derived option leg",
		zap.String("contract", leg.LocalName()),
		zap.String("reference", ref.Price.String()))

	premium, err := e.quotes.AwaitTradable(ctx, leg)
	if err != nil {
		return nil, err
	}
	e.log.Info("leg is tradable",
		zap.String("contract", leg.LocalName()),
		zap.String("premium", premium.Price.String()))

	ord, stream, err := e.gw.PlaceOrder(ctx, leg, e.side, e.quantity, models.OrderMarket)
	if err != nil {
		return nil, fmt.Errorf("place entry order: %w", err)
	}
	defer stream.Close()
	if e.met != nil {
		e.met.OrdersSubmitted.Inc()
	}

	if err := e.monitor(ctx, ord, stream, true); err != nil {
		return nil, fmt.Errorf("entry order %d: %w", ord.ID, err)
	}

	switch ord.State {
	case models.StateFilled:
	case models.StateRejected:
		if e.met != nil {
			e.met.OrdersRejected.Inc()
		}
		return nil, fmt.Errorf("%w: order %d: %s", ErrOrderRejected, ord.ID, ord.Reason)
	default:
		return nil, fmt.Errorf("entry order %d ended %s without filling", ord.ID, ord.State)
	}

	pos := models.Position{
		ID:             uuid.NewString(),
		Contract:       leg,
		Underlying:     underlying,
		Side:           e.side,
		Quantity:       e.quantity,
		EntryOrderID:   ord.ID,
		EntryReference: ref.Price,
		EntryFillPrice: ord.AvgFillPrice,
		OpenedAt:       time.Now().UTC(),
	}
	watch := e.watchFor(pos, leg)

	err = e.journal.OpenTrade(storage.TradeRecord{
		ID:            pos.ID,
		Contract:      leg,
		Side:          pos.Side,
		Quantity:      pos.Quantity,
		EntryOrderID:  ord.ID,
		EntryPrice:    ord.AvgFillPrice,
		Reference:     ref.Price,
		StopThreshold: watch.Threshold,
		OpenedAt:      pos.OpenedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("journal entry for order %d: %w", ord.ID, err)
	}

	if e.met != nil {
		e.met.OrdersFilled.Inc()
		e.met.OpenPosition.Set(1)
	}
	e.log.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("contract", leg.LocalName()),
		zap.String("fill_price", ord.AvgFillPrice.String()),
		zap.String("stop_threshold", watch.Threshold.String()))

	if err := e.guard.Arm(pos, watch); err != nil {
		return nil, fmt.Errorf("arm stop-loss for position %s: %w", pos.ID, err)
	}
	return &pos, nil
}

// Flatten closes the position with an opposite-side market order and
// journals the exit. Unlike entries, the order is never cancelled on
// timeout: a protective flatten must not be abandoned half way.
func (e *Engine) Flatten(ctx context.Context, pos models.Position, reason string) (*models.Order, error) {
	ord, stream, err := e.gw.PlaceOrder(ctx, pos.Contract, pos.Side.Opposite(), pos.Quantity, models.OrderMarket)
	if err != nil {
		return nil, fmt.Errorf("place flatten order: %w", err)
	}
	defer stream.Close()
	if e.met != nil {
		e.met.OrdersSubmitted.Inc()
	}

	if err := e.monitor(ctx, ord, stream, false); err != nil {
		return nil, fmt.Errorf("flatten order %d: %w", ord.ID, err)
	}
	if ord.State != models.StateFilled {
		return nil, fmt.Errorf("flatten order %d ended %s without filling", ord.ID, ord.State)
	}

	if err := e.journal.CloseTrade(ord.ID, ord.AvgFillPrice, reason); err != nil {
		return nil, fmt.Errorf("journal exit for order %d: %w", ord.ID, err)
	}
	if e.met != nil {
		e.met.OrdersFilled.Inc()
		e.met.OpenPosition.Set(0)
	}
	e.log.Info("position flattened",
		zap.String("position_id", pos.ID),
		zap.Int64("order_id", ord.ID),
		zap.String("exit_price", ord.AvgFillPrice.String()),
		zap.String("reason", reason))
	return ord, nil
}

// monitor consumes the order's event stream until a terminal state. Stale
// or duplicate events are counted and skipped. A closed stream or an
// expired fill timeout falls back to reconciling against OrderStatus;
// cancelOnTimeout additionally asks the venue to cancel first.
func (e *Engine) monitor(ctx context.Context, ord *models.Order, stream *gateway.OrderStream, cancelOnTimeout bool) error {
	timer := time.NewTimer(e.fillTimeout)
	defer timer.Stop()

	connEvents, unsubConn := e.gw.ConnEvents()
	defer unsubConn()
	disconnected := false

	for {
		select {
		case ev, ok := <-connEvents:
			if !ok {
				connEvents = nil
				continue
			}
			switch ev.State {
			case gateway.StateDisconnected:
				disconnected = true
				e.log.Warn("connection lost while monitoring order",
					zap.Int64("order_id", ord.ID))
			case gateway.StateConnected:
				if !disconnected {
					continue
				}
				disconnected = false
				e.log.Info("connection restored, reconciling order",
					zap.Int64("order_id", ord.ID))
				done, err := e.syncStatus(ctx, ord)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		case u, ok := <-stream.C:
			if !ok {
				return e.reconcile(ctx, ord)
			}
			if err := ord.Apply(u); err != nil {
				if errors.Is(err, models.ErrStaleEvent) {
					if e.met != nil {
						e.met.StaleEvents.Inc()
					}
					e.log.Debug("ignoring stale order event",
						zap.Int64("order_id", u.OrderID),
						zap.String("state", string(u.State)))
					continue
				}
				return err
			}
			if ord.State.IsTerminal() {
				return nil
			}
		case <-timer.C:
			if cancelOnTimeout {
				if err := e.gw.CancelOrder(ctx, ord.ID); err != nil {
					e.log.Warn("cancel after fill timeout failed",
						zap.Int64("order_id", ord.ID), zap.Error(err))
				}
			}
			return e.reconcile(ctx, ord)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// syncStatus applies one authoritative status snapshot to the order and
// reports whether it reached a terminal state. Query failures are logged
// and treated as "not yet".
func (e *Engine) syncStatus(ctx context.Context, ord *models.Order) (bool, error) {
	u, err := e.gw.OrderStatus(ctx, ord.ID)
	if err != nil {
		e.log.Warn("order status query failed",
			zap.Int64("order_id", ord.ID), zap.Error(err))
		return false, nil
	}
	if applyErr := ord.Apply(u); applyErr != nil && !errors.Is(applyErr, models.ErrStaleEvent) {
		return false, applyErr
	}
	return ord.State.IsTerminal(), nil
}

// reconcile polls the authoritative order status until the order reaches a
// terminal state. Used after a timeout or a dropped event stream.
func (e *Engine) reconcile(ctx context.Context, ord *models.Order) error {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		done, err := e.syncStatus(ctx, ord)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("order %d unresolved after reconciliation", ord.ID)
}
