// Package supervisor watches the underlying's price while a position is open
// and flattens it the moment the protective threshold is crossed. Exactly
// one watch is active at a time, mirroring the one-position invariant.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"es-option-bot/internal/gateway"
	"es-option-bot/internal/metrics"
	"es-option-bot/internal/models"
	"es-option-bot/internal/storage"
)

// ErrWatchActive is returned when arming while a watch is already running.
var ErrWatchActive = errors.New("a stop-loss watch is already active")

// Flattener closes a position. Implemented by the execution engine.
type Flattener interface {
	Flatten(ctx context.Context, pos models.Position, reason string) (*models.Order, error)
}

// TickSource is the slice of the gateway the supervisor needs: a tick
// stream for the fast path and snapshots for staleness reconciliation.
type TickSource interface {
	SubscribeTicks(ctx context.Context, c models.ContractDescriptor) (*gateway.TickStream, error)
	SnapshotPrice(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error)
}

// Options configures a Supervisor.
type Options struct {
	// StaleTickBound is how long the watch tolerates silence on the tick
	// stream before reconciling against a snapshot.
	StaleTickBound time.Duration
	// FlattenTimeout bounds the best-effort flatten on shutdown.
	FlattenTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Supervisor runs the price-triggered stop-loss watch.
type Supervisor struct {
	gw        TickSource
	flattener Flattener
	journal   storage.Interface

	staleBound     time.Duration
	flattenTimeout time.Duration
	log            *zap.Logger
	met            *metrics.Metrics

	mu      sync.Mutex
	baseCtx context.Context
	pos     *models.Position
	watch   *models.StopLossWatch

	wg sync.WaitGroup
}

// New creates a supervisor. Start must be called before Arm.
func New(gw TickSource, flattener Flattener, journal storage.Interface, opts Options) *Supervisor {
	if opts.StaleTickBound <= 0 {
		opts.StaleTickBound = 30 * time.Second
	}
	if opts.FlattenTimeout <= 0 {
		opts.FlattenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Supervisor{
		gw:             gw,
		flattener:      flattener,
		journal:        journal,
		staleBound:     opts.StaleTickBound,
		flattenTimeout: opts.FlattenTimeout,
		log:            opts.Logger.Named("supervisor"),
		met:            opts.Metrics,
	}
}

// Start binds the supervisor to the run's lifecycle context. Cancelling ctx
// tears the active watch down with a best-effort flatten.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

// Active reports whether a watch is currently running. The scheduler checks
// this before every entry attempt.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch != nil
}

// Current returns copies of the supervised position and watch, or nils.
func (s *Supervisor) Current() (*models.Position, *models.StopLossWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch == nil {
		return nil, nil
	}
	pos, watch := *s.pos, *s.watch
	return &pos, &watch
}

// Arm starts supervising a freshly opened position. Satisfies the engine's
// Guard interface.
func (s *Supervisor) Arm(pos models.Position, watch models.StopLossWatch) error {
	s.mu.Lock()
	if s.baseCtx == nil {
		s.mu.Unlock()
		return errors.New("supervisor not started")
	}
	if s.watch != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: position %s", ErrWatchActive, s.watch.PositionID)
	}
	watch.State = models.WatchActive
	s.pos = &pos
	s.watch = &watch
	ctx := s.baseCtx
	s.mu.Unlock()

	s.log.Info("stop-loss watch armed",
		zap.String("position_id", pos.ID),
		zap.String("threshold", watch.Threshold.String()),
		zap.String("direction", string(watch.Direction)))

	// Subscribe before returning so a tick fired right after Arm cannot
	// slip past the watch. Subscription failure degrades to polling.
	stream, err := s.gw.SubscribeTicks(ctx, pos.Underlying)
	if err != nil {
		s.log.Error("tick subscription failed, falling back to polling",
			zap.String("position_id", pos.ID), zap.Error(err))
		stream = nil
	}

	s.wg.Add(1)
	go s.watchLoop(ctx, pos, watch, stream)
	return nil
}

// Wait blocks until the active watch, if any, has fully wound down.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) finish(state models.WatchState) {
	s.mu.Lock()
	if s.watch != nil {
		s.watch.State = state
	}
	s.pos = nil
	s.watch = nil
	s.mu.Unlock()
}

// watchLoop consumes the underlying's tick stream until the threshold is
// breached or the run ends. Silence past the staleness bound is reconciled
// with a snapshot so a stalled stream cannot mask a breach. A nil stream
// means the subscription was unavailable and only polling remains.
func (s *Supervisor) watchLoop(ctx context.Context, pos models.Position, watch models.StopLossWatch, stream *gateway.TickStream) {
	defer s.wg.Done()

	if stream == nil {
		s.pollLoop(ctx, pos, watch)
		return
	}
	defer stream.Close()

	stale := time.NewTimer(s.staleBound)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownFlatten(pos)
			return
		case tick, ok := <-stream.C:
			if !ok {
				s.log.Warn("tick stream closed, falling back to polling",
					zap.String("position_id", pos.ID))
				s.pollLoop(ctx, pos, watch)
				return
			}
			if watch.Breached(tick.Price) {
				s.trigger(ctx, pos, watch, tick.Price)
				return
			}
			if !stale.Stop() {
				<-stale.C
			}
			stale.Reset(s.staleBound)
		case <-stale.C:
			price, ok := s.snapshot(ctx, pos)
			if ok && watch.Breached(price) {
				s.trigger(ctx, pos, watch, price)
				return
			}
			stale.Reset(s.staleBound)
		}
	}
}

// pollLoop is the degraded path when no tick stream is available: snapshot
// the underlying every staleness interval.
func (s *Supervisor) pollLoop(ctx context.Context, pos models.Position, watch models.StopLossWatch) {
	ticker := time.NewTicker(s.staleBound)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownFlatten(pos)
			return
		case <-ticker.C:
			price, ok := s.snapshot(ctx, pos)
			if ok && watch.Breached(price) {
				s.trigger(ctx, pos, watch, price)
				return
			}
		}
	}
}

func (s *Supervisor) snapshot(ctx context.Context, pos models.Position) (price decimal.Decimal, ok bool) {
	sctx, cancel := context.WithTimeout(ctx, s.flattenTimeout)
	defer cancel()
	q, err := s.gw.SnapshotPrice(sctx, pos.Underlying)
	if err != nil {
		s.log.Warn("staleness snapshot failed",
			zap.String("position_id", pos.ID), zap.Error(err))
		return price, false
	}
	return q.Price, true
}

// trigger flattens the position exactly once. A failed flatten leaves the
// journal entry aborted for startup reconciliation to resolve.
func (s *Supervisor) trigger(ctx context.Context, pos models.Position, watch models.StopLossWatch, price decimal.Decimal) {
	if s.met != nil {
		s.met.StopTriggers.Inc()
	}
	s.log.Warn("stop-loss threshold breached",
		zap.String("position_id", pos.ID),
		zap.String("price", price.String()),
		zap.String("threshold", watch.Threshold.String()))

	if _, err := s.flattener.Flatten(ctx, pos, "stop_loss"); err != nil {
		s.log.Error("flatten failed after stop trigger",
			zap.String("position_id", pos.ID), zap.Error(err))
		if jerr := s.journal.AbortTrade("stop_loss_flatten_failed"); jerr != nil {
			s.log.Error("journal abort failed", zap.Error(jerr))
		}
		s.finish(models.WatchAborted)
		return
	}
	s.finish(models.WatchClosed)
}

// shutdownFlatten is the best-effort close when the run is cancelled with a
// position still open. It runs on a fresh context since the run's context
// is already dead.
func (s *Supervisor) shutdownFlatten(pos models.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), s.flattenTimeout)
	defer cancel()

	s.log.Info("shutting down with open position, attempting flatten",
		zap.String("position_id", pos.ID))

	if _, err := s.flattener.Flatten(ctx, pos, "shutdown"); err != nil {
		s.log.Error("shutdown flatten failed, position left open",
			zap.String("position_id", pos.ID), zap.Error(err))
		if jerr := s.journal.AbortTrade("shutdown"); jerr != nil {
			s.log.Error("journal abort failed", zap.Error(jerr))
		}
		s.finish(models.WatchAborted)
		return
	}
	s.finish(models.WatchClosed)
}
