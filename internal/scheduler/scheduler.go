// Package scheduler drives the trading loop: on every cycle it checks that
// no position is open, resolves the next option series, and asks the engine
// to open the next position. It also reconciles journal and venue state at
// startup so a crashed run never leaves an unsupervised position behind.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"es-option-bot/internal/contract"
	"es-option-bot/internal/metrics"
	"es-option-bot/internal/models"
	"es-option-bot/internal/quote"
	"es-option-bot/internal/storage"
)

// Trader opens the next position. Implemented by the execution engine.
type Trader interface {
	PlaceEntry(ctx context.Context, opt models.ContractDescriptor) (*models.Position, error)
}

// Resolver picks the option series for the next entry.
type Resolver interface {
	Resolve(after time.Time) (models.ContractDescriptor, error)
}

// Guard is the supervisor surface the scheduler needs: the one-position
// check before each entry, and re-arming after a restart.
type Guard interface {
	Active() bool
	Arm(pos models.Position, watch models.StopLossWatch) error
}

// OrderAdmin is the gateway slice used by startup reconciliation.
type OrderAdmin interface {
	OpenOrders(ctx context.Context) ([]models.OrderUpdate, error)
	CancelOrder(ctx context.Context, orderID int64) error
}

// Options configures a Scheduler.
type Options struct {
	// PollInterval is the pause between entry attempts.
	PollInterval time.Duration
	// Cooldown is the minimum gap between a position closing and the next
	// entry attempt. Zero disables it.
	Cooldown time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Scheduler runs the sell-supervise-repeat loop.
type Scheduler struct {
	resolver Resolver
	trader   Trader
	guard    Guard
	admin    OrderAdmin
	journal  storage.Interface

	pollInterval time.Duration
	cooldown     time.Duration
	log          *zap.Logger
	met          *metrics.Metrics
	now          func() time.Time
}

// New creates a scheduler.
func New(resolver Resolver, trader Trader, guard Guard, admin OrderAdmin, journal storage.Interface, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		resolver:     resolver,
		trader:       trader,
		guard:        guard,
		admin:        admin,
		journal:      journal,
		pollInterval: opts.PollInterval,
		cooldown:     opts.Cooldown,
		log:          opts.Logger.Named("scheduler"),
		met:          opts.Metrics,
		now:          time.Now,
	}
}

// Run reconciles startup state and then cycles until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Reconcile resolves state left over from a previous run: stray open orders
// are cancelled, and a journaled open trade is re-armed for supervision so
// the position is never left unguarded.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	open, err := s.admin.OpenOrders(ctx)
	if err != nil {
		s.log.Warn("open order query failed during reconciliation", zap.Error(err))
	}
	for _, u := range open {
		s.log.Warn("cancelling stray order from previous run",
			zap.Int64("order_id", u.OrderID), zap.String("state", string(u.State)))
		if cerr := s.admin.CancelOrder(ctx, u.OrderID); cerr != nil {
			s.log.Error("stray order cancel failed",
				zap.Int64("order_id", u.OrderID), zap.Error(cerr))
		}
	}

	trade := s.journal.CurrentTrade()
	if trade == nil {
		return nil
	}

	pos, watch := rebuildWatch(trade)
	s.log.Info("resuming supervision of journaled open position",
		zap.String("position_id", pos.ID),
		zap.String("contract", pos.Contract.LocalName()),
		zap.String("threshold", watch.Threshold.String()))

	if err := s.guard.Arm(pos, watch); err != nil {
		return err
	}
	if s.met != nil {
		s.met.OpenPosition.Set(1)
	}
	return nil
}

// rebuildWatch reconstructs the position and its protective watch from the
// journal record written when the trade opened.
func rebuildWatch(trade *storage.TradeRecord) (models.Position, models.StopLossWatch) {
	pos := models.Position{
		ID:             trade.ID,
		Contract:       trade.Contract,
		Underlying:     trade.Contract.Underlying(),
		Side:           trade.Side,
		Quantity:       trade.Quantity,
		EntryOrderID:   trade.EntryOrderID,
		EntryReference: trade.Reference,
		EntryFillPrice: trade.EntryPrice,
		OpenedAt:       trade.OpenedAt,
	}
	direction := models.StopAbove
	if trade.Contract.Right == models.RightPut {
		direction = models.StopBelow
	}
	watch := models.StopLossWatch{
		PositionID: pos.ID,
		Threshold:  trade.StopThreshold,
		Direction:  direction,
		State:      models.WatchActive,
		ArmedAt:    trade.OpenedAt,
	}
	return pos, watch
}

// tick runs one cycle. While a position is open or the cooldown is running,
// the cycle is a no-op; entry errors are logged and absorbed so the loop
// keeps cycling.
func (s *Scheduler) tick(ctx context.Context) {
	if s.met != nil {
		s.met.SchedulerTicks.Inc()
	}

	if s.guard.Active() {
		s.log.Debug("position open, skipping entry cycle")
		return
	}
	if !s.cooldownOver() {
		s.log.Debug("cooldown running, skipping entry cycle")
		return
	}

	opt, err := s.resolver.Resolve(s.journal.LastExpiry())
	if err != nil {
		s.failTick(err, "no eligible contract")
		return
	}

	pos, err := s.trader.PlaceEntry(ctx, opt)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, quote.ErrQuoteUnavailable):
			s.failTick(err, "reference quote unavailable, will retry")
		case errors.Is(err, contract.ErrNoEligibleContract):
			s.failTick(err, "no eligible contract")
		default:
			s.failTick(err, "entry attempt failed")
		}
		return
	}

	s.log.Info("entry cycle complete",
		zap.String("position_id", pos.ID),
		zap.String("contract", pos.Contract.LocalName()))
}

func (s *Scheduler) failTick(err error, msg string) {
	if s.met != nil {
		s.met.TicksFailed.Inc()
	}
	s.log.Warn(msg, zap.Error(err))
}

// cooldownOver reports whether enough time has passed since the last close.
func (s *Scheduler) cooldownOver() bool {
	if s.cooldown <= 0 {
		return true
	}
	history := s.journal.History()
	if len(history) == 0 {
		return true
	}
	last := history[len(history)-1]
	if last.ClosedAt.IsZero() {
		return true
	}
	return s.now().Sub(last.ClosedAt) >= s.cooldown
}
