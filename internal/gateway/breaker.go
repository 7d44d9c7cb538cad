package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"es-option-bot/internal/models"
)

// CircuitBreakerGateway wraps a Gateway and trips on repeated query failures.
// Only the query paths (snapshots, order status, open orders) go through the
// breaker: order routing and flattening must never be refused locally, and
// the tick stream has its own reconnect handling.
type CircuitBreakerGateway struct {
	gw      Gateway
	breaker *gobreaker.CircuitBreaker
}

var _ Gateway = (*CircuitBreakerGateway)(nil)

// BreakerSettings configures circuit breaker behavior.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerGateway wraps gw with sensible defaults.
func NewCircuitBreakerGateway(gw Gateway, log *zap.Logger) *CircuitBreakerGateway {
	return NewCircuitBreakerGatewayWithSettings(gw, log, BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerGatewayWithSettings wraps gw with custom settings.
func NewCircuitBreakerGatewayWithSettings(gw Gateway, log *zap.Logger, settings BreakerSettings) *CircuitBreakerGateway {
	if log == nil {
		log = zap.NewNop()
	}
	gbSettings := gobreaker.Settings{
		Name:        "GatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &CircuitBreakerGateway{
		gw:      gw,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	gw Gateway,
	fn func(Gateway) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gw) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

func (c *CircuitBreakerGateway) Connect(ctx context.Context) error { return c.gw.Connect(ctx) }
func (c *CircuitBreakerGateway) Close() error                      { return c.gw.Close() }
func (c *CircuitBreakerGateway) IsConnected() bool                 { return c.gw.IsConnected() }

// SnapshotPrice wraps the underlying gateway call with the circuit breaker.
func (c *CircuitBreakerGateway) SnapshotPrice(ctx context.Context, contract models.ContractDescriptor) (models.ReferenceQuote, error) {
	return execBreaker(c.breaker, c.gw, func(g Gateway) (models.ReferenceQuote, error) {
		return g.SnapshotPrice(ctx, contract)
	})
}

func (c *CircuitBreakerGateway) SubscribeTicks(ctx context.Context, contract models.ContractDescriptor) (*TickStream, error) {
	return c.gw.SubscribeTicks(ctx, contract)
}

func (c *CircuitBreakerGateway) PlaceOrder(ctx context.Context, contract models.ContractDescriptor, side models.Side, quantity int64, typ models.OrderType) (*models.Order, *OrderStream, error) {
	return c.gw.PlaceOrder(ctx, contract, side, quantity, typ)
}

func (c *CircuitBreakerGateway) CancelOrder(ctx context.Context, orderID int64) error {
	return c.gw.CancelOrder(ctx, orderID)
}

// OrderStatus wraps the underlying gateway call with the circuit breaker.
func (c *CircuitBreakerGateway) OrderStatus(ctx context.Context, orderID int64) (models.OrderUpdate, error) {
	return execBreaker(c.breaker, c.gw, func(g Gateway) (models.OrderUpdate, error) {
		return g.OrderStatus(ctx, orderID)
	})
}

// OpenOrders wraps the underlying gateway call with the circuit breaker.
func (c *CircuitBreakerGateway) OpenOrders(ctx context.Context) ([]models.OrderUpdate, error) {
	return execBreaker(c.breaker, c.gw, func(g Gateway) ([]models.OrderUpdate, error) {
		return g.OpenOrders(ctx)
	})
}

func (c *CircuitBreakerGateway) ConnEvents() (<-chan ConnEvent, func()) {
	return c.gw.ConnEvents()
}
