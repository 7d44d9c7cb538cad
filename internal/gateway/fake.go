package gateway

import (
	"context"
	"sync"
	"time"

	"es-option-bot/internal/models"
)

// PlacedOrder records one PlaceOrder call against a FakeGateway.
type PlacedOrder struct {
	Order  *models.Order
	Stream *OrderStream
}

// FakeGateway is a scripted in-memory Gateway for tests. Snapshot responses
// are driven by SnapshotFn; order and tick events are pushed explicitly with
// PushOrderUpdate and EmitTick.
type FakeGateway struct {
	mu        sync.Mutex
	connected bool
	nextID    int64

	SnapshotFn    func(models.ContractDescriptor) (models.ReferenceQuote, error)
	PlaceOrderErr error
	StatusFn      func(int64) (models.OrderUpdate, error)
	Open          []models.OrderUpdate

	Placed    []PlacedOrder
	Cancelled []int64

	orderChans map[int64]chan models.OrderUpdate
	tickChans  []chan Tick
	connChans  []chan ConnEvent
}

var _ Gateway = (*FakeGateway)(nil)

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		connected:  true,
		orderChans: make(map[int64]chan models.OrderUpdate),
	}
}

func (f *FakeGateway) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *FakeGateway) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *FakeGateway) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected flips connectivity and notifies ConnEvents observers.
func (f *FakeGateway) SetConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	state := StateDisconnected
	if up {
		state = StateConnected
	}
	ev := ConnEvent{State: state, At: time.Now().UTC()}
	subs := append([]chan ConnEvent(nil), f.connChans...)
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *FakeGateway) SnapshotPrice(_ context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error) {
	if f.SnapshotFn != nil {
		return f.SnapshotFn(c)
	}
	return models.ReferenceQuote{}, ErrNotConnected
}

func (f *FakeGateway) SubscribeTicks(_ context.Context, _ models.ContractDescriptor) (*TickStream, error) {
	f.mu.Lock()
	ch := make(chan Tick, tickBuffer)
	f.tickChans = append(f.tickChans, ch)
	f.mu.Unlock()
	return &TickStream{C: ch, cancel: func() {}}, nil
}

// TickSubCount returns the number of live tick subscriptions.
func (f *FakeGateway) TickSubCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickChans)
}

// EmitTick delivers a price tick to every live subscription.
func (f *FakeGateway) EmitTick(price models.ReferenceQuote) {
	f.mu.Lock()
	subs := append([]chan Tick(nil), f.tickChans...)
	f.mu.Unlock()
	t := Tick{Price: price.Price, At: price.At}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (f *FakeGateway) PlaceOrder(_ context.Context, c models.ContractDescriptor, side models.Side, quantity int64, typ models.OrderType) (*models.Order, *OrderStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaceOrderErr != nil {
		return nil, nil, f.PlaceOrderErr
	}
	f.nextID++
	id := f.nextID
	ch := make(chan models.OrderUpdate, orderBuffer)
	f.orderChans[id] = ch
	ord := models.NewOrder(id, c, side, quantity, typ)
	stream := &OrderStream{C: ch, cancel: func() {}}
	f.Placed = append(f.Placed, PlacedOrder{Order: ord, Stream: stream})
	return ord, stream, nil
}

// PlacedCount returns the number of orders placed so far.
func (f *FakeGateway) PlacedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Placed)
}

// LastPlaced returns the most recently placed order, or nil.
func (f *FakeGateway) LastPlaced() *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Placed) == 0 {
		return nil
	}
	return f.Placed[len(f.Placed)-1].Order
}

// PushOrderUpdate delivers an event on the order's stream.
func (f *FakeGateway) PushOrderUpdate(u models.OrderUpdate) {
	f.mu.Lock()
	ch := f.orderChans[u.OrderID]
	f.mu.Unlock()
	if ch == nil {
		return
	}
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	ch <- u
}

func (f *FakeGateway) CancelOrder(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, orderID)
	return nil
}

func (f *FakeGateway) OrderStatus(_ context.Context, orderID int64) (models.OrderUpdate, error) {
	if f.StatusFn != nil {
		return f.StatusFn(orderID)
	}
	return models.OrderUpdate{}, ErrNotConnected
}

func (f *FakeGateway) OpenOrders(context.Context) ([]models.OrderUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderUpdate(nil), f.Open...), nil
}

// ConnSubCount returns the number of registered connectivity observers.
func (f *FakeGateway) ConnSubCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connChans)
}

func (f *FakeGateway) ConnEvents() (<-chan ConnEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan ConnEvent, connEventBuffer)
	f.connChans = append(f.connChans, ch)
	return ch, func() {}
}
