package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"es-option-bot/internal/metrics"
	"es-option-bot/internal/models"
)

const (
	tickBuffer      = 16
	orderBuffer     = 32
	connEventBuffer = 4
)

// Options configures a Session.
type Options struct {
	Addr                 string
	MaxReconnectInterval time.Duration
	Logger               *zap.Logger
	Metrics              *metrics.Metrics
}

type tickSub struct {
	contract models.ContractDescriptor
	ch       chan Tick
}

// Session is the websocket implementation of Gateway. One Session exists per
// process; all components borrow it and none may replace it while a position
// is open.
type Session struct {
	addr         string
	log          *zap.Logger
	met          *metrics.Metrics
	maxReconnect time.Duration

	nextReq atomic.Int64

	mu        sync.Mutex
	conn      *websocket.Conn
	state     ConnState
	closed    bool
	pending   map[int64]chan frame
	tickSubs  map[int64]*tickSub
	orderSubs map[int64]chan models.OrderUpdate
	connSubs  map[int64]chan ConnEvent
	connSubID int64

	writeMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ Gateway = (*Session)(nil)

// NewSession creates a disconnected session.
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}
	return &Session{
		addr:         opts.Addr,
		log:          opts.Logger.Named("gateway"),
		met:          opts.Metrics,
		maxReconnect: opts.MaxReconnectInterval,
		state:        StateDisconnected,
		pending:      make(map[int64]chan frame),
		tickSubs:     make(map[int64]*tickSub),
		orderSubs:    make(map[int64]chan models.OrderUpdate),
		connSubs:     make(map[int64]chan ConnEvent),
		done:         make(chan struct{}),
	}
}

// Connect dials the gateway. Dial failure is fatal to the run; reconnects
// after a successful initial connect are handled internally.
func (s *Session) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.addr, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, s.addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	s.conn = conn
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.log.Info("gateway session connected", zap.String("addr", s.addr))

	s.wg.Add(1)
	go s.run(conn)
	return nil
}

// Close tears the session down and waits for the read loop to stop.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
	s.failPending()
	return nil
}

// IsConnected reports whether the session is live.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// run keeps the session alive: it drains the read loop and, when the
// connection drops, redials with exponential backoff and replays the live
// market-data subscriptions.
func (s *Session) run(conn *websocket.Conn) {
	defer s.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.maxReconnect

	for {
		err := s.readLoop(conn)
		if s.isClosed() {
			return
		}

		s.log.Warn("gateway connection lost", zap.Error(err))
		s.dropConn()
		if s.met != nil {
			s.met.Reconnects.Inc()
		}

		next, ok := s.redial(bo)
		if !ok {
			return
		}
		conn = next

		s.adoptConn(conn)
		bo.Reset()
		s.log.Info("gateway session reconnected", zap.String("addr", s.addr))
	}
}

// redial dials until it succeeds or the session closes.
func (s *Session) redial(bo *backoff.ExponentialBackOff) (*websocket.Conn, bool) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	for {
		if s.isClosed() {
			return nil, false
		}
		s.setState(StateConnecting)
		conn, _, err := dialer.Dial(s.addr, nil)
		if err == nil {
			return conn, true
		}
		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = s.maxReconnect
		}
		s.log.Warn("gateway redial failed", zap.Error(err), zap.Duration("retry_in", sleep))
		select {
		case <-s.done:
			return nil, false
		case <-time.After(sleep):
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := gojson.Unmarshal(data, &f); err != nil {
			s.log.Warn("undecodable gateway frame", zap.Error(err))
			continue
		}
		s.dispatch(f)
	}
}

func (s *Session) dispatch(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f.Type {
	case evTick:
		sub, ok := s.tickSubs[f.ReqID]
		if !ok || f.Price == nil {
			return
		}
		at := f.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		select {
		case sub.ch <- Tick{Price: *f.Price, At: at}:
		default:
			// Slow consumer: drop the tick. The supervisor's staleness
			// bound forces a snapshot reconciliation if this persists.
		}
	case evOrder, evFill:
		ch, ok := s.orderSubs[f.OrderID]
		if !ok {
			return
		}
		select {
		case ch <- f.orderUpdate():
		default:
			s.log.Warn("order event buffer full, dropping event",
				zap.Int64("order_id", f.OrderID), zap.String("state", string(f.State)))
		}
	case evResult, evError:
		ch, ok := s.pending[f.ReqID]
		if !ok {
			return
		}
		delete(s.pending, f.ReqID)
		ch <- f
	default:
		s.log.Debug("unknown gateway frame", zap.String("type", f.Type))
	}
}

// request sends a correlated frame and waits for its response.
func (s *Session) request(ctx context.Context, f frame) (frame, error) {
	if f.ReqID == 0 {
		f.ReqID = s.nextReq.Add(1)
	}

	ch := make(chan frame, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return frame{}, fmt.Errorf("%w: session closed", ErrConnection)
	}
	s.pending[f.ReqID] = ch
	s.mu.Unlock()

	if err := s.send(f); err != nil {
		s.unregisterPending(f.ReqID)
		return frame{}, err
	}

	select {
	case resp := <-ch:
		if resp.Type == evError {
			return frame{}, fmt.Errorf("gateway rejected %s request: %s", f.Type, resp.Error)
		}
		if resp.Type == "" {
			// Zero frame: the pending map was failed by a disconnect.
			return frame{}, fmt.Errorf("%w: connection lost awaiting %s response", ErrConnection, f.Type)
		}
		return resp, nil
	case <-ctx.Done():
		s.unregisterPending(f.ReqID)
		return frame{}, ctx.Err()
	case <-s.done:
		return frame{}, fmt.Errorf("%w: session closed", ErrConnection)
	}
}

func (s *Session) send(f frame) error {
	data, err := gojson.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}

	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write %s frame: %v", ErrConnection, f.Type, err)
	}
	return nil
}

// SnapshotPrice requests a one-shot quote for the contract.
func (s *Session) SnapshotPrice(ctx context.Context, c models.ContractDescriptor) (models.ReferenceQuote, error) {
	resp, err := s.request(ctx, frame{Type: opSnapshot, Contract: &c})
	if err != nil {
		return models.ReferenceQuote{}, err
	}
	if resp.Price == nil || resp.Price.Sign() <= 0 {
		return models.ReferenceQuote{}, fmt.Errorf("snapshot for %s returned no price", c.LocalName())
	}
	at := resp.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return models.ReferenceQuote{Price: *resp.Price, At: at, Contract: c}, nil
}

// SubscribeTicks opens a streaming market-data subscription. The stream
// survives reconnects: the session replays the subscription after a redial.
func (s *Session) SubscribeTicks(_ context.Context, c models.ContractDescriptor) (*TickStream, error) {
	id := s.nextReq.Add(1)
	ch := make(chan Tick, tickBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session closed", ErrConnection)
	}
	s.tickSubs[id] = &tickSub{contract: c, ch: ch}
	s.mu.Unlock()

	if err := s.send(frame{Type: opSubscribe, ReqID: id, Contract: &c}); err != nil {
		s.mu.Lock()
		delete(s.tickSubs, id)
		s.mu.Unlock()
		return nil, err
	}

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.tickSubs[id]; ok {
			delete(s.tickSubs, id)
			close(ch)
		}
		s.mu.Unlock()
		_ = s.send(frame{Type: opUnsubscribe, ReqID: id})
	}
	return &TickStream{C: ch, cancel: cancel}, nil
}

// PlaceOrder submits an order. The returned order is in the Submitted state;
// all further transitions arrive on the event stream.
func (s *Session) PlaceOrder(_ context.Context, c models.ContractDescriptor, side models.Side, quantity int64, typ models.OrderType) (*models.Order, *OrderStream, error) {
	id := s.nextReq.Add(1)
	ch := make(chan models.OrderUpdate, orderBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: session closed", ErrConnection)
	}
	s.orderSubs[id] = ch
	s.mu.Unlock()

	err := s.send(frame{
		Type:      opPlaceOrder,
		ReqID:     id,
		OrderID:   id,
		Contract:  &c,
		Side:      side,
		Quantity:  quantity,
		OrderType: typ,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.orderSubs, id)
		s.mu.Unlock()
		return nil, nil, err
	}

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.orderSubs[id]; ok {
			delete(s.orderSubs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return models.NewOrder(id, c, side, quantity, typ), &OrderStream{C: ch, cancel: cancel}, nil
}

// CancelOrder asks the venue to cancel an order. The terminal state, if any,
// arrives on the order's event stream.
func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	_, err := s.request(ctx, frame{Type: opCancelOrder, OrderID: orderID})
	return err
}

// OrderStatus queries the authoritative state of an order.
func (s *Session) OrderStatus(ctx context.Context, orderID int64) (models.OrderUpdate, error) {
	resp, err := s.request(ctx, frame{Type: opOrderStatus, OrderID: orderID})
	if err != nil {
		return models.OrderUpdate{}, err
	}
	u := resp.orderUpdate()
	if u.OrderID == 0 {
		u.OrderID = orderID
	}
	return u, nil
}

// OpenOrders lists the venue's non-terminal orders.
func (s *Session) OpenOrders(ctx context.Context) ([]models.OrderUpdate, error) {
	resp, err := s.request(ctx, frame{Type: opOpenOrders})
	if err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// ConnEvents registers a connectivity observer.
func (s *Session) ConnEvents() (<-chan ConnEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connSubID++
	id := s.connSubID
	ch := make(chan ConnEvent, connEventBuffer)
	s.connSubs[id] = ch
	cancel := func() {
		s.mu.Lock()
		if _, ok := s.connSubs[id]; ok {
			delete(s.connSubs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	s.setStateLocked(state)
	s.mu.Unlock()
}

func (s *Session) setStateLocked(state ConnState) {
	if s.state == state {
		return
	}
	s.state = state
	ev := ConnEvent{State: state, At: time.Now().UTC()}
	for _, ch := range s.connSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// dropConn marks the session disconnected and fails every pending request so
// callers can run their reconcile paths instead of blocking forever.
func (s *Session) dropConn() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.setStateLocked(StateDisconnected)
	pending := s.pending
	s.pending = make(map[int64]chan frame)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// adoptConn installs a fresh connection and replays live subscriptions.
func (s *Session) adoptConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.setStateLocked(StateConnected)
	subs := make(map[int64]models.ContractDescriptor, len(s.tickSubs))
	for id, sub := range s.tickSubs {
		subs[id] = sub.contract
	}
	s.mu.Unlock()

	for id, c := range subs {
		contract := c
		if err := s.send(frame{Type: opSubscribe, ReqID: id, Contract: &contract}); err != nil {
			s.log.Warn("resubscribe after reconnect failed",
				zap.Int64("req_id", id), zap.Error(err))
		}
	}
}

func (s *Session) unregisterPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) failPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]chan frame)
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}
