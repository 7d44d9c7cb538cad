package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"es-option-bot/internal/gateway"
	"es-option-bot/internal/models"
	"es-option-bot/internal/storage"
)

type fakeFlattener struct {
	mu      sync.Mutex
	reasons []string
	err     error
	called  chan string
}

func newFakeFlattener() *fakeFlattener {
	return &fakeFlattener{called: make(chan string, 4)}
}

func (f *fakeFlattener) Flatten(_ context.Context, _ models.Position, reason string) (*models.Order, error) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	f.called <- reason
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{State: models.StateFilled}, nil
}

func (f *fakeFlattener) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

func testPosition() models.Position {
	return models.Position{
		ID: "pos-1",
		Contract: models.ContractDescriptor{
			Symbol: "ES", SecType: models.SecurityFuturesOption, Exchange: "CME",
			Strike: decimal.RequireFromString("6450"), Right: models.RightCall,
		},
		Underlying: models.ContractDescriptor{Symbol: "ES", SecType: models.SecurityFuture, Exchange: "CME"},
		Side:       models.SideSell,
		Quantity:   1,
	}
}

func callWatch() models.StopLossWatch {
	return models.StopLossWatch{
		PositionID: "pos-1",
		Threshold:  decimal.RequireFromString("6454.75"),
		Direction:  models.StopAbove,
		State:      models.WatchActive,
	}
}

func quoteAt(price string) models.ReferenceQuote {
	return models.ReferenceQuote{Price: decimal.RequireFromString(price), At: time.Now().UTC()}
}

func newArmedSupervisor(t *testing.T, fake *gateway.FakeGateway, fl *fakeFlattener, journal storage.Interface, opts Options) (*Supervisor, context.CancelFunc) {
	t.Helper()
	sup := New(fake, fl, journal, opts)
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	require.NoError(t, sup.Arm(testPosition(), callWatch()))
	t.Cleanup(func() {
		cancel()
		sup.Wait()
	})
	return sup, cancel
}

func awaitFlatten(t *testing.T, fl *fakeFlattener, want string) {
	t.Helper()
	select {
	case reason := <-fl.called:
		assert.Equal(t, want, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("flatten was never called")
	}
}

func awaitInactive(t *testing.T, sup *Supervisor) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !sup.Active() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watch never wound down")
}

func TestBreachTriggersSingleFlatten(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fl := newFakeFlattener()
	journal := storage.NewMockStorage()
	sup, _ := newArmedSupervisor(t, fake, fl, journal, Options{StaleTickBound: time.Hour})

	// Below the threshold: no trigger.
	fake.EmitTick(quoteAt("6452.00"))
	// At the threshold: trigger.
	fake.EmitTick(quoteAt("6454.75"))
	// Past the threshold, after the watch already fired.
	fake.EmitTick(quoteAt("6460.00"))

	awaitFlatten(t, fl, "stop_loss")
	awaitInactive(t, sup)
	assert.Equal(t, 1, fl.callCount())
	assert.Equal(t, 0, journal.AbortCalls)
}

func TestArmSubscribesBeforeReturning(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fl := newFakeFlattener()
	sup, _ := newArmedSupervisor(t, fake, fl, storage.NewMockStorage(), Options{StaleTickBound: time.Hour})

	// The subscription must already be live when Arm returns, so a tick
	// fired in the very next instant cannot be lost.
	require.Equal(t, 1, fake.TickSubCount())

	fake.EmitTick(quoteAt("6460.00"))
	awaitFlatten(t, fl, "stop_loss")
	awaitInactive(t, sup)
}

func TestBelowThresholdDoesNotTrigger(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fl := newFakeFlattener()
	sup, _ := newArmedSupervisor(t, fake, fl, storage.NewMockStorage(), Options{StaleTickBound: time.Hour})

	fake.EmitTick(quoteAt("6450.00"))
	fake.EmitTick(quoteAt("6454.50"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fl.callCount())
	assert.True(t, sup.Active())
}

func TestStaleStreamReconcilesWithSnapshot(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fake.SnapshotFn = func(models.ContractDescriptor) (models.ReferenceQuote, error) {
		return quoteAt("6455.00"), nil
	}
	fl := newFakeFlattener()
	sup, _ := newArmedSupervisor(t, fake, fl, storage.NewMockStorage(), Options{
		StaleTickBound: 20 * time.Millisecond,
	})

	// No ticks at all: the staleness path must pick up the breach.
	awaitFlatten(t, fl, "stop_loss")
	awaitInactive(t, sup)
}

func TestShutdownFlattensOpenPosition(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fl := newFakeFlattener()
	sup := New(fake, fl, storage.NewMockStorage(), Options{StaleTickBound: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	require.NoError(t, sup.Arm(testPosition(), callWatch()))

	cancel()
	awaitFlatten(t, fl, "shutdown")
	sup.Wait()
	assert.False(t, sup.Active())
}

func TestArmWhileActiveRejected(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fl := newFakeFlattener()
	sup, _ := newArmedSupervisor(t, fake, fl, storage.NewMockStorage(), Options{StaleTickBound: time.Hour})

	err := sup.Arm(testPosition(), callWatch())
	assert.ErrorIs(t, err, ErrWatchActive)
	assert.True(t, sup.Active())
}

func TestFailedFlattenAbortsJournal(t *testing.T) {
	fake := gateway.NewFakeGateway()
	fl := newFakeFlattener()
	fl.err = errors.New("venue unreachable")
	journal := storage.NewMockStorage()
	journal.SetCurrentTrade(&storage.TradeRecord{ID: "pos-1", Status: storage.TradeOpen})
	sup, _ := newArmedSupervisor(t, fake, fl, journal, Options{StaleTickBound: time.Hour})

	fake.EmitTick(quoteAt("6460.00"))

	awaitFlatten(t, fl, "stop_loss")
	awaitInactive(t, sup)
	assert.Equal(t, 1, journal.AbortCalls)
}

func TestArmBeforeStartRejected(t *testing.T) {
	sup := New(gateway.NewFakeGateway(), newFakeFlattener(), storage.NewMockStorage(), Options{})
	err := sup.Arm(testPosition(), callWatch())
	require.Error(t, err)
}
