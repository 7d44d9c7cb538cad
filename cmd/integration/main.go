// Command integration exercises the full trading loop against a scripted
// in-memory gateway: an entry fills, the underlying breaches the stop
// threshold, the position is flattened, and the journal is printed. Useful
// as a manual smoke check without a live gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"es-option-bot/internal/contract"
	"es-option-bot/internal/engine"
	"es-option-bot/internal/gateway"
	"es-option-bot/internal/models"
	"es-option-bot/internal/quote"
	"es-option-bot/internal/scheduler"
	"es-option-bot/internal/storage"
	"es-option-bot/internal/supervisor"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dir, err := os.MkdirTemp("", "es-option-bot-integration")
	if err != nil {
		log.Fatalf("tempdir: %v", err)
	}
	defer os.RemoveAll(dir)

	journal, err := storage.NewStorage(filepath.Join(dir, "journal.json"))
	if err != nil {
		log.Fatalf("journal: %v", err)
	}

	fake := gateway.NewFakeGateway()
	fake.SnapshotFn = func(c models.ContractDescriptor) (models.ReferenceQuote, error) {
		price := "6448.50"
		if c.SecType == models.SecurityFuturesOption {
			price = "12.25"
		}
		return models.ReferenceQuote{
			Price: decimal.RequireFromString(price),
			At:    time.Now().UTC(),
		}, nil
	}

	// Auto-fill every routed order at a fixed price.
	go func() {
		seen := 0
		for {
			if fake.PlacedCount() > seen {
				seen++
				ord := fake.LastPlaced()
				fake.PushOrderUpdate(models.OrderUpdate{
					OrderID:      ord.ID,
					State:        models.StateFilled,
					FilledQty:    ord.Quantity,
					AvgFillPrice: decimal.RequireFromString("12.00"),
				})
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	base := models.ContractDescriptor{
		Symbol:      "ES",
		SecType:     models.SecurityFuturesOption,
		Exchange:    "CME",
		Right:       models.RightCall,
		StrikeBasis: decimal.RequireFromString("5"),
		Multiplier:  50,
	}
	resolver := contract.NewResolver(base,
		[]time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		nil, 30)

	oracle := quote.NewOracle(fake, quote.Options{
		Timeout:      time.Second,
		WaitInterval: 50 * time.Millisecond,
		WaitMax:      time.Second,
		Logger:       logger,
	})
	eng := engine.New(fake, oracle, journal, engine.Options{
		Side:         models.SideSell,
		Quantity:     1,
		StopDistance: decimal.RequireFromString("4.75"),
		FillTimeout:  5 * time.Second,
		Logger:       logger,
	})
	sup := supervisor.New(fake, eng, journal, supervisor.Options{
		StaleTickBound: time.Second,
		Logger:         logger,
	})
	eng.AttachGuard(sup)
	sched := scheduler.New(resolver, eng, sup, fake, journal, scheduler.Options{
		PollInterval: 200 * time.Millisecond,
		Logger:       logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sup.Start(ctx)

	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler failed", zap.Error(err))
		}
	}()

	// Wait for the entry, then breach the stop.
	for !sup.Active() {
		time.Sleep(20 * time.Millisecond)
	}
	logger.Info("position open, breaching stop threshold")
	fake.EmitTick(models.ReferenceQuote{
		Price: decimal.RequireFromString("6460.00"),
		At:    time.Now().UTC(),
	})

	for sup.Active() {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	sup.Wait()

	stats := journal.GetStatistics()
	fmt.Printf("\ntrades=%d closed=%d aborted=%d pnl=%s\n",
		stats.TotalTrades, stats.ClosedTrades, stats.Aborted, stats.TotalPnL.StringFixed(2))

	if stats.ClosedTrades != 1 {
		log.Fatalf("expected exactly one closed trade, got %d", stats.ClosedTrades)
	}
	logger.Info("integration loop complete")
}
