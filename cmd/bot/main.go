package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"es-option-bot/internal/config"
	"es-option-bot/internal/contract"
	"es-option-bot/internal/engine"
	"es-option-bot/internal/gateway"
	"es-option-bot/internal/logging"
	"es-option-bot/internal/metrics"
	"es-option-bot/internal/models"
	"es-option-bot/internal/quote"
	"es-option-bot/internal/scheduler"
	"es-option-bot/internal/storage"
	"es-option-bot/internal/supervisor"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	command := "run"
	if args := flag.Args(); len(args) > 0 {
		command = args[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch command {
	case "run":
		if err := runBot(cfg); err != nil {
			log.Fatalf("Bot error: %v", err)
		}
	case "report":
		if err := runReport(cfg, os.Stdout); err != nil {
			log.Fatalf("Report error: %v", err)
		}
	default:
		log.Fatalf("Unknown command %q (expected run or report)", command)
	}
}

func runBot(cfg *config.Config) error {
	logger, closeLog, err := logging.New(cfg.Environment.Log)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	logger.Info("starting option bot", zap.String("mode", cfg.Environment.Mode))
	if !cfg.IsPaperTrading() {
		logger.Warn("LIVE TRADING MODE - real money at risk, waiting 10 seconds to confirm")
		time.Sleep(10 * time.Second)
	}

	met := metrics.New()

	journal, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open trade journal: %w", err)
	}

	session := gateway.NewSession(gateway.Options{
		Addr:                 cfg.Gateway.Addr,
		MaxReconnectInterval: cfg.MaxReconnectInterval(),
		Logger:               logger,
		Metrics:              met,
	})
	gw := gateway.NewCircuitBreakerGateway(session, logger)

	weekdays, err := cfg.TradingWeekdays()
	if err != nil {
		return err
	}
	holidays, err := cfg.Holidays()
	if err != nil {
		return err
	}
	base := models.ContractDescriptor{
		Symbol:      cfg.Contract.Symbol,
		SecType:     models.SecurityFuturesOption,
		Exchange:    cfg.Contract.Exchange,
		Right:       cfg.Right(),
		StrikeBasis: cfg.StrikeBasis(),
		Multiplier:  cfg.Contract.Multiplier,
	}
	resolver := contract.NewResolver(base, weekdays, holidays, cfg.Contract.MaxHorizonDays)

	oracle := quote.NewOracle(gw, quote.Options{
		Timeout:      cfg.QuoteTimeout(),
		WaitInterval: cfg.StrikeWait(),
		WaitMax:      cfg.StrikeWaitMax(),
		Logger:       logger,
	})

	eng := engine.New(gw, oracle, journal, engine.Options{
		Side:         cfg.EntrySide(),
		Quantity:     cfg.Entry.Quantity,
		StrikeOffset: cfg.StrikeOffset(),
		StopDistance: cfg.StopDistance(),
		FillTimeout:  cfg.FillTimeout(),
		Logger:       logger,
		Metrics:      met,
	})
	sup := supervisor.New(gw, eng, journal, supervisor.Options{
		StaleTickBound: cfg.StaleTickBound(),
		Logger:         logger,
		Metrics:        met,
	})
	eng.AttachGuard(sup)

	sched := scheduler.New(resolver, eng, sup, gw, journal, scheduler.Options{
		PollInterval: cfg.PollInterval(),
		Cooldown:     cfg.Cooldown(),
		Logger:       logger,
		Metrics:      met,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	err = session.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	sup.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, met, logger)
		})
	}

	err = g.Wait()
	// Let the active watch finish its best-effort flatten before the
	// session goes away.
	sup.Wait()

	if err != nil {
		return err
	}
	logger.Info("bot stopped")
	return nil
}

func serveMetrics(ctx context.Context, addr string, met *metrics.Metrics, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener up", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	}
}
