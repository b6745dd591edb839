package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatkit/internal/expiry"
	"chatkit/pkg/api"
	"chatkit/pkg/banner"
	"chatkit/pkg/config"
	"chatkit/pkg/ingest"
	"chatkit/pkg/interactions"
	"chatkit/pkg/logger"
	"chatkit/pkg/models"
	"chatkit/pkg/payments"
	"chatkit/pkg/receipts"
	"chatkit/pkg/store"
	"chatkit/pkg/threads"
)

// build metadata - set via ldflags during build/release
var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load(".env")
	flags := config.ParseFlags()
	cfg, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	banner.Print(cfg.Addr(), cfg.Storage.DBPath, version)
	logger.InitWithLevel(cfg.Logging.Level)
	defer logger.Sync()
	logger.Info("chatkit_starting", "version", version, "commit", commit, "addr", cfg.Addr())

	if err := store.Open(cfg.Storage.DBPath); err != nil {
		log.Fatalf("failed to open pebble at %s: %v", cfg.Storage.DBPath, err)
	}

	reg := threads.NewRegistry(threads.Defaults{
		Disappearing: models.DisappearingMessagesConfiguration{
			Enabled:      cfg.Disappearing.DefaultEnabled,
			TimerSeconds: uint32(time.Duration(cfg.Disappearing.DefaultTimer).Seconds()),
			Version:      1,
		},
	})
	ints := interactions.NewStore()
	sched := expiry.New(ints, expiry.Options{
		Cron:  cfg.Disappearing.SweepCron,
		Batch: cfg.Disappearing.SweepBatch,
	})
	ledger := payments.NewMemoryLedger(time.Duration(cfg.Payments.ConfirmRetry))
	pay := payments.NewManager(ints, reg, ledger, sched.Stamp)
	pay.SubmitTimeout = cfg.Payments.SubmitTimeout.Duration()
	tracker := receipts.NewTracker(ints, reg)
	ing := ingest.NewService(reg, ints, pay, sched, ingest.Options{
		Workers:         cfg.Ingest.Workers,
		QueueCapacity:   cfg.Ingest.QueueCapacity,
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes.Int64(),
	})

	// dependent-state retraction and observer teardown
	ints.OnRemove(sched.RemovalHook)
	ints.OnRemove(pay.RemovalHook)
	reg.OnDelete(sched.OnThreadDeleted)
	reg.OnDelete(ints.Hub().DropThread)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopSweep, err := sched.Start(ctx)
	if err != nil {
		log.Fatalf("failed to start expiry runner: %v", err)
	}
	ing.Start(ctx)

	handler := api.New(api.Deps{
		Registry:     reg,
		Interactions: ints,
		Payments:     pay,
		Receipts:     tracker,
		Ingest:       ing,
		Expiry:       sched,
	}, cfg.API)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http_server_failed", "error", err)
			cancel()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigc:
		logger.Info("signal_received", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	}
	stopSweep()
	cancel()
	ing.Wait()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("chatkit_stopped")
}
