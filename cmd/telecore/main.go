package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telecore/telecore/internal/botruntime"
	"github.com/telecore/telecore/internal/config"
	"github.com/telecore/telecore/internal/gateway"
	"github.com/telecore/telecore/internal/janitor"
	otelpkg "github.com/telecore/telecore/internal/otel"
	"github.com/telecore/telecore/internal/store"
	"github.com/telecore/telecore/internal/telemetry"
)

func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("fatal startup error", "code", code, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
	}
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	otelProvider, err := otelpkg.Init(ctx, otelpkg.Config{Enabled: false})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)
	metrics, err := otelpkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS_INIT", err)
	}
	_ = metrics // exercised indirectly via Provider; dedicated instrument wiring is call-site work for each component.

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer db.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	botIDs := make([]string, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		botIDs = append(botIDs, b.ID)
	}

	jan := janitor.New(janitor.Config{
		Store:    db,
		Logger:   logger,
		Schedule: cfg.JanitorCron,
		BotIDs:   botIDs,
	})
	if err := jan.Start(ctx); err != nil {
		fatalStartup(logger, "E_JANITOR_START", err)
	}
	defer jan.Stop()

	registry := botruntime.NewRegistry(db, cfg)
	registry.StartAll(ctx, logger)
	defer registry.StopAll()

	gw := gateway.New(gateway.Config{
		Store:             db,
		BotIDs:            registry.BotIDs(),
		ConfigFingerprint: cfg.Fingerprint(),
	})

	mux := http.NewServeMux()
	gw.Register(mux)
	for _, b := range cfg.Bots {
		if b.Mode != "gateway" {
			continue
		}
		ing := registry.WebhookIngress(b.ID)
		if ing == nil {
			continue
		}
		mux.HandleFunc("POST /telegram/webhook/{bot_id}/{path_secret}", ing.WebhookHandler())
	}

	server := &http.Server{Addr: cfg.BindAddr, Handler: mux}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}
