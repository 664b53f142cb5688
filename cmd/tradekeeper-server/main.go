package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tradekeeper/internal/admission"
	"tradekeeper/internal/advisor"
	"tradekeeper/internal/broker"
	"tradekeeper/internal/config"
	"tradekeeper/internal/engine"
	"tradekeeper/internal/httpapi"
	"tradekeeper/internal/ledger"
	"tradekeeper/internal/store"
	"tradekeeper/internal/util"
)

func main() {
	godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Durable fingerprint/audit store; the in-process cache carries the full
	// load when no path is configured or the database cannot be opened.
	var durable store.KV
	var attempts store.AttemptStore = store.NewMemoryStore()
	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Warn("opening sqlite store, continuing in-process only",
				"path", cfg.Storage.SQLitePath, "error", err)
		} else {
			durable = db
			attempts = db
			defer db.Close()
		}
	}

	ctrl := admission.NewController(durable, attempts, admission.Options{
		DedupWindow:  cfg.Admission.DedupWindow(),
		AttemptGrace: cfg.Admission.AttemptGrace(),
		RateLimit:    cfg.Admission.RateLimit,
		RateWindow:   cfg.Admission.RateWindow(),
	}, logger)

	var b broker.Broker
	if cfg.Trading.PaperMode {
		b = broker.NewSimulatorBroker(decimal.NewFromInt(100_000))
	} else {
		b = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL)
	}

	led := ledger.New(b, cfg.Ledger.FailureThreshold, logger)
	adv := advisor.New(cfg.Advisor, advisor.NewHistory(64), logger)
	eng := engine.New(cfg, b, ctrl, led, adv, logger)
	eng.Start()

	api := httpapi.NewServer(eng, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr, "broker", b.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	// Shutdown order: close the HTTP listener so no new requests arrive,
	// then the engine (which itself halts intake before its loops), then the
	// deferred store close.
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown", "error", err)
	}
}

// loadConfig reads the YAML config named by TRADEKEEPER_CONFIG, falling back
// to the default path and then to built-in paper-mode defaults.
func loadConfig() (*config.Config, error) {
	path := os.Getenv("TRADEKEEPER_CONFIG")
	if path == "" {
		path = "config/tradekeeper.yaml"
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
