// Command supportflowd runs the support dialogue service: it wires a model
// provider, the SQLite knowledge store and turn log, and the conversation
// engine behind the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voclabs/supportflow/config"
	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/engine"
	"github.com/voclabs/supportflow/logging"
	"github.com/voclabs/supportflow/model"
	"github.com/voclabs/supportflow/model/anthropic"
	"github.com/voclabs/supportflow/model/openai"
	searchsqlite "github.com/voclabs/supportflow/search/sqlite"
	"github.com/voclabs/supportflow/server"
	"github.com/voclabs/supportflow/session"
	"github.com/voclabs/supportflow/turnlog"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	logCfg := logging.DefaultConfig()
	if os.Getenv("LOG_FORMAT") == "text" {
		logCfg.Format = "text"
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		logCfg.Level = slog.LevelDebug
	}
	logger := logging.New(logCfg)

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	m, err := buildModel()
	if err != nil {
		return err
	}
	logger.WithComponent("main").Info("model ready",
		"provider", m.Info().Provider,
		"model", m.Info().Name,
	)

	knowledge, err := searchsqlite.Open(envOr("KNOWLEDGE_DB_PATH", "data/knowledge.db"))
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer knowledge.Close()

	if path := os.Getenv("CASES_PATH"); path != "" {
		if err := seedCases(knowledge, path); err != nil {
			return err
		}
	}

	turnLog, err := turnlog.OpenSQLite(envOr("TURNLOG_DB_PATH", "data/turnlog.db"))
	if err != nil {
		return fmt.Errorf("open turn log: %w", err)
	}
	defer turnLog.Close()

	eng := engine.New(m, knowledge, func(o *engine.Options) {
		o.Store = session.NewInMemoryStore()
		o.TurnLog = turnLog
		o.Logger = logger.WithComponent("engine")
		o.Config = cfg
	})

	srv := server.New(eng, func(o *server.Options) {
		o.Logger = logger.WithComponent("server")
		o.Healthcheck = func(r *http.Request) error {
			return knowledge.Ping(r.Context())
		}
	})

	addr := ":" + envOr("PORT", "8080")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("main").Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.WithComponent("main").Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildModel selects the provider from MODEL_PROVIDER (default openai). API
// keys come from the providers' standard environment variables.
func buildModel() (model.Model, error) {
	switch provider := envOr("MODEL_PROVIDER", "openai"); provider {
	case "openai":
		var opts []func(o *openai.Options)
		if name := os.Getenv("MODEL_NAME"); name != "" {
			opts = append(opts, func(o *openai.Options) { o.Model = name })
		}
		return openai.NewModel(opts...), nil
	case "anthropic":
		var opts []func(o *anthropic.Options)
		if name := os.Getenv("MODEL_NAME"); name != "" {
			opts = append(opts, func(o *anthropic.Options) { o.Model = name })
		}
		return anthropic.NewModel(opts...), nil
	default:
		return nil, fmt.Errorf("unknown MODEL_PROVIDER %q", provider)
	}
}

// seedCases loads a JSON case file into the knowledge store at startup.
func seedCases(store *searchsqlite.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cases %s: %w", path, err)
	}
	var cases []core.Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return fmt.Errorf("parse cases %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Load(ctx, cases); err != nil {
		return fmt.Errorf("seed cases: %w", err)
	}
	slog.Info("knowledge store seeded", "cases", len(cases))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
