// Wayplan itinerary server: serves the HTTP/WebSocket API, runs the agent
// pool, and routes chat messages against itinerary documents.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/ai"
	"github.com/wayplan/wayplan/pkg/api"
	"github.com/wayplan/wayplan/pkg/booking"
	"github.com/wayplan/wayplan/pkg/cleanup"
	"github.com/wayplan/wayplan/pkg/config"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/orchestrator"
	"github.com/wayplan/wayplan/pkg/runner"
	"github.com/wayplan/wayplan/pkg/store"
	"github.com/wayplan/wayplan/pkg/version"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsHeartbeat     = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildGenerator assembles the provider chain: the configured primary first,
// then the noop fallback so generation degrades instead of failing.
func buildGenerator(cfg config.AIConfig) ai.Generator {
	opts := ai.ProviderOptions{
		APIKey:  cfg.APIKey(),
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		return ai.NewChain(ai.NewGemini(opts), ai.NewNoop())
	case config.ProviderNoop:
		return ai.NewChain(ai.NewNoop())
	default:
		return ai.NewChain(ai.NewOpenRouter(opts), ai.NewNoop())
	}
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting wayplan",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize the document store
	st, err := store.New(ctx, store.Config{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Postgres: store.PostgresConfig{
			Host:            cfg.Store.Postgres.Host,
			Port:            cfg.Store.Postgres.Port,
			User:            cfg.Store.Postgres.User,
			Password:        cfg.Store.Postgres.Password,
			Database:        cfg.Store.Postgres.Database,
			SSLMode:         cfg.Store.Postgres.SSLMode,
			MaxOpenConns:    cfg.Store.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Store.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.Postgres.ConnMaxIdleTime,
		},
	})
	if err != nil {
		slog.Error("Failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Store ready", "backend", cfg.Store.Backend)

	bookingStore, ok := st.(store.BookingStore)
	if !ok {
		slog.Error("Store backend does not support booking records", "backend", cfg.Store.Backend)
		os.Exit(1)
	}

	// 3. Event bus and change engine
	bus := events.NewBus()
	eng := engine.New(st, bus, engine.Options{
		DefaultRespectLocks: cfg.Engine.RespectLocks(),
		MaxRevisions:        cfg.Retention.MaxRevisions,
	})

	// 4. AI provider chain and agents
	gen := buildGenerator(cfg.AI)
	planner := agents.NewPlanner(eng, gen)
	registry := agents.NewRegistry(planner, agents.NewEnrichment(eng))
	slog.Info("AI chain initialized", "provider", cfg.AI.Provider)

	// 5. Start the agent run pool (before the HTTP server)
	pool := runner.New(eng, registry, bus, runner.Options{
		Workers:    cfg.Runner.Workers,
		QueueSize:  cfg.Runner.QueueSize,
		RunTimeout: cfg.Runner.RunTimeout,
	})
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start agent runner", "error", err)
		os.Exit(1)
	}

	// 6. Chat orchestrator, booking flow, WebSocket fan-out
	orch := orchestrator.New(eng, planner, gen, bus)
	book := booking.New(eng, bookingStore, nil)
	conns := events.NewConnectionManager(bus, wsWriteTimeout, wsHeartbeat)

	// 7. Background revision retention sweep
	sweeper := cleanup.NewService(&cfg.Retention, st)
	if sweeper.Enabled() {
		sweeper.Start(ctx)
	}

	// 8. Create HTTP server
	httpServer := api.NewServer(cfg.Server, eng, st, pool, orch, book, conns)

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Wayplan started successfully",
		"workers", cfg.Runner.Workers,
		"store", cfg.Store.Backend)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop taking requests, drain active runs, then
	// tear down fan-out and the bus. The store closes last via defer.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	httpShutdownCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Agent runner stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, abandoning active runs")
	}

	sweeper.Stop()
	conns.CloseAll()
	if err := bus.Close(); err != nil {
		slog.Error("Error closing event bus", "error", err)
	}

	slog.Info("Shutdown complete")
}
