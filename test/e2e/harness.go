// Package e2e boots a complete wayplan instance (memory store, real event
// bus, real engine and agent pool, scripted AI) and exercises it through
// the public HTTP and WebSocket surfaces.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/agents"
	"github.com/wayplan/wayplan/pkg/api"
	"github.com/wayplan/wayplan/pkg/booking"
	"github.com/wayplan/wayplan/pkg/config"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/orchestrator"
	"github.com/wayplan/wayplan/pkg/runner"
	"github.com/wayplan/wayplan/pkg/store"
)

// TestApp is a full wayplan instance for e2e testing.
type TestApp struct {
	// Core
	Store  *store.MemoryStore
	Bus    *events.Bus
	Engine *engine.Engine

	// Test wiring
	Generator *ScriptedGenerator

	// Real infrastructure
	Runner       *runner.Runner
	Orchestrator *orchestrator.Orchestrator
	Booking      *booking.Service
	ConnManager  *events.ConnectionManager
	Server       *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/api/v1/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	gen          *ScriptedGenerator
	workers      int
	queueSize    int
	runTimeout   time.Duration
	maxRevisions int
	authRequired bool
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithGenerator sets a pre-scripted AI generator.
func WithGenerator(gen *ScriptedGenerator) TestAppOption {
	return func(c *testAppConfig) { c.gen = gen }
}

// WithWorkers sets the number of agent pool workers.
func WithWorkers(n int) TestAppOption {
	return func(c *testAppConfig) { c.workers = n }
}

// WithQueueSize caps the agent run queue.
func WithQueueSize(n int) TestAppOption {
	return func(c *testAppConfig) { c.queueSize = n }
}

// WithRunTimeout bounds each agent run. Timeout tests shrink this.
func WithRunTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.runTimeout = d }
}

// WithMaxRevisions enables revision pruning in the engine.
func WithMaxRevisions(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxRevisions = n }
}

// WithAuthRequired rejects anonymous requests, as a fronting proxy would.
func WithAuthRequired() TestAppOption {
	return func(c *testAppConfig) { c.authRequired = true }
}

// NewTestApp creates and starts a full wayplan test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		workers:    1,
		queueSize:  8,
		runTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.gen == nil {
		tc.gen = NewScriptedGenerator()
	}

	ctx := context.Background()

	// 1. Store and event bus.
	st := store.NewMemory()
	bus := events.NewBus()

	// 2. Change engine.
	eng := engine.New(st, bus, engine.Options{
		DefaultRespectLocks: true,
		MaxRevisions:        tc.maxRevisions,
	})

	// 3. Agents over the scripted generator.
	planner := agents.NewPlanner(eng, tc.gen)
	registry := agents.NewRegistry(planner, agents.NewEnrichment(eng))

	// 4. Agent run pool.
	pool := runner.New(eng, registry, bus, runner.Options{
		Workers:    tc.workers,
		QueueSize:  tc.queueSize,
		RunTimeout: tc.runTimeout,
	})
	require.NoError(t, pool.Start(ctx))

	// 5. Orchestrator, booking, WebSocket fan-out. Heartbeats stay off so
	// event assertions see only domain traffic.
	orch := orchestrator.New(eng, planner, tc.gen, bus)
	book := booking.New(eng, st, nil)
	conns := events.NewConnectionManager(bus, 5*time.Second, 0)

	// 6. HTTP server on a random port.
	server := api.NewServer(config.ServerConfig{AuthRequired: tc.authRequired},
		eng, st, pool, orch, book, conns)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()

	app := &TestApp{
		Store:        st,
		Bus:          bus,
		Engine:       eng,
		Generator:    tc.gen,
		Runner:       pool,
		Orchestrator: orch,
		Booking:      book,
		ConnManager:  conns,
		Server:       server,
		BaseURL:      fmt.Sprintf("http://%s", addr),
		WSURL:        fmt.Sprintf("ws://%s/api/v1/ws", addr),
		t:            t,
	}

	// Register cleanup in reverse-creation order.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		pool.Stop()
		conns.CloseAll()
		_ = bus.Close()
		_ = st.Close()
	})

	return app
}
