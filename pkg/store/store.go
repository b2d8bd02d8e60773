// Package store persists itinerary documents, their append-only revision
// history, and booking records. Three backends share the contracts: an
// in-memory map for tests, an embedded bbolt database, and PostgreSQL for
// multi-instance deployments. The store guarantees atomicity of
// SaveWithRevision; serialization of writers is the change engine's job.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

var (
	// ErrNotFound is returned when no itinerary exists for an id.
	ErrNotFound = errors.New("itinerary not found")
	// ErrRevisionNotFound is returned when a version has no stored revision.
	ErrRevisionNotFound = errors.New("revision not found")
)

// Store is the persistence contract for itineraries and revisions.
// Implementations return detached documents; mutating a returned value never
// changes stored state until it is saved back.
type Store interface {
	// Get loads the current document for an id.
	Get(ctx context.Context, id string) (*itinerary.Itinerary, error)

	// Save upserts the current document.
	Save(ctx context.Context, it *itinerary.Itinerary) error

	// SaveWithRevision atomically saves the document and appends the
	// revision that produced it. Either both land or neither does.
	SaveWithRevision(ctx context.Context, it *itinerary.Itinerary, rev *itinerary.Revision) error

	// AppendRevision appends one revision without touching the document.
	AppendRevision(ctx context.Context, rev *itinerary.Revision) error

	// ListRevisions returns all revisions for an id in ascending version
	// order.
	ListRevisions(ctx context.Context, id string) ([]*itinerary.Revision, error)

	// GetRevision returns the revision that produced the given version.
	GetRevision(ctx context.Context, id string, version int) (*itinerary.Revision, error)

	// List returns summaries, filtered to one owner when ownerID is set.
	List(ctx context.Context, ownerID string) ([]itinerary.Summary, error)

	// Delete removes the document and its revisions.
	Delete(ctx context.Context, id string) error

	// PruneRevisions drops the oldest revisions beyond keep and reports how
	// many were removed. keep <= 0 disables pruning.
	PruneRevisions(ctx context.Context, id string, keep int) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Backend names accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend  string
	Path     string // bolt database file
	Postgres PostgresConfig
}

// PostgresConfig holds connection and pool settings for the postgres
// backend.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// New builds the configured backend. An empty backend yields the in-memory
// store, which keeps tests and local experiments dependency free.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendBolt:
		return NewBolt(cfg.Path)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
