package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
	"github.com/wayplan/wayplan/pkg/itinerary"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore backs the store with PostgreSQL. Documents and revisions are
// stored as JSONB alongside the columns the queries filter on. Migrations
// are embedded and applied on startup.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a pooled connection, verifies it, and applies pending
// migrations.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	return NewPostgresFromDSN(ctx, dsn, cfg)
}

// NewPostgresFromDSN is the test seam: integration tests hand in a container
// DSN directly.
func NewPostgresFromDSN(ctx context.Context, dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// runMigrations applies embedded SQL migrations with golang-migrate.
func runMigrations(db *sql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB we keep using.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM itineraries WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	it := &itinerary.Itinerary{}
	if err := json.Unmarshal(doc, it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal itinerary %s: %w", id, err)
	}
	return it, nil
}

func (s *PostgresStore) Save(ctx context.Context, it *itinerary.Itinerary) error {
	return s.saveTx(ctx, s.db, it)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) saveTx(ctx context.Context, db execer, it *itinerary.Itinerary) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal itinerary: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO itineraries (id, owner_id, version, status, summary, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			summary = EXCLUDED.summary,
			updated_at = EXCLUDED.updated_at,
			doc = EXCLUDED.doc`,
		it.ID, it.OwnerID, it.Version, string(it.Status), it.Summary, it.UpdatedAt, doc)
	return err
}

func (s *PostgresStore) appendRevisionTx(ctx context.Context, db execer, rev *itinerary.Revision) error {
	var diff []byte
	if rev.Diff != nil {
		var err error
		if diff, err = json.Marshal(rev.Diff); err != nil {
			return fmt.Errorf("failed to marshal diff: %w", err)
		}
	}
	snapshot, err := json.Marshal(rev.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO revisions (itinerary_id, version, ts, author, description, diff, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rev.ItineraryID, rev.Version, rev.Timestamp, string(rev.Author), rev.Description, nullable(diff), snapshot)
	return err
}

// nullable maps an empty JSON payload to SQL NULL.
func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *PostgresStore) SaveWithRevision(ctx context.Context, it *itinerary.Itinerary, rev *itinerary.Revision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveTx(ctx, tx, it); err != nil {
		return err
	}
	if err := s.appendRevisionTx(ctx, tx, rev); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) AppendRevision(ctx context.Context, rev *itinerary.Revision) error {
	return s.appendRevisionTx(ctx, s.db, rev)
}

func (s *PostgresStore) ListRevisions(ctx context.Context, id string) ([]*itinerary.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT itinerary_id, version, ts, author, description, diff, snapshot
		FROM revisions WHERE itinerary_id = $1 ORDER BY version ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*itinerary.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRevision(ctx context.Context, id string, version int) (*itinerary.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT itinerary_id, version, ts, author, description, diff, snapshot
		FROM revisions WHERE itinerary_id = $1 AND version = $2`, id, version)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRevisionNotFound
	}
	return rev, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(row rowScanner) (*itinerary.Revision, error) {
	var (
		rev      itinerary.Revision
		author   string
		diff     []byte
		snapshot []byte
	)
	if err := row.Scan(&rev.ItineraryID, &rev.Version, &rev.Timestamp, &author, &rev.Description, &diff, &snapshot); err != nil {
		return nil, err
	}
	rev.Author = itinerary.Actor(author)
	if len(diff) > 0 {
		rev.Diff = &itinerary.Diff{}
		if err := json.Unmarshal(diff, rev.Diff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal diff: %w", err)
		}
	}
	if len(snapshot) > 0 {
		rev.Snapshot = &itinerary.Itinerary{}
		if err := json.Unmarshal(snapshot, rev.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}
	return &rev, nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]itinerary.Summary, error) {
	query := `SELECT doc FROM itineraries ORDER BY updated_at DESC`
	args := []any{}
	if ownerID != "" {
		query = `SELECT doc FROM itineraries WHERE owner_id = $1 ORDER BY updated_at DESC`
		args = append(args, ownerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []itinerary.Summary{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var it itinerary.Itinerary
		if err := json.Unmarshal(doc, &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal itinerary: %w", err)
		}
		out = append(out, it.Summarize())
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM itineraries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE itinerary_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) PruneRevisions(ctx context.Context, id string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM revisions
		WHERE itinerary_id = $1 AND version NOT IN (
			SELECT version FROM revisions WHERE itinerary_id = $1
			ORDER BY version DESC LIMIT $2
		)`, id, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) SaveBooking(ctx context.Context, rec *BookingRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal booking: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bookings (booking_ref, itinerary_id, node_id, status, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_ref) DO UPDATE SET
			itinerary_id = EXCLUDED.itinerary_id,
			node_id = EXCLUDED.node_id,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			payload = EXCLUDED.payload`,
		rec.Ref, rec.ItineraryID, rec.NodeID, rec.Status, rec.CreatedAt, payload)
	return err
}

func (s *PostgresStore) GetBooking(ctx context.Context, ref string) (*BookingRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM bookings WHERE booking_ref = $1`, ref).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := &BookingRecord{}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking %s: %w", ref, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListBookings(ctx context.Context, itineraryID string) ([]*BookingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM bookings
		WHERE itinerary_id = $1
		ORDER BY created_at ASC, booking_ref ASC`, itineraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BookingRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec := &BookingRecord{}
		if err := json.Unmarshal(payload, rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
