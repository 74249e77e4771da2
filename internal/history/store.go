// Package history records conversions in a SQL database so the server can
// list what it converted and when.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

const (
	// DefaultLimit is used by Recent when no positive limit is given
	DefaultLimit = 20
	// MaxLimit caps Recent
	MaxLimit = 500
)

// ErrNotFound is returned when a conversion ID has no record
var ErrNotFound = errors.New("conversion not found")

// ErrUnsupportedDriver is returned by Open for drivers other than the
// supported ones
var ErrUnsupportedDriver = errors.New("unsupported history driver")

// Status is the outcome of a conversion
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Record is one conversion
type Record struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	Output    string        `json:"output"`
	Format    string        `json:"format"`
	Entities  int           `json:"entities"`
	Injected  int           `json:"injected"`
	CacheHit  bool          `json:"cache_hit"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store persists conversion records
type Store struct {
	db     *sql.DB
	driver string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversions (
	id VARCHAR(36) PRIMARY KEY,
	source TEXT NOT NULL,
	output TEXT NOT NULL,
	format VARCHAR(8) NOT NULL DEFAULT '',
	entities INTEGER NOT NULL DEFAULT 0,
	injected INTEGER NOT NULL DEFAULT 0,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	status VARCHAR(16) NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at)`,
}

// Open connects to the history database. For sqlite3 the DSN's directory
// is created when missing.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	case DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	return New(db, driver), nil
}

// New wraps an open database
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Driver returns the database/sql driver name
func (s *Store) Driver() string {
	return s.driver
}

// Migrate creates the conversions table and its index if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize conversions table: %w", err)
		}
	}
	return nil
}

// Record stores a conversion. A missing ID or timestamp is filled in and
// written back to rec.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusOK
	}

	query := `
INSERT INTO conversions (id, source, output, format, entities, injected, cache_hit, status, error, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Source, rec.Output, rec.Format, rec.Entities, rec.Injected,
		rec.CacheHit, string(rec.Status), rec.Error, rec.Duration.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, source, output, format, entities, injected, cache_hit, status, error, duration_ms, created_at
FROM conversions`

// Recent returns up to limit conversions, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+`
ORDER BY created_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversions: %w", err)
	}

	return records, nil
}

// Get returns one conversion by ID
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+"\nWHERE id = $1", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var status string
	var durationMS int64
	err := row.Scan(&rec.ID, &rec.Source, &rec.Output, &rec.Format, &rec.Entities, &rec.Injected,
		&rec.CacheHit, &status, &rec.Error, &durationMS, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan conversion: %w", err)
	}
	rec.Status = Status(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	return nil
}
