package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/visionflow/visionflow/pkg/graph"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	locks *sessionLocks
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{
		path:  cfg.Path,
		locks: newSessionLocks(),
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Put durably persists a state snapshot. Writes for the same session are
// serialized; distinct sessions write concurrently.
func (s *SQLiteStore) Put(ctx context.Context, sessionID string, stepIndex int, snapshot *graph.State) error {
	lock := s.locks.forSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	query := `
		INSERT INTO checkpoints (session_id, step_index, state, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query, sessionID, stepIndex, string(payload), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("checkpoint (%s, %d): %w", sessionID, stepIndex, ErrDuplicateCheckpoint)
		}
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	return nil
}

// History returns all checkpoints for a session ordered by step index.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	query := `
		SELECT session_id, step_index, state, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY step_index ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := make([]Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}

	return checkpoints, nil
}

// Latest returns the checkpoint with the highest step index for a session.
func (s *SQLiteStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	query := `
		SELECT session_id, step_index, state, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY step_index DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, sessionID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// rowScanner abstracts sql.Row and sql.Rows for checkpoint scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var (
		cp      Checkpoint
		rawJSON string
	)
	if err := row.Scan(&cp.SessionID, &cp.StepIndex, &rawJSON, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	st := &graph.State{}
	if err := json.Unmarshal([]byte(rawJSON), st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state snapshot: %w", err)
	}
	cp.State = st

	return &cp, nil
}

// isUniqueViolation reports whether an error is a SQLite primary key
// constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
