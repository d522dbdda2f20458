// Package sqlstore is a single-node ledger backed by SQLite.
//
// It implements the same contract as the Redis ledger client so a bingo
// deployment without Redis still gets durable, sticky assignments.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/bingo/pkg/ledger"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("store is closed")

var _ ledger.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	name TEXT PRIMARY KEY,
	definition TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
	identity TEXT NOT NULL,
	experiment TEXT NOT NULL,
	alternative TEXT NOT NULL,
	assigned_at_ms INTEGER NOT NULL,
	PRIMARY KEY (identity, experiment)
);
CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment);
CREATE TABLE IF NOT EXISTS conversion_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	identity TEXT NOT NULL,
	experiment TEXT NOT NULL,
	alternative TEXT NOT NULL,
	conversion TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversion_events_experiment ON conversion_events(experiment, seq);
`

// Store persists experiments, assignments and conversion events to SQLite.
// It is suitable for single-process production use.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open creates or opens a SQLite ledger at path.
// The path should be a file path (e.g., "./bingo.db").
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection turns writer
	// contention into queueing instead of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// CreateExperiment stores a new experiment.
// Returns ledger.ErrExperimentExists if the name is taken.
func (s *Store) CreateExperiment(ctx context.Context, e *ledger.Experiment) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid experiment: %w", err)
	}

	definition, err := ledger.ExperimentToJSON(e)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO experiments (name, definition, status, created_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, e.Name, definition, string(e.Status), e.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrExperimentExists, e.Name)
	}
	return nil
}

// GetExperiment retrieves an experiment by name.
func (s *Store) GetExperiment(ctx context.Context, name string) (*ledger.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var definition, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT definition, status FROM experiments WHERE name = ?
	`, name).Scan(&definition, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %q: %w", name, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}

	return ledger.JSONToExperiment(definition, status)
}

// ListExperiments returns every experiment sorted by name.
func (s *Store) ListExperiments(ctx context.Context) ([]*ledger.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT definition, status FROM experiments ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*ledger.Experiment
	for rows.Next() {
		var definition, status string
		if err := rows.Scan(&definition, &status); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		exp, err := ledger.JSONToExperiment(definition, status)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, exp)
	}
	return experiments, rows.Err()
}

// SetStatus changes an experiment's status. Retired is terminal.
func (s *Store) SetStatus(ctx context.Context, name string, status ledger.Status) error {
	if err := status.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM experiments WHERE name = ?`, name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("experiment %q: %w", name, ledger.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}

	if ledger.Status(current) == ledger.StatusRetired && status != ledger.StatusRetired {
		return fmt.Errorf("%w: %s is retired", ledger.ErrInvalidTransition, name)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE experiments SET status = ? WHERE name = ?`, string(status), name); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

// Assign commits alternative for (identity, experiment) unless one exists.
// Returns the winning alternative and whether this call committed it.
// New assignments are only written while the experiment is live.
func (s *Store) Assign(ctx context.Context, identity, experiment, alternative string) (string, bool, error) {
	if identity == "" || experiment == "" || alternative == "" {
		return "", false, fmt.Errorf("identity, experiment and alternative are required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO assignments (identity, experiment, alternative, assigned_at_ms)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM experiments WHERE name = ? AND status = ?)
		ON CONFLICT(identity, experiment) DO NOTHING
	`, identity, experiment, alternative, time.Now().UnixMilli(), experiment, string(ledger.StatusLive))
	if err != nil {
		return "", false, fmt.Errorf("insert assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert assignment: %w", err)
	}

	var winner string
	err = tx.QueryRowContext(ctx, `
		SELECT alternative FROM assignments WHERE identity = ? AND experiment = ?
	`, identity, experiment).Scan(&winner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, liveError(ctx, tx, experiment)
	}
	if err != nil {
		return "", false, fmt.Errorf("load assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit assignment: %w", err)
	}
	return winner, n == 1, nil
}

// liveError explains why a write guarded on a live experiment did nothing.
func liveError(ctx context.Context, tx *sql.Tx, experiment string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM experiments WHERE name = ?`, experiment).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("experiment %q: %w", experiment, ledger.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}
	return fmt.Errorf("experiment %q: %w", experiment, ledger.ErrNotLive)
}

// LookupAssignment returns the identity's alternative without creating one.
func (s *Store) LookupAssignment(ctx context.Context, identity, experiment string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT alternative FROM assignments WHERE identity = ? AND experiment = ?
	`, identity, experiment).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("assignment %s/%s: %w", identity, experiment, ledger.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load assignment: %w", err)
	}
	return value, nil
}

// RecordConversion appends a conversion event while the experiment is live.
func (s *Store) RecordConversion(ctx context.Context, ev *ledger.ConversionEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid conversion event: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversion_events (id, identity, experiment, alternative, conversion, timestamp_ms)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM experiments WHERE name = ? AND status = ?)
	`, ev.ID, ev.Identity, ev.Experiment, ev.Alternative, ev.Conversion, ev.TimestampMs,
		ev.Experiment, string(ledger.StatusLive))
	if err != nil {
		return fmt.Errorf("insert conversion event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert conversion event: %w", err)
	}
	if n == 0 {
		return liveError(ctx, tx, ev.Experiment)
	}
	return tx.Commit()
}

// ConversionEvents returns up to limit events for an experiment, oldest first.
// A limit <= 0 returns all events.
func (s *Store) ConversionEvents(ctx context.Context, experiment string, limit int64) ([]*ledger.ConversionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, identity, experiment, alternative, conversion, timestamp_ms
		FROM conversion_events WHERE experiment = ? ORDER BY seq`
	args := []any{experiment}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversion events: %w", err)
	}
	defer rows.Close()

	var events []*ledger.ConversionEvent
	for rows.Next() {
		var ev ledger.ConversionEvent
		if err := rows.Scan(&ev.ID, &ev.Identity, &ev.Experiment, &ev.Alternative, &ev.Conversion, &ev.TimestampMs); err != nil {
			return nil, fmt.Errorf("scan conversion event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Stats returns participant and conversion counts per alternative.
func (s *Store) Stats(ctx context.Context, name string) (*ledger.Stats, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}

	participants, err := s.countBy(ctx, "assignments", name)
	if err != nil {
		return nil, err
	}
	conversions, err := s.countBy(ctx, "conversion_events", name)
	if err != nil {
		return nil, err
	}

	return ledger.BuildStats(exp, participants, conversions), nil
}

func (s *Store) countBy(ctx context.Context, table, experiment string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	// table is one of two constants above, never caller input.
	query := strings.Replace(`
		SELECT alternative, COUNT(*) FROM TABLE WHERE experiment = ? GROUP BY alternative
	`, "TABLE", table, 1)

	rows, err := s.db.QueryContext(ctx, query, experiment)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var alt string
		var n int64
		if err := rows.Scan(&alt, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", table, err)
		}
		counts[alt] = n
	}
	return counts, rows.Err()
}
