// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history keeps a ledger of finished conversions in SQLite. Only
// metadata is stored; converted bytes stay with the caller.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/convert-engine/internal/queue"
	"github.com/pdiddy/convert-engine/pkg/types"
)

const defaultListLimit = 100

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one finished conversion.
type Entry struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Target      types.Format  `json:"target" yaml:"target"`
	SourceMIME  string        `json:"source_mime" yaml:"source_mime"`
	SourceBytes int64         `json:"source_bytes" yaml:"source_bytes"`
	State       types.State   `json:"status" yaml:"status"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	ResultBytes int64         `json:"result_bytes" yaml:"result_bytes"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
	FinishedAt  time.Time     `json:"finished_at" yaml:"finished_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// QueryOptions filters List and the exports.
type QueryOptions struct {
	// State keeps only entries in this state when set.
	State types.State
	// Target keeps only entries converted to this format when set.
	Target types.Format
	// Limit caps the number of entries; zero means the default.
	Limit int
}

// Summary aggregates the ledger.
type Summary struct {
	Completed   int
	Failed      int
	SourceBytes int64
	ResultBytes int64
}

// Total returns the number of recorded conversions.
func (s Summary) Total() int {
	return s.Completed + s.Failed
}

// Store manages the ledger database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the ledger at cfg.DBPath. An empty path keeps
// the ledger in memory.
func NewStore(cfg types.HistoryConfig) (*Store, error) {
	dsn := ":memory:"
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		dsn = cfg.DBPath + "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			target TEXT NOT NULL,
			source_mime TEXT,
			source_bytes INTEGER,
			state TEXT NOT NULL,
			error TEXT,
			result_bytes INTEGER,
			created_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_state ON conversions(state)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_finished ON conversions(finished_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores a terminal queue record. Recording the same ID again
// replaces the earlier entry.
func (s *Store) Record(ctx context.Context, rec queue.Record) error {
	if !rec.State.Terminal() {
		return fmt.Errorf("recording %s: state %q is not terminal", rec.ID, rec.State)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions (id, name, target, source_mime, source_bytes, state, error, result_bytes, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, target=excluded.target, source_mime=excluded.source_mime,
			source_bytes=excluded.source_bytes, state=excluded.state, error=excluded.error,
			result_bytes=excluded.result_bytes, created_at=excluded.created_at,
			finished_at=excluded.finished_at`,
		rec.ID, rec.Name, string(rec.Target), rec.SourceMIME, rec.SourceBytes,
		string(rec.State), rec.Error, rec.ResultBytes(),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.ID, err)
	}
	return nil
}

// List returns entries matching opts, most recent first.
func (s *Store) List(ctx context.Context, opts QueryOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(opts.State))
	}
	if opts.Target != "" {
		where = append(where, "target = ?")
		args = append(args, string(opts.Target))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, name, target, source_mime, source_bytes, state, error, result_bytes, created_at, finished_at
		FROM conversions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			target, state      string
			mime, errText      sql.NullString
			srcBytes, resBytes sql.NullInt64
			created, finished  string
		)
		if err := rows.Scan(&e.ID, &e.Name, &target, &mime, &srcBytes, &state, &errText, &resBytes, &created, &finished); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Target = types.Format(target)
		e.State = types.State(state)
		e.SourceMIME = mime.String
		e.Error = errText.String
		e.SourceBytes = srcBytes.Int64
		e.ResultBytes = resBytes.Int64
		e.CreatedAt = parseTime(created)
		e.FinishedAt = parseTime(finished)
		if !e.CreatedAt.IsZero() && !e.FinishedAt.IsZero() {
			e.Duration = e.FinishedAt.Sub(e.CreatedAt)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary counts recorded outcomes and bytes.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(source_bytes), 0),
			COALESCE(SUM(result_bytes), 0)
		 FROM conversions`,
		string(types.StateCompleted), string(types.StateError),
	).Scan(&sum.Completed, &sum.Failed, &sum.SourceBytes, &sum.ResultBytes)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing history: %w", err)
	}
	return sum, nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversions`); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
