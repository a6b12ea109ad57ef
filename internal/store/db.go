// Package store persists tasks, events, hearings, recurrence rules, timers
// and timesheet entries in SQLite.
//
// The (recorrencia_id, source_date) unique indexes on tasks and events are
// what make occurrence materialization converge on a single row under
// concurrent callers; nothing above this layer takes a lock for it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
)

// execQuerier is satisfied by both *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read/write statement. The same methods run against the
// database directly or inside a transaction (see Store.InTx).
type Queries struct {
	q   execQuerier
	loc *time.Location
	now func() time.Time
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	*Queries
	db   *sql.DB
	path string
}

// Options tunes Open.
type Options struct {
	// Location is the zone in which times are returned. Defaults to time.Local.
	Location *time.Location
	// Now overrides the clock used for created/updated stamps.
	Now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("store: register functions: %w", err)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases coherent. Never issue a query while iterating rows.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	appLog.Debug("store opened", "path", path)
	return &Store{
		Queries: &Queries{q: db, loc: loc, now: now},
		db:      db,
		path:    path,
	}, nil
}

// Location is the zone times are returned in.
func (q *Queries) Location() *time.Location { return q.loc }

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction. fn must only use the Queries it is
// given; the transaction is committed when fn returns nil and rolled back
// otherwise.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return model.Persistence("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{q: tx, loc: s.loc, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.Persistence("commit tx", err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recurrence_rules (
			id TEXT PRIMARY KEY,
			office_id TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			template_id TEXT NOT NULL,
			frequency TEXT NOT NULL,
			interval_n INTEGER NOT NULL DEFAULT 1,
			anchor_date TEXT NOT NULL,
			until_date TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			deactivated_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rules_office_active ON recurrence_rules(office_id, active);`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			office_id TEXT NOT NULL,
			title TEXT NOT NULL,
			subtipo TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT '',
			assignee_name TEXT NOT NULL DEFAULT '',
			case_number TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			data_inicio TEXT NOT NULL,
			prazo_data_limite TEXT,
			completed_at TEXT,
			processo_id TEXT,
			consultivo_id TEXT,
			recorrencia_id TEXT REFERENCES recurrence_rules(id),
			source_date TEXT,
			deleted_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		// NULLs are distinct in SQLite unique indexes, so plain rows never collide.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_tasks_occurrence ON tasks(recorrencia_id, source_date);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_office_start ON tasks(office_id, data_inicio);`,

		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			office_id TEXT NOT NULL,
			title TEXT NOT NULL,
			subtipo TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT '',
			assignee_name TEXT NOT NULL DEFAULT '',
			case_number TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			all_day INTEGER NOT NULL DEFAULT 0,
			data_inicio TEXT NOT NULL,
			data_fim TEXT,
			processo_id TEXT,
			recorrencia_id TEXT REFERENCES recurrence_rules(id),
			source_date TEXT,
			deleted_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_events_occurrence ON events(recorrencia_id, source_date);`,
		`CREATE INDEX IF NOT EXISTS idx_events_office_start ON events(office_id, data_inicio);`,

		`CREATE TABLE IF NOT EXISTS hearings (
			id TEXT PRIMARY KEY,
			office_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			assignee_name TEXT NOT NULL DEFAULT '',
			case_number TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			data_hora TEXT NOT NULL,
			processo_id TEXT,
			external_uid TEXT,
			feed_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_hearings_external ON hearings(office_id, external_uid);`,
		`CREATE INDEX IF NOT EXISTS idx_hearings_office_at ON hearings(office_id, data_hora);`,

		`CREATE TABLE IF NOT EXISTS timers (
			id TEXT PRIMARY KEY,
			office_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			task_id TEXT REFERENCES tasks(id),
			processo_id TEXT,
			consultivo_id TEXT,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			resumed_at TEXT,
			accumulated_ms INTEGER NOT NULL DEFAULT 0,
			ended_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timers_task ON timers(task_id) WHERE ended_at IS NULL;`,

		`CREATE TABLE IF NOT EXISTS timesheet_entries (
			id TEXT PRIMARY KEY,
			office_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			task_id TEXT REFERENCES tasks(id),
			processo_id TEXT,
			consultivo_id TEXT,
			timer_id TEXT UNIQUE REFERENCES timers(id),
			work_date TEXT NOT NULL,
			minutes INTEGER NOT NULL,
			billable INTEGER NOT NULL DEFAULT 1,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timesheet_task ON timesheet_entries(task_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}
