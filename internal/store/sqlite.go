// Package store persists coordinator state in SQLite: the module set's
// build-number counter, per-module counters, and the build history that
// feeds incremental scope selection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/logfields"
	"git.home.luguber.info/inful/modset/internal/modname"
	"git.home.luguber.info/inful/modset/internal/scope"
)

// BuildRecord is one finished build. Module is the zero value for an
// aggregate (whole-set) build.
type BuildRecord struct {
	Module      modname.ModuleName
	BuildNumber int
	Result      scope.Result
	StartedAt   time.Time
	Duration    time.Duration
}

// SQLiteStore implements the counter store consumed by the build number
// synchronizer and the result history consumed by the scope selector.
type SQLiteStore struct {
	db      *sql.DB
	setName string
	mu      sync.RWMutex
}

// Open opens (or creates) the store at dbPath. Use ":memory:" for an
// in-memory database.
func Open(dbPath, setName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db, setName: setName}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS set_counters (
		set_name TEXT PRIMARY KEY,
		next_build_number INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS module_counters (
		set_name TEXT NOT NULL,
		module TEXT NOT NULL,
		next_build_number INTEGER NOT NULL,
		PRIMARY KEY (set_name, module)
	);
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		set_name TEXT NOT NULL,
		module TEXT NOT NULL,
		build_number INTEGER NOT NULL,
		result TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_builds_module ON builds(set_name, module, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveNextBuildNumber persists the set-level counter. Satisfies the
// synchronizer's CounterStore.
func (s *SQLiteStore) SaveNextBuildNumber(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO set_counters (set_name, next_build_number) VALUES (?, ?)
		 ON CONFLICT(set_name) DO UPDATE SET next_build_number = excluded.next_build_number`,
		s.setName, n,
	)
	if err != nil {
		return &errors.PersistenceError{Op: "save set counter", Cause: err}
	}
	return nil
}

// LoadNextBuildNumber returns the persisted set counter, or ok=false when
// the set has never been saved.
func (s *SQLiteStore) LoadNextBuildNumber(ctx context.Context) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT next_build_number FROM set_counters WHERE set_name = ?", s.setName).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &errors.PersistenceError{Op: "load set counter", Cause: err}
	}
	return n, true, nil
}

// SaveModuleCounter persists a per-module counter so module build numbers
// survive restarts.
func (s *SQLiteStore) SaveModuleCounter(ctx context.Context, m modname.ModuleName, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO module_counters (set_name, module, next_build_number) VALUES (?, ?, ?)
		 ON CONFLICT(set_name, module) DO UPDATE SET next_build_number = excluded.next_build_number`,
		s.setName, m.String(), n,
	)
	if err != nil {
		return &errors.PersistenceError{Op: "save module counter", Cause: err}
	}
	return nil
}

// LoadModuleCounters returns all persisted per-module counters for the set.
func (s *SQLiteStore) LoadModuleCounters(ctx context.Context) (map[modname.ModuleName]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT module, next_build_number FROM module_counters WHERE set_name = ?", s.setName)
	if err != nil {
		return nil, &errors.PersistenceError{Op: "load module counters", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	counters := make(map[modname.ModuleName]int)
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, &errors.PersistenceError{Op: "scan module counter", Cause: err}
		}
		name, err := modname.Parse(raw)
		if err != nil {
			slog.Warn("Skipping malformed module counter row", logfields.Module(raw))
			continue
		}
		counters[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.PersistenceError{Op: "iterate module counters", Cause: err}
	}
	return counters, nil
}

// RecordBuild appends one finished build to the history.
func (s *SQLiteStore) RecordBuild(ctx context.Context, rec BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	module := ""
	if !rec.Module.IsZero() {
		module = rec.Module.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (set_name, module, build_number, result, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.setName, module, rec.BuildNumber, string(rec.Result),
		rec.StartedAt.Unix(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return &errors.PersistenceError{Op: "record build", Cause: err}
	}
	return nil
}

// LastResult returns the most recent recorded result for a module, or
// ResultNotBuilt when it has never been built. Satisfies scope.History.
func (s *SQLiteStore) LastResult(m modname.ModuleName) scope.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result string
	err := s.db.QueryRow(
		"SELECT result FROM builds WHERE set_name = ? AND module = ? ORDER BY id DESC LIMIT 1",
		s.setName, m.String()).Scan(&result)
	if err == sql.ErrNoRows {
		return scope.ResultNotBuilt
	}
	if err != nil {
		slog.Error("Failed to load last build result", logfields.Module(m.String()), logfields.Error(err))
		return scope.ResultNotBuilt
	}
	return scope.Result(result)
}

// RecentBuilds returns up to limit builds, newest first.
func (s *SQLiteStore) RecentBuilds(ctx context.Context, limit int) ([]BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT module, build_number, result, started_at, duration_ms
		 FROM builds WHERE set_name = ? ORDER BY id DESC LIMIT ?`,
		s.setName, limit)
	if err != nil {
		return nil, &errors.PersistenceError{Op: "load recent builds", Cause: err}
	}
	defer func() { _ = rows.Close() }()

	var records []BuildRecord
	for rows.Next() {
		var raw, result string
		var number int
		var started, durationMS int64
		if err := rows.Scan(&raw, &number, &result, &started, &durationMS); err != nil {
			return nil, &errors.PersistenceError{Op: "scan build record", Cause: err}
		}
		rec := BuildRecord{
			BuildNumber: number,
			Result:      scope.Result(result),
			StartedAt:   time.Unix(started, 0),
			Duration:    time.Duration(durationMS) * time.Millisecond,
		}
		if raw != "" {
			name, err := modname.Parse(raw)
			if err != nil {
				continue
			}
			rec.Module = name
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.PersistenceError{Op: "iterate build records", Cause: err}
	}
	return records, nil
}

// Prune deletes all but the newest keep rows per module so the history
// table does not grow without bound.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 {
		keep = 100
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM builds WHERE set_name = ?1 AND id NOT IN (
			SELECT id FROM builds b WHERE b.set_name = ?1 AND b.module = builds.module
			ORDER BY b.id DESC LIMIT ?2
		)`,
		s.setName, keep)
	if err != nil {
		return &errors.PersistenceError{Op: "prune build history", Cause: err}
	}
	return nil
}
