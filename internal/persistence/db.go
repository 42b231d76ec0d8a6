// Package persistence provides SQLite-based storage for runs, their latest
// world state, the event log and faction configuration.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/worldorder/internal/engine"
	"github.com/talgya/worldorder/internal/world"
)

// DB wraps a SQLite connection. It implements engine.RunStore.
type DB struct {
	conn *sqlx.DB
}

var _ engine.RunStore = (*DB)(nil)

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		tick INTEGER NOT NULL,
		year INTEGER NOT NULL,
		stability_index INTEGER NOT NULL DEFAULT 0,
		state_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS factions (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		country_id TEXT NOT NULL,
		name TEXT NOT NULL,
		leader TEXT NOT NULL,
		persona TEXT NOT NULL,
		goals_json TEXT NOT NULL,
		risk_tolerance REAL NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (run_id, country_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		tick INTEGER NOT NULL,
		year INTEGER NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		event_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type runRow struct {
	ID        string `db:"id"`
	StateJSON string `db:"state_json"`
}

type factionRow struct {
	CountryID     string  `db:"country_id"`
	Name          string  `db:"name"`
	Leader        string  `db:"leader"`
	Persona       string  `db:"persona"`
	GoalsJSON     string  `db:"goals_json"`
	RiskTolerance float64 `db:"risk_tolerance"`
}

type eventRow struct {
	EventJSON string `db:"event_json"`
}

// CreateRun stores a new run with its initial state and faction configuration.
func (db *DB) CreateRun(ctx context.Context, s world.State, factions []world.Faction) error {
	stateJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, name, status, tick, year, stability_index, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Name, s.Status, s.Tick, s.Year, s.Metrics.StabilityIndex, string(stateJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", s.RunID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO factions
		(run_id, country_id, name, leader, persona, goals_json, risk_tolerance, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, f := range factions {
		goalsJSON, _ := json.Marshal(f.Goals)
		_, err := stmt.ExecContext(ctx,
			s.RunID, f.CountryID, f.Name, f.Leader, f.Persona,
			string(goalsJSON), f.RiskTolerance, i,
		)
		if err != nil {
			return fmt.Errorf("insert faction %s: %w", f.CountryID, err)
		}
	}

	return tx.Commit()
}

// LoadState returns the latest state of a run.
func (db *DB) LoadState(ctx context.Context, runID string) (world.State, error) {
	var row runRow
	err := db.conn.GetContext(ctx, &row, "SELECT id, state_json FROM runs WHERE id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return world.State{}, fmt.Errorf("%w: %s", engine.ErrRunNotFound, runID)
	}
	if err != nil {
		return world.State{}, fmt.Errorf("load state %s: %w", runID, err)
	}
	return decodeState(row)
}

func decodeState(row runRow) (world.State, error) {
	var s world.State
	if err := json.Unmarshal([]byte(row.StateJSON), &s); err != nil {
		return world.State{}, fmt.Errorf("decode state %s: %w", row.ID, err)
	}
	for i := range s.Countries {
		if s.Countries[i].Tensions == nil {
			s.Countries[i].Tensions = make(map[string]float64)
		}
	}
	return s, nil
}

// SaveState replaces the stored state of an existing run.
func (db *DB) SaveState(ctx context.Context, s world.State) error {
	stateJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `UPDATE runs
		SET name = ?, status = ?, tick = ?, year = ?, stability_index = ?, state_json = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.Status, s.Tick, s.Year, s.Metrics.StabilityIndex, string(stateJSON),
		time.Now().UTC().Format(time.RFC3339Nano), s.RunID,
	)
	if err != nil {
		return fmt.Errorf("save state %s: %w", s.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", engine.ErrRunNotFound, s.RunID)
	}
	return nil
}

// AppendEvent adds one event to a run's log.
func (db *DB) AppendEvent(ctx context.Context, runID string, e world.Event) error {
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO events (run_id, tick, year, type, description, event_json) VALUES (?, ?, ?, ?, ?, ?)",
		runID, e.Tick, e.Year, e.Type, e.Description, string(eventJSON),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", runID, err)
	}
	return nil
}

// LoadFactions returns a run's faction configuration in creation order.
func (db *DB) LoadFactions(ctx context.Context, runID string) ([]world.Faction, error) {
	var rows []factionRow
	err := db.conn.SelectContext(ctx, &rows, `SELECT country_id, name, leader, persona, goals_json, risk_tolerance
		FROM factions WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("load factions %s: %w", runID, err)
	}

	factions := make([]world.Faction, 0, len(rows))
	for _, r := range rows {
		f := world.Faction{
			CountryID:     r.CountryID,
			Name:          r.Name,
			Leader:        r.Leader,
			Persona:       r.Persona,
			RiskTolerance: r.RiskTolerance,
		}
		if err := json.Unmarshal([]byte(r.GoalsJSON), &f.Goals); err != nil {
			slog.Warn("bad faction goals", "run", runID, "country", r.CountryID, "error", err)
		}
		factions = append(factions, f)
	}
	return factions, nil
}

// ListRuns returns the latest state of every run, oldest first.
func (db *DB) ListRuns(ctx context.Context) ([]world.State, error) {
	var rows []runRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT id, state_json FROM runs ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	states := make([]world.State, 0, len(rows))
	for _, r := range rows {
		s, err := decodeState(r)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

// DeleteRun removes a run and everything stored for it.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM events WHERE run_id = ?",
		"DELETE FROM factions WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			return fmt.Errorf("delete run %s: %w", runID, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", engine.ErrRunNotFound, runID)
	}
	return tx.Commit()
}

// Events returns a run's full event log in append order.
func (db *DB) Events(ctx context.Context, runID string) ([]world.Event, error) {
	var rows []eventRow
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT event_json FROM events WHERE run_id = ? ORDER BY id", runID); err != nil {
		return nil, fmt.Errorf("events %s: %w", runID, err)
	}
	return decodeEvents(rows)
}

// RecentEvents returns the most recent N events of a run, oldest first.
func (db *DB) RecentEvents(ctx context.Context, runID string, limit int) ([]world.Event, error) {
	var rows []eventRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT event_json FROM (
			SELECT id, event_json FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events %s: %w", runID, err)
	}
	return decodeEvents(rows)
}

func decodeEvents(rows []eventRow) ([]world.Event, error) {
	events := make([]world.Event, 0, len(rows))
	for _, r := range rows {
		var e world.Event
		if err := json.Unmarshal([]byte(r.EventJSON), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveMeta stores a key-value pair in process metadata.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}
