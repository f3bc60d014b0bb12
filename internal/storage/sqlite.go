//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"regevo/internal/model"

	_ "modernc.org/sqlite"
)

// Record kinds share one table keyed by (kind, key), mirroring the bucket
// split of the bolt backend.
const (
	recordRun        = "run"
	recordPopulation = "population"
	recordCounters   = "counters"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	run_id     TEXT    NOT NULL,
	generation INTEGER NOT NULL DEFAULT 0,
	payload    BLOB    NOT NULL,
	PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS records_by_run ON records (run_id, kind);
`

// SQLiteStore keeps CBOR payloads in a single sqlite table. Run id and
// generation are lifted into columns so snapshots can be found per run.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, recordsSchema); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run model.RunSummary) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(ctx, recordRun, run.RunID, run.RunID, 0, payload)
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key, payload FROM records WHERE kind = ? ORDER BY key`, recordRun)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", key, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SavePopulation(ctx context.Context, population model.Population) error {
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}
	return s.put(ctx, recordPopulation, population.ID, population.RunID, population.Generation, payload)
}

func (s *SQLiteStore) GetPopulation(ctx context.Context, id string) (model.Population, bool, error) {
	payload, ok, err := s.get(ctx, recordPopulation, id)
	if err != nil || !ok {
		return model.Population{}, ok, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.Population{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *SQLiteStore) SaveCounters(ctx context.Context, runID string, rows []model.CounterRow) error {
	payload, err := EncodeCounters(rows)
	if err != nil {
		return err
	}
	return s.put(ctx, recordCounters, runID, runID, 0, payload)
}

func (s *SQLiteStore) GetCounters(ctx context.Context, runID string) ([]model.CounterRow, bool, error) {
	payload, ok, err := s.get(ctx, recordCounters, runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	rows, err := DecodeCounters(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode counters %s: %w", runID, err)
	}
	return rows, true, nil
}

// Generations lists the persisted snapshot generations of a run in order.
func (s *SQLiteStore) Generations(ctx context.Context, runID string) ([]int, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT generation FROM records WHERE kind = ? AND run_id = ? ORDER BY generation`,
		recordPopulation, runID)
	if err != nil {
		return nil, fmt.Errorf("list generations of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var g int
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) put(ctx context.Context, kind, key, runID string, generation int, payload []byte) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO records (kind, key, run_id, generation, payload) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, key) DO UPDATE SET run_id = excluded.run_id, generation = excluded.generation, payload = excluded.payload`,
		kind, key, runID, generation, payload)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, key, err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, kind, key string) ([]byte, bool, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM records WHERE kind = ? AND key = ?`, kind, key).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("get %s %s: %w", kind, key, err)
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB(ctx context.Context) (*sql.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}
