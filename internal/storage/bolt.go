package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"regevo/internal/model"
)

var (
	bucketRuns        = []byte("runs")
	bucketPopulations = []byte("populations")
	bucketCounters    = []byte("counters")
)

// BoltStore keeps every record kind in its own bucket of a single bbolt file.
type BoltStore struct {
	path string

	mu sync.RWMutex
	db *bolt.DB
}

func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path}
}

func (s *BoltStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("bolt path is required")
	}
	if s.db != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketPopulations, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *BoltStore) SaveRun(ctx context.Context, run model.RunSummary) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(ctx, bucketRuns, run.RunID, payload)
}

func (s *BoltStore) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	var runs []model.RunSummary
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			run, err := DecodeRun(v)
			if err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) SavePopulation(ctx context.Context, population model.Population) error {
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}
	return s.put(ctx, bucketPopulations, population.ID, payload)
}

func (s *BoltStore) GetPopulation(ctx context.Context, id string) (model.Population, bool, error) {
	payload, ok, err := s.get(ctx, bucketPopulations, id)
	if err != nil || !ok {
		return model.Population{}, ok, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.Population{}, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	return population, true, nil
}

func (s *BoltStore) SaveCounters(ctx context.Context, runID string, rows []model.CounterRow) error {
	payload, err := EncodeCounters(rows)
	if err != nil {
		return err
	}
	return s.put(ctx, bucketCounters, runID, payload)
}

func (s *BoltStore) GetCounters(ctx context.Context, runID string) ([]model.CounterRow, bool, error) {
	payload, ok, err := s.get(ctx, bucketCounters, runID)
	if err != nil || !ok {
		return nil, ok, err
	}
	rows, err := DecodeCounters(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode counters %s: %w", runID, err)
	}
	return rows, true, nil
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BoltStore) put(ctx context.Context, bucket []byte, key string, payload []byte) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), payload)
	})
}

// get copies the value out because bbolt memory is only valid inside the
// transaction.
func (s *BoltStore) get(ctx context.Context, bucket []byte, key string) ([]byte, bool, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return payload, payload != nil, nil
}

func (s *BoltStore) getDB(ctx context.Context) (*bolt.DB, error) {
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
