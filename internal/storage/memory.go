package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"regevo/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunSummary
	populations map[string]model.Population
	counters    map[string][]model.CounterRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunSummary)
	s.populations = make(map[string]model.Population)
	s.counters = make(map[string][]model.CounterRow)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	runs := make([]model.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

// SavePopulation stores a deep copy so later mutation of the caller's
// genomes does not leak into the snapshot.
func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.populations[population.ID] = clonePopulation(population)
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Population{}, false, errNotInitialized
	}
	population, ok := s.populations[id]
	if !ok {
		return model.Population{}, false, nil
	}
	return clonePopulation(population), true, nil
}

func (s *MemoryStore) SaveCounters(_ context.Context, runID string, rows []model.CounterRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.counters[runID] = append([]model.CounterRow(nil), rows...)
	return nil
}

func (s *MemoryStore) GetCounters(_ context.Context, runID string) ([]model.CounterRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	rows, ok := s.counters[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.CounterRow(nil), rows...), true, nil
}

func clonePopulation(p model.Population) model.Population {
	out := p
	out.Genomes = make([]*model.Genome, len(p.Genomes))
	for i, g := range p.Genomes {
		out.Genomes[i] = model.CloneGenome(g)
	}
	return out
}
