package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"regevo/internal/codeproc"
	"regevo/internal/island"
	"regevo/internal/model"
	"regevo/internal/stats"
)

type SchedulerConfig struct {
	Mutation  MutatorConfig
	Crossover CrossoverConfig
	Seed      int64
	// Workers bounds how many island partitions run at once.
	Workers  int
	Islands  island.Tool
	Logger   zerolog.Logger
	Counters *stats.Counters
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Mutation:  DefaultMutatorConfig(),
		Crossover: DefaultCrossoverConfig(),
		Seed:      1,
		Workers:   1,
		Islands:   island.SingleTool{},
		Logger:    zerolog.Nop(),
	}
}

func (c SchedulerConfig) Validate() error {
	var result *multierror.Error
	if err := c.Mutation.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("mutation: %w", err))
	}
	if err := c.Crossover.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("crossover: %w", err))
	}
	if c.Workers < 0 {
		result = multierror.Append(result, fmt.Errorf("workers must be >= 0: %d", c.Workers))
	}
	return result.ErrorOrNil()
}

// Scheduler runs one mutation and crossover pass per generation over a
// population split into islands. Each partition draws from its own random
// stream, so results do not depend on Workers.
type Scheduler struct {
	cfg      SchedulerConfig
	counters *stats.Counters
	log      zerolog.Logger

	mu  sync.Mutex
	gen int
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Islands == nil {
		cfg.Islands = island.SingleTool{}
	}
	if cfg.Counters == nil {
		cfg.Counters = stats.NewCounters()
	}
	cfg.Mutation.Counters = cfg.Counters
	cfg.Crossover.Counters = cfg.Counters
	cfg.Mutation.Logger = cfg.Logger
	cfg.Crossover.Logger = cfg.Logger
	return &Scheduler{cfg: cfg, counters: cfg.Counters, log: cfg.Logger}, nil
}

func (s *Scheduler) Counters() *stats.Counters {
	return s.counters
}

// Generation is the number of completed passes.
func (s *Scheduler) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Execute mutates and crosses pop in place. Genomes with an unsupported
// schema or codec version are left alone.
func (s *Scheduler) Execute(ctx context.Context, pop []*model.Genome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	islands := s.cfg.Islands.PrepareIslandMap(pop)
	ids := island.IDs(islands)
	p := pool.New().WithErrors().WithMaxGoroutines(s.cfg.Workers)
	for _, id := range ids {
		id, members := id, islands[id]
		p.Go(func() error {
			return s.runPartition(ctx, pop, id, members, gen)
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	dups := codeproc.CalcDupsRatio(pop, s.cfg.Mutation.Registry)
	s.counters.Set("dups_ratio", dups)
	s.counters.Set("generation", float64(gen+1))
	s.mu.Lock()
	s.gen = gen + 1
	s.mu.Unlock()

	s.log.Info().
		Int("generation", gen+1).
		Int("genomes", len(pop)).
		Int("islands", len(ids)).
		Float64("dups_ratio", dups).
		Msg("generation complete")
	return nil
}

func (s *Scheduler) runPartition(ctx context.Context, pop []*model.Genome, id int, members []int, gen int) error {
	rng := rand.New(rand.NewSource(partitionSeed(s.cfg.Seed, id, gen)))
	mut, err := NewMutator(s.cfg.Mutation, rng)
	if err != nil {
		return err
	}
	cross, err := NewCrossover(s.cfg.Crossover, rng)
	if err != nil {
		return err
	}
	prefix := stats.Key("island", strconv.Itoa(id))

	eligible := make([]*model.Genome, 0, len(members))
	for _, i := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i < 0 || i >= len(pop) || pop[i] == nil {
			continue
		}
		g := pop[i]
		if err := CheckVersion(g); err != nil {
			s.counters.Inc(stats.Key("mutate", "skip", "version"))
			s.log.Debug().Str("genome", g.ID).Err(err).Msg("genome skipped")
			continue
		}
		mut.MutateGenome(g)
		eligible = append(eligible, g)
	}
	s.counters.Add(stats.Key(prefix, "genomes"), float64(len(eligible)))

	order := rng.Perm(len(eligible))
	for k := 0; k+1 < len(order); k += 2 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cross.Cross(eligible[order[k]], eligible[order[k+1]]) {
			s.counters.Inc(stats.Key(prefix, "crossovers"))
		}
	}
	return nil
}

// partitionSeed derives an independent stream per island and generation.
func partitionSeed(seed int64, id, gen int) int64 {
	x := uint64(seed)
	x ^= uint64(id+1) * 0x9E3779B97F4A7C15
	x ^= uint64(gen+1) * 0xC2B2AE3D27D4EB4F
	return int64(x)
}

var errNoScheduler = errors.New("scheduler is required")
