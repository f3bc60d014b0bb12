package evo

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"regevo/internal/genotype"
	"regevo/internal/island"
	"regevo/internal/model"
	"regevo/internal/stats"
)

func testPopulation(t *testing.T, seed int64, size int) []*model.Genome {
	t.Helper()
	constraint := genotype.DefaultConstructConstraint()
	constraint.Subroutines = 1
	pop, err := genotype.ConstructPopulation("run", size, constraint, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return pop.Genomes
}

func testScheduler(t *testing.T, workers int, islands island.Tool) *Scheduler {
	t.Helper()
	cfg := DefaultSchedulerConfig()
	cfg.Seed = 42
	cfg.Workers = workers
	cfg.Islands = islands
	cfg.Mutation.Rate = 0.2
	cfg.Crossover.Rate = 0.8
	s, err := NewScheduler(cfg)
	require.NoError(t, err)
	return s
}

func TestSchedulerConfigValidate(t *testing.T) {
	require.NoError(t, DefaultSchedulerConfig().Validate())

	cfg := DefaultSchedulerConfig()
	cfg.Workers = -1
	cfg.Mutation.Rate = 5
	cfg.Crossover.Blend = -1
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "workers must be >= 0")
	require.Contains(t, err.Error(), "mutation:")
	require.Contains(t, err.Error(), "crossover:")

	_, err = NewScheduler(cfg)
	require.Error(t, err)
}

func TestSchedulerIndependentOfWorkers(t *testing.T) {
	run := func(workers int) []*model.Genome {
		pop := testPopulation(t, 3, 16)
		island.Assign(pop, 4)
		s := testScheduler(t, workers, island.InfoTool{Count: 4})
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Execute(context.Background(), pop))
		}
		return pop
	}
	require.Equal(t, run(1), run(4))
}

func TestSchedulerKeepsPopulationValid(t *testing.T) {
	pop := testPopulation(t, 5, 12)
	island.Assign(pop, 3)
	s := testScheduler(t, 2, island.InfoTool{Count: 3})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Execute(context.Background(), pop))
		for _, g := range pop {
			requireValid(t, g)
		}
	}
	require.Equal(t, 5, s.Generation())
	require.Equal(t, float64(5), s.Counters().Get("generation"))
	require.Positive(t, s.Counters().Sum("mutate.success."))
	for id := 0; id < 3; id++ {
		require.Equal(t, float64(4*5), s.Counters().Get(stats.Key("island", strconv.Itoa(id), "genomes")))
	}
	ratio := s.Counters().Get("dups_ratio")
	require.GreaterOrEqual(t, ratio, 0.0)
	require.LessOrEqual(t, ratio, 1.0)
}

func TestSchedulerSkipsUnsupportedVersion(t *testing.T) {
	pop := testPopulation(t, 7, 6)
	pop[2].SchemaVersion = SupportedSchemaVersion + 1
	want := model.CloneGenome(pop[2])

	s := testScheduler(t, 1, nil)
	require.NoError(t, s.Execute(context.Background(), pop))
	require.Equal(t, want, pop[2])
	require.Equal(t, float64(1), s.Counters().Get("mutate.skip.version"))
	require.Equal(t, float64(5), s.Counters().Get("island.0.genomes"))
}

func TestSchedulerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := testScheduler(t, 1, nil)
	err := s.Execute(ctx, testPopulation(t, 1, 2))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, s.Generation())
}

func TestPartitionSeedDistinct(t *testing.T) {
	seen := map[int64]bool{}
	for id := 0; id < 8; id++ {
		for gen := 0; gen < 8; gen++ {
			s := partitionSeed(1, id, gen)
			require.False(t, seen[s], "island %d generation %d", id, gen)
			seen[s] = true
		}
	}
}

func TestPopulationMonitorRun(t *testing.T) {
	initial := testPopulation(t, 9, 6)
	snapshot := make([]*model.Genome, len(initial))
	for i, g := range initial {
		snapshot[i] = model.CloneGenome(g)
	}

	hooked := 0
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scheduler:   testScheduler(t, 2, nil),
		Generations: 3,
		Validate:    true,
		OnGeneration: func(_ context.Context, generation int, pop []*model.Genome, diag stats.GenerationDiagnostics) error {
			hooked++
			require.Equal(t, generation, diag.Generation)
			require.Len(t, pop, 6)
			return nil
		},
	})
	require.NoError(t, err)

	result, err := monitor.Run(context.Background(), initial)
	require.NoError(t, err)
	require.Equal(t, 3, hooked)
	require.Len(t, result.GenerationDiagnostics, 3)
	require.Len(t, result.FinalPopulation, 6)
	require.Len(t, result.Lineage, 6*4)
	require.Equal(t, snapshot, initial)

	mutations := 0.0
	for i, diag := range result.GenerationDiagnostics {
		require.Equal(t, i+1, diag.Generation)
		require.NotEmpty(t, diag.Counters)
		mutations += diag.Mutations
	}
	require.Positive(t, mutations)

	for _, rec := range result.Lineage[:6] {
		require.Equal(t, "seed", rec.Operation)
		require.Zero(t, rec.Generation)
	}
	for _, rec := range result.Lineage[6:] {
		require.Contains(t, []string{"varied", "unchanged"}, rec.Operation)
		require.NotEmpty(t, rec.Fingerprint)
	}
}

func TestPopulationMonitorHookStopsRun(t *testing.T) {
	stop := errors.New("stop")
	monitor, err := NewPopulationMonitor(MonitorConfig{
		Scheduler:   testScheduler(t, 1, nil),
		Generations: 5,
		OnGeneration: func(_ context.Context, generation int, _ []*model.Genome, _ stats.GenerationDiagnostics) error {
			if generation == 2 {
				return stop
			}
			return nil
		},
	})
	require.NoError(t, err)
	_, err = monitor.Run(context.Background(), testPopulation(t, 1, 4))
	require.ErrorIs(t, err, stop)
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	_, err := NewPopulationMonitor(MonitorConfig{Generations: 1})
	require.ErrorIs(t, err, errNoScheduler)

	_, err = NewPopulationMonitor(MonitorConfig{Scheduler: testScheduler(t, 1, nil)})
	require.Error(t, err)

	monitor, err := NewPopulationMonitor(MonitorConfig{Scheduler: testScheduler(t, 1, nil), Generations: 1})
	require.NoError(t, err)
	_, err = monitor.Run(context.Background(), nil)
	require.Error(t, err)
}
