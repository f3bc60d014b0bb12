package evo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"regevo/internal/analyzer"
	"regevo/internal/genotype"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/stats"
	"regevo/internal/vm"
)

type RunResult struct {
	GenerationDiagnostics []stats.GenerationDiagnostics
	FinalPopulation       []*model.Genome
	Lineage               []LineageRecord
}

type LineageRecord struct {
	GenomeID    string                  `json:"genome_id"`
	Generation  int                     `json:"generation"`
	Operation   string                  `json:"operation"`
	Fingerprint string                  `json:"fingerprint,omitempty"`
	Summary     genotype.ProgramSummary `json:"summary,omitempty"`
}

// GenerationHook observes the population after every pass. Returning an
// error stops the run.
type GenerationHook func(ctx context.Context, generation int, pop []*model.Genome, diag stats.GenerationDiagnostics) error

type MonitorConfig struct {
	Scheduler   *Scheduler
	Generations int
	// Validate re-checks every genome after each pass.
	Validate     bool
	OnGeneration GenerationHook
	Logger       zerolog.Logger
}

// PopulationMonitor drives a scheduler for a fixed number of generations and
// records per-generation diagnostics and lineage.
type PopulationMonitor struct {
	cfg MonitorConfig
	reg *isa.Registry
	lay vm.Layout
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Scheduler == nil {
		return nil, errNoScheduler
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	return &PopulationMonitor{
		cfg: cfg,
		reg: cfg.Scheduler.cfg.Mutation.Registry,
		lay: cfg.Scheduler.cfg.Mutation.Layout,
	}, nil
}

// Run evolves a copy of initial. The caller's genomes are not modified.
func (m *PopulationMonitor) Run(ctx context.Context, initial []*model.Genome) (RunResult, error) {
	if len(initial) == 0 {
		return RunResult{}, fmt.Errorf("initial population is empty")
	}
	pop := make([]*model.Genome, len(initial))
	for i, g := range initial {
		pop[i] = model.CloneGenome(g)
	}

	lineage := make([]LineageRecord, 0, len(pop)*(m.cfg.Generations+1))
	prev := make([]string, len(pop))
	for i, g := range pop {
		sig := ComputeGenomeSignature(g, m.reg)
		prev[i] = sig.Fingerprint
		lineage = append(lineage, LineageRecord{
			GenomeID:    g.ID,
			Generation:  0,
			Operation:   "seed",
			Fingerprint: sig.Fingerprint,
			Summary:     sig.Summary,
		})
	}

	counters := m.cfg.Scheduler.Counters()
	diagnostics := make([]stats.GenerationDiagnostics, 0, m.cfg.Generations)
	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		before := tallies(counters)
		if err := m.cfg.Scheduler.Execute(ctx, pop); err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen+1, err)
		}
		if m.cfg.Validate {
			for _, g := range pop {
				if err := analyzer.Validate(g, m.reg, m.lay); err != nil {
					return RunResult{}, fmt.Errorf("generation %d genome %s: %w", gen+1, g.ID, err)
				}
			}
		}
		after := tallies(counters)
		diag := stats.GenerationDiagnostics{
			Generation: gen + 1,
			DupsRatio:  counters.Get("dups_ratio"),
			Mutations:  after.mutations - before.mutations,
			Crossovers: after.crossovers - before.crossovers,
			Skips:      after.skips - before.skips,
			Counters:   counters.Snapshot(),
		}
		diagnostics = append(diagnostics, diag)

		for i, g := range pop {
			sig := ComputeGenomeSignature(g, m.reg)
			op := "unchanged"
			if sig.Fingerprint != prev[i] {
				op = "varied"
			}
			prev[i] = sig.Fingerprint
			lineage = append(lineage, LineageRecord{
				GenomeID:    g.ID,
				Generation:  gen + 1,
				Operation:   op,
				Fingerprint: sig.Fingerprint,
				Summary:     sig.Summary,
			})
		}
		if m.cfg.OnGeneration != nil {
			if err := m.cfg.OnGeneration(ctx, gen+1, pop, diag); err != nil {
				return RunResult{}, err
			}
		}
	}

	m.cfg.Logger.Info().
		Int("generations", m.cfg.Generations).
		Int("genomes", len(pop)).
		Float64("dups_ratio", counters.Get("dups_ratio")).
		Msg("run complete")
	return RunResult{
		GenerationDiagnostics: diagnostics,
		FinalPopulation:       pop,
		Lineage:               lineage,
	}, nil
}

type counterTally struct {
	mutations  float64
	crossovers float64
	skips      float64
}

func tallies(c *stats.Counters) counterTally {
	return counterTally{
		mutations:  c.Sum("mutate.success."),
		crossovers: c.Get("crossover.success"),
		skips:      c.Sum("mutate.skip."),
	}
}
