package regevo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"regevo/internal/analyzer"
	"regevo/internal/evo"
	"regevo/internal/genotype"
	"regevo/internal/isa"
	"regevo/internal/island"
	"regevo/internal/model"
	"regevo/internal/stats"
	"regevo/internal/storage"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "regevo.db"
)

type Options struct {
	StoreKind string
	DBPath    string
	// BenchmarksDir receives per-run artifact directories and the run index.
	// Set NoArtifacts to skip writing them.
	BenchmarksDir string
	ExportsDir    string
	NoArtifacts   bool
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

type Client struct {
	store storage.Store
	log   zerolog.Logger

	benchmarksDir string
	exportsDir    string
	noArtifacts   bool
}

type RunRequest struct {
	RunID       string
	Population  int
	Generations int
	Seed        int64
	Workers     int
	Islands     int
	// Inputs is the number of double inputs of the main block.
	Inputs      int
	Subroutines int
	MinInstrs   int
	MaxInstrs   int

	MutationRate         float64
	CrossoverRate        float64
	CrossoverMaxDiff     float64
	DisableMacros        bool
	DisableMacroDeletion bool
	// SnapshotEvery persists the population every N generations. The first
	// and final generations are always persisted.
	SnapshotEvery int

	// PoolWeights and KindWeights form the fixed probability table consulted
	// when a genome carries no evolved weight. Pool weights also seed the
	// evolved pool weights of the initial population.
	PoolWeights map[string]float64
	KindWeights map[string]float64
	// Area scales mutation weight per cell role. Nil keeps the defaults.
	Area *AreaFactors
	// ValueStepExp seeds the evolved value step exponent. Zero keeps 4.
	ValueStepExp float64
	// ChangeCenter seeds the evolved change center. Nil keeps 0.5.
	ChangeCenter *float64
	// ChangeSpread skews mutation points around the change center. Zero
	// disables the skew.
	ChangeSpread float64
}

// AreaFactors scale the mutation weight of each cell role.
type AreaFactors = analyzer.AreaFactors

func DefaultAreaFactors() AreaFactors {
	return analyzer.DefaultAreaFactors()
}

type RunResult struct {
	RunID          string
	ArtifactsDir   string
	Diagnostics    []stats.GenerationDiagnostics
	FinalDupsRatio float64
	Fingerprints   []string
	Counters       []model.CounterRow
	Snapshots      []string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	CreatedAtUTC   string
	Seed           int64
	Population     int
	Generations    int
	Workers        int
	FinalDupsRatio float64
}

type InspectRequest struct {
	RunID string
	// Latest picks the most recent indexed run when RunID is empty.
	Latest     bool
	Generation int
	// Genome limits the listing to one population index. Negative lists all.
	Genome int
}

type InspectResult struct {
	PopulationID string
	Generation   int
	Genomes      []GenomeView
}

type GenomeView struct {
	ID          string
	Island      int
	Fingerprint string
	Summary     genotype.ProgramSummary
	Listing     string
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		log:           log,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
		noArtifacts:   opts.NoArtifacts,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Run evolves one freshly constructed population in memory, without
// artifacts. Use a Client to persist runs.
func Run(ctx context.Context, req RunRequest) (RunResult, error) {
	client, err := New(Options{NoArtifacts: true})
	if err != nil {
		return RunResult{}, err
	}
	defer client.Close()
	return client.Run(ctx, req)
}

func applyRunDefaults(req *RunRequest) {
	if req.Population <= 0 {
		req.Population = 32
	}
	if req.Generations <= 0 {
		req.Generations = 10
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.Islands <= 0 {
		req.Islands = 1
	}
	if req.Inputs <= 0 {
		req.Inputs = 2
	}
	if req.Subroutines < 0 {
		req.Subroutines = 0
	}
	if req.MinInstrs <= 0 {
		req.MinInstrs = 2
	}
	if req.MaxInstrs <= 0 {
		req.MaxInstrs = 8
	}
	if req.MutationRate <= 0 {
		req.MutationRate = 0.05
	}
	if req.CrossoverRate <= 0 {
		req.CrossoverRate = 0.3
	}
	if req.ValueStepExp <= 0 {
		req.ValueStepExp = 4
	}
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	applyRunDefaults(&req)
	if req.SnapshotEvery < 0 {
		return RunResult{}, errors.New("snapshot interval must be >= 0")
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = "run-" + uuid.New().String()
	}
	if err := c.store.Init(ctx); err != nil {
		return RunResult{}, err
	}

	constraint := genotype.DefaultConstructConstraint()
	constraint.Inputs = make([]model.Kind, req.Inputs)
	for i := range constraint.Inputs {
		constraint.Inputs[i] = model.KindDouble
	}
	constraint.Subroutines = req.Subroutines
	constraint.MinInstrs = req.MinInstrs
	constraint.MaxInstrs = req.MaxInstrs
	constraint.Params[model.InfoMutationRate] = req.MutationRate
	constraint.Params[model.InfoCrossoverRate] = req.CrossoverRate
	constraint.Params[model.InfoCrossoverMaxDiff] = req.CrossoverMaxDiff
	constraint.Params[model.InfoValueStepExp] = req.ValueStepExp
	if req.ChangeCenter != nil {
		constraint.Params[model.InfoChangeCenter] = *req.ChangeCenter
	}
	for name, w := range req.PoolWeights {
		p, ok := evo.ParsePool(name)
		if !ok {
			return RunResult{}, fmt.Errorf("unknown pool %q", name)
		}
		constraint.Params[p.InfoParam()] = w
	}
	initial, err := genotype.ConstructPopulation(runID, req.Population, constraint, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return RunResult{}, err
	}
	island.Assign(initial.Genomes, req.Islands)

	cfg := evo.DefaultSchedulerConfig()
	cfg.Seed = req.Seed
	cfg.Workers = req.Workers
	cfg.Islands = island.InfoTool{Count: req.Islands}
	cfg.Logger = c.log
	cfg.Mutation.Registry = constraint.Registry
	cfg.Mutation.Layout = constraint.Layout
	cfg.Mutation.Rate = req.MutationRate
	cfg.Mutation.Macros = !req.DisableMacros
	cfg.Mutation.MacroDeletion = !req.DisableMacroDeletion
	cfg.Mutation.PoolWeights = req.PoolWeights
	cfg.Mutation.KindWeights = req.KindWeights
	cfg.Mutation.ValueStepExp = req.ValueStepExp
	cfg.Mutation.ChangeSpread = req.ChangeSpread
	if req.Area != nil {
		cfg.Mutation.Area = *req.Area
	}
	if req.ChangeCenter != nil {
		cfg.Mutation.ChangeCenter = *req.ChangeCenter
	}
	cfg.Crossover.Registry = constraint.Registry
	cfg.Crossover.Layout = constraint.Layout
	cfg.Crossover.Rate = req.CrossoverRate
	cfg.Crossover.MaxDifference = req.CrossoverMaxDiff
	scheduler, err := evo.NewScheduler(cfg)
	if err != nil {
		return RunResult{}, err
	}

	if err := c.store.SaveRun(ctx, model.RunSummary{
		VersionedRecord: initial.VersionedRecord,
		RunID:           runID,
		Generations:     req.Generations,
		Population:      req.Population,
		Seed:            req.Seed,
	}); err != nil {
		return RunResult{}, err
	}
	var snapshots []string
	snapshot := func(ctx context.Context, generation int, genomes []*model.Genome) error {
		p := model.Population{
			VersionedRecord: initial.VersionedRecord,
			ID:              genotype.PopulationID(runID, generation),
			RunID:           runID,
			Generation:      generation,
			Genomes:         genomes,
		}
		if err := c.store.SavePopulation(ctx, p); err != nil {
			return fmt.Errorf("persist generation %d: %w", generation, err)
		}
		snapshots = append(snapshots, p.ID)
		return nil
	}
	if err := snapshot(ctx, 0, initial.Genomes); err != nil {
		return RunResult{}, err
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Scheduler:   scheduler,
		Generations: req.Generations,
		Validate:    true,
		Logger:      c.log,
		OnGeneration: func(ctx context.Context, generation int, pop []*model.Genome, _ stats.GenerationDiagnostics) error {
			if generation == req.Generations || (req.SnapshotEvery > 0 && generation%req.SnapshotEvery == 0) {
				return snapshot(ctx, generation, pop)
			}
			return nil
		},
	})
	if err != nil {
		return RunResult{}, err
	}
	result, err := monitor.Run(ctx, initial.Genomes)
	if err != nil {
		return RunResult{}, err
	}

	counters := scheduler.Counters().Snapshot()
	if err := c.store.SaveCounters(ctx, runID, counters); err != nil {
		return RunResult{}, err
	}
	out := RunResult{
		RunID:          runID,
		Diagnostics:    result.GenerationDiagnostics,
		FinalDupsRatio: scheduler.Counters().Get("dups_ratio"),
		Fingerprints:   genotype.Fingerprints(result.FinalPopulation, constraint.Registry),
		Counters:       counters,
		Snapshots:      snapshots,
	}
	if c.noArtifacts {
		return out, nil
	}

	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:            runID,
			Seed:             req.Seed,
			PopulationSize:   req.Population,
			Generations:      req.Generations,
			Islands:          req.Islands,
			Workers:          req.Workers,
			MutationRate:     req.MutationRate,
			CrossoverRate:    req.CrossoverRate,
			CrossoverMaxDiff: req.CrossoverMaxDiff,
			Macros:           !req.DisableMacros,
			MacroDeletion:    !req.DisableMacroDeletion,
		},
		Diagnostics:  out.Diagnostics,
		Fingerprints: out.Fingerprints,
	})
	if err != nil {
		return RunResult{}, err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:          runID,
		PopulationSize: req.Population,
		Generations:    req.Generations,
		Seed:           req.Seed,
		Workers:        req.Workers,
		FinalDupsRatio: out.FinalDupsRatio,
		CreatedAtUTC:   time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return RunResult{}, err
	}
	out.ArtifactsDir = filepath.Clean(runDir)
	return out, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Seed:           e.Seed,
			Population:     e.PopulationSize,
			Generations:    e.Generations,
			Workers:        e.Workers,
			FinalDupsRatio: e.FinalDupsRatio,
		})
	}
	return out, nil
}

// StoredRuns lists the run headers held by the store.
func (c *Client) StoredRuns(ctx context.Context) ([]model.RunSummary, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListRuns(ctx)
}

func (c *Client) Counters(ctx context.Context, runID string) ([]model.CounterRow, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	rows, ok, err := c.store.GetCounters(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("counters not found for run %s", runID)
	}
	return rows, nil
}

func (c *Client) Inspect(ctx context.Context, req InspectRequest) (InspectResult, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return InspectResult{}, err
	}
	if req.Generation < 0 {
		return InspectResult{}, errors.New("generation must be >= 0")
	}
	if err := c.store.Init(ctx); err != nil {
		return InspectResult{}, err
	}
	id := genotype.PopulationID(runID, req.Generation)
	pop, ok, err := c.store.GetPopulation(ctx, id)
	if err != nil {
		return InspectResult{}, err
	}
	if !ok {
		return InspectResult{}, fmt.Errorf("population not found: %s", id)
	}

	genomes := pop.Genomes
	if req.Genome >= 0 {
		if req.Genome >= len(genomes) {
			return InspectResult{}, fmt.Errorf("genome index %d out of range [0,%d)", req.Genome, len(genomes))
		}
		genomes = genomes[req.Genome : req.Genome+1]
	}
	reg := isa.DefaultRegistry()
	tool := island.InfoTool{}
	out := InspectResult{PopulationID: pop.ID, Generation: pop.Generation}
	for _, g := range genomes {
		sig := genotype.ComputeGenomeSignature(g, reg)
		out.Genomes = append(out.Genomes, GenomeView{
			ID:          g.ID,
			Island:      tool.IslandID(g),
			Fingerprint: sig.Fingerprint,
			Summary:     sig.Summary,
			Listing:     genotype.FormatGenome(g, reg),
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Diagnostics(_ context.Context, runID string, latest bool) ([]stats.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(runID, latest)
	if err != nil {
		return nil, err
	}
	diags, ok, err := stats.ReadDiagnostics(c.benchmarksDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run %s", runID)
	}
	return diags, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

type KindItem struct {
	Name       string
	Pool       string
	Structural bool
}

// Kinds lists the registered mutation kinds.
func Kinds() []KindItem {
	specs := evo.ListKinds()
	out := make([]KindItem, 0, len(specs))
	for _, spec := range specs {
		out = append(out, KindItem{Name: spec.Name, Pool: spec.Pool.String(), Structural: spec.Structural})
	}
	return out
}

type OpcodeItem struct {
	Code    isa.Opcode
	Name    string
	MinArgs int
	MaxArgs int
	Dynamic bool
	Jump    bool
}

// Opcodes lists the default instruction set.
func Opcodes() []OpcodeItem {
	reg := isa.DefaultRegistry()
	out := make([]OpcodeItem, 0, len(reg.Opcodes()))
	for _, op := range reg.Opcodes() {
		d, err := reg.Resolve(op)
		if err != nil {
			continue
		}
		out = append(out, OpcodeItem{
			Code:    d.Code,
			Name:    d.Name,
			MinArgs: d.MinArgs,
			MaxArgs: d.MaxArgs,
			Dynamic: d.DynamicArgs,
			Jump:    d.Jump,
		})
	}
	return out
}
