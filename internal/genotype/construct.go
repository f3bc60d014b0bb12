package genotype

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"regevo/internal/analyzer"
	"regevo/internal/codeproc"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

// ConstructConstraint bounds randomly constructed programs.
type ConstructConstraint struct {
	Registry *isa.Registry
	Layout   vm.Layout
	// Inputs and Output declare the signature of the main block.
	Inputs    []model.Kind
	Output    model.Kind
	MinInstrs int
	MaxInstrs int
	// Subroutines adds variant-typed blocks after main, each taking up to
	// SubroutineInputs inputs.
	Subroutines      int
	SubroutineInputs int
	WithInfo         bool
	Params           map[model.InfoParam]float64
}

func DefaultConstructConstraint() ConstructConstraint {
	return ConstructConstraint{
		Registry:         isa.DefaultRegistry(),
		Layout:           vm.DefaultLayout(),
		Inputs:           []model.Kind{model.KindDouble, model.KindDouble},
		Output:           model.KindDouble,
		MinInstrs:        2,
		MaxInstrs:        8,
		SubroutineInputs: 2,
		WithInfo:         true,
		Params:           DefaultInfoParams(),
	}
}

// DefaultInfoParams are the evolved scalars a fresh genome starts from.
func DefaultInfoParams() map[model.InfoParam]float64 {
	return map[model.InfoParam]float64{
		model.InfoIslandID:         0,
		model.InfoMutationRate:     0.05,
		model.InfoCrossoverRate:    0.3,
		model.InfoCrossoverMaxDiff: 0,
		model.InfoValueStepExp:     4,
		model.InfoChangeCenter:     0.5,
		model.InfoPoolGlobal:       1,
		model.InfoPoolValue:        1,
		model.InfoPoolRegNo:        1,
		model.InfoPoolInstr:        1,
		model.InfoPoolMacro:        1,
	}
}

// ConstructProgram builds a valid random program. Blocks are filled from the
// last one down so calls only target blocks that already have code.
func ConstructProgram(constraint ConstructConstraint, rng *rand.Rand) (model.Program, error) {
	if constraint.Registry == nil {
		return model.Program{}, errors.New("registry is required")
	}
	if len(constraint.Inputs) > constraint.Layout.MaxInputs {
		return model.Program{}, fmt.Errorf("main block declares %d inputs, layout allows %d", len(constraint.Inputs), constraint.Layout.MaxInputs)
	}
	rng = ensureRNG(rng)
	if constraint.MinInstrs < 1 {
		constraint.MinInstrs = 1
	}
	if constraint.MaxInstrs < constraint.MinInstrs {
		constraint.MaxInstrs = constraint.MinInstrs
	}

	prog := model.Program{Blocks: make([]model.Block, 1+max(constraint.Subroutines, 0))}
	prog.Blocks[0].Meta = model.BlockMeta{
		Inputs: append([]model.Kind(nil), constraint.Inputs...),
		Output: constraint.Output,
	}
	for bi := 1; bi < len(prog.Blocks); bi++ {
		n := 0
		if constraint.SubroutineInputs > 0 {
			n = 1 + rng.Intn(min(constraint.SubroutineInputs, constraint.Layout.MaxInputs))
		}
		prog.Blocks[bi].Meta = model.BlockMeta{Inputs: make([]model.Kind, n), Output: model.KindNull}
	}

	proc := codeproc.New(constraint.Registry, constraint.Layout, rng)
	for bi := len(prog.Blocks) - 1; bi >= 0; bi-- {
		code, err := constructBlock(proc, constraint, &prog, bi, rng)
		if err != nil {
			return model.Program{}, err
		}
		prog.Blocks[bi].Code = code
	}
	if err := analyzer.Validate(&model.Genome{Program: prog}, constraint.Registry, constraint.Layout); err != nil {
		return model.Program{}, fmt.Errorf("constructed program is invalid: %w", err)
	}
	return prog, nil
}

func constructBlock(proc *codeproc.Processor, constraint ConstructConstraint, prog *model.Program, bi int, rng *rand.Rand) ([]model.Cell, error) {
	meta := prog.Blocks[bi].Meta
	n := constraint.MinInstrs + rng.Intn(constraint.MaxInstrs-constraint.MinInstrs+1)
	var code []model.Cell
	for i := 0; i < n; i++ {
		req := codeproc.InstrRequest{
			Opcodes:       constraint.Registry.Mutable(),
			Written:       analyzer.FindWrittenRegs(code, len(code), meta, constraint.Registry, constraint.Layout),
			RequireOutput: true,
			Program:       prog,
			Block:         bi,
			Meta:          meta,
		}
		if i == n-1 {
			out := isa.ProtectedOutput
			req.ForceOutput = &out
		}
		cells, err := proc.BuildRandomInstr(req)
		if err != nil {
			return nil, fmt.Errorf("construct block %d: %w", bi, err)
		}
		code = append(code, cells...)
	}
	return code, nil
}

// ConstructGenome builds one versioned genome with a random program and,
// when requested, a seeded info block.
func ConstructGenome(genomeID string, constraint ConstructConstraint, rng *rand.Rand) (*model.Genome, error) {
	if strings.TrimSpace(genomeID) == "" {
		return nil, errors.New("genome id is required")
	}
	prog, err := ConstructProgram(constraint, rng)
	if err != nil {
		return nil, err
	}
	g := &model.Genome{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			CodecVersion:  model.CurrentCodecVersion,
		},
		ID:      genomeID,
		Program: prog,
	}
	if constraint.WithInfo {
		g.Info = infoBlock(constraint.Params)
	}
	return g, nil
}

func infoBlock(params map[model.InfoParam]float64) []model.Cell {
	defaults := DefaultInfoParams()
	info := make([]model.Cell, model.InfoParamCount)
	for p := model.InfoParam(0); p < model.InfoParamCount; p++ {
		v, ok := params[p]
		if !ok {
			v = defaults[p]
		}
		info[p] = model.DoubleCell(v)
	}
	return info
}

// ConstructPopulation builds the generation zero population of a run.
func ConstructPopulation(runID string, size int, constraint ConstructConstraint, rng *rand.Rand) (model.Population, error) {
	if strings.TrimSpace(runID) == "" {
		return model.Population{}, errors.New("run id is required")
	}
	if size <= 0 {
		return model.Population{}, fmt.Errorf("population size must be > 0: %d", size)
	}
	rng = ensureRNG(rng)
	pop := model.Population{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: model.CurrentSchemaVersion,
			CodecVersion:  model.CurrentCodecVersion,
		},
		ID:      PopulationID(runID, 0),
		RunID:   runID,
		Genomes: make([]*model.Genome, 0, size),
	}
	for i := 0; i < size; i++ {
		g, err := ConstructGenome(fmt.Sprintf("%s-g0-i%d", runID, i), constraint, rng)
		if err != nil {
			return model.Population{}, err
		}
		pop.Genomes = append(pop.Genomes, g)
	}
	return pop, nil
}

// PopulationID names the snapshot of a run at one generation.
func PopulationID(runID string, generation int) string {
	return fmt.Sprintf("%s-gen-%d", runID, generation)
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(1))
}
