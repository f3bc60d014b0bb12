package evo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"regevo/internal/analyzer"
	"regevo/internal/genotype"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/stats"
	"regevo/internal/vm"
)

func regArg(n isa.Reg) model.Cell { return isa.BuildRegisterArg(n) }

func op(code isa.Opcode, args ...model.Cell) []model.Cell {
	return append([]model.Cell{isa.EncodeInstr(code, len(args))}, args...)
}

func cells(instrs ...[]model.Cell) []model.Cell {
	var out []model.Cell
	for _, ins := range instrs {
		out = append(out, ins...)
	}
	return out
}

func doubleMeta(inputs int) model.BlockMeta {
	meta := model.BlockMeta{Output: model.KindDouble}
	for i := 0; i < inputs; i++ {
		meta.Inputs = append(meta.Inputs, model.KindDouble)
	}
	return meta
}

func testGenome(blocks ...model.Block) *model.Genome {
	return &model.Genome{
		VersionedRecord: model.VersionedRecord{SchemaVersion: SupportedSchemaVersion, CodecVersion: SupportedCodecVersion},
		ID:              "g",
		Program:         model.Program{Blocks: blocks},
	}
}

func testMutator(t *testing.T, seed int64) (*Mutator, *stats.Counters) {
	t.Helper()
	cfg := DefaultMutatorConfig()
	counters := stats.NewCounters()
	cfg.Counters = counters
	m, err := NewMutator(cfg, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return m, counters
}

func instrCount(code []model.Cell) int {
	return analyzer.Analyze(code, isa.DefaultRegistry(), analyzer.AreaFactors{}).InstrCount()
}

func requireValid(t *testing.T, g *model.Genome) {
	t.Helper()
	require.NoError(t, analyzer.Validate(g, isa.DefaultRegistry(), vm.DefaultLayout()))
}

// randomGenome builds a valid genome with subroutines and an info block.
func randomGenome(t *testing.T, seed int64) *model.Genome {
	t.Helper()
	constraint := genotype.DefaultConstructConstraint()
	constraint.Subroutines = 2
	g, err := genotype.ConstructGenome("g", constraint, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return g
}

// chainGenome is a five instruction main block over two double inputs.
func chainGenome() *model.Genome {
	return testGenome(model.Block{
		Meta: doubleMeta(2),
		Code: cells(
			op(isa.OpAdd, regArg(1), regArg(2), regArg(9)),
			op(isa.OpMul, regArg(9), regArg(1), regArg(10)),
			op(isa.OpSub, regArg(10), regArg(2), regArg(11)),
			op(isa.OpAdd, regArg(11), regArg(9), regArg(12)),
			op(isa.OpMov, regArg(12), regArg(0)),
		),
	})
}
