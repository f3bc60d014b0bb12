package codeproc

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

func doubleMeta() model.BlockMeta {
	return model.BlockMeta{Inputs: []model.Kind{model.KindDouble}, Output: model.KindDouble}
}

func newProcessor(seed int64) *Processor {
	return New(isa.DefaultRegistry(), vm.DefaultLayout(), rand.New(rand.NewSource(seed)))
}

func TestBuildRandomInstrIsValid(t *testing.T) {
	p := newProcessor(1)
	meta := doubleMeta()
	written := vm.NewRegSet(1, 9)
	for i := 0; i < 300; i++ {
		cells, err := p.BuildRandomInstr(InstrRequest{
			Opcodes: p.Registry.Mutable(),
			Written: written,
			Meta:    meta,
		})
		if errors.Is(err, ErrSynthesisFailed) {
			continue
		}
		require.NoError(t, err)
		d, argc, err := p.Registry.ResolveCell(cells[0])
		require.NoError(t, err)
		require.Len(t, cells, argc+1)
		require.True(t, p.Layout.VerifyArgs(cells[1:], d, meta), "%s %v", d.Name, cells)

		bad := analyzer.UndefinedReads(cells, meta, p.Registry, p.Layout)
		for _, off := range bad {
			rn, _ := isa.RegisterNo(cells[off])
			require.True(t, written.Has(rn), "read of r%d", rn)
		}
	}
}

func TestBuildRandomInstrForcedOutput(t *testing.T) {
	p := newProcessor(2)
	out := isa.ProtectedOutput
	for i := 0; i < 50; i++ {
		cells, err := p.BuildRandomInstr(InstrRequest{
			Opcodes:       []isa.Opcode{isa.OpAdd, isa.OpMov, isa.OpSin},
			Written:       vm.NewRegSet(1),
			Meta:          doubleMeta(),
			ForceOutput:   &out,
			RequireOutput: true,
		})
		require.NoError(t, err)
		require.True(t, analyzer.WritesOutput(cells, p.Registry))
	}
}

func TestBuildRandomInstrNeedsCallee(t *testing.T) {
	p := newProcessor(3)
	prog := &model.Program{Blocks: []model.Block{{Meta: doubleMeta()}}}
	_, err := p.BuildRandomInstr(InstrRequest{
		Opcodes: []isa.Opcode{isa.OpCall},
		Written: vm.NewRegSet(1),
		Meta:    doubleMeta(),
		Program: prog,
	})
	require.True(t, errors.Is(err, ErrSynthesisFailed))

	prog.Blocks = append(prog.Blocks, model.Block{Meta: doubleMeta()})
	cells, err := p.BuildRandomInstr(InstrRequest{
		Opcodes: []isa.Opcode{isa.OpCall},
		Written: vm.NewRegSet(1),
		Meta:    doubleMeta(),
		Program: prog,
	})
	require.NoError(t, err)
	require.Len(t, cells, 4)
	require.Equal(t, model.IntCell(1), cells[1])
}

func TestSelectProbItem(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	require.Equal(t, 0, SelectProbItem(rng, nil))
	require.Equal(t, 0, SelectProbItem(rng, []float64{0, 0, 0}))
	for i := 0; i < 100; i++ {
		require.Equal(t, 2, SelectProbItem(rng, []float64{0, 0, 5}))
	}
	hits := 0
	for i := 0; i < 2000; i++ {
		if SelectProbItem(rng, []float64{1, 3}) == 1 {
			hits++
		}
	}
	require.InDelta(t, 1500, hits, 120)
}

func TestRandomConstantTiers(t *testing.T) {
	p := newProcessor(5)
	small := 0
	for i := 0; i < 2000; i++ {
		c := p.RandomConstant(model.KindInt)
		require.Equal(t, model.KindInt, c.Kind)
		if c.I >= -2 && c.I <= 2 {
			small++
		}
	}
	require.InDelta(t, 1175, small, 150)

	for _, k := range model.ValueKinds {
		require.Equal(t, k, p.RandomConstant(k).Kind)
	}
	b := p.RandomConstant(model.KindByte)
	require.True(t, b.I >= 0 && b.I <= 255)
}

func TestRepairLiveness(t *testing.T) {
	p := newProcessor(6)
	meta := doubleMeta()
	code := []model.Cell{
		isa.EncodeInstr(isa.OpAdd, 3), isa.BuildRegisterArg(12), model.DoubleCell(1), isa.BuildRegisterArg(9),
		isa.EncodeInstr(isa.OpMov, 2), isa.BuildRegisterArg(9), isa.BuildRegisterArg(0),
	}
	fixed, err := p.RepairLiveness(code, meta)
	require.NoError(t, err)
	require.Empty(t, analyzer.UndefinedReads(fixed, meta, p.Registry, p.Layout))
	require.Equal(t, isa.BuildRegisterArg(12), code[1], "input is not modified")
	require.Equal(t, code[4:], fixed[4:])
}

func TestRepairLivenessRefusesRegisterOnlyWithoutCandidates(t *testing.T) {
	p := newProcessor(7)
	meta := model.BlockMeta{Output: model.KindDouble}
	code := []model.Cell{
		isa.EncodeInstr(isa.OpSin, 2), isa.BuildRegisterArg(10), isa.BuildRegisterArg(0),
	}
	_, err := p.RepairLiveness(code, meta)
	require.True(t, errors.Is(err, ErrUnrepairable))
}
