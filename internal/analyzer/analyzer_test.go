package analyzer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"regevo/internal/isa"
	"regevo/internal/model"
)

func r(n isa.Reg) model.Cell { return isa.BuildRegisterArg(n) }

// add r1+2.0 -> r9; data [7, 8]; mov r9 -> r0
func sampleCode() []model.Cell {
	return []model.Cell{
		isa.EncodeInstr(isa.OpAdd, 3), r(1), model.DoubleCell(2), r(9),
		isa.EncodeInstr(isa.OpData, 2), model.IntCell(7), model.IntCell(8),
		isa.EncodeInstr(isa.OpMov, 2), r(9), r(0),
	}
}

func TestAnalyzeRolesAndWeights(t *testing.T) {
	l := Analyze(sampleCode(), isa.DefaultRegistry(), DefaultAreaFactors())
	require.Equal(t, 3, l.InstrCount())
	require.Equal(t, []int{0, 4, 7}, []int{l.Instrs[0].Offset, l.Instrs[1].Offset, l.Instrs[2].Offset})

	require.Equal(t, RoleOpcode, l.Cells[0].Role)
	require.Equal(t, RoleRegister, l.Cells[1].Role)
	require.Equal(t, RoleValue, l.Cells[2].Role)
	require.Equal(t, RoleValue, l.Cells[5].Role)
	require.Equal(t, 1, l.Cells[5].Index)

	require.Zero(t, l.Cells[4].Weight, "data opcode")
	require.Zero(t, l.Cells[5].Weight, "data payload")
	require.InDelta(t, 7.0, l.TotalWeight(), 1e-9)
}

func TestAnalyzeAreaFactors(t *testing.T) {
	f := AreaFactors{Instr: 0, InputArg: 1, OutputArg: 0, ConstArg: 2, RegArg: 1}
	l := Analyze(sampleCode(), isa.DefaultRegistry(), f)
	require.Zero(t, l.Cells[0].Weight)
	require.InDelta(t, 1.0, l.Cells[1].Weight, 1e-9)
	require.InDelta(t, 2.0, l.Cells[2].Weight, 1e-9)
	require.Zero(t, l.Cells[3].Weight)
	require.InDelta(t, 4.0, l.TotalWeight(), 1e-9)
}

func TestAnalyzeTruncatedInstr(t *testing.T) {
	code := []model.Cell{isa.EncodeInstr(isa.OpAdd, 3), r(1)}
	l := Analyze(code, isa.DefaultRegistry(), DefaultAreaFactors())
	require.Equal(t, 1, l.InstrCount())
	require.Equal(t, 1, l.Instrs[0].Argc)
	require.False(t, l.Instrs[0].Known)
}

func TestInstrAtAndSnap(t *testing.T) {
	l := Analyze(sampleCode(), isa.DefaultRegistry(), DefaultAreaFactors())
	ins, idx, ok := l.InstrAt(6)
	require.True(t, ok)
	require.Equal(t, 1, idx)
	require.Equal(t, 4, ins.Offset)

	require.Equal(t, 0, l.SnapForward(0))
	require.Equal(t, 4, l.SnapForward(1))
	require.Equal(t, 7, l.SnapForward(5))
	require.Equal(t, 7, l.SnapForward(9))
	require.Equal(t, 2, l.IndexOfOffset(7))
	require.Equal(t, -1, l.IndexOfOffset(8))
}

func TestPickPositionSkipsZeroWeight(t *testing.T) {
	l := Analyze(sampleCode(), isa.DefaultRegistry(), DefaultAreaFactors())
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		pos := l.PickPosition(rng, 0.5, 0)
		require.NotContains(t, []int{4, 5, 6}, pos)
		require.GreaterOrEqual(t, pos, 0)
	}

	empty := Analyze([]model.Cell{isa.EncodeInstr(isa.OpData, 1), model.IntCell(1)}, isa.DefaultRegistry(), DefaultAreaFactors())
	require.Equal(t, -1, empty.PickPosition(rng, 0.5, 0))
}

func TestPickPositionCenterSkew(t *testing.T) {
	l := Analyze(sampleCode(), isa.DefaultRegistry(), DefaultAreaFactors())
	rng := rand.New(rand.NewSource(9))
	early := 0
	for i := 0; i < 400; i++ {
		if l.PickPosition(rng, 0, 0.05) < 4 {
			early++
		}
	}
	require.Greater(t, early, 380)
}

func TestPickPositionNarrowSpreadFallsBack(t *testing.T) {
	l := Analyze(sampleCode(), isa.DefaultRegistry(), DefaultAreaFactors())
	rng := rand.New(rand.NewSource(4))
	for _, spread := range []float64{1e-4, 1e-9, 1e-200} {
		for _, center := range []float64{0, 0.37, 1} {
			for i := 0; i < 50; i++ {
				pos := l.PickPosition(rng, center, spread)
				require.GreaterOrEqual(t, pos, 0, "center=%v spread=%v", center, spread)
				require.Positive(t, l.Cells[pos].Weight)
			}
		}
	}
}

func TestLayoutNavigation(t *testing.T) {
	l := Analyze(sampleCode(), isa.DefaultRegistry(), DefaultAreaFactors())
	next, ok := l.NextInstr(0)
	require.True(t, ok)
	require.Equal(t, 4, next.Offset)
	_, ok = l.NextInstr(2)
	require.False(t, ok)

	prev, ok := l.PrevInstr(2)
	require.True(t, ok)
	require.Equal(t, 4, prev.Offset)
	_, ok = l.PrevInstr(0)
	require.False(t, ok)

	require.Equal(t, 4, l.InstrEnd(2))
	require.Equal(t, 10, l.InstrEnd(9))
	require.Equal(t, -1, l.InstrEnd(10))
}
