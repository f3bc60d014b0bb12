// Package analyzer classifies genome cells and tracks register liveness. Every
// structural edit shifts offsets, so a Layout is only valid for the exact code
// slice it was computed from.
package analyzer

import (
	"math"
	"math/rand"
	"sort"

	"regevo/internal/isa"
	"regevo/internal/model"
)

type Role uint8

const (
	RoleNone Role = iota
	RoleOpcode
	RoleRegister
	RoleValue
)

func (r Role) String() string {
	switch r {
	case RoleOpcode:
		return "opcode"
	case RoleRegister:
		return "register"
	case RoleValue:
		return "value"
	default:
		return "none"
	}
}

// AreaFactors scale the mutation weight of each cell role.
type AreaFactors struct {
	Instr     float64 `toml:"instr"`
	InputArg  float64 `toml:"input_arg"`
	OutputArg float64 `toml:"output_arg"`
	ConstArg  float64 `toml:"const_arg"`
	RegArg    float64 `toml:"reg_arg"`
}

func DefaultAreaFactors() AreaFactors {
	return AreaFactors{Instr: 1, InputArg: 1, OutputArg: 1, ConstArg: 1, RegArg: 1}
}

// CellInfo is the derived role of one cell.
type CellInfo struct {
	Role Role
	// Index is the position of the owning instruction in Layout.Instrs, or -1.
	Index int
	// Arg is the argument position, -1 for the opcode cell itself.
	Arg    int
	Weight float64
}

// Instr is one decoded instruction.
type Instr struct {
	Offset int
	Argc   int
	Op     isa.Opcode
	Desc   isa.Descriptor
	Known  bool
}

// End is the offset just past the last argument.
func (i Instr) End() int {
	return i.Offset + 1 + i.Argc
}

func (i Instr) Spec(arg int) isa.ArgSpec {
	return i.Desc.ArgAt(arg, i.Argc)
}

type Layout struct {
	Cells  []CellInfo
	Instrs []Instr
	total  float64
}

// Analyze runs one forward pass over code. Arguments are skipped by their
// encoded count, so data payloads never decode as instructions.
func Analyze(code []model.Cell, reg *isa.Registry, f AreaFactors) Layout {
	l := Layout{Cells: make([]CellInfo, len(code))}
	for i := 0; i < len(code); {
		op, argc, ok := isa.DecodeInstr(code[i])
		if !ok {
			l.Cells[i] = CellInfo{Role: RoleValue, Index: -1, Arg: -1}
			i++
			continue
		}
		if i+1+argc > len(code) {
			argc = len(code) - i - 1
		}
		ins := Instr{Offset: i, Argc: argc, Op: op}
		if d, err := reg.Resolve(op); err == nil && d.AcceptsArgCount(argc) {
			ins.Desc = d
			ins.Known = true
		}
		idx := len(l.Instrs)
		l.Instrs = append(l.Instrs, ins)

		weight := 0.0
		if ins.Known && !ins.Desc.Data {
			weight = f.Instr
		}
		l.Cells[i] = CellInfo{Role: RoleOpcode, Index: idx, Arg: -1, Weight: weight}
		for a := 0; a < argc; a++ {
			cell := code[i+1+a]
			info := CellInfo{Role: RoleValue, Index: idx, Arg: a}
			if isa.IsRegisterCell(cell) {
				info.Role = RoleRegister
			}
			if ins.Known && !ins.Desc.Data {
				spec := ins.Spec(a)
				area := f.InputArg
				if spec.IO.Writes() {
					area = f.OutputArg
				}
				if info.Role == RoleRegister {
					info.Weight = area * f.RegArg
				} else {
					info.Weight = area * f.ConstArg
				}
			}
			l.Cells[i+1+a] = info
		}
		i += 1 + argc
	}
	for _, c := range l.Cells {
		l.total += c.Weight
	}
	return l
}

// TotalWeight is the gen-size of the block: the sum of all cell weights.
func (l Layout) TotalWeight() float64 {
	return l.total
}

func (l Layout) InstrCount() int {
	return len(l.Instrs)
}

// InstrAt returns the instruction owning offset.
func (l Layout) InstrAt(offset int) (Instr, int, bool) {
	if offset < 0 || offset >= len(l.Cells) {
		return Instr{}, -1, false
	}
	idx := l.Cells[offset].Index
	if idx < 0 {
		return Instr{}, -1, false
	}
	return l.Instrs[idx], idx, true
}

// NextInstr returns the instruction following index idx.
func (l Layout) NextInstr(idx int) (Instr, bool) {
	if idx+1 < 0 || idx+1 >= len(l.Instrs) {
		return Instr{}, false
	}
	return l.Instrs[idx+1], true
}

func (l Layout) PrevInstr(idx int) (Instr, bool) {
	if idx-1 < 0 || idx-1 >= len(l.Instrs) {
		return Instr{}, false
	}
	return l.Instrs[idx-1], true
}

// InstrEnd is the offset just past the instruction owning offset, or -1.
func (l Layout) InstrEnd(offset int) int {
	ins, _, ok := l.InstrAt(offset)
	if !ok {
		return -1
	}
	return ins.End()
}

// IndexOfOffset finds the instruction starting at offset.
func (l Layout) IndexOfOffset(offset int) int {
	i := sort.Search(len(l.Instrs), func(i int) bool { return l.Instrs[i].Offset >= offset })
	if i < len(l.Instrs) && l.Instrs[i].Offset == offset {
		return i
	}
	return -1
}

// SnapForward returns the first instruction boundary at or after offset. At or
// past the last instruction it snaps backward to the last boundary.
func (l Layout) SnapForward(offset int) int {
	if len(l.Instrs) == 0 {
		return 0
	}
	last := l.Instrs[len(l.Instrs)-1].Offset
	if offset >= last {
		return last
	}
	i := sort.Search(len(l.Instrs), func(i int) bool { return l.Instrs[i].Offset >= offset })
	return l.Instrs[i].Offset
}

// PickPosition draws a cell offset proportionally to the cell weights. When
// spread is positive the weights are additionally skewed by a gaussian
// kernel around center, expressed as a fraction of the block length. A
// kernel narrow enough to underflow everywhere falls back to the plain
// weights.
func (l Layout) PickPosition(rng *rand.Rand, center, spread float64) int {
	if len(l.Cells) == 0 || l.total <= 0 {
		return -1
	}
	weights, total := l.skewedWeights(center, spread)
	if !(total > 0) || math.IsInf(total, 0) {
		weights, total = l.skewedWeights(center, 0)
	}
	if total <= 0 {
		return -1
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		r -= w
		if r < 0 {
			return i
		}
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}

func (l Layout) skewedWeights(center, spread float64) ([]float64, float64) {
	weights := make([]float64, len(l.Cells))
	total := 0.0
	n := float64(len(l.Cells))
	for i, c := range l.Cells {
		w := c.Weight
		if spread > 0 && w > 0 {
			d := (float64(i)+0.5)/n - center
			w *= math.Exp(-(d * d) / (2 * spread * spread))
		}
		weights[i] = w
		total += w
	}
	return weights, total
}
