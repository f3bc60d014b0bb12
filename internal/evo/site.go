package evo

import (
	"golang.org/x/exp/constraints"

	"regevo/internal/analyzer"
	"regevo/internal/codeproc"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

// Site is one mutation point. Program is a working copy; edits become
// visible only when the mutator commits it.
type Site struct {
	Genome     *model.Genome
	Program    *model.Program
	Block      int
	Offset     int
	Layout     analyzer.Layout
	Cell       analyzer.CellInfo
	Instr      analyzer.Instr
	InstrIndex int
	HasInstr   bool
}

func newSite(g *model.Genome, prog *model.Program, block, offset int, reg *isa.Registry, f analyzer.AreaFactors) *Site {
	s := &Site{Genome: g, Program: prog, Block: block, Offset: offset}
	s.Layout = analyzer.Analyze(prog.Blocks[block].Code, reg, f)
	s.Cell = s.Layout.Cells[offset]
	s.Instr, s.InstrIndex, s.HasInstr = s.Layout.InstrAt(offset)
	return s
}

func (s *Site) Code() []model.Cell {
	return s.Program.Blocks[s.Block].Code
}

func (s *Site) Meta() model.BlockMeta {
	return s.Program.Blocks[s.Block].Meta
}

func (s *Site) SetCode(code []model.Cell) {
	s.Program.Blocks[s.Block].Code = code
}

// Arg is the argument position of the point, -1 on an opcode cell.
func (s *Site) Arg() int {
	return s.Cell.Arg
}

// knownInstr requires the point to sit in a decodable, non-data instruction.
func (s *Site) knownInstr() error {
	if !s.HasInstr || !s.Instr.Known {
		return ErrRoleMismatch
	}
	if s.Instr.Desc.Data {
		return ErrNoMutationChoice
	}
	return nil
}

func argOffset(ins analyzer.Instr, arg int) int {
	return ins.Offset + 1 + arg
}

func instrArgs(code []model.Cell, ins analyzer.Instr) []model.Cell {
	return code[ins.Offset+1 : ins.End()]
}

// spliceCells replaces code[from:to] with repl into a new slice.
func spliceCells(code []model.Cell, from, to int, repl []model.Cell) []model.Cell {
	out := make([]model.Cell, 0, len(code)-(to-from)+len(repl))
	out = append(out, code[:from]...)
	out = append(out, repl...)
	return append(out, code[to:]...)
}

// argSpec resolves the spec of one argument. Call arguments are refined by
// the callee signature.
func (m *Mutator) argSpec(prog *model.Program, code []model.Cell, ins analyzer.Instr, arg int) isa.ArgSpec {
	spec := ins.Spec(arg)
	if !ins.Desc.DynamicArgs || arg == 0 || ins.Argc < 2 {
		return spec
	}
	callee, ok := calleeOf(prog, code, ins)
	if !ok {
		return spec
	}
	meta := prog.Blocks[callee].Meta
	switch {
	case arg == ins.Argc-1:
		spec.Types = kindTypes(meta.Output)
	case arg-1 < len(meta.Inputs):
		spec.Types = kindTypes(meta.Inputs[arg-1])
	}
	return spec
}

func kindTypes(k model.Kind) isa.TypeMask {
	if k == model.KindNull {
		return isa.TypeAny
	}
	return isa.MaskOf(k)
}

// calleeOf returns the block targeted by a call instruction.
func calleeOf(prog *model.Program, code []model.Cell, ins analyzer.Instr) (int, bool) {
	if !ins.Desc.DynamicArgs || ins.Argc < 1 {
		return 0, false
	}
	c := code[ins.Offset+1]
	if c.Kind != model.KindInt {
		return 0, false
	}
	callee := int(c.I)
	if callee < 0 || callee >= len(prog.Blocks) {
		return 0, false
	}
	return callee, true
}

func (m *Mutator) written(code []model.Cell, upTo int, meta model.BlockMeta) vm.RegSet {
	return analyzer.FindWrittenRegs(code, upTo, meta, m.cfg.Registry, m.cfg.Layout)
}

// outputReg returns the first register written by ins.
func outputReg(code []model.Cell, ins analyzer.Instr) (isa.Reg, int, bool) {
	if !ins.Known || ins.Desc.Data {
		return 0, -1, false
	}
	for a := 0; a < ins.Argc; a++ {
		if !ins.Spec(a).IO.Writes() {
			continue
		}
		if r, ok := isa.RegisterNo(code[argOffset(ins, a)]); ok {
			return r, a, true
		}
	}
	return 0, -1, false
}

// readsAfter reports whether any instruction starting at or after from reads r.
func (m *Mutator) readsAfter(code []model.Cell, from int, r isa.Reg) bool {
	l := analyzer.Analyze(code, m.cfg.Registry, analyzer.AreaFactors{})
	for _, ins := range l.Instrs {
		if ins.Offset >= from && readsReg(code, ins, r) {
			return true
		}
	}
	return false
}

// opcodePool lists the opcodes mutation may synthesize.
func (m *Mutator) opcodePool() []isa.Opcode {
	ops := m.cfg.Registry.Mutable()
	if m.cfg.Macros {
		return ops
	}
	out := ops[:0]
	for _, op := range ops {
		d, err := m.cfg.Registry.Resolve(op)
		if err == nil && !d.DynamicArgs {
			out = append(out, op)
		}
	}
	return out
}

// synth builds one instruction for block bi of prog.
func (m *Mutator) synth(prog *model.Program, bi int, written vm.RegSet, force *isa.Reg, requireOut bool) ([]model.Cell, error) {
	req := m.request(prog, bi, written)
	req.ForceOutput = force
	req.RequireOutput = requireOut
	return m.proc.BuildRandomInstr(req)
}

func (m *Mutator) request(prog *model.Program, bi int, written vm.RegSet) codeproc.InstrRequest {
	return codeproc.InstrRequest{
		Opcodes: m.opcodePool(),
		Written: written,
		Program: prog,
		Block:   bi,
		Meta:    prog.Blocks[bi].Meta,
	}
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
