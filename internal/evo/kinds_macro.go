package evo

import (
	"math"

	"regevo/internal/analyzer"
	"regevo/internal/codeproc"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

// runFade is the chance a generated run grows by one more instruction.
const runFade = 0.5

func (m *Mutator) callDescriptor() (isa.Descriptor, error) {
	op, ok := m.cfg.Registry.CallOpcode()
	if !ok {
		return isa.Descriptor{}, ErrNoMutationChoice
	}
	return m.cfg.Registry.Resolve(op)
}

// insertCall places a call to a higher-numbered block before the point.
// Recently written registers are preferred as arguments.
func insertCall(m *Mutator, s *Site) error {
	if !m.cfg.Macros {
		return ErrMacrosDisabled
	}
	if !s.HasInstr {
		return ErrRoleMismatch
	}
	d, err := m.callDescriptor()
	if err != nil {
		return err
	}
	callees := codeproc.EligibleCallees(s.Program, s.Block, d.MaxArgs)
	if len(callees) == 0 {
		return ErrNoMutationChoice
	}
	callee := callees[m.rng.Intn(len(callees))]
	cmeta := s.Program.Blocks[callee].Meta
	code := s.Code()
	meta := s.Meta()
	at := s.Instr.Offset

	ages := m.writeAges(code, at, meta)
	cells := []model.Cell{isa.EncodeInstr(d.Code, len(cmeta.Inputs)+2), model.IntCell(int32(callee))}
	for _, k := range cmeta.Inputs {
		types := kindTypes(k)
		var cands []isa.Reg
		var weights []float64
		for _, r := range m.cfg.Layout.PrepareRegisterSet(meta, types, isa.IOIn) {
			if age, ok := ages[r]; ok {
				cands = append(cands, r)
				weights = append(weights, math.Ldexp(1, -age))
			}
		}
		if len(cands) == 0 {
			c, err := m.randomConstant(types)
			if err != nil {
				return err
			}
			cells = append(cells, c)
			continue
		}
		cells = append(cells, isa.BuildRegisterArg(cands[codeproc.SelectProbItem(m.rng, weights)]))
	}
	out, ok := m.callOutput(code, meta, kindTypes(cmeta.Output))
	if !ok {
		return ErrEmptyCandidates
	}
	cells = append(cells, isa.BuildRegisterArg(out))
	s.SetCode(spliceCells(code, at, at, cells))
	return nil
}

// writeAges maps every register readable before offset upTo to the number of
// instructions since its last write. Declared inputs count as written before
// the first instruction.
func (m *Mutator) writeAges(code []model.Cell, upTo int, meta model.BlockMeta) map[isa.Reg]int {
	l := analyzer.Analyze(code, m.cfg.Registry, analyzer.AreaFactors{})
	last := make(map[isa.Reg]int)
	for i := range meta.Inputs {
		last[m.cfg.Layout.InputReg(i)] = -1
	}
	n := 0
	for i, ins := range l.Instrs {
		if ins.Offset >= upTo {
			break
		}
		n = i + 1
		if !ins.Known || ins.Desc.Data {
			continue
		}
		for a := 0; a < ins.Argc; a++ {
			if !ins.Spec(a).IO.Writes() {
				continue
			}
			if r, ok := isa.RegisterNo(code[argOffset(ins, a)]); ok {
				last[r] = i
			}
		}
	}
	ages := make(map[isa.Reg]int, len(last))
	for r, i := range last {
		ages[r] = n - i
	}
	return ages
}

// callOutput picks the first general register not yet written in code that
// admits mask, falling back to the protected output.
func (m *Mutator) callOutput(code []model.Cell, meta model.BlockMeta, mask isa.TypeMask) (isa.Reg, bool) {
	used := analyzer.FindOutRegCellMap(code, m.cfg.Registry)
	for _, r := range m.cfg.Layout.GeneralRegs() {
		if _, ok := used[r]; !ok && m.cfg.Layout.Accepts(meta, r, mask) {
			return r, true
		}
	}
	if m.cfg.Layout.Accepts(meta, isa.ProtectedOutput, mask) {
		return isa.ProtectedOutput, true
	}
	return 0, false
}

func (m *Mutator) randomConstant(mask isa.TypeMask) (model.Cell, error) {
	kinds := (mask & m.cfg.Registry.Supported()).Kinds()
	if len(kinds) == 0 {
		return model.Cell{}, ErrEmptyCandidates
	}
	return m.proc.RandomConstant(kinds[m.rng.Intn(len(kinds))]), nil
}

// runPlan is a run of instructions lifted into a subroutine.
type runPlan struct {
	inputs []isa.Reg
	out    isa.Reg
	body   []model.Cell
}

// generateFromRun lifts a run of instructions starting at the point into a
// new subroutine and replaces the run with a call to it.
func generateFromRun(m *Mutator, s *Site) error {
	if !m.cfg.Macros {
		return ErrMacrosDisabled
	}
	if err := s.knownInstr(); err != nil {
		return err
	}
	if m.blockLimitReached(s.Program) {
		return ErrBlockLimit
	}
	d, err := m.callDescriptor()
	if err != nil {
		return err
	}
	k := 1
	for s.InstrIndex+k < s.Layout.InstrCount() && m.rng.Float64() < runFade {
		k++
	}

	target := s.Block + 1
	m.insertBlock(s.Program, target, model.Block{})
	code := s.Code()
	meta := s.Meta()
	var plan runPlan
	for ; k > 0; k-- {
		var ok bool
		plan, ok = m.planRun(code, meta, s.Layout.Instrs[s.InstrIndex:s.InstrIndex+k])
		if ok && len(plan.inputs) <= m.cfg.Layout.MaxInputs && len(plan.inputs)+2 <= d.MaxArgs {
			break
		}
	}
	if k == 0 {
		return ErrNoMutationChoice
	}

	cmeta := model.BlockMeta{Inputs: make([]model.Kind, len(plan.inputs)), Output: m.cfg.Layout.DefaultType(meta, plan.out)}
	call := []model.Cell{isa.EncodeInstr(d.Code, len(plan.inputs)+2), model.IntCell(int32(target))}
	for j, r := range plan.inputs {
		cmeta.Inputs[j] = m.cfg.Layout.DefaultType(meta, r)
		call = append(call, isa.BuildRegisterArg(r))
	}
	call = append(call, isa.BuildRegisterArg(plan.out))
	s.Program.Blocks[target] = model.Block{Meta: cmeta, Code: plan.body}

	first := s.Layout.Instrs[s.InstrIndex]
	last := s.Layout.Instrs[s.InstrIndex+k-1]
	s.SetCode(spliceCells(code, first.Offset, last.End(), call))
	return nil
}

// planRun rewrites run into a self-contained body. Registers read before any
// write inside the run become inputs in first-use order. The run result is
// the protected output when the run writes it, otherwise the last register
// written, and is renamed to the protected output inside the body.
func (m *Mutator) planRun(code []model.Cell, meta model.BlockMeta, run []analyzer.Instr) (runPlan, bool) {
	var plan runPlan
	hasOut := false
	for _, ins := range run {
		if r, _, ok := outputReg(code, ins); ok && (!hasOut || plan.out != isa.ProtectedOutput) {
			plan.out, hasOut = r, true
		}
	}
	if !hasOut {
		return plan, false
	}
	rename := func(r isa.Reg) isa.Reg {
		if r == plan.out {
			return isa.ProtectedOutput
		}
		return r
	}

	local := vm.NewRegSet()
	index := make(map[isa.Reg]int)
	for _, ins := range run {
		cells := append([]model.Cell(nil), code[ins.Offset:ins.End()]...)
		if ins.Known && !ins.Desc.Data {
			var writes []isa.Reg
			for a := 0; a < ins.Argc; a++ {
				r, ok := isa.RegisterNo(cells[1+a])
				if !ok {
					continue
				}
				io := ins.Spec(a).IO
				switch {
				case io.Reads() && !local.Has(r):
					if io.Writes() {
						return plan, false
					}
					j, seen := index[r]
					if !seen {
						j = len(plan.inputs)
						index[r] = j
						plan.inputs = append(plan.inputs, r)
					}
					cells[1+a] = isa.BuildRegisterArg(m.cfg.Layout.InputReg(j))
				default:
					cells[1+a] = isa.BuildRegisterArg(rename(r))
				}
				if io.Writes() {
					writes = append(writes, r)
				}
			}
			for _, r := range writes {
				local.Add(r)
			}
		}
		plan.body = append(plan.body, cells...)
	}
	return plan, true
}

// deleteBlock removes a subroutine together with every call to it.
func deleteBlock(m *Mutator, s *Site) error {
	if !m.cfg.Macros || !m.cfg.MacroDeletion {
		return ErrMacrosDisabled
	}
	n := len(s.Program.Blocks)
	if n <= 1 || n <= m.cfg.MinBlocks {
		return ErrBlockLimit
	}
	victim, err := m.subroutineTarget(s)
	if err != nil {
		return err
	}
	touched := make(map[int]bool)
	sites := m.callSites(s.Program, victim)
	for i := len(sites) - 1; i >= 0; i-- {
		b := &s.Program.Blocks[sites[i].block]
		b.Code = spliceCells(b.Code, sites[i].instr.Offset, sites[i].instr.End(), nil)
		touched[sites[i].block] = true
	}
	for bi := range touched {
		if bi == victim {
			continue
		}
		code := s.Program.Blocks[bi].Code
		if analyzer.Analyze(code, m.cfg.Registry, analyzer.AreaFactors{}).InstrCount() == 0 {
			return ErrWouldEmptyBlock
		}
		if !analyzer.WritesOutput(code, m.cfg.Registry) {
			return ErrProtectedRegister
		}
	}
	return m.removeBlock(s.Program, victim)
}

// subroutineTarget is the point's block when it is a subroutine, otherwise a
// random subroutine.
func (m *Mutator) subroutineTarget(s *Site) (int, error) {
	if s.Block != 0 {
		return s.Block, nil
	}
	if len(s.Program.Blocks) < 2 {
		return 0, ErrNoMutationChoice
	}
	return 1 + m.rng.Intn(len(s.Program.Blocks)-1), nil
}

// growArglist appends a variant input to a subroutine and passes a value for
// it at every call site.
func growArglist(m *Mutator, s *Site) error {
	if !m.cfg.Macros {
		return ErrMacrosDisabled
	}
	target, err := m.subroutineTarget(s)
	if err != nil {
		return err
	}
	d, err := m.callDescriptor()
	if err != nil {
		return err
	}
	meta := &s.Program.Blocks[target].Meta
	n := len(meta.Inputs)
	if n >= m.cfg.Layout.MaxInputs || n+3 > d.MaxArgs {
		return ErrNoMutationChoice
	}
	sites := m.callSites(s.Program, target)
	for i := len(sites) - 1; i >= 0; i-- {
		b := &s.Program.Blocks[sites[i].block]
		ins := sites[i].instr
		arg, err := m.callArg(b.Code, b.Meta, ins.Offset)
		if err != nil {
			return err
		}
		at := argOffset(ins, ins.Argc-1)
		code := spliceCells(b.Code, at, at, []model.Cell{arg})
		code[ins.Offset] = isa.EncodeInstr(ins.Op, ins.Argc+1)
		b.Code = code
	}
	meta.Inputs = append(meta.Inputs, model.KindNull)
	return nil
}

// callArg binds a new call argument to a register written before offset, or
// to a constant when none is.
func (m *Mutator) callArg(code []model.Cell, meta model.BlockMeta, offset int) (model.Cell, error) {
	cands := m.written(code, offset, meta).Filter(m.cfg.Layout.PrepareRegisterSet(meta, isa.TypeAny, isa.IOIn))
	if len(cands) > 0 {
		return isa.BuildRegisterArg(cands[m.rng.Intn(len(cands))]), nil
	}
	return m.randomConstant(isa.TypeAny)
}

// shrinkArglist drops the last input of a subroutine that never reads it.
func shrinkArglist(m *Mutator, s *Site) error {
	if !m.cfg.Macros {
		return ErrMacrosDisabled
	}
	target, err := m.subroutineTarget(s)
	if err != nil {
		return err
	}
	b := &s.Program.Blocks[target]
	n := len(b.Meta.Inputs)
	if n == 0 {
		return ErrNoMutationChoice
	}
	if m.readsAfter(b.Code, 0, m.cfg.Layout.InputReg(n-1)) {
		return ErrNoMutationChoice
	}
	sites := m.callSites(s.Program, target)
	for i := len(sites) - 1; i >= 0; i-- {
		cb := &s.Program.Blocks[sites[i].block]
		ins := sites[i].instr
		if ins.Argc != n+2 {
			return ErrInvalidResult
		}
		at := argOffset(ins, n)
		code := spliceCells(cb.Code, at, at+1, nil)
		code[ins.Offset] = isa.EncodeInstr(ins.Op, ins.Argc-1)
		cb.Code = code
	}
	b.Meta.Inputs = b.Meta.Inputs[:n-1]
	return nil
}
