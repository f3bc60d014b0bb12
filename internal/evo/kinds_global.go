package evo

import (
	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

// deleteInstr removes the owning instruction and exactly its argument span.
func deleteInstr(m *Mutator, s *Site) error {
	if !s.HasInstr {
		return ErrRoleMismatch
	}
	if s.Layout.InstrCount() <= 1 {
		return ErrWouldEmptyBlock
	}
	code := s.Code()
	writers := analyzer.FindOutRegCellMap(code, m.cfg.Registry)[isa.ProtectedOutput]
	if len(writers) == 1 && writers[0] == s.Instr.Offset {
		return ErrProtectedRegister
	}
	s.SetCode(spliceCells(code, s.Instr.Offset, s.Instr.End(), nil))
	return nil
}

// replaceInstr swaps the owning instruction for a fresh one that keeps
// writing the same register.
func replaceInstr(m *Mutator, s *Site) error {
	if err := s.knownInstr(); err != nil {
		return err
	}
	code := s.Code()
	var force *isa.Reg
	if r, _, ok := outputReg(code, s.Instr); ok {
		force = &r
	}
	written := m.written(code, s.Instr.Offset, s.Meta())
	cells, err := m.synth(s.Program, s.Block, written, force, force != nil)
	if err != nil {
		return err
	}
	s.SetCode(spliceCells(code, s.Instr.Offset, s.Instr.End(), cells))
	return nil
}

// insertInstr synthesizes an instruction before the point and feeds its
// result into the instruction that follows, or into the protected output
// when it lands at the end of the block.
func insertInstr(m *Mutator, s *Site) error {
	if !s.HasInstr {
		return ErrRoleMismatch
	}
	code := s.Code()
	at := s.Instr.Offset
	if s.InstrIndex == s.Layout.InstrCount()-1 && m.rng.Intn(2) == 0 {
		at = s.Instr.End()
	}
	written := m.written(code, at, s.Meta())
	if at >= len(code) {
		out := isa.ProtectedOutput
		cells, err := m.synth(s.Program, s.Block, written, &out, true)
		if err != nil {
			return err
		}
		s.SetCode(spliceCells(code, at, at, cells))
		return nil
	}

	cells, err := m.synth(s.Program, s.Block, written, nil, true)
	if err != nil {
		return err
	}
	next := s.Instr
	updated := spliceCells(code, at, at, cells)
	if r, ok := firstOutput(cells, m.cfg.Registry); ok {
		shifted := next
		shifted.Offset += len(cells)
		m.linkInput(s.Program, updated, s.Meta(), shifted, r)
	}
	s.SetCode(updated)
	return nil
}

// linkInput rewires a random register-capable input of ins to read r. It
// reports whether a position accepted r.
func (m *Mutator) linkInput(prog *model.Program, code []model.Cell, meta model.BlockMeta, ins analyzer.Instr, r isa.Reg) bool {
	if !ins.Known || ins.Desc.Data {
		return false
	}
	var positions []int
	for a := 0; a < ins.Argc; a++ {
		if ins.Desc.DynamicArgs && a == 0 {
			continue
		}
		spec := m.argSpec(prog, code, ins, a)
		if spec.IO != isa.IOIn || !spec.Kind.AllowsRegister() || ins.Desc.IsJumpArg(a) {
			continue
		}
		if !m.cfg.Layout.CanRead(meta, r) || !m.cfg.Layout.Accepts(meta, r, spec.Types) {
			continue
		}
		positions = append(positions, a)
	}
	if len(positions) == 0 {
		return false
	}
	a := positions[m.rng.Intn(len(positions))]
	code[argOffset(ins, a)] = isa.BuildRegisterArg(r)
	return true
}

func firstOutput(cells []model.Cell, reg *isa.Registry) (isa.Reg, bool) {
	l := analyzer.Analyze(cells, reg, analyzer.AreaFactors{})
	if len(l.Instrs) == 0 {
		return 0, false
	}
	r, _, ok := outputReg(cells, l.Instrs[0])
	return r, ok
}

// generateBlock moves the current body into a new subroutine, synthesizes a
// fresh body of similar size and calls the subroutine from it.
func generateBlock(m *Mutator, s *Site) error {
	if !m.cfg.Macros {
		return ErrMacrosDisabled
	}
	if m.blockLimitReached(s.Program) {
		return ErrBlockLimit
	}
	callDesc, err := m.callDescriptor()
	if err != nil {
		return err
	}
	meta := s.Meta()
	if len(meta.Inputs)+2 > callDesc.MaxArgs {
		return ErrNoMutationChoice
	}

	target := s.Block + 1
	m.insertBlock(s.Program, target, model.Block{})
	s.Program.Blocks[target] = model.CloneBlock(s.Program.Blocks[s.Block])

	n := s.Layout.InstrCount() + m.rng.Intn(3) - 1
	if n < 1 {
		n = 1
	}
	callAt := m.rng.Intn(n + 1)
	written := m.written(nil, 0, meta)
	var body []model.Cell
	for i := 0; i <= n; i++ {
		var cells []model.Cell
		if i == callAt {
			cells, err = m.proc.BuildCall(m.request(s.Program, s.Block, written), callDesc, target, written)
		} else {
			cells, err = m.synth(s.Program, s.Block, written, nil, true)
		}
		if err != nil {
			return err
		}
		body = append(body, cells...)
		addWritten(written, cells, m.cfg.Registry)
	}
	if !analyzer.WritesOutput(body, m.cfg.Registry) {
		out := isa.ProtectedOutput
		cells, err := m.synth(s.Program, s.Block, written, &out, true)
		if err != nil {
			return err
		}
		body = append(body, cells...)
	}
	s.SetCode(body)
	return nil
}

// addWritten adds every register written by the instructions in cells.
func addWritten(written vm.RegSet, cells []model.Cell, reg *isa.Registry) {
	l := analyzer.Analyze(cells, reg, analyzer.AreaFactors{})
	for _, ins := range l.Instrs {
		if !ins.Known || ins.Desc.Data {
			continue
		}
		for a := 0; a < ins.Argc; a++ {
			if !ins.Spec(a).IO.Writes() {
				continue
			}
			if r, ok := isa.RegisterNo(cells[argOffset(ins, a)]); ok {
				written.Add(r)
			}
		}
	}
}
