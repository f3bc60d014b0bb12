package evo

import (
	"regevo/internal/analyzer"
	"regevo/internal/codeproc"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

// instrSite requires the point to be the opcode cell of a fixed-arity
// instruction.
func (m *Mutator) instrSite(s *Site) error {
	if err := s.knownInstr(); err != nil {
		return err
	}
	if s.Cell.Role != analyzer.RoleOpcode {
		return ErrRoleMismatch
	}
	if s.Instr.Desc.DynamicArgs {
		return ErrDynamicArgs
	}
	return nil
}

// changeOpcode swaps the opcode for another one that accepts the current
// arguments unchanged.
func changeOpcode(m *Mutator, s *Site) error {
	if err := m.instrSite(s); err != nil {
		return err
	}
	code := s.Code()
	args := instrArgs(code, s.Instr)
	var cands []isa.Opcode
	for _, op := range m.cfg.Registry.Mutable() {
		if op == s.Instr.Op {
			continue
		}
		d, err := m.cfg.Registry.Resolve(op)
		if err != nil || d.DynamicArgs || d.Data {
			continue
		}
		if m.cfg.Layout.VerifyArgs(args, d, s.Meta()) {
			cands = append(cands, op)
		}
	}
	if len(cands) == 0 {
		return ErrEmptyCandidates
	}
	code[s.Offset] = isa.EncodeInstr(cands[m.rng.Intn(len(cands))], s.Instr.Argc)
	return nil
}

// joinInstr merges a neighbouring instruction into this one. Matching
// argument positions are taken from the neighbour at random, then the
// neighbour is dropped.
func joinInstr(m *Mutator, s *Site) error {
	if err := m.instrSite(s); err != nil {
		return err
	}
	donor, ok := s.Layout.PrevInstr(s.InstrIndex)
	if !ok {
		donor, ok = s.Layout.NextInstr(s.InstrIndex)
	}
	if !ok || !donor.Known || donor.Desc.Data || donor.Desc.DynamicArgs {
		return ErrNoMutationChoice
	}
	code := s.Code()
	meta := s.Meta()
	args := append([]model.Cell(nil), instrArgs(code, s.Instr)...)
	from := instrArgs(code, donor)
	for a := 0; a < len(args) && a < len(from); a++ {
		if m.rng.Intn(2) == 0 {
			continue
		}
		old := args[a]
		args[a] = from[a]
		if !m.cfg.Layout.VerifyArgs(args, s.Instr.Desc, meta) {
			args[a] = old
		}
	}
	copy(code[s.Instr.Offset+1:s.Instr.End()], args)
	s.SetCode(spliceCells(code, donor.Offset, donor.End(), nil))
	return nil
}

// splitInstr routes the instruction's result through a fresh intermediate
// register and a newly synthesized instruction. A result read later keeps
// its register, which the new instruction now writes from the intermediate.
// A dead result instead gets a new producer feeding the intermediate in.
func splitInstr(m *Mutator, s *Site) error {
	if err := m.instrSite(s); err != nil {
		return err
	}
	code := s.Code()
	meta := s.Meta()
	out, outArg, ok := outputReg(code, s.Instr)
	if !ok {
		return ErrNoMutationChoice
	}
	t, ok := m.freshRegister(code, meta, s.Instr.Spec(outArg).Types)
	if !ok {
		return ErrEmptyCandidates
	}

	if out == isa.ProtectedOutput || m.readsAfter(code, s.Instr.End(), out) {
		work := append([]model.Cell(nil), code...)
		work[argOffset(s.Instr, outArg)] = isa.BuildRegisterArg(t)
		written := m.written(work, s.Instr.End(), meta)
		cells, err := m.linkedInstr(s, written, &out, t)
		if err != nil {
			return err
		}
		s.SetCode(spliceCells(work, s.Instr.End(), s.Instr.End(), cells))
		return nil
	}

	written := m.written(code, s.Instr.Offset, meta)
	for attempt := 0; attempt < codeproc.MaxSynthAttempts; attempt++ {
		cells, err := m.synth(s.Program, s.Block, written, &t, true)
		if err != nil {
			return err
		}
		work := spliceCells(code, s.Instr.Offset, s.Instr.Offset, cells)
		shifted := s.Instr
		shifted.Offset += len(cells)
		if m.linkInput(s.Program, work, meta, shifted, t) {
			s.SetCode(work)
			return nil
		}
	}
	return codeproc.ErrSynthesisFailed
}

// linkedInstr synthesizes an instruction writing force that reads r in at
// least one position.
func (m *Mutator) linkedInstr(s *Site, written vm.RegSet, force *isa.Reg, r isa.Reg) ([]model.Cell, error) {
	for attempt := 0; attempt < codeproc.MaxSynthAttempts; attempt++ {
		cells, err := m.synth(s.Program, s.Block, written, force, true)
		if err != nil {
			return nil, err
		}
		l := analyzer.Analyze(cells, m.cfg.Registry, analyzer.AreaFactors{})
		if len(l.Instrs) == 1 && m.linkInput(s.Program, cells, s.Meta(), l.Instrs[0], r) {
			return cells, nil
		}
	}
	return nil, codeproc.ErrSynthesisFailed
}

// freshRegister returns a general register never written in code that
// admits mask.
func (m *Mutator) freshRegister(code []model.Cell, meta model.BlockMeta, mask isa.TypeMask) (isa.Reg, bool) {
	used := analyzer.FindOutRegCellMap(code, m.cfg.Registry)
	var cands []isa.Reg
	for _, r := range m.cfg.Layout.GeneralRegs() {
		if _, ok := used[r]; ok || !m.cfg.Layout.Accepts(meta, r, mask) {
			continue
		}
		cands = append(cands, r)
	}
	if len(cands) == 0 {
		return 0, false
	}
	return cands[m.rng.Intn(len(cands))], true
}

// forceLink makes the next instruction read this instruction's result.
func forceLink(m *Mutator, s *Site) error {
	if err := s.knownInstr(); err != nil {
		return err
	}
	if s.Cell.Role != analyzer.RoleOpcode {
		return ErrRoleMismatch
	}
	code := s.Code()
	out, _, ok := outputReg(code, s.Instr)
	if !ok {
		return ErrNoMutationChoice
	}
	next, ok := s.Layout.NextInstr(s.InstrIndex)
	if !ok {
		return ErrNoMutationChoice
	}
	if readsReg(code, next, out) {
		return ErrNoMutationChoice
	}
	if !m.linkInput(s.Program, code, s.Meta(), next, out) {
		return ErrEmptyCandidates
	}
	return nil
}

func readsReg(code []model.Cell, ins analyzer.Instr, r isa.Reg) bool {
	if !ins.Known || ins.Desc.Data {
		return false
	}
	for a := 0; a < ins.Argc; a++ {
		if !ins.Spec(a).IO.Reads() {
			continue
		}
		if got, ok := isa.RegisterNo(code[argOffset(ins, a)]); ok && got == r {
			return true
		}
	}
	return false
}
