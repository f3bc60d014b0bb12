package evo

import (
	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
)

// regSpec requires the point to be a register argument.
func (m *Mutator) regSpec(s *Site) (isa.ArgSpec, isa.Reg, error) {
	if err := s.knownInstr(); err != nil {
		return isa.ArgSpec{}, 0, err
	}
	if s.Cell.Role != analyzer.RoleRegister || s.Arg() < 0 {
		return isa.ArgSpec{}, 0, ErrRoleMismatch
	}
	r, ok := isa.RegisterNo(s.Code()[s.Offset])
	if !ok {
		return isa.ArgSpec{}, 0, ErrRoleMismatch
	}
	return m.argSpec(s.Program, s.Code(), s.Instr, s.Arg()), r, nil
}

// rebindRegister points the argument at another admissible register. Inputs
// only bind to registers written before the instruction. The protected
// output keeps at least one writer.
func rebindRegister(m *Mutator, s *Site) error {
	spec, r, err := m.regSpec(s)
	if err != nil {
		return err
	}
	code := s.Code()
	meta := s.Meta()
	var cands []isa.Reg
	if spec.IO.Writes() {
		if r == isa.ProtectedOutput && len(analyzer.FindOutRegCellMap(code, m.cfg.Registry)[r]) <= 1 {
			return ErrProtectedRegister
		}
		cands = m.cfg.Layout.PrepareRegisterSet(meta, spec.Types, spec.IO)
		if spec.IO.Reads() {
			cands = m.written(code, s.Instr.Offset, meta).Filter(cands)
		}
	} else {
		cands = m.written(code, s.Instr.Offset, meta).Filter(m.cfg.Layout.PrepareRegisterSet(meta, spec.Types, isa.IOIn))
	}
	cands = without(cands, r)
	nr, err := m.proc.RandomRegNo(cands)
	if err != nil {
		return err
	}
	code[s.Offset] = isa.BuildRegisterArg(nr)
	return nil
}

// forceZeroOutput redirects an output argument to the protected output.
func forceZeroOutput(m *Mutator, s *Site) error {
	spec, r, err := m.regSpec(s)
	if err != nil {
		return err
	}
	if !spec.IO.Writes() || r == isa.ProtectedOutput {
		return ErrNoMutationChoice
	}
	if !m.cfg.Layout.Accepts(s.Meta(), isa.ProtectedOutput, spec.Types) {
		return ErrEmptyCandidates
	}
	s.Code()[s.Offset] = isa.BuildRegisterArg(isa.ProtectedOutput)
	return nil
}

// retypeToConstant replaces an input register with a random constant,
// preferring the declared type of the register it replaces.
func retypeToConstant(m *Mutator, s *Site) error {
	spec, r, err := m.regSpec(s)
	if err != nil {
		return err
	}
	if spec.IO != isa.IOIn || !spec.Kind.AllowsConstant() || s.Instr.Desc.IsJumpArg(s.Arg()) {
		return ErrNoMutationChoice
	}
	mask := spec.Types & m.cfg.Registry.Supported()
	kinds := mask.Kinds()
	if len(kinds) == 0 {
		return ErrEmptyCandidates
	}
	k := kinds[m.rng.Intn(len(kinds))]
	if t := m.cfg.Layout.DefaultType(s.Meta(), r); t != model.KindNull && mask.Has(t) {
		k = t
	}
	s.Code()[s.Offset] = m.proc.RandomConstant(k)
	return nil
}

// swapRegisters exchanges the register with another register argument of
// the same io mode in the instruction.
func swapRegisters(m *Mutator, s *Site) error {
	if _, _, err := m.regSpec(s); err != nil {
		return err
	}
	code := s.Code()
	var others []int
	for b := 0; b < s.Instr.Argc; b++ {
		if b == s.Arg() {
			continue
		}
		if isa.IsRegisterCell(code[argOffset(s.Instr, b)]) {
			others = append(others, b)
		}
	}
	m.rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })
	for _, b := range others {
		if !m.swappable(s, code, s.Arg(), b) {
			continue
		}
		x, y := argOffset(s.Instr, s.Arg()), argOffset(s.Instr, b)
		code[x], code[y] = code[y], code[x]
		return nil
	}
	return ErrEmptyCandidates
}

func without(regs []isa.Reg, r isa.Reg) []isa.Reg {
	out := make([]isa.Reg, 0, len(regs))
	for _, x := range regs {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}
