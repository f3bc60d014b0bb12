package evo

import (
	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
)

// valueSpec requires the point to be a constant argument that value kinds
// may edit and returns its resolved spec.
func (m *Mutator) valueSpec(s *Site) (isa.ArgSpec, error) {
	if err := s.knownInstr(); err != nil {
		return isa.ArgSpec{}, err
	}
	if s.Cell.Role != analyzer.RoleValue || s.Arg() < 0 {
		return isa.ArgSpec{}, ErrRoleMismatch
	}
	if s.Instr.Desc.DynamicArgs && s.Arg() == 0 {
		return isa.ArgSpec{}, ErrDynamicArgs
	}
	return m.argSpec(s.Program, s.Code(), s.Instr, s.Arg()), nil
}

// editValue nudges the constant within its own kind. Jump offsets move by a
// small step and never go negative.
func editValue(m *Mutator, s *Site) error {
	spec, err := m.valueSpec(s)
	if err != nil {
		return err
	}
	code := s.Code()
	c := code[s.Offset]
	if s.Instr.Desc.IsJumpArg(s.Arg()) {
		v := c.I + int64(m.rng.Intn(5)-2)
		if v == c.I {
			v++
		}
		code[s.Offset] = model.IntCell(int32(clamp(v, 0, 1<<16)))
		return nil
	}
	out, err := m.perturbCell(c, m.stepExp(s.Genome))
	if err != nil {
		return err
	}
	if !spec.Types.Has(out.Kind) {
		return ErrNoMutationChoice
	}
	code[s.Offset] = out
	return nil
}

// retypeToRegister replaces the constant with a register already written at
// this point.
func retypeToRegister(m *Mutator, s *Site) error {
	spec, err := m.valueSpec(s)
	if err != nil {
		return err
	}
	if !spec.Kind.AllowsRegister() || s.Instr.Desc.IsJumpArg(s.Arg()) {
		return ErrNoMutationChoice
	}
	code := s.Code()
	meta := s.Meta()
	cands := m.written(code, s.Instr.Offset, meta).Filter(m.cfg.Layout.PrepareRegisterSet(meta, spec.Types, isa.IOIn))
	r, err := m.proc.RandomRegNo(cands)
	if err != nil {
		return err
	}
	code[s.Offset] = isa.BuildRegisterArg(r)
	return nil
}

func typeUp(m *Mutator, s *Site) error {
	return m.retypeValue(s, isa.TypeMask.Up)
}

func typeDown(m *Mutator, s *Site) error {
	return m.retypeValue(s, isa.TypeMask.Down)
}

// retypeValue re-encodes the constant as the neighbouring kind the position
// admits.
func (m *Mutator) retypeValue(s *Site, step func(isa.TypeMask, model.Kind) (model.Kind, bool)) error {
	spec, err := m.valueSpec(s)
	if err != nil {
		return err
	}
	if s.Instr.Desc.DynamicArgs {
		return ErrDynamicArgs
	}
	if s.Instr.Desc.IsJumpArg(s.Arg()) {
		return ErrNoMutationChoice
	}
	code := s.Code()
	k, ok := step(spec.Types&m.cfg.Registry.Supported(), code[s.Offset].Kind)
	if !ok {
		return ErrNoMutationChoice
	}
	code[s.Offset] = convertCell(code[s.Offset], k)
	return nil
}

// swapAdjacentArg exchanges the constant with a neighbouring input argument
// when both positions admit the other's value.
func swapAdjacentArg(m *Mutator, s *Site) error {
	if _, err := m.valueSpec(s); err != nil {
		return err
	}
	code := s.Code()
	a := s.Arg()
	neighbours := []int{a - 1, a + 1}
	m.rng.Shuffle(len(neighbours), func(i, j int) { neighbours[i], neighbours[j] = neighbours[j], neighbours[i] })
	for _, b := range neighbours {
		if !m.swappable(s, code, a, b) {
			continue
		}
		x, y := argOffset(s.Instr, a), argOffset(s.Instr, b)
		code[x], code[y] = code[y], code[x]
		return nil
	}
	return ErrNoMutationChoice
}

// swappable reports whether arguments a and b of the site instruction can
// trade places.
func (m *Mutator) swappable(s *Site, code []model.Cell, a, b int) bool {
	ins := s.Instr
	if b < 0 || b >= ins.Argc || a == b {
		return false
	}
	if ins.Desc.DynamicArgs && (a == 0 || b == 0) {
		return false
	}
	if ins.Desc.IsJumpArg(a) || ins.Desc.IsJumpArg(b) {
		return false
	}
	if ins.Spec(a).IO != ins.Spec(b).IO {
		return false
	}
	x, y := code[argOffset(ins, a)], code[argOffset(ins, b)]
	if x.Equal(y) {
		return false
	}
	args := append([]model.Cell(nil), instrArgs(code, ins)...)
	args[a], args[b] = y, x
	if !m.cfg.Layout.VerifyArgs(args, ins.Desc, s.Meta()) {
		return false
	}
	return m.admits(s, a, y) && m.admits(s, b, x)
}

// admits checks c against the refined spec of argument a.
func (m *Mutator) admits(s *Site, a int, c model.Cell) bool {
	spec := m.argSpec(s.Program, s.Code(), s.Instr, a)
	if r, ok := isa.RegisterNo(c); ok {
		return m.cfg.Layout.Accepts(s.Meta(), r, spec.Types)
	}
	return spec.Types.Has(c.Kind)
}

func negateValue(m *Mutator, s *Site) error {
	if _, err := m.valueSpec(s); err != nil {
		return err
	}
	if s.Instr.Desc.IsJumpArg(s.Arg()) {
		return ErrNoMutationChoice
	}
	code := s.Code()
	out, err := negateCell(code[s.Offset])
	if err != nil {
		return err
	}
	code[s.Offset] = out
	return nil
}
