package vm

import (
	"sort"

	"regevo/internal/isa"
	"regevo/internal/model"
)

// Layout describes the register frame every block executes in. Register 0
// is the protected output, 1..MaxInputs hold declared inputs and the general
// purpose variant slots follow.
type Layout struct {
	MaxInputs int
	General   int
}

func DefaultLayout() Layout {
	return Layout{MaxInputs: 8, General: 8}
}

func (l Layout) Count() int {
	return 1 + l.MaxInputs + l.General
}

func (l Layout) IsInput(r isa.Reg) bool {
	return r >= 1 && int(r) <= l.MaxInputs
}

func (l Layout) IsGeneral(r isa.Reg) bool {
	return int(r) > l.MaxInputs && int(r) < l.Count()
}

// InputReg returns the register holding declared input i.
func (l Layout) InputReg(i int) isa.Reg {
	return isa.Reg(1 + i)
}

// GeneralRegs lists the general purpose registers in ascending order.
func (l Layout) GeneralRegs() []isa.Reg {
	out := make([]isa.Reg, 0, l.General)
	for i := 0; i < l.General; i++ {
		out = append(out, isa.Reg(1+l.MaxInputs+i))
	}
	return out
}

func (l Layout) IsRegisterNumber(raw uint32) bool {
	if !isa.IsRegisterNo(raw) {
		return false
	}
	r, _ := isa.RegisterNo(model.UintCell(raw))
	return int(r) < l.Count()
}

// DefaultType returns the declared type of r within a block. Variant
// (KindNull) accepts any value.
func (l Layout) DefaultType(meta model.BlockMeta, r isa.Reg) model.Kind {
	switch {
	case r == isa.ProtectedOutput:
		return meta.Output
	case l.IsInput(r):
		i := int(r) - 1
		if i < len(meta.Inputs) {
			return meta.Inputs[i]
		}
	}
	return model.KindNull
}

// Accepts reports whether register r may hold a value admitted by mask.
func (l Layout) Accepts(meta model.BlockMeta, r isa.Reg, mask isa.TypeMask) bool {
	t := l.DefaultType(meta, r)
	if t == model.KindNull {
		return true
	}
	return mask.Has(t)
}

// CanRead reports whether r is part of the frame readable by the block.
// Undeclared input slots are never readable.
func (l Layout) CanRead(meta model.BlockMeta, r isa.Reg) bool {
	if l.IsInput(r) {
		return int(r)-1 < len(meta.Inputs)
	}
	return int(r) < l.Count()
}

// CanWrite reports whether r may appear in an output position. Inputs are
// read-only.
func (l Layout) CanWrite(r isa.Reg) bool {
	return r == isa.ProtectedOutput || l.IsGeneral(r)
}

// PrepareRegisterSet lists the registers of the frame usable at an argument
// position with the given type mask and io mode.
func (l Layout) PrepareRegisterSet(meta model.BlockMeta, mask isa.TypeMask, io isa.IOMode) []isa.Reg {
	out := make([]isa.Reg, 0, l.Count())
	for i := 0; i < l.Count(); i++ {
		r := isa.Reg(i)
		if io.Writes() && !l.CanWrite(r) {
			continue
		}
		if io.Reads() && !l.CanRead(meta, r) {
			continue
		}
		if !l.Accepts(meta, r, mask) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// VerifyArgs checks argument count, kind and type admissibility of one
// instruction against its descriptor.
func (l Layout) VerifyArgs(args []model.Cell, d isa.Descriptor, meta model.BlockMeta) bool {
	if !d.AcceptsArgCount(len(args)) {
		return false
	}
	if d.Data {
		for _, a := range args {
			if a.IsCode() {
				return false
			}
		}
		return true
	}
	for i, a := range args {
		spec := d.ArgAt(i, len(args))
		if r, ok := isa.RegisterNo(a); ok {
			if !spec.Kind.AllowsRegister() || int(r) >= l.Count() {
				return false
			}
			if spec.IO.Writes() && !l.CanWrite(r) {
				return false
			}
			if spec.IO.Reads() && !l.CanRead(meta, r) {
				return false
			}
			if !l.Accepts(meta, r, spec.Types) {
				return false
			}
			continue
		}
		if a.IsCode() || !spec.Kind.AllowsConstant() || !spec.Types.Has(a.Kind) {
			return false
		}
	}
	return true
}

// RegSet is a small set of registers.
type RegSet map[isa.Reg]struct{}

func NewRegSet(regs ...isa.Reg) RegSet {
	s := make(RegSet, len(regs))
	for _, r := range regs {
		s[r] = struct{}{}
	}
	return s
}

func (s RegSet) Add(r isa.Reg) {
	s[r] = struct{}{}
}

func (s RegSet) Has(r isa.Reg) bool {
	_, ok := s[r]
	return ok
}

func (s RegSet) Clone() RegSet {
	out := make(RegSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Filter keeps the candidates contained in s, preserving order.
func (s RegSet) Filter(candidates []isa.Reg) []isa.Reg {
	out := make([]isa.Reg, 0, len(candidates))
	for _, r := range candidates {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s RegSet) Sorted() []isa.Reg {
	out := make([]isa.Reg, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
