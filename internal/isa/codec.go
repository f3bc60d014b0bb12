package isa

import "regevo/internal/model"

// Opcode identifies an operation in the registry.
type Opcode uint32

// Reg is a register number inside a block frame.
type Reg uint32

const (
	MaxArgCount = 0xff
	MaxOpcode   = 1<<23 - 1

	// RegisterBase marks the reserved sub-range holding register references.
	RegisterBase uint32 = 1 << 31
	MaxRegister         = Reg(RegisterBase - 1)

	// ProtectedOutput receives the return value of every block.
	ProtectedOutput Reg = 0
)

// EncodeInstr packs an opcode and its argument count into one cell. The same
// pair always yields the same cell.
func EncodeInstr(op Opcode, argc int) model.Cell {
	if argc < 0 {
		argc = 0
	}
	if argc > MaxArgCount {
		argc = MaxArgCount
	}
	return model.UintCell(uint32(op&MaxOpcode)<<8 | uint32(argc))
}

// DecodeInstr unpacks an opcode cell. ok is false for cells that cannot be an
// opcode (wrong kind or register range).
func DecodeInstr(c model.Cell) (op Opcode, argc int, ok bool) {
	if c.Kind != model.KindUint || IsRegisterNo(c.U) {
		return 0, 0, false
	}
	return Opcode(c.U >> 8), int(c.U & MaxArgCount), true
}

func BuildRegisterArg(r Reg) model.Cell {
	return model.UintCell(RegisterBase | uint32(r&MaxRegister))
}

// RegisterNo reports the register referenced by c.
func RegisterNo(c model.Cell) (Reg, bool) {
	if c.Kind != model.KindUint || !IsRegisterNo(c.U) {
		return 0, false
	}
	return Reg(c.U &^ RegisterBase), true
}

func IsRegisterNo(raw uint32) bool {
	return raw&RegisterBase != 0
}

// IsRegisterCell reports whether c is a register reference.
func IsRegisterCell(c model.Cell) bool {
	return c.Kind == model.KindUint && IsRegisterNo(c.U)
}
