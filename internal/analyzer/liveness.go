package analyzer

import (
	"errors"
	"fmt"

	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

var (
	ErrEmptyMain       = errors.New("main block has no instructions")
	ErrMalformedInstr  = errors.New("malformed instruction")
	ErrUndefinedRead   = errors.New("read of unwritten register")
	ErrBadCallTarget   = errors.New("invalid call target")
	ErrMissingOutput   = errors.New("block never writes the protected output")
	ErrStrayCell       = errors.New("cell outside any instruction")
	ErrInfoBlockShrunk = errors.New("info block is empty")
)

// FindWrittenRegs returns the registers written by instructions starting
// before upTo, seeded with the declared inputs of the block.
func FindWrittenRegs(code []model.Cell, upTo int, meta model.BlockMeta, reg *isa.Registry, layout vm.Layout) vm.RegSet {
	written := vm.NewRegSet()
	for i := range meta.Inputs {
		if i >= layout.MaxInputs {
			break
		}
		written.Add(layout.InputReg(i))
	}
	l := Analyze(code, reg, AreaFactors{})
	for _, ins := range l.Instrs {
		if ins.Offset >= upTo {
			break
		}
		addOutputs(written, code, ins)
	}
	return written
}

func addOutputs(written vm.RegSet, code []model.Cell, ins Instr) {
	if !ins.Known || ins.Desc.Data {
		return
	}
	for a := 0; a < ins.Argc; a++ {
		if !ins.Spec(a).IO.Writes() {
			continue
		}
		if r, ok := isa.RegisterNo(code[ins.Offset+1+a]); ok {
			written.Add(r)
		}
	}
}

// FindOutRegCellMap maps every written register to the offsets of the
// instructions writing it, in code order.
func FindOutRegCellMap(code []model.Cell, reg *isa.Registry) map[isa.Reg][]int {
	out := make(map[isa.Reg][]int)
	l := Analyze(code, reg, AreaFactors{})
	for _, ins := range l.Instrs {
		if !ins.Known || ins.Desc.Data {
			continue
		}
		for a := 0; a < ins.Argc; a++ {
			if !ins.Spec(a).IO.Writes() {
				continue
			}
			if r, ok := isa.RegisterNo(code[ins.Offset+1+a]); ok {
				out[r] = append(out[r], ins.Offset)
			}
		}
	}
	return out
}

// UndefinedReads lists the offsets of register cells read before any write.
func UndefinedReads(code []model.Cell, meta model.BlockMeta, reg *isa.Registry, layout vm.Layout) []int {
	written := FindWrittenRegs(nil, 0, meta, reg, layout)
	l := Analyze(code, reg, AreaFactors{})
	var bad []int
	for _, ins := range l.Instrs {
		if !ins.Known || ins.Desc.Data {
			continue
		}
		for a := 0; a < ins.Argc; a++ {
			if !ins.Spec(a).IO.Reads() {
				continue
			}
			off := ins.Offset + 1 + a
			if r, ok := isa.RegisterNo(code[off]); ok && !written.Has(r) {
				bad = append(bad, off)
			}
		}
		addOutputs(written, code, ins)
	}
	return bad
}

// WritesOutput reports whether any instruction writes the protected output.
func WritesOutput(code []model.Cell, reg *isa.Registry) bool {
	return len(FindOutRegCellMap(code, reg)[isa.ProtectedOutput]) > 0
}

// ValidateBlock checks one block: decodable instructions with registry arity,
// admissible arguments, call targets and register liveness.
func ValidateBlock(p *model.Program, bi int, reg *isa.Registry, layout vm.Layout) error {
	b := p.Blocks[bi]
	l := Analyze(b.Code, reg, AreaFactors{})
	for off, c := range l.Cells {
		if c.Index < 0 {
			return fmt.Errorf("%w: block=%d offset=%d", ErrStrayCell, bi, off)
		}
	}
	for _, ins := range l.Instrs {
		if !ins.Known {
			return fmt.Errorf("%w: block=%d offset=%d op=%d argc=%d", ErrMalformedInstr, bi, ins.Offset, ins.Op, ins.Argc)
		}
		if ins.End() > len(b.Code) {
			return fmt.Errorf("%w: block=%d offset=%d truncated", ErrMalformedInstr, bi, ins.Offset)
		}
		args := b.Code[ins.Offset+1 : ins.End()]
		if !layout.VerifyArgs(args, ins.Desc, b.Meta) {
			return fmt.Errorf("%w: block=%d offset=%d %s args rejected", ErrMalformedInstr, bi, ins.Offset, ins.Desc.Name)
		}
		if ins.Desc.DynamicArgs {
			if err := validateCall(p, bi, args); err != nil {
				return fmt.Errorf("block=%d offset=%d: %w", bi, ins.Offset, err)
			}
		}
	}
	if bad := UndefinedReads(b.Code, b.Meta, reg, layout); len(bad) > 0 {
		return fmt.Errorf("%w: block=%d offset=%d", ErrUndefinedRead, bi, bad[0])
	}
	return nil
}

func validateCall(p *model.Program, caller int, args []model.Cell) error {
	if len(args) < 2 || args[0].Kind != model.KindInt {
		return ErrBadCallTarget
	}
	callee := int(args[0].I)
	if callee <= caller || callee >= len(p.Blocks) {
		return fmt.Errorf("%w: callee=%d", ErrBadCallTarget, callee)
	}
	if want := len(p.Blocks[callee].Meta.Inputs) + 2; len(args) != want {
		return fmt.Errorf("%w: callee=%d argc=%d want=%d", ErrBadCallTarget, callee, len(args), want)
	}
	return nil
}

// Validate checks the structural invariants of a whole genome: non-empty main,
// non-empty info block when present, valid blocks and a protected-output
// writer in every block.
func Validate(g *model.Genome, reg *isa.Registry, layout vm.Layout) error {
	if g.Info != nil && len(g.Info) == 0 {
		return ErrInfoBlockShrunk
	}
	if len(g.Program.Blocks) == 0 {
		return model.ErrEmptyProgram
	}
	if Analyze(g.Program.Blocks[0].Code, reg, AreaFactors{}).InstrCount() == 0 {
		return ErrEmptyMain
	}
	for bi := range g.Program.Blocks {
		if err := ValidateBlock(&g.Program, bi, reg, layout); err != nil {
			return err
		}
		if !WritesOutput(g.Program.Blocks[bi].Code, reg) {
			return fmt.Errorf("%w: block=%d", ErrMissingOutput, bi)
		}
	}
	return nil
}
