package genotype

import (
	"fmt"
	"strconv"
	"strings"

	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
)

// FormatGenome returns a human-readable disassembly of the genome.
func FormatGenome(genome *model.Genome, reg *isa.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "genome: %s\n", genome.ID)
	if genome.HasInfo() {
		parts := make([]string, 0, len(genome.Info))
		for i, c := range genome.Info {
			parts = append(parts, fmt.Sprintf("%s=%s", model.InfoParam(i), FormatCell(c)))
		}
		fmt.Fprintf(&b, "info: %s\n", strings.Join(parts, " "))
	}
	for bi, blk := range genome.Program.Blocks {
		fmt.Fprintf(&b, "block %d inputs=%s output=%s cells=%d\n", bi, formatKinds(blk.Meta.Inputs), blk.Meta.Output, len(blk.Code))
		l := analyzer.Analyze(blk.Code, reg, analyzer.AreaFactors{})
		for _, ins := range l.Instrs {
			fmt.Fprintf(&b, "  %04d %s\n", ins.Offset, FormatInstr(blk.Code, ins))
		}
	}
	return b.String()
}

// FormatInstr renders one instruction as "NAME arg, arg".
func FormatInstr(code []model.Cell, ins analyzer.Instr) string {
	name := ins.Desc.Name
	if !ins.Known {
		name = fmt.Sprintf("op#%d", ins.Op)
	}
	end := min(ins.End(), len(code))
	args := make([]string, 0, ins.Argc)
	for _, c := range code[ins.Offset+1 : end] {
		args = append(args, FormatCell(c))
	}
	if ins.Known && ins.Desc.Data {
		return fmt.Sprintf("%s [%s]", name, strings.Join(args, ", "))
	}
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, ", ")
}

// FormatCell renders a register as rN and a constant with a kind suffix
// where the literal alone is ambiguous.
func FormatCell(c model.Cell) string {
	if r, ok := isa.RegisterNo(c); ok {
		return "r" + strconv.Itoa(int(r))
	}
	switch c.Kind {
	case model.KindNull:
		return "null"
	case model.KindBool:
		return strconv.FormatBool(c.Bool())
	case model.KindByte:
		return strconv.FormatInt(c.I, 10) + "b"
	case model.KindInt:
		return strconv.FormatInt(c.I, 10)
	case model.KindInt64:
		return strconv.FormatInt(c.I, 10) + "L"
	case model.KindFloat:
		return strconv.FormatFloat(c.F, 'g', -1, 32) + "f"
	case model.KindDouble:
		return strconv.FormatFloat(c.F, 'g', -1, 64) + "d"
	case model.KindExtended:
		return strconv.FormatFloat(c.F, 'g', -1, 64) + "x"
	case model.KindString:
		return strconv.Quote(c.S)
	default:
		return fmt.Sprintf("0x%08x", c.U)
	}
}

func formatKinds(kinds []model.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
