package evo

import (
	"regevo/internal/analyzer"
	"regevo/internal/model"
)

// callSite is one call instruction inside a program.
type callSite struct {
	block int
	instr analyzer.Instr
}

// callSites lists every call instruction targeting callee, or every call when
// callee is negative. Sites are ordered by block, then offset.
func (m *Mutator) callSites(prog *model.Program, callee int) []callSite {
	var out []callSite
	for bi, b := range prog.Blocks {
		l := analyzer.Analyze(b.Code, m.cfg.Registry, analyzer.AreaFactors{})
		for _, ins := range l.Instrs {
			if !ins.Known || !ins.Desc.DynamicArgs {
				continue
			}
			c, ok := calleeOf(prog, b.Code, ins)
			if !ok {
				continue
			}
			if callee < 0 || c == callee {
				out = append(out, callSite{block: bi, instr: ins})
			}
		}
	}
	return out
}

// retarget rewrites the callee constant of every call through fn.
// Targets are not range checked, so it is safe while the block list shifts.
func (m *Mutator) retarget(prog *model.Program, fn func(int) int) {
	for _, b := range prog.Blocks {
		l := analyzer.Analyze(b.Code, m.cfg.Registry, analyzer.AreaFactors{})
		for _, ins := range l.Instrs {
			if !ins.Known || !ins.Desc.DynamicArgs || ins.Argc < 1 {
				continue
			}
			off := ins.Offset + 1
			if b.Code[off].Kind != model.KindInt {
				continue
			}
			b.Code[off] = model.IntCell(int32(fn(int(b.Code[off].I))))
		}
	}
}

// insertBlock places b at index at and shifts later blocks, keeping every
// existing call pointed at the same routine.
func (m *Mutator) insertBlock(prog *model.Program, at int, b model.Block) {
	m.retarget(prog, func(c int) int {
		if c >= at {
			return c + 1
		}
		return c
	})
	blocks := make([]model.Block, 0, len(prog.Blocks)+1)
	blocks = append(blocks, prog.Blocks[:at]...)
	blocks = append(blocks, model.CloneBlock(b))
	prog.Blocks = append(blocks, prog.Blocks[at:]...)
}

// removeBlock erases block idx. Calls to it must already be gone.
func (m *Mutator) removeBlock(prog *model.Program, idx int) error {
	if err := prog.EraseBlock(idx); err != nil {
		return err
	}
	// EraseBlock shifted the slice; calls to later blocks still carry old ids.
	m.retarget(prog, func(c int) int {
		if c > idx {
			return c - 1
		}
		return c
	})
	return nil
}

func (m *Mutator) blockLimitReached(prog *model.Program) bool {
	return m.cfg.MaxBlocks > 0 && len(prog.Blocks) >= m.cfg.MaxBlocks
}
