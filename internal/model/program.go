package model

import (
	"errors"
	"fmt"
)

var (
	ErrBlockIndex   = errors.New("block index out of range")
	ErrMainBlock    = errors.New("main block cannot be erased")
	ErrEmptyProgram = errors.New("program has no main block")
)

func (p *Program) BlockCount() int {
	return len(p.Blocks)
}

func (p *Program) Block(i int) (*Block, error) {
	if i < 0 || i >= len(p.Blocks) {
		return nil, fmt.Errorf("%w: %d", ErrBlockIndex, i)
	}
	return &p.Blocks[i], nil
}

// SetBlock replaces the code of block i by value.
func (p *Program) SetBlock(i int, code []Cell) error {
	if i < 0 || i >= len(p.Blocks) {
		return fmt.Errorf("%w: %d", ErrBlockIndex, i)
	}
	p.Blocks[i].Code = append([]Cell(nil), code...)
	return nil
}

// AddBlock appends a block and returns its index.
func (p *Program) AddBlock(b Block) int {
	p.Blocks = append(p.Blocks, CloneBlock(b))
	return len(p.Blocks) - 1
}

func (p *Program) EraseBlock(i int) error {
	if i == 0 {
		return ErrMainBlock
	}
	if i < 0 || i >= len(p.Blocks) {
		return fmt.Errorf("%w: %d", ErrBlockIndex, i)
	}
	p.Blocks = append(p.Blocks[:i], p.Blocks[i+1:]...)
	return nil
}

func CloneBlock(b Block) Block {
	out := b
	out.Meta.Inputs = append([]Kind(nil), b.Meta.Inputs...)
	out.Code = append([]Cell(nil), b.Code...)
	return out
}

func CloneProgram(p Program) Program {
	out := Program{Blocks: make([]Block, len(p.Blocks))}
	for i, b := range p.Blocks {
		out.Blocks[i] = CloneBlock(b)
	}
	return out
}

func CloneGenome(g *Genome) *Genome {
	if g == nil {
		return nil
	}
	out := *g
	if g.Info != nil {
		out.Info = append([]Cell(nil), g.Info...)
	}
	out.Program = CloneProgram(g.Program)
	return &out
}

func (g *Genome) HasInfo() bool {
	return len(g.Info) > 0
}

// InfoValue returns the evolved scalar p when the info block carries it.
func (g *Genome) InfoValue(p InfoParam) (float64, bool) {
	if p < 0 || int(p) >= len(g.Info) {
		return 0, false
	}
	c := g.Info[p]
	if !c.Kind.IsNumeric() && c.Kind != KindBool {
		return 0, false
	}
	return c.Float64(), true
}

func (g *Genome) SetInfoValue(p InfoParam, v float64) bool {
	if p < 0 || int(p) >= len(g.Info) {
		return false
	}
	g.Info[p] = DoubleCell(v)
	return true
}

// CellCount totals cells across the info block and every program block.
func (g *Genome) CellCount() int {
	n := len(g.Info)
	for _, b := range g.Program.Blocks {
		n += len(b.Code)
	}
	return n
}
