// Package codeproc synthesizes random valid instructions and provides the
// register, selection and similarity helpers shared by mutation and
// crossover.
package codeproc

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/vm"
)

const (
	// MaxSynthAttempts caps instruction synthesis retries for one point.
	MaxSynthAttempts = 16
	// DefaultRegisterProb is the base probability that an input position
	// draws a register instead of a constant.
	DefaultRegisterProb = 0.5
)

var (
	ErrSynthesisFailed = errors.New("instruction synthesis failed")
	ErrEmptyCandidates = errors.New("empty register candidate set")
	ErrNoCallee        = errors.New("no eligible callee block")
	ErrUnrepairable    = errors.New("undefined register read cannot be rebound")
)

type Processor struct {
	Registry     *isa.Registry
	Layout       vm.Layout
	Rand         *rand.Rand
	RegisterProb float64
}

func New(reg *isa.Registry, layout vm.Layout, rng *rand.Rand) *Processor {
	return &Processor{Registry: reg, Layout: layout, Rand: rng, RegisterProb: DefaultRegisterProb}
}

// InstrRequest constrains one synthesized instruction.
type InstrRequest struct {
	Opcodes []isa.Opcode
	// Weights is parallel to Opcodes. Empty means uniform.
	Weights []float64
	Written vm.RegSet
	// OutTypes restricts the type written by the instruction. Zero means any.
	OutTypes isa.TypeMask
	// ConstKinds restricts constant kinds. Zero means the registry default.
	ConstKinds isa.TypeMask
	// ForceOutput pins the output register when set.
	ForceOutput *isa.Reg
	// RequireOutput rejects opcodes without a writing position.
	RequireOutput bool
	Program       *model.Program
	Block         int
	Meta          model.BlockMeta
}

// BuildRandomInstr synthesizes one instruction: the opcode cell followed by
// its arguments. Input registers are only drawn from req.Written.
func (p *Processor) BuildRandomInstr(req InstrRequest) ([]model.Cell, error) {
	if len(req.Opcodes) == 0 {
		return nil, fmt.Errorf("%w: empty opcode pool", ErrSynthesisFailed)
	}
	written := req.Written
	if written == nil {
		written = vm.NewRegSet()
	}
	var lastErr error
	for attempt := 0; attempt < MaxSynthAttempts; attempt++ {
		op := req.Opcodes[p.pickOpcode(req)]
		d, err := p.Registry.Resolve(op)
		if err != nil {
			lastErr = err
			continue
		}
		if d.Data {
			continue
		}
		var cells []model.Cell
		if d.DynamicArgs {
			cells, err = p.buildCall(req, d, written)
		} else {
			cells, err = p.buildFixed(req, d, written)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return cells, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, lastErr)
	}
	return nil, ErrSynthesisFailed
}

func (p *Processor) pickOpcode(req InstrRequest) int {
	if len(req.Weights) == len(req.Opcodes) {
		return SelectProbItem(p.Rand, req.Weights)
	}
	return p.Rand.Intn(len(req.Opcodes))
}

func (p *Processor) buildFixed(req InstrRequest, d isa.Descriptor, written vm.RegSet) ([]model.Cell, error) {
	argc := d.MinArgs
	if d.MaxArgs > d.MinArgs {
		argc += p.Rand.Intn(d.MaxArgs - d.MinArgs + 1)
	}
	outPos := d.OutputArg(argc)
	if req.RequireOutput && outPos < 0 {
		return nil, fmt.Errorf("%s has no output", d.Name)
	}
	if req.OutTypes != 0 && outPos >= 0 && d.ArgAt(outPos, argc).Types&req.OutTypes == 0 {
		return nil, fmt.Errorf("%s output type mismatch", d.Name)
	}
	cells := make([]model.Cell, 0, argc+1)
	cells = append(cells, isa.EncodeInstr(d.Code, argc))
	for i := 0; i < argc; i++ {
		spec := d.ArgAt(i, argc)
		var (
			c   model.Cell
			err error
		)
		switch {
		case spec.IO.Writes():
			c, err = p.outputArg(req, spec, written)
		case d.IsJumpArg(i):
			c = model.IntCell(int32(1 + p.Rand.Intn(3)))
		default:
			c, err = p.inputArg(req, spec, written)
		}
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

func (p *Processor) outputArg(req InstrRequest, spec isa.ArgSpec, written vm.RegSet) (model.Cell, error) {
	mask := spec.Types
	if req.OutTypes != 0 {
		mask &= req.OutTypes
	}
	cands := p.PrepareRegisterSet(req.Meta, mask, spec.IO)
	if spec.IO.Reads() {
		cands = written.Filter(cands)
	}
	if req.ForceOutput != nil {
		for _, r := range cands {
			if r == *req.ForceOutput {
				return isa.BuildRegisterArg(r), nil
			}
		}
		return model.Cell{}, fmt.Errorf("%w: forced output r%d", ErrEmptyCandidates, *req.ForceOutput)
	}
	return p.RandomRegNoAsValue(cands)
}

func (p *Processor) inputArg(req InstrRequest, spec isa.ArgSpec, written vm.RegSet) (model.Cell, error) {
	useReg := spec.Kind == isa.ArgRegister ||
		(spec.Kind.AllowsRegister() && p.Rand.Float64() < p.RegisterProb)
	if useReg {
		cands := written.Filter(p.PrepareRegisterSet(req.Meta, spec.Types, isa.IOIn))
		if len(cands) > 0 {
			return isa.BuildRegisterArg(cands[p.Rand.Intn(len(cands))]), nil
		}
		if !spec.Kind.AllowsConstant() {
			return model.Cell{}, ErrEmptyCandidates
		}
	}
	return p.constantFor(spec.Types, req.ConstKinds)
}

func (p *Processor) constantFor(types, constKinds isa.TypeMask) (model.Cell, error) {
	mask := types & p.Registry.Supported()
	if constKinds != 0 {
		mask &= constKinds
	}
	kinds := mask.Kinds()
	if len(kinds) == 0 {
		return model.Cell{}, fmt.Errorf("no constant kind in %s", types)
	}
	return p.RandomConstant(kinds[p.Rand.Intn(len(kinds))]), nil
}

// EligibleCallees lists the blocks a call from block may target. Callees
// always have a higher index so the call graph stays acyclic.
func EligibleCallees(prog *model.Program, block int, maxArgs int) []int {
	if prog == nil {
		return nil
	}
	var out []int
	for i := block + 1; i < len(prog.Blocks); i++ {
		if i == 0 {
			continue
		}
		if len(prog.Blocks[i].Meta.Inputs)+2 > maxArgs {
			continue
		}
		out = append(out, i)
	}
	return out
}

func (p *Processor) buildCall(req InstrRequest, d isa.Descriptor, written vm.RegSet) ([]model.Cell, error) {
	callees := EligibleCallees(req.Program, req.Block, d.MaxArgs)
	if len(callees) == 0 {
		return nil, ErrNoCallee
	}
	callee := callees[p.Rand.Intn(len(callees))]
	return p.BuildCall(req, d, callee, written)
}

// BuildCall wires a call to callee using the callee's declared signature.
func (p *Processor) BuildCall(req InstrRequest, d isa.Descriptor, callee int, written vm.RegSet) ([]model.Cell, error) {
	meta := req.Program.Blocks[callee].Meta
	argc := len(meta.Inputs) + 2
	if !d.AcceptsArgCount(argc) {
		return nil, fmt.Errorf("%w: callee=%d argc=%d", isa.ErrArityMismatch, callee, argc)
	}
	cells := make([]model.Cell, 0, argc+1)
	cells = append(cells, isa.EncodeInstr(d.Code, argc), model.IntCell(int32(callee)))
	for _, k := range meta.Inputs {
		spec := isa.ArgSpec{IO: isa.IOIn, Kind: isa.ArgEither, Types: kindMask(k)}
		c, err := p.inputArg(req, spec, written)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	outSpec := isa.ArgSpec{IO: isa.IOOut, Kind: isa.ArgRegister, Types: kindMask(meta.Output)}
	c, err := p.outputArg(req, outSpec, written)
	if err != nil {
		return nil, err
	}
	return append(cells, c), nil
}

func kindMask(k model.Kind) isa.TypeMask {
	if k == model.KindNull {
		return isa.TypeAny
	}
	return isa.MaskOf(k)
}

// PrepareRegisterSet delegates to the register layout.
func (p *Processor) PrepareRegisterSet(meta model.BlockMeta, mask isa.TypeMask, io isa.IOMode) []isa.Reg {
	return p.Layout.PrepareRegisterSet(meta, mask, io)
}

func (p *Processor) RandomRegNo(cands []isa.Reg) (isa.Reg, error) {
	if len(cands) == 0 {
		return 0, ErrEmptyCandidates
	}
	return cands[p.Rand.Intn(len(cands))], nil
}

func (p *Processor) RandomRegNoAsValue(cands []isa.Reg) (model.Cell, error) {
	r, err := p.RandomRegNo(cands)
	if err != nil {
		return model.Cell{}, err
	}
	return isa.BuildRegisterArg(r), nil
}

// SelectProbItem draws an index proportionally to weights. Empty or all-zero
// weights yield index 0.
func SelectProbItem(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	r := rng.Float64() * total
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		r -= w
		if r < 0 {
			return i
		}
	}
	return last
}

// RandomConstant draws a constant of kind k from a tiered magnitude
// distribution: about half small, a third medium and the rest full range.
func (p *Processor) RandomConstant(k model.Kind) model.Cell {
	tier := p.Rand.Float64()
	small, medium := tier < 0.5, tier >= 0.5 && tier < 0.87
	switch k {
	case model.KindBool:
		return model.BoolCell(p.Rand.Intn(2) == 1)
	case model.KindByte:
		switch {
		case small:
			return model.ByteCell(uint8(p.Rand.Intn(3)))
		case medium:
			return model.ByteCell(uint8(p.Rand.Intn(11)))
		default:
			return model.ByteCell(uint8(p.Rand.Intn(256)))
		}
	case model.KindInt:
		switch {
		case small:
			return model.IntCell(int32(p.Rand.Intn(5) - 2))
		case medium:
			return model.IntCell(int32(p.Rand.Intn(21) - 10))
		default:
			return model.IntCell(int32(p.Rand.Uint32()))
		}
	case model.KindInt64:
		switch {
		case small:
			return model.Int64Cell(int64(p.Rand.Intn(5) - 2))
		case medium:
			return model.Int64Cell(int64(p.Rand.Intn(21) - 10))
		default:
			return model.Int64Cell(int64(p.Rand.Uint64()))
		}
	case model.KindFloat, model.KindDouble, model.KindExtended:
		var v float64
		switch {
		case small:
			v = p.Rand.Float64()*4 - 2
		case medium:
			v = p.Rand.Float64()*20 - 10
			if p.Rand.Float64() < 0.1 {
				v = math.Round(v)
			}
		default:
			maxExp := 256
			if k == model.KindFloat {
				maxExp = 64
			}
			v = math.Ldexp(1+p.Rand.Float64(), p.Rand.Intn(2*maxExp+1)-maxExp)
			if p.Rand.Intn(2) == 0 {
				v = -v
			}
		}
		switch k {
		case model.KindFloat:
			return model.FloatCell(float32(v))
		case model.KindExtended:
			return model.ExtendedCell(v)
		default:
			return model.DoubleCell(v)
		}
	case model.KindString:
		n := 1
		switch {
		case medium:
			n = 2 + p.Rand.Intn(3)
		case !small:
			n = 5 + p.Rand.Intn(8)
		}
		return model.StringCell(p.RandomString(n))
	default:
		return model.NullCell()
	}
}

const stringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 _-+*/."

func (p *Processor) RandomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = stringAlphabet[p.Rand.Intn(len(stringAlphabet))]
	}
	return string(b)
}

// RepairLiveness rebinds every register read that precedes a write of that
// register to an already written register of an admissible type, or to a
// constant when the position allows one.
func (p *Processor) RepairLiveness(code []model.Cell, meta model.BlockMeta) ([]model.Cell, error) {
	bad := analyzer.UndefinedReads(code, meta, p.Registry, p.Layout)
	if len(bad) == 0 {
		return code, nil
	}
	out := append([]model.Cell(nil), code...)
	for len(bad) > 0 {
		off := bad[0]
		l := analyzer.Analyze(out, p.Registry, analyzer.AreaFactors{})
		ins, _, ok := l.InstrAt(off)
		if !ok {
			return nil, ErrUnrepairable
		}
		spec := ins.Spec(off - ins.Offset - 1)
		written := analyzer.FindWrittenRegs(out, ins.Offset, meta, p.Registry, p.Layout)
		cands := written.Filter(p.PrepareRegisterSet(meta, spec.Types, isa.IOIn))
		switch {
		case len(cands) > 0:
			out[off] = isa.BuildRegisterArg(cands[p.Rand.Intn(len(cands))])
		case spec.Kind.AllowsConstant() && !spec.IO.Writes():
			c, err := p.constantFor(spec.Types, 0)
			if err != nil {
				return nil, ErrUnrepairable
			}
			out[off] = c
		default:
			return nil, ErrUnrepairable
		}
		next := analyzer.UndefinedReads(out, meta, p.Registry, p.Layout)
		if len(next) >= len(bad) && next[0] == off {
			return nil, ErrUnrepairable
		}
		bad = next
	}
	return out, nil
}
