package isa

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"regevo/internal/model"
)

var (
	ErrOpcodeExists  = errors.New("opcode already registered")
	ErrUnknownOpcode = errors.New("opcode not found")
	ErrArityMismatch = errors.New("argument count outside opcode arity")
	ErrNotAnOpcode   = errors.New("cell is not an opcode")
)

// Registry is the read-only opcode table consulted by mutation and crossover.
// It is built once and never changes afterwards.
type Registry struct {
	byCode    map[Opcode]Descriptor
	byName    map[string]Opcode
	order     []Opcode
	supported TypeMask
}

// NewRegistry validates and indexes the given descriptors.
func NewRegistry(supported TypeMask, entries ...Descriptor) (*Registry, error) {
	if supported == 0 {
		supported = TypeAny
	}
	r := &Registry{
		byCode:    make(map[Opcode]Descriptor, len(entries)),
		byName:    make(map[string]Opcode, len(entries)),
		order:     make([]Opcode, 0, len(entries)),
		supported: supported,
	}
	for _, d := range entries {
		if d.Name == "" {
			return nil, fmt.Errorf("opcode %d: name is required", d.Code)
		}
		if d.Code > MaxOpcode {
			return nil, fmt.Errorf("opcode %s: code %d exceeds %d", d.Name, d.Code, MaxOpcode)
		}
		if d.MinArgs < 0 || d.MinArgs > d.MaxArgs || d.MaxArgs > MaxArgCount {
			return nil, fmt.Errorf("opcode %s: invalid arity [%d,%d]", d.Name, d.MinArgs, d.MaxArgs)
		}
		if _, exists := r.byCode[d.Code]; exists {
			return nil, fmt.Errorf("%w: %d", ErrOpcodeExists, d.Code)
		}
		if _, exists := r.byName[d.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrOpcodeExists, d.Name)
		}
		d.Args = append([]ArgSpec(nil), d.Args...)
		d.JumpArgs = append([]int(nil), d.JumpArgs...)
		r.byCode[d.Code] = d
		r.byName[d.Name] = d.Code
		r.order = append(r.order, d.Code)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r, nil
}

func MustRegistry(supported TypeMask, entries ...Descriptor) *Registry {
	r, err := NewRegistry(supported, entries...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Resolve(op Opcode) (Descriptor, error) {
	d, ok := r.byCode[op]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, op)
	}
	return d, nil
}

func (r *Registry) Lookup(name string) (Opcode, bool) {
	op, ok := r.byName[name]
	return op, ok
}

// Name returns the registered name of op, or a numeric placeholder.
func (r *Registry) Name(op Opcode) string {
	if d, ok := r.byCode[op]; ok {
		return d.Name
	}
	return fmt.Sprintf("op#%d", op)
}

// Opcodes lists every registered opcode in ascending order.
func (r *Registry) Opcodes() []Opcode {
	return append([]Opcode(nil), r.order...)
}

// Supported is the global set of value kinds constants may take.
func (r *Registry) Supported() TypeMask {
	return r.supported
}

// ResolveCell decodes an opcode cell and checks its argument count against
// the registry.
func (r *Registry) ResolveCell(c model.Cell) (Descriptor, int, error) {
	op, argc, ok := DecodeInstr(c)
	if !ok {
		return Descriptor{}, 0, ErrNotAnOpcode
	}
	d, err := r.Resolve(op)
	if err != nil {
		return Descriptor{}, argc, err
	}
	if !d.AcceptsArgCount(argc) {
		return Descriptor{}, argc, fmt.Errorf("%w: %s argc=%d want [%d,%d]", ErrArityMismatch, d.Name, argc, d.MinArgs, d.MaxArgs)
	}
	return d, argc, nil
}

// Mutable lists every non-data opcode. Data payloads are never
// synthesized by mutation.
func (r *Registry) Mutable() []Opcode {
	out := make([]Opcode, 0, len(r.order))
	for _, op := range r.order {
		if !r.byCode[op].Data {
			out = append(out, op)
		}
	}
	return out
}

// CallOpcode returns the first dynamic-argument opcode, used for subroutine calls.
func (r *Registry) CallOpcode() (Opcode, bool) {
	for _, op := range r.order {
		if r.byCode[op].DynamicArgs {
			return op, true
		}
	}
	return 0, false
}

const (
	OpMov Opcode = iota + 1
	OpAddInt
	OpSubInt
	OpMulInt
	OpDivInt
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpAbs
	OpSign
	OpSin
	OpCos
	OpExp
	OpLog
	OpSqrt
	OpMin
	OpMax
	OpCast
	OpConcat
	OpLen
	OpNot
	OpLess
	OpSelect
	OpJmpIf
	OpData
	OpCall
)

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the symbolic-regression instruction set.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = MustRegistry(TypeAny, defaultDescriptors()...)
	})
	return defaultRegistry
}

func argIn(kind ArgKind, types TypeMask) ArgSpec {
	return ArgSpec{IO: IOIn, Kind: kind, Types: types}
}

func argOut(types TypeMask) ArgSpec {
	return ArgSpec{IO: IOOut, Kind: ArgRegister, Types: types}
}

func fixed(code Opcode, name string, args ...ArgSpec) Descriptor {
	return Descriptor{Code: code, Name: name, MinArgs: len(args), MaxArgs: len(args), Args: args}
}

func defaultDescriptors() []Descriptor {
	intBinary := func(code Opcode, name string) Descriptor {
		return fixed(code, name, argIn(ArgEither, TypeIntegers), argIn(ArgEither, TypeIntegers), argOut(TypeNumeric))
	}
	floatBinary := func(code Opcode, name string) Descriptor {
		return fixed(code, name, argIn(ArgEither, TypeNumeric), argIn(ArgEither, TypeNumeric), argOut(TypeFloats))
	}
	floatUnary := func(code Opcode, name string) Descriptor {
		return fixed(code, name, argIn(ArgRegister, TypeNumeric), argOut(TypeFloats))
	}
	return []Descriptor{
		fixed(OpMov, "MOV", argIn(ArgEither, TypeAny), argOut(TypeAny)),
		intBinary(OpAddInt, "ADD_INT"),
		intBinary(OpSubInt, "SUB_INT"),
		intBinary(OpMulInt, "MUL_INT"),
		intBinary(OpDivInt, "DIV_INT"),
		floatBinary(OpAdd, "ADD"),
		floatBinary(OpSub, "SUB"),
		floatBinary(OpMul, "MUL"),
		floatBinary(OpDiv, "DIV"),
		fixed(OpNeg, "NEG", argIn(ArgRegister, TypeNumeric), argOut(TypeNumeric)),
		fixed(OpAbs, "ABS", argIn(ArgRegister, TypeNumeric), argOut(TypeNumeric)),
		fixed(OpSign, "SIGN", argIn(ArgRegister, TypeNumeric), argOut(TypeNumeric)),
		floatUnary(OpSin, "SIN"),
		floatUnary(OpCos, "COS"),
		floatUnary(OpExp, "EXP"),
		floatUnary(OpLog, "LOG"),
		floatUnary(OpSqrt, "SQRT"),
		fixed(OpMin, "MIN", argIn(ArgEither, TypeNumeric), argIn(ArgEither, TypeNumeric), argOut(TypeNumeric)),
		fixed(OpMax, "MAX", argIn(ArgEither, TypeNumeric), argIn(ArgEither, TypeNumeric), argOut(TypeNumeric)),
		fixed(OpCast, "CAST", argIn(ArgRegister, TypeAny), argOut(TypeAny)),
		fixed(OpConcat, "CONCAT", argIn(ArgEither, TypeAny), argIn(ArgEither, TypeString), argOut(TypeString)),
		fixed(OpLen, "LEN", argIn(ArgRegister, TypeString), argOut(TypeIntegers)),
		fixed(OpNot, "NOT", argIn(ArgRegister, TypeBool|TypeIntegers), argOut(TypeBool|TypeIntegers)),
		fixed(OpLess, "LESS", argIn(ArgEither, TypeNumeric), argIn(ArgEither, TypeNumeric), argOut(TypeBool)),
		fixed(OpSelect, "SELECT", argIn(ArgRegister, TypeBool), argIn(ArgEither, TypeAny), argIn(ArgEither, TypeAny), argOut(TypeAny)),
		{
			Code: OpJmpIf, Name: "JMP_IF", MinArgs: 2, MaxArgs: 2,
			Args:     []ArgSpec{argIn(ArgRegister, TypeBool), argIn(ArgConstant, TypeInt)},
			Jump:     true,
			JumpArgs: []int{1},
		},
		{
			Code: OpData, Name: "DATA", MinArgs: 0, MaxArgs: 32,
			Args:       []ArgSpec{argIn(ArgConstant, TypeAny)},
			Data:       true,
			Strippable: true,
		},
		{
			Code: OpCall, Name: "CALL", MinArgs: 2, MaxArgs: 2 + 8,
			DynamicArgs: true,
		},
	}
}
