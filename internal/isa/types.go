package isa

import (
	"strings"

	"regevo/internal/model"
)

// TypeMask is a set of value kinds accepted at an argument position.
type TypeMask uint16

const (
	TypeNull     TypeMask = 1 << model.KindNull
	TypeBool     TypeMask = 1 << model.KindBool
	TypeByte     TypeMask = 1 << model.KindByte
	TypeInt      TypeMask = 1 << model.KindInt
	TypeInt64    TypeMask = 1 << model.KindInt64
	TypeFloat    TypeMask = 1 << model.KindFloat
	TypeDouble   TypeMask = 1 << model.KindDouble
	TypeExtended TypeMask = 1 << model.KindExtended
	TypeString   TypeMask = 1 << model.KindString

	TypeIntegers = TypeByte | TypeInt | TypeInt64
	TypeFloats   = TypeFloat | TypeDouble | TypeExtended
	TypeNumeric  = TypeIntegers | TypeFloats
	TypeAny      = TypeNull | TypeBool | TypeNumeric | TypeString
)

func MaskOf(k model.Kind) TypeMask {
	if k == model.KindUint {
		return 0
	}
	return 1 << k
}

func (m TypeMask) Has(k model.Kind) bool {
	return m&MaskOf(k) != 0
}

// Kinds expands the mask into value kinds in total type order.
func (m TypeMask) Kinds() []model.Kind {
	out := make([]model.Kind, 0, len(model.ValueKinds))
	for _, k := range model.ValueKinds {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func FromKinds(kinds ...model.Kind) TypeMask {
	var m TypeMask
	for _, k := range kinds {
		m |= MaskOf(k)
	}
	return m
}

func (m TypeMask) String() string {
	if m == TypeAny {
		return "any"
	}
	kinds := m.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}

// Up returns the nearest wider kind allowed by the mask.
func (m TypeMask) Up(k model.Kind) (model.Kind, bool) {
	for i := orderIndex(k) + 1; i < len(model.ValueKinds); i++ {
		if m.Has(model.ValueKinds[i]) {
			return model.ValueKinds[i], true
		}
	}
	return k, false
}

// Down returns the nearest narrower kind allowed by the mask.
func (m TypeMask) Down(k model.Kind) (model.Kind, bool) {
	for i := orderIndex(k) - 1; i >= 0; i-- {
		if m.Has(model.ValueKinds[i]) {
			return model.ValueKinds[i], true
		}
	}
	return k, false
}

func orderIndex(k model.Kind) int {
	for i, v := range model.ValueKinds {
		if v == k {
			return i
		}
	}
	return -1
}

type IOMode uint8

const (
	IOIn IOMode = 1 << iota
	IOOut
	IOBoth = IOIn | IOOut
)

func (m IOMode) Reads() bool  { return m&IOIn != 0 }
func (m IOMode) Writes() bool { return m&IOOut != 0 }

type ArgKind uint8

const (
	ArgRegister ArgKind = 1 << iota
	ArgConstant
	ArgEither = ArgRegister | ArgConstant
)

func (k ArgKind) AllowsRegister() bool { return k&ArgRegister != 0 }
func (k ArgKind) AllowsConstant() bool { return k&ArgConstant != 0 }

type ArgSpec struct {
	IO    IOMode
	Kind  ArgKind
	Types TypeMask
}

// Descriptor holds the argument metadata of one opcode.
type Descriptor struct {
	Code    Opcode
	Name    string
	MinArgs int
	MaxArgs int
	// Args lists per-position specs. Positions past the end reuse the last one.
	Args        []ArgSpec
	DynamicArgs bool
	Jump        bool
	JumpArgs    []int
	Strippable  bool
	// Data marks opcodes whose arguments are an opaque payload.
	Data bool
}

func (d Descriptor) Arg(i int) ArgSpec {
	if len(d.Args) == 0 {
		return ArgSpec{IO: IOIn, Kind: ArgConstant, Types: TypeAny}
	}
	if i >= len(d.Args) {
		return d.Args[len(d.Args)-1]
	}
	return d.Args[i]
}

func (d Descriptor) IsJumpArg(i int) bool {
	if !d.Jump {
		return false
	}
	for _, p := range d.JumpArgs {
		if p == i {
			return true
		}
	}
	return false
}

// AcceptsArgCount reports whether argc is within the declared arity range.
func (d Descriptor) AcceptsArgCount(argc int) bool {
	return argc >= d.MinArgs && argc <= d.MaxArgs
}

// OutputArg returns the first writing position, or -1.
func (d Descriptor) OutputArg(argc int) int {
	for i := 0; i < argc; i++ {
		if d.ArgAt(i, argc).IO.Writes() {
			return i
		}
	}
	return -1
}

// ArgAt resolves the spec of position i for an instruction with argc
// arguments. Dynamic-argument opcodes carry the callee block as a constant in
// position 0 and the result register last.
func (d Descriptor) ArgAt(i, argc int) ArgSpec {
	if !d.DynamicArgs {
		return d.Arg(i)
	}
	switch {
	case i == 0:
		return ArgSpec{IO: IOIn, Kind: ArgConstant, Types: TypeInt}
	case i == argc-1:
		return ArgSpec{IO: IOOut, Kind: ArgRegister, Types: TypeAny}
	default:
		return ArgSpec{IO: IOIn, Kind: ArgEither, Types: TypeAny}
	}
}
