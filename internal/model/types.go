package model

import (
	"encoding/binary"
	"math"
	"strconv"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" cbor:"1,keyasint"`
	CodecVersion  int `json:"codec_version" cbor:"2,keyasint"`
}

// Kind tags the value carried by a Cell.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindByte
	KindInt
	KindInt64
	KindFloat
	KindDouble
	KindExtended
	KindString
	// KindUint carries opcode cells and register references. Constants never use it.
	KindUint
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindByte:     "byte",
	KindInt:      "int",
	KindInt64:    "int64",
	KindFloat:    "float",
	KindDouble:   "double",
	KindExtended: "extended",
	KindString:   "string",
	KindUint:     "uint",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// ParseKind maps a kind name back to its tag.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// ValueKinds lists the constant kinds in their total type order.
var ValueKinds = []Kind{KindNull, KindBool, KindByte, KindInt, KindInt64, KindFloat, KindDouble, KindExtended, KindString}

func (k Kind) IsInteger() bool {
	return k == KindByte || k == KindInt || k == KindInt64
}

func (k Kind) IsFloating() bool {
	return k == KindFloat || k == KindDouble || k == KindExtended
}

func (k Kind) IsNumeric() bool {
	return k.IsInteger() || k.IsFloating()
}

// Cell is one genome slot. Integer kinds (bool, byte, int, int64) live in I,
// floating kinds in F, strings in S and opcode/register cells in U.
type Cell struct {
	Kind Kind    `json:"k" cbor:"1,keyasint"`
	I    int64   `json:"i,omitempty" cbor:"2,keyasint,omitempty"`
	U    uint32  `json:"u,omitempty" cbor:"3,keyasint,omitempty"`
	F    float64 `json:"f,omitempty" cbor:"4,keyasint,omitempty"`
	S    string  `json:"s,omitempty" cbor:"5,keyasint,omitempty"`
}

func NullCell() Cell { return Cell{Kind: KindNull} }

func BoolCell(v bool) Cell {
	if v {
		return Cell{Kind: KindBool, I: 1}
	}
	return Cell{Kind: KindBool}
}

func ByteCell(v uint8) Cell { return Cell{Kind: KindByte, I: int64(v)} }
func IntCell(v int32) Cell { return Cell{Kind: KindInt, I: int64(v)} }
func Int64Cell(v int64) Cell { return Cell{Kind: KindInt64, I: v} }
func FloatCell(v float32) Cell { return Cell{Kind: KindFloat, F: float64(v)} }
func DoubleCell(v float64) Cell { return Cell{Kind: KindDouble, F: v} }
func ExtendedCell(v float64) Cell { return Cell{Kind: KindExtended, F: v} }
func StringCell(v string) Cell { return Cell{Kind: KindString, S: v} }
func UintCell(v uint32) Cell { return Cell{Kind: KindUint, U: v} }
func (c Cell) Bool() bool { return c.I != 0 }
func (c Cell) IsCode() bool { return c.Kind == KindUint }
func (c Cell) Equal(o Cell) bool { return c == o || (c.Kind == o.Kind && c.Kind.IsFloating() && sameFloat(c.F, o.F)) }
func sameFloat(a, b float64) bool { return math.IsNaN(a) && math.IsNaN(b) }

// Float64 returns the numeric view of the cell. Strings report their length.
func (c Cell) Float64() float64 {
	switch {
	case c.Kind.IsFloating():
		return c.F
	case c.Kind == KindString:
		return float64(len(c.S))
	case c.Kind == KindUint:
		return float64(c.U)
	default:
		return float64(c.I)
	}
}

// Int64 returns the integer view of the cell, truncating floating values.
func (c Cell) Int64() int64 {
	switch {
	case c.Kind.IsFloating():
		if math.IsNaN(c.F) {
			return 0
		}
		if c.F >= math.MaxInt64 {
			return math.MaxInt64
		}
		if c.F <= math.MinInt64 {
			return math.MinInt64
		}
		return int64(c.F)
	case c.Kind == KindString:
		return int64(len(c.S))
	case c.Kind == KindUint:
		return int64(c.U)
	default:
		return c.I
	}
}

// AppendBinary appends a canonical byte form of the cell. Equal cells produce
// equal bytes.
func (c Cell) AppendBinary(buf []byte) []byte {
	buf = append(buf, byte(c.Kind))
	switch {
	case c.Kind == KindUint:
		buf = binary.LittleEndian.AppendUint32(buf, c.U)
	case c.Kind.IsFloating():
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.F))
	case c.Kind == KindString:
		buf = binary.AppendUvarint(buf, uint64(len(c.S)))
		buf = append(buf, c.S...)
	case c.Kind != KindNull:
		buf = binary.AppendVarint(buf, c.I)
	}
	return buf
}

// BlockMeta is the declared signature of a block.
type BlockMeta struct {
	Inputs []Kind `json:"inputs" cbor:"1,keyasint"`
	Output Kind   `json:"output" cbor:"2,keyasint"`
}

type Block struct {
	Meta BlockMeta `json:"meta" cbor:"1,keyasint"`
	Code []Cell    `json:"code" cbor:"2,keyasint"`
}

// Program is an ordered list of blocks. Block 0 is main.
type Program struct {
	Blocks []Block `json:"blocks" cbor:"1,keyasint"`
}

// InfoParam indexes evolved scalars stored in the info block.
type InfoParam int

const (
	InfoIslandID InfoParam = iota
	InfoMutationRate
	InfoCrossoverRate
	InfoCrossoverMaxDiff
	InfoValueStepExp
	InfoChangeCenter
	InfoPoolGlobal
	InfoPoolValue
	InfoPoolRegNo
	InfoPoolInstr
	InfoPoolMacro
	InfoParamCount
)

var infoParamNames = [InfoParamCount]string{
	InfoIslandID:         "island_id",
	InfoMutationRate:     "mutation_rate",
	InfoCrossoverRate:    "crossover_rate",
	InfoCrossoverMaxDiff: "crossover_max_diff",
	InfoValueStepExp:     "value_step_exp",
	InfoChangeCenter:     "change_center",
	InfoPoolGlobal:       "pool_global",
	InfoPoolValue:        "pool_value",
	InfoPoolRegNo:        "pool_regno",
	InfoPoolInstr:        "pool_instr",
	InfoPoolMacro:        "pool_macro",
}

func (p InfoParam) String() string {
	if p >= 0 && p < InfoParamCount {
		return infoParamNames[p]
	}
	return "info_" + strconv.Itoa(int(p))
}

// Genome is the editable representation of one entity.
type Genome struct {
	VersionedRecord
	ID      string  `json:"id" cbor:"3,keyasint"`
	Info    []Cell  `json:"info,omitempty" cbor:"4,keyasint,omitempty"`
	Program Program `json:"program" cbor:"5,keyasint"`
}

type Population struct {
	VersionedRecord
	ID         string    `json:"id" cbor:"3,keyasint"`
	RunID      string    `json:"run_id" cbor:"4,keyasint"`
	Generation int       `json:"generation" cbor:"5,keyasint"`
	Genomes    []*Genome `json:"genomes" cbor:"6,keyasint"`
}

// RunSummary is the persisted header of one evolution run.
type RunSummary struct {
	VersionedRecord
	RunID       string `json:"run_id" cbor:"3,keyasint"`
	Generations int    `json:"generations" cbor:"4,keyasint"`
	Population  int    `json:"population" cbor:"5,keyasint"`
	Seed        int64  `json:"seed" cbor:"6,keyasint"`
}

// CounterRow is one diagnostic counter value.
type CounterRow struct {
	Name  string  `json:"name" cbor:"1,keyasint"`
	Value float64 `json:"value" cbor:"2,keyasint"`
}
