package evo

import (
	"math"
	"math/rand"
	"strconv"

	"golang.org/x/exp/constraints"

	"regevo/internal/model"
)

// nudgeInt perturbs v by a step indexed by a random bit. Larger stepExp
// favours low bits. The top bit of a signed value flips its sign instead.
func nudgeInt[T constraints.Integer](rng *rand.Rand, v T, bits int, signed bool, stepExp float64) T {
	bit := int(float64(bits) * math.Pow(rng.Float64(), stepExp))
	if bit >= bits {
		bit = bits - 1
	}
	if signed && bit == bits-1 {
		return flipSign(v)
	}
	delta := T(1) << bit
	var out T
	switch rng.Intn(5) {
	case 0:
		out = v + delta
	case 1:
		out = v - delta
	case 2:
		out = v * 2
	case 3:
		out = v / 2
	default:
		out = v ^ delta
	}
	if out == v {
		out = v + delta
	}
	return out
}

// flipSign negates v. Zero becomes one and the minimum value steps up by one.
func flipSign[T constraints.Integer](v T) T {
	if v == 0 {
		return 1
	}
	if n := -v; n != v {
		return n
	}
	return v + 1
}

// perturbFloat adds a gaussian step proportional to |v|, floored so zero can
// still move.
func perturbFloat(rng *rand.Rand, v, stepExp float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scale := math.Max(math.Abs(v), 1e-3)
	out := v + rng.NormFloat64()*scale*math.Pow(rng.Float64(), stepExp)
	if out == v {
		out = math.Nextafter(v, math.Inf(1))
	}
	return out
}

// numericView reads c as a number. Strings try a float parse, then an
// integer parse (which also takes prefixed forms like 0x10), and finally
// fall back to their length.
func numericView(c model.Cell) (float64, int64) {
	if c.Kind != model.KindString {
		return c.Float64(), c.Int64()
	}
	if f, err := strconv.ParseFloat(c.S, 64); err == nil {
		return f, model.DoubleCell(f).Int64()
	}
	if i, err := strconv.ParseInt(c.S, 0, 64); err == nil {
		return float64(i), i
	}
	return float64(len(c.S)), int64(len(c.S))
}

// convertCell re-encodes c as kind to, keeping the numeric value where the
// target can represent it.
func convertCell(c model.Cell, to model.Kind) model.Cell {
	if c.Kind == to {
		return c
	}
	f, i := numericView(c)
	switch to {
	case model.KindNull:
		return model.NullCell()
	case model.KindBool:
		return model.BoolCell(f != 0)
	case model.KindByte:
		return model.ByteCell(uint8(clamp(i, 0, math.MaxUint8)))
	case model.KindInt:
		return model.IntCell(int32(clamp(i, math.MinInt32, math.MaxInt32)))
	case model.KindInt64:
		return model.Int64Cell(i)
	case model.KindFloat:
		return model.FloatCell(float32(f))
	case model.KindDouble:
		if c.Kind.IsInteger() || c.Kind == model.KindBool {
			return model.DoubleCell(float64(i))
		}
		return model.DoubleCell(f)
	case model.KindExtended:
		return model.ExtendedCell(f)
	case model.KindString:
		return model.StringCell(formatCell(c))
	default:
		return c
	}
}

func formatCell(c model.Cell) string {
	switch {
	case c.Kind == model.KindNull:
		return ""
	case c.Kind == model.KindBool:
		return strconv.FormatBool(c.Bool())
	case c.Kind.IsInteger():
		return strconv.FormatInt(c.I, 10)
	case c.Kind == model.KindFloat:
		return strconv.FormatFloat(c.F, 'g', -1, 32)
	case c.Kind.IsFloating():
		return strconv.FormatFloat(c.F, 'g', -1, 64)
	default:
		return c.S
	}
}

// perturbCell applies the kind specific value edit.
func (m *Mutator) perturbCell(c model.Cell, stepExp float64) (model.Cell, error) {
	switch c.Kind {
	case model.KindBool:
		return model.BoolCell(!c.Bool()), nil
	case model.KindByte:
		return model.ByteCell(nudgeInt(m.rng, uint8(c.I), 8, false, stepExp)), nil
	case model.KindInt:
		return model.IntCell(nudgeInt(m.rng, int32(c.I), 32, true, stepExp)), nil
	case model.KindInt64:
		return model.Int64Cell(nudgeInt(m.rng, c.I, 64, true, stepExp)), nil
	case model.KindFloat:
		out := float32(perturbFloat(m.rng, c.F, stepExp))
		if float64(out) == c.F {
			out = math.Nextafter32(out, float32(math.Inf(1)))
		}
		return model.FloatCell(out), nil
	case model.KindDouble:
		return model.DoubleCell(perturbFloat(m.rng, c.F, stepExp)), nil
	case model.KindExtended:
		return model.ExtendedCell(perturbFloat(m.rng, c.F, stepExp)), nil
	case model.KindString:
		return model.StringCell(m.mutateString(c.S)), nil
	default:
		return c, ErrNoMutationChoice
	}
}

// mutateString replaces one random character, seeding one when s is empty.
func (m *Mutator) mutateString(s string) string {
	if s == "" {
		return m.proc.RandomString(1)
	}
	b := []byte(s)
	i := m.rng.Intn(len(b))
	old := b[i]
	for tries := 0; tries < 8 && b[i] == old; tries++ {
		b[i] = m.proc.RandomString(1)[0]
	}
	if b[i] == old {
		b[i] = old + 1
	}
	return string(b)
}

// negateCell flips the sign of numeric values and the truth of booleans.
// Zero maps to positive one.
func negateCell(c model.Cell) (model.Cell, error) {
	switch c.Kind {
	case model.KindBool:
		return model.BoolCell(!c.Bool()), nil
	case model.KindByte:
		return model.ByteCell(flipSign(uint8(c.I))), nil
	case model.KindInt:
		return model.IntCell(flipSign(int32(c.I))), nil
	case model.KindInt64:
		return model.Int64Cell(flipSign(c.I)), nil
	case model.KindFloat, model.KindDouble, model.KindExtended:
		v := -c.F
		if c.F == 0 || math.IsNaN(c.F) {
			v = 1
		}
		out := c
		out.F = v
		return out, nil
	default:
		return c, ErrNoMutationChoice
	}
}
