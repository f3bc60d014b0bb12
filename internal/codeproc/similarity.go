package codeproc

import (
	"math"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/constraints"

	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
)

// InstrHash fingerprints one instruction span by its canonical bytes.
func InstrHash(code []model.Cell, ins analyzer.Instr) uint64 {
	end := ins.End()
	if end > len(code) {
		end = len(code)
	}
	buf := make([]byte, 0, 16*(end-ins.Offset))
	for _, c := range code[ins.Offset:end] {
		buf = c.AppendBinary(buf)
	}
	return xxhash.Sum64(buf)
}

// CalcDupsRatio returns duplicated instruction spans over total instructions,
// counting duplicates within each block of each genome.
func CalcDupsRatio(genomes []*model.Genome, reg *isa.Registry) float64 {
	total, dups := 0, 0
	for _, g := range genomes {
		if g == nil {
			continue
		}
		for _, b := range g.Program.Blocks {
			l := analyzer.Analyze(b.Code, reg, analyzer.AreaFactors{})
			seen := make(map[uint64]struct{}, len(l.Instrs))
			for _, ins := range l.Instrs {
				total++
				h := InstrHash(b.Code, ins)
				if _, ok := seen[h]; ok {
					dups++
					continue
				}
				seen[h] = struct{}{}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(dups) / float64(total)
}

const (
	blockCountWeight = 0.2
	geneWeight       = 0.8
)

// Difference measures how far apart two genomes are, from 0 (identical) to 1.
// Block counts contribute a fifth, aligned instruction genes the rest.
func Difference(a, b *model.Genome, reg *isa.Registry) float64 {
	na, nb := len(a.Program.Blocks), len(b.Program.Blocks)
	maxBlocks := max(na, nb)
	if maxBlocks == 0 {
		return 0
	}
	blockTerm := float64(abs(na-nb)) / float64(maxBlocks)

	geneCost, geneCount := 0.0, 0
	for i := 0; i < maxBlocks; i++ {
		var ca, cb []model.Cell
		if i < na {
			ca = a.Program.Blocks[i].Code
		}
		if i < nb {
			cb = b.Program.Blocks[i].Code
		}
		cost, n := BlockDifference(ca, cb, reg)
		geneCost += cost
		geneCount += n
	}
	geneTerm := 0.0
	if geneCount > 0 {
		geneTerm = geneCost / float64(geneCount)
	}
	return clamp01(blockCountWeight*blockTerm + geneWeight*geneTerm)
}

// BlockDifference aligns instructions by index and returns the summed gene
// cost along with the number of compared genes.
func BlockDifference(a, b []model.Cell, reg *isa.Registry) (float64, int) {
	la := analyzer.Analyze(a, reg, analyzer.AreaFactors{})
	lb := analyzer.Analyze(b, reg, analyzer.AreaFactors{})
	n := max(len(la.Instrs), len(lb.Instrs))
	cost, count := 0.0, 0
	for i := 0; i < n; i++ {
		if i >= len(la.Instrs) || i >= len(lb.Instrs) {
			// missing instruction: opcode plus every argument of the longer side
			var ins analyzer.Instr
			if i < len(la.Instrs) {
				ins = la.Instrs[i]
			} else {
				ins = lb.Instrs[i]
			}
			cost += float64(1 + ins.Argc)
			count += 1 + ins.Argc
			continue
		}
		ia, ib := la.Instrs[i], lb.Instrs[i]
		switch {
		case ia.Op != ib.Op:
			cost += 0.75
		case ia.Argc != ib.Argc:
			cost += 0.5
		}
		count++
		argc := max(ia.Argc, ib.Argc)
		for k := 0; k < argc; k++ {
			count++
			if k >= ia.Argc || k >= ib.Argc {
				cost++
				continue
			}
			cost += cellCost(a[ia.Offset+1+k], b[ib.Offset+1+k])
		}
	}
	return cost, count
}

func cellCost(x, y model.Cell) float64 {
	rx, okx := isa.RegisterNo(x)
	ry, oky := isa.RegisterNo(y)
	switch {
	case okx != oky:
		return 1
	case okx:
		if rx != ry {
			return 0.5
		}
		return 0
	case x.Kind != y.Kind:
		return 0.5
	case x.Equal(y):
		return 0
	case x.Kind.IsNumeric():
		fx, fy := x.Float64(), y.Float64()
		d := math.Abs(fx-fy) / (math.Abs(fx) + math.Abs(fy) + 1e-9)
		if math.IsNaN(d) {
			d = 1
		}
		return 0.5 * math.Min(1, d)
	default:
		return 0.5
	}
}

func clamp01[T constraints.Float](v T) T {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func abs[T constraints.Signed](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
