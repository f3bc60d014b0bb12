package genotype

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"

	"regevo/internal/analyzer"
	"regevo/internal/isa"
	"regevo/internal/model"
)

type ProgramSummary struct {
	Blocks             int            `json:"blocks"`
	Instructions       int            `json:"instructions"`
	Cells              int            `json:"cells"`
	Calls              int            `json:"calls"`
	Constants          int            `json:"constants"`
	RegisterRefs       int            `json:"register_refs"`
	InfoParams         int            `json:"info_params"`
	OpcodeDistribution map[string]int `json:"opcode_distribution"`
}

type GenomeSignature struct {
	Fingerprint string         `json:"fingerprint"`
	Summary     ProgramSummary `json:"summary"`
}

// ComputeGenomeSignature summarizes the program shape and fingerprints its
// canonical bytes. Info scalars do not contribute to the fingerprint.
func ComputeGenomeSignature(genome *model.Genome, reg *isa.Registry) GenomeSignature {
	summary := ProgramSummary{OpcodeDistribution: make(map[string]int)}
	if genome == nil {
		return GenomeSignature{Summary: summary}
	}
	summary.Blocks = len(genome.Program.Blocks)
	summary.InfoParams = len(genome.Info)

	var buf []byte
	for _, b := range genome.Program.Blocks {
		buf = append(buf, byte(len(b.Meta.Inputs)))
		for _, k := range b.Meta.Inputs {
			buf = append(buf, byte(k))
		}
		buf = append(buf, byte(b.Meta.Output))
		for _, c := range b.Code {
			buf = c.AppendBinary(buf)
		}
		buf = append(buf, 0xff)

		summary.Cells += len(b.Code)
		l := analyzer.Analyze(b.Code, reg, analyzer.AreaFactors{})
		summary.Instructions += l.InstrCount()
		for _, ins := range l.Instrs {
			if !ins.Known {
				summary.OpcodeDistribution["unknown"]++
				continue
			}
			summary.OpcodeDistribution[ins.Desc.Name]++
			if ins.Desc.DynamicArgs {
				summary.Calls++
			}
		}
		for _, c := range l.Cells {
			switch c.Role {
			case analyzer.RoleRegister:
				summary.RegisterRefs++
			case analyzer.RoleValue:
				summary.Constants++
			}
		}
	}

	digest := sha1.Sum(buf)
	return GenomeSignature{
		Fingerprint: hex.EncodeToString(digest[:8]),
		Summary:     summary,
	}
}

// Fingerprints returns the distinct fingerprints of a population, sorted.
func Fingerprints(genomes []*model.Genome, reg *isa.Registry) []string {
	seen := make(map[string]struct{}, len(genomes))
	for _, g := range genomes {
		if g == nil {
			continue
		}
		seen[ComputeGenomeSignature(g, reg).Fingerprint] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for fp := range seen {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}
