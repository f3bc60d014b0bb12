package evo

import (
	"regevo/internal/genotype"
	"regevo/internal/isa"
	"regevo/internal/model"
)

type ProgramSummary = genotype.ProgramSummary

type GenomeSignature = genotype.GenomeSignature

func ComputeGenomeSignature(genome *model.Genome, reg *isa.Registry) GenomeSignature {
	return genotype.ComputeGenomeSignature(genome, reg)
}
