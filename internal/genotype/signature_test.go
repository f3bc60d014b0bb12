package genotype

import (
	"strings"
	"testing"

	"regevo/internal/isa"
	"regevo/internal/model"
)

func sampleGenome() *model.Genome {
	return &model.Genome{
		ID:   "g1",
		Info: []model.Cell{model.DoubleCell(0), model.DoubleCell(0.05)},
		Program: model.Program{Blocks: []model.Block{{
			Meta: model.BlockMeta{Inputs: []model.Kind{model.KindInt}, Output: model.KindInt},
			Code: []model.Cell{
				isa.EncodeInstr(isa.OpAddInt, 3), isa.BuildRegisterArg(1), model.IntCell(2), isa.BuildRegisterArg(9),
				isa.EncodeInstr(isa.OpMov, 2), isa.BuildRegisterArg(9), isa.BuildRegisterArg(0),
			},
		}}},
	}
}

func TestComputeGenomeSignatureSummary(t *testing.T) {
	sig := ComputeGenomeSignature(sampleGenome(), isa.DefaultRegistry())
	if sig.Fingerprint == "" {
		t.Fatal("expected non-empty fingerprint")
	}
	s := sig.Summary
	if s.Blocks != 1 || s.Instructions != 2 || s.Cells != 7 {
		t.Fatalf("unexpected shape: %+v", s)
	}
	if s.RegisterRefs != 4 || s.Constants != 1 || s.Calls != 0 || s.InfoParams != 2 {
		t.Fatalf("unexpected cell roles: %+v", s)
	}
	if s.OpcodeDistribution["ADD_INT"] != 1 || s.OpcodeDistribution["MOV"] != 1 {
		t.Fatalf("unexpected opcode distribution: %v", s.OpcodeDistribution)
	}
}

func TestComputeGenomeSignatureIgnoresInfo(t *testing.T) {
	reg := isa.DefaultRegistry()
	base := sampleGenome()
	tuned := sampleGenome()
	tuned.Info[1] = model.DoubleCell(0.5)
	if ComputeGenomeSignature(base, reg).Fingerprint != ComputeGenomeSignature(tuned, reg).Fingerprint {
		t.Fatal("expected info changes to keep the fingerprint")
	}

	edited := sampleGenome()
	edited.Program.Blocks[0].Code[2] = model.IntCell(3)
	if ComputeGenomeSignature(base, reg).Fingerprint == ComputeGenomeSignature(edited, reg).Fingerprint {
		t.Fatal("expected constant edit to change the fingerprint")
	}

	retyped := sampleGenome()
	retyped.Program.Blocks[0].Meta.Output = model.KindInt64
	if ComputeGenomeSignature(base, reg).Fingerprint == ComputeGenomeSignature(retyped, reg).Fingerprint {
		t.Fatal("expected signature change to change the fingerprint")
	}
}

func TestFingerprintsDeduplicates(t *testing.T) {
	reg := isa.DefaultRegistry()
	fps := Fingerprints([]*model.Genome{sampleGenome(), sampleGenome(), nil}, reg)
	if len(fps) != 1 {
		t.Fatalf("expected one distinct fingerprint, got=%v", fps)
	}
}

func TestFormatGenome(t *testing.T) {
	out := FormatGenome(sampleGenome(), isa.DefaultRegistry())
	for _, want := range []string{
		"genome: g1",
		"info: island_id=0d mutation_rate=0.05d",
		"block 0 inputs=[int] output=int cells=7",
		"0000 ADD_INT r1, 2, r9",
		"0004 MOV r9, r0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestFormatCellKinds(t *testing.T) {
	cases := map[string]model.Cell{
		"null":    model.NullCell(),
		"true":    model.BoolCell(true),
		"7b":      model.ByteCell(7),
		"-3":      model.IntCell(-3),
		"9L":      model.Int64Cell(9),
		"1.5f":    model.FloatCell(1.5),
		"2.25d":   model.DoubleCell(2.25),
		"0.5x":    model.ExtendedCell(0.5),
		`"ab"`:    model.StringCell("ab"),
		"r12":     isa.BuildRegisterArg(12),
	}
	for want, c := range cases {
		if got := FormatCell(c); got != want {
			t.Fatalf("FormatCell(%+v)=%q want %q", c, got, want)
		}
	}
}
