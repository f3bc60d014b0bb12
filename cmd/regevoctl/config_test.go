package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, `
run_id = "from-file"
population = 12
generations = 4
seed = 9
islands = 3
mutation_rate = 0.1
disable_macros = true
`)
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := bindRunFlags(fs)
	if err := fs.Parse([]string{"-config", path, "-gens", "7", "-store", "memory"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := flags.resolve(fs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.RunID != "from-file" || cfg.Population != 12 || cfg.Seed != 9 || cfg.Islands != 3 {
		t.Fatalf("config values lost: %+v", cfg)
	}
	if cfg.Generations != 7 || cfg.Store != "memory" {
		t.Fatalf("flag overrides lost: %+v", cfg)
	}
	if !cfg.DisableMacros || cfg.MutationRate != 0.1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.DBPath != "regevo.db" || cfg.LogLevel != "info" {
		t.Fatalf("expected defaults for unset keys: %+v", cfg)
	}

	req := cfg.request()
	if req.Generations != 7 || !req.DisableMacros || req.RunID != "from-file" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestResolveWithoutConfigUsesFlags(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := bindRunFlags(fs)
	if err := fs.Parse([]string{"-pop", "5"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := flags.resolve(fs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Population != 5 || cfg.Generations != 10 || cfg.Store != "bolt" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRunConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "population = 3\nscape = \"xor\"\n")
	_, err := loadRunConfig(path)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if _, err := loadRunConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected missing file error")
	}
}

func TestLoadRunConfigMutationTable(t *testing.T) {
	path := writeConfig(t, `
value_step_exp = 6.0
change_center = 0.25
change_spread = 0.1

[pool_weights]
global = 0.5
macro = 0.0

[kind_weights]
edit = 3.0
split = 0.0

[area]
const_arg = 2.0
reg_arg = 0.0
`)
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := bindRunFlags(fs)
	if err := fs.Parse([]string{"-config", path, "-change-spread", "0.3"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := flags.resolve(fs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	req := cfg.request()
	if req.ValueStepExp != 6 || req.ChangeCenter == nil || *req.ChangeCenter != 0.25 {
		t.Fatalf("unexpected value settings: %+v", req)
	}
	if req.ChangeSpread != 0.3 {
		t.Fatalf("flag should override change_spread: got=%v", req.ChangeSpread)
	}
	if req.PoolWeights["global"] != 0.5 || req.PoolWeights["macro"] != 0 || len(req.PoolWeights) != 2 {
		t.Fatalf("unexpected pool weights: %v", req.PoolWeights)
	}
	if req.KindWeights["edit"] != 3 || req.KindWeights["split"] != 0 {
		t.Fatalf("unexpected kind weights: %v", req.KindWeights)
	}
	if req.Area == nil {
		t.Fatal("expected area factors")
	}
	if req.Area.ConstArg != 2 || req.Area.RegArg != 0 || req.Area.Instr != 1 || req.Area.InputArg != 1 || req.Area.OutputArg != 1 {
		t.Fatalf("omitted area keys should keep defaults: %+v", *req.Area)
	}
}

func TestChangeCenterFlag(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := bindRunFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := flags.resolve(fs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ChangeCenter != nil || cfg.ValueStepExp != 4 || cfg.Area != nil {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	fs = flag.NewFlagSet("run", flag.ContinueOnError)
	flags = bindRunFlags(fs)
	fs.SetOutput(io.Discard)
	if err := fs.Parse([]string{"-change-center", "0.9"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg, _ = flags.resolve(fs); cfg.ChangeCenter == nil || *cfg.ChangeCenter != 0.9 {
		t.Fatalf("change center flag lost: %+v", cfg)
	}
	if err := bindAndParse([]string{"-change-center", "left"}); err == nil {
		t.Fatal("expected parse error for non-numeric center")
	}
}

func bindAndParse(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindRunFlags(fs)
	return fs.Parse(args)
}

func TestLoadRunConfigRejectsUnknownAreaKey(t *testing.T) {
	path := writeConfig(t, "[area]\nneuron = 2\n")
	if _, err := loadRunConfig(path); err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}
