package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	regevo "regevo/pkg/regevo"
)

// runConfig is the TOML layout accepted by "run -config".
type runConfig struct {
	RunID                string  `toml:"run_id"`
	Population           int     `toml:"population"`
	Generations          int     `toml:"generations"`
	Seed                 int64   `toml:"seed"`
	Workers              int     `toml:"workers"`
	Islands              int     `toml:"islands"`
	Inputs               int     `toml:"inputs"`
	Subroutines          int     `toml:"subroutines"`
	MinInstrs            int     `toml:"min_instrs"`
	MaxInstrs            int     `toml:"max_instrs"`
	MutationRate         float64 `toml:"mutation_rate"`
	CrossoverRate        float64 `toml:"crossover_rate"`
	CrossoverMaxDiff     float64 `toml:"crossover_max_diff"`
	DisableMacros        bool    `toml:"disable_macros"`
	DisableMacroDeletion bool    `toml:"disable_macro_deletion"`
	SnapshotEvery        int     `toml:"snapshot_every"`
	Store                string  `toml:"store"`
	DBPath               string  `toml:"db_path"`
	LogLevel             string  `toml:"log_level"`

	PoolWeights  map[string]float64  `toml:"pool_weights"`
	KindWeights  map[string]float64  `toml:"kind_weights"`
	Area         *regevo.AreaFactors `toml:"area"`
	ValueStepExp float64             `toml:"value_step_exp"`
	ChangeCenter *float64            `toml:"change_center"`
	ChangeSpread float64             `toml:"change_spread"`
}

func loadRunConfig(path string) (runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	var cfg runConfig
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return runConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("parse %s: unknown keys %v", path, undecoded)
	}
	if cfg.Area != nil {
		cfg.Area = mergeArea(md, *cfg.Area)
	}
	return cfg, nil
}

// mergeArea keeps the default factor for every role the [area] table omits.
func mergeArea(md toml.MetaData, decoded regevo.AreaFactors) *regevo.AreaFactors {
	area := regevo.DefaultAreaFactors()
	for _, f := range []struct {
		key string
		dst *float64
		val float64
	}{
		{"instr", &area.Instr, decoded.Instr},
		{"input_arg", &area.InputArg, decoded.InputArg},
		{"output_arg", &area.OutputArg, decoded.OutputArg},
		{"const_arg", &area.ConstArg, decoded.ConstArg},
		{"reg_arg", &area.RegArg, decoded.RegArg},
	} {
		if md.IsDefined("area", f.key) {
			*f.dst = f.val
		}
	}
	return &area
}

func (c runConfig) request() regevo.RunRequest {
	return regevo.RunRequest{
		RunID:                c.RunID,
		Population:           c.Population,
		Generations:          c.Generations,
		Seed:                 c.Seed,
		Workers:              c.Workers,
		Islands:              c.Islands,
		Inputs:               c.Inputs,
		Subroutines:          c.Subroutines,
		MinInstrs:            c.MinInstrs,
		MaxInstrs:            c.MaxInstrs,
		MutationRate:         c.MutationRate,
		CrossoverRate:        c.CrossoverRate,
		CrossoverMaxDiff:     c.CrossoverMaxDiff,
		DisableMacros:        c.DisableMacros,
		DisableMacroDeletion: c.DisableMacroDeletion,
		SnapshotEvery:        c.SnapshotEvery,
		PoolWeights:          c.PoolWeights,
		KindWeights:          c.KindWeights,
		Area:                 c.Area,
		ValueStepExp:         c.ValueStepExp,
		ChangeCenter:         c.ChangeCenter,
		ChangeSpread:         c.ChangeSpread,
	}
}

// runFlags mirrors runConfig on the command line. Flags given explicitly
// override values from the config file.
type runFlags struct {
	config string
	values runConfig
}

func bindRunFlags(fs *flag.FlagSet) *runFlags {
	f := &runFlags{}
	v := &f.values
	fs.StringVar(&f.config, "config", "", "optional TOML run config path")
	fs.StringVar(&v.RunID, "run-id", "", "explicit run id (default: generated)")
	fs.IntVar(&v.Population, "pop", 32, "population size")
	fs.IntVar(&v.Generations, "gens", 10, "generation count")
	fs.Int64Var(&v.Seed, "seed", 1, "rng seed")
	fs.IntVar(&v.Workers, "workers", 4, "island partitions evolved concurrently")
	fs.IntVar(&v.Islands, "islands", 1, "island count")
	fs.IntVar(&v.Inputs, "inputs", 2, "double inputs of the main block")
	fs.IntVar(&v.Subroutines, "subroutines", 1, "subroutine blocks per genome")
	fs.IntVar(&v.MinInstrs, "min-instrs", 2, "minimum instructions per constructed block")
	fs.IntVar(&v.MaxInstrs, "max-instrs", 8, "maximum instructions per constructed block")
	fs.Float64Var(&v.MutationRate, "mutation-rate", 0.05, "mutation points per unit of gen-size")
	fs.Float64Var(&v.CrossoverRate, "crossover-rate", 0.3, "chance a pair exchanges segments")
	fs.Float64Var(&v.CrossoverMaxDiff, "crossover-max-diff", 0, "difference gate for crossover (0 disables)")
	fs.BoolVar(&v.DisableMacros, "no-macros", false, "disable block level mutations")
	fs.BoolVar(&v.DisableMacroDeletion, "no-macro-deletion", false, "disable block deletion")
	fs.IntVar(&v.SnapshotEvery, "snapshot-every", 0, "persist the population every N generations")
	fs.StringVar(&v.Store, "store", "bolt", "store backend: memory|bolt|sqlite")
	fs.StringVar(&v.DBPath, "db-path", "regevo.db", "bolt or sqlite database path")
	fs.StringVar(&v.LogLevel, "log-level", "info", "log level: trace|debug|info|warn|error|disabled")
	fs.Float64Var(&v.ValueStepExp, "value-step-exp", 4, "value step exponent, larger is finer")
	fs.Func("change-center", "block fraction mutation points cluster around (default 0.5)", func(s string) error {
		c, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		v.ChangeCenter = &c
		return nil
	})
	fs.Float64Var(&v.ChangeSpread, "change-spread", 0, "spread of the change center skew (0 disables)")
	return f
}

// resolve merges the config file with the flags that were set explicitly.
func (f *runFlags) resolve(fs *flag.FlagSet) (runConfig, error) {
	if f.config == "" {
		return f.values, nil
	}
	cfg, err := loadRunConfig(f.config)
	if err != nil {
		return runConfig{}, err
	}
	defaults := f.values
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "run-id":
			cfg.RunID = defaults.RunID
		case "pop":
			cfg.Population = defaults.Population
		case "gens":
			cfg.Generations = defaults.Generations
		case "seed":
			cfg.Seed = defaults.Seed
		case "workers":
			cfg.Workers = defaults.Workers
		case "islands":
			cfg.Islands = defaults.Islands
		case "inputs":
			cfg.Inputs = defaults.Inputs
		case "subroutines":
			cfg.Subroutines = defaults.Subroutines
		case "min-instrs":
			cfg.MinInstrs = defaults.MinInstrs
		case "max-instrs":
			cfg.MaxInstrs = defaults.MaxInstrs
		case "mutation-rate":
			cfg.MutationRate = defaults.MutationRate
		case "crossover-rate":
			cfg.CrossoverRate = defaults.CrossoverRate
		case "crossover-max-diff":
			cfg.CrossoverMaxDiff = defaults.CrossoverMaxDiff
		case "no-macros":
			cfg.DisableMacros = defaults.DisableMacros
		case "no-macro-deletion":
			cfg.DisableMacroDeletion = defaults.DisableMacroDeletion
		case "snapshot-every":
			cfg.SnapshotEvery = defaults.SnapshotEvery
		case "store":
			cfg.Store = defaults.Store
		case "db-path":
			cfg.DBPath = defaults.DBPath
		case "log-level":
			cfg.LogLevel = defaults.LogLevel
		case "value-step-exp":
			cfg.ValueStepExp = defaults.ValueStepExp
		case "change-center":
			cfg.ChangeCenter = defaults.ChangeCenter
		case "change-spread":
			cfg.ChangeSpread = defaults.ChangeSpread
		}
	})
	if cfg.Store == "" {
		cfg.Store = "bolt"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaults.DBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
