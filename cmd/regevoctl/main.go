package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"regevo/internal/evo"
	regevo "regevo/pkg/regevo"
)

const (
	benchmarksDir = "benchmarks"
	exportsDir    = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:], out)
	case "inspect":
		return runInspect(ctx, args[1:], out)
	case "runs":
		return runRuns(ctx, args[1:], out)
	case "counters":
		return runCounters(ctx, args[1:], out)
	case "export":
		return runExport(ctx, args[1:], out)
	case "kinds":
		return runKinds(ctx, args[1:], out)
	case "opcodes":
		return runOpcodes(ctx, args[1:], out)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(store, dbPath string, log *zerolog.Logger) (*regevo.Client, error) {
	return regevo.New(regevo.Options{
		StoreKind:     store,
		DBPath:        dbPath,
		BenchmarksDir: benchmarksDir,
		ExportsDir:    exportsDir,
		Logger:        log,
	})
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger(), nil
}

func runRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := bindRunFlags(fs)
	jsonOut := fs.Bool("json", false, "emit the run result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.resolve(fs)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	client, err := newClient(cfg.Store, cfg.DBPath, &log)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Run(ctx, cfg.request())
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "run_id=%s generations=%d final_dups_ratio=%.4f distinct=%d artifacts=%s\n",
		result.RunID,
		len(result.Diagnostics),
		result.FinalDupsRatio,
		len(result.Fingerprints),
		result.ArtifactsDir,
	)
	for _, d := range result.Diagnostics {
		fmt.Fprintf(out, "generation=%d mutations=%s crossovers=%s skips=%s dups_ratio=%.4f\n",
			d.Generation,
			humanize.Commaf(d.Mutations),
			humanize.Commaf(d.Crossovers),
			humanize.Commaf(d.Skips),
			d.DupsRatio,
		)
	}
	for _, id := range result.Snapshots {
		fmt.Fprintf(out, "snapshot=%s\n", id)
	}
	return nil
}

func runInspect(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to inspect")
	latest := fs.Bool("latest", false, "inspect the most recent run")
	generation := fs.Int("gen", 0, "persisted generation to load")
	genome := fs.Int("genome", -1, "population index to list (-1 lists all)")
	listing := fs.Bool("listing", true, "print the disassembly of each genome")
	store := fs.String("store", "bolt", "store backend: memory|bolt|sqlite")
	dbPath := fs.String("db-path", "regevo.db", "bolt or sqlite database path")
	jsonOut := fs.Bool("json", false, "emit genome views as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest")
	}

	client, err := newClient(*store, *dbPath, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Inspect(ctx, regevo.InspectRequest{
		RunID:      *runID,
		Latest:     *latest,
		Generation: *generation,
		Genome:     *genome,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "population=%s generation=%d genomes=%d\n", result.PopulationID, result.Generation, len(result.Genomes))
	for _, g := range result.Genomes {
		fmt.Fprintf(out, "genome=%s island=%d fingerprint=%s blocks=%d instructions=%d cells=%d\n",
			g.ID,
			g.Island,
			g.Fingerprint,
			g.Summary.Blocks,
			g.Summary.Instructions,
			g.Summary.Cells,
		)
		if *listing {
			fmt.Fprint(out, g.Listing)
		}
	}
	return nil
}

func runRuns(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	stored := fs.Bool("stored", false, "list run headers from the store instead of the artifact index")
	store := fs.String("store", "bolt", "store backend: memory|bolt|sqlite")
	dbPath := fs.String("db-path", "regevo.db", "bolt or sqlite database path")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(*store, *dbPath, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if *stored {
		runs, err := client.StoredRuns(ctx)
		if err != nil {
			return err
		}
		if len(runs) > *limit {
			runs = runs[:*limit]
		}
		if *jsonOut {
			return writeJSON(out, runs)
		}
		for _, r := range runs {
			fmt.Fprintf(out, "run_id=%s seed=%d pop=%d gens=%d\n", r.RunID, r.Seed, r.Population, r.Generations)
		}
		return nil
	}

	items, err := client.Runs(ctx, regevo.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}
	if *jsonOut {
		return writeJSON(out, items)
	}
	for _, e := range items {
		fmt.Fprintf(out, "run_id=%s created_at=%s seed=%d pop=%d gens=%d workers=%d final_dups_ratio=%.4f\n",
			e.RunID,
			e.CreatedAtUTC,
			e.Seed,
			e.Population,
			e.Generations,
			e.Workers,
			e.FinalDupsRatio,
		)
	}
	return nil
}

func runCounters(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("counters", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	prefix := fs.String("prefix", "", "only show counters with this prefix")
	store := fs.String("store", "bolt", "store backend: memory|bolt|sqlite")
	dbPath := fs.String("db-path", "regevo.db", "bolt or sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("counters requires --run-id")
	}

	client, err := newClient(*store, *dbPath, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	rows, err := client.Counters(ctx, *runID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if !strings.HasPrefix(r.Name, *prefix) {
			continue
		}
		fmt.Fprintf(out, "%s=%s\n", r.Name, humanize.Commaf(r.Value))
	}
	return nil
}

func runExport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", exportsDir, "destination directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient("memory", "", nil)
	if err != nil {
		return err
	}
	defer client.Close()

	summary, err := client.Export(ctx, regevo.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func runKinds(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("kinds", flag.ContinueOnError)
	poolName := fs.String("pool", "", "only list kinds of this pool: global|value|regno|instr|macro")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *poolName != "" {
		if _, ok := evo.ParsePool(*poolName); !ok {
			return fmt.Errorf("unknown pool: %s", *poolName)
		}
	}
	for _, k := range regevo.Kinds() {
		if *poolName != "" && !strings.EqualFold(k.Pool, *poolName) {
			continue
		}
		fmt.Fprintf(out, "%-20s pool=%s structural=%t\n", k.Name, k.Pool, k.Structural)
	}
	return nil
}

func runOpcodes(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("opcodes", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, op := range regevo.Opcodes() {
		fmt.Fprintf(out, "%3d %-10s args=%d..%d dynamic=%t jump=%t\n", op.Code, op.Name, op.MinArgs, op.MaxArgs, op.Dynamic, op.Jump)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: regevoctl <run|inspect|runs|counters|export|kinds|opcodes> [flags]", msg)
}
