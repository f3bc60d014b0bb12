package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"regevo/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID            string  `json:"run_id"`
	Seed             int64   `json:"seed"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Islands          int     `json:"islands"`
	Workers          int     `json:"workers"`
	MutationRate     float64 `json:"mutation_rate"`
	CrossoverRate    float64 `json:"crossover_rate"`
	CrossoverMaxDiff float64 `json:"crossover_max_diff"`
	Macros           bool    `json:"macros"`
	MacroDeletion    bool    `json:"macro_deletion"`
	Store            string  `json:"store,omitempty"`
}

// GenerationDiagnostics is the counter state after one scheduler pass.
type GenerationDiagnostics struct {
	Generation int                `json:"generation"`
	DupsRatio  float64            `json:"dups_ratio"`
	Mutations  float64            `json:"mutations"`
	Crossovers float64            `json:"crossovers"`
	Skips      float64            `json:"skips"`
	Counters   []model.CounterRow `json:"counters,omitempty"`
}

type RunArtifacts struct {
	Config       RunConfig               `json:"config"`
	Diagnostics  []GenerationDiagnostics `json:"diagnostics"`
	Fingerprints []string                `json:"fingerprints"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	PopulationSize int     `json:"population_size"`
	Generations    int     `json:"generations"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"workers"`
	FinalDupsRatio float64 `json:"final_dups_ratio"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

var artifactFiles = []string{"config.json", "diagnostics.json", "fingerprints.json", "diagnostics.csv"}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fingerprints.json"), artifacts.Fingerprints); err != nil {
		return "", err
	}
	if err := WriteDiagnosticsSeries(runDir, artifacts.Diagnostics); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			// later appends win ties
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})
	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, i := range order {
		sorted = append(sorted, entries[i])
	}
	return sorted, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadDiagnostics(baseDir, runID string) ([]GenerationDiagnostics, bool, error) {
	var diags []GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, "diagnostics.json"), &diags)
	return diags, ok, err
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, file := range artifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// WriteDiagnosticsSeries writes one CSV row per generation.
func WriteDiagnosticsSeries(runDir string, diags []GenerationDiagnostics) error {
	file, err := os.Create(filepath.Join(runDir, "diagnostics.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "dups_ratio", "mutations", "crossovers", "skips"}); err != nil {
		return err
	}
	for _, d := range diags {
		if err := writer.Write([]string{
			strconv.Itoa(d.Generation),
			strconv.FormatFloat(d.DupsRatio, 'f', -1, 64),
			strconv.FormatFloat(d.Mutations, 'f', -1, 64),
			strconv.FormatFloat(d.Crossovers, 'f', -1, 64),
			strconv.FormatFloat(d.Skips, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadDiagnosticsSeries returns the dups ratio column of diagnostics.csv.
func ReadDiagnosticsSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, "diagnostics.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("diagnostics series header must have at least 2 columns")
	}
	series := make([]float64, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("diagnostics series row must have at least 2 columns")
		}
		v, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, v)
	}
	return series, true, nil
}

func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
