package storage

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"regevo/internal/model"
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Payloads use canonical CBOR so equal records always encode to equal bytes.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: cbor enc mode: %v", err))
	}
	encMode = em
}

func EncodePopulation(p model.Population) ([]byte, error) {
	return encMode.Marshal(p)
}

func DecodePopulation(data []byte) (model.Population, error) {
	var population model.Population
	if err := cbor.Unmarshal(data, &population); err != nil {
		return model.Population{}, fmt.Errorf("unmarshal population: %w", err)
	}
	if err := checkVersion(population.VersionedRecord); err != nil {
		return model.Population{}, err
	}
	for _, g := range population.Genomes {
		if g == nil {
			return model.Population{}, fmt.Errorf("population %s holds a nil genome", population.ID)
		}
		if err := checkVersion(g.VersionedRecord); err != nil {
			return model.Population{}, fmt.Errorf("genome %s: %w", g.ID, err)
		}
	}
	return population, nil
}

func EncodeRun(r model.RunSummary) ([]byte, error) {
	return encMode.Marshal(r)
}

func DecodeRun(data []byte) (model.RunSummary, error) {
	var run model.RunSummary
	if err := cbor.Unmarshal(data, &run); err != nil {
		return model.RunSummary{}, fmt.Errorf("unmarshal run: %w", err)
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return run, nil
}

func EncodeCounters(rows []model.CounterRow) ([]byte, error) {
	return encMode.Marshal(rows)
}

func DecodeCounters(data []byte) ([]model.CounterRow, error) {
	var rows []model.CounterRow
	if err := cbor.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	return rows, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != model.CurrentSchemaVersion || v.CodecVersion != model.CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
