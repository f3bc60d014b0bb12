package storage

import (
	"context"

	"regevo/internal/model"
)

// Store persists run headers, population snapshots and counter tables.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunSummary) error
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, id string) (model.Population, bool, error)
	SaveCounters(ctx context.Context, runID string, rows []model.CounterRow) error
	GetCounters(ctx context.Context, runID string) ([]model.CounterRow, bool, error)
}
