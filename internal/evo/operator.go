package evo

import (
	"context"

	"regevo/internal/model"
)

// Operator transforms a genome and returns the result. The input is never
// modified.
type Operator interface {
	Name() string
	Apply(ctx context.Context, genome *model.Genome) (*model.Genome, error)
}

var _ Operator = (*Mutator)(nil)
