package evo

import (
	"fmt"

	"regevo/internal/model"
	"regevo/internal/stats"
)

// mutableInfoParams lists the info cells mutation may perturb. The island id
// is assigned by the scheduler and never evolves.
func mutableInfoParams(g *model.Genome) []model.InfoParam {
	if g == nil {
		return nil
	}
	var out []model.InfoParam
	for p := model.InfoParam(0); int(p) < len(g.Info) && p < model.InfoParamCount; p++ {
		if p == model.InfoIslandID {
			continue
		}
		if _, ok := g.InfoValue(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// infoBounds is the admissible range of an evolved scalar.
func infoBounds(p model.InfoParam) (float64, float64) {
	switch p {
	case model.InfoMutationRate, model.InfoCrossoverRate, model.InfoCrossoverMaxDiff, model.InfoChangeCenter:
		return 0, 1
	case model.InfoValueStepExp:
		return 0.1, 64
	default:
		return 0, 1e6
	}
}

// mutateInfo perturbs one evolved scalar in place, keeping it in range.
func (m *Mutator) mutateInfo(g *model.Genome, p model.InfoParam) error {
	if p == model.InfoIslandID {
		return ErrProtectedRegister
	}
	v, ok := g.InfoValue(p)
	if !ok {
		return fmt.Errorf("%w: info param %d", ErrNoMutationChoice, p)
	}
	m.sink.Inc(stats.Key("mutate", "attempt", "info"))
	lo, hi := infoBounds(p)
	next := clamp(perturbFloat(m.rng, v, m.stepExp(g)), lo, hi)
	if next == v {
		return ErrNoMutationChoice
	}
	g.SetInfoValue(p, next)
	m.sink.Inc(stats.Key("mutate", "success", "info"))
	return nil
}
