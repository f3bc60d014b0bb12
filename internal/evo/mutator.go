package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"regevo/internal/analyzer"
	"regevo/internal/codeproc"
	"regevo/internal/isa"
	"regevo/internal/model"
	"regevo/internal/stats"
	"regevo/internal/vm"
)

var (
	ErrNoMutationChoice  = errors.New("no mutation choice available")
	ErrProtectedRegister = errors.New("protected output register has a single writer")
	ErrEmptyCandidates   = codeproc.ErrEmptyCandidates
	ErrDynamicArgs       = errors.New("dynamic-argument opcode not supported by this kind")
	ErrWouldEmptyBlock   = errors.New("edit would empty the block")
	ErrMacrosDisabled    = errors.New("macro mutations disabled")
	ErrBlockLimit        = errors.New("block count limit reached")
	ErrRoleMismatch      = errors.New("kind does not apply to this cell")
	ErrInvalidResult     = errors.New("edit produced an invalid genome")
)

type MutatorConfig struct {
	Registry *isa.Registry
	Layout   vm.Layout
	// Rate is the expected number of mutation points per unit of gen-size.
	Rate        float64
	PoolWeights map[string]float64
	KindWeights map[string]float64
	// ValueStepExp biases integer nudges toward low bits and float
	// perturbations toward small steps. Larger is finer.
	ValueStepExp float64
	Area         analyzer.AreaFactors
	// ChangeCenter is the default position, as a block fraction, mutation
	// points cluster around when ChangeSpread is positive.
	ChangeCenter  float64
	ChangeSpread  float64
	Macros        bool
	MacroDeletion bool
	MinBlocks     int
	MaxBlocks     int
	MaxBlockLen   int
	MaxPoints     int
	Logger        zerolog.Logger
	Counters      stats.Sink
}

func DefaultMutatorConfig() MutatorConfig {
	return MutatorConfig{
		Registry:      isa.DefaultRegistry(),
		Layout:        vm.DefaultLayout(),
		Rate:          0.05,
		ValueStepExp:  4,
		Area:          analyzer.DefaultAreaFactors(),
		ChangeCenter:  0.5,
		Macros:        true,
		MacroDeletion: true,
		MinBlocks:     1,
		MaxBlocks:     8,
		MaxBlockLen:   512,
		MaxPoints:     8,
		Logger:        zerolog.Nop(),
		Counters:      stats.Nop{},
	}
}

func (c MutatorConfig) Validate() error {
	var result *multierror.Error
	if c.Registry == nil {
		result = multierror.Append(result, errors.New("registry is required"))
	}
	if c.Rate < 0 || c.Rate > 1 {
		result = multierror.Append(result, fmt.Errorf("rate must be in [0,1]: %f", c.Rate))
	}
	if c.Layout.MaxInputs < 0 || c.Layout.General < 1 {
		result = multierror.Append(result, fmt.Errorf("register layout needs general registers: %+v", c.Layout))
	}
	if c.ValueStepExp <= 0 {
		result = multierror.Append(result, fmt.Errorf("value step exponent must be > 0: %f", c.ValueStepExp))
	}
	if c.ChangeSpread < 0 || c.ChangeCenter < 0 || c.ChangeCenter > 1 {
		result = multierror.Append(result, fmt.Errorf("invalid change center %f spread %f", c.ChangeCenter, c.ChangeSpread))
	}
	if a := c.Area; a.Instr < 0 || a.InputArg < 0 || a.OutputArg < 0 || a.ConstArg < 0 || a.RegArg < 0 {
		result = multierror.Append(result, fmt.Errorf("area factors must be >= 0: %+v", a))
	}
	if c.MinBlocks < 1 {
		result = multierror.Append(result, fmt.Errorf("min blocks must be >= 1: %d", c.MinBlocks))
	}
	if c.MaxBlocks != 0 && c.MaxBlocks < c.MinBlocks {
		result = multierror.Append(result, fmt.Errorf("max blocks %d below min blocks %d", c.MaxBlocks, c.MinBlocks))
	}
	if c.MaxBlockLen < 0 || c.MaxPoints < 0 {
		result = multierror.Append(result, errors.New("limits must be >= 0"))
	}
	for name, w := range c.PoolWeights {
		if _, ok := ParsePool(name); !ok {
			result = multierror.Append(result, fmt.Errorf("unknown pool %q", name))
		}
		if w < 0 {
			result = multierror.Append(result, fmt.Errorf("pool %s weight must be >= 0", name))
		}
	}
	for name, w := range c.KindWeights {
		if _, err := ResolveKind(name); err != nil {
			result = multierror.Append(result, err)
		}
		if w < 0 {
			result = multierror.Append(result, fmt.Errorf("kind %s weight must be >= 0", name))
		}
	}
	return result.ErrorOrNil()
}

// Mutator applies position-weighted mutations to genomes. It is not safe for
// concurrent use; each island partition owns one.
type Mutator struct {
	cfg  MutatorConfig
	rng  *rand.Rand
	proc *codeproc.Processor
	log  zerolog.Logger
	sink stats.Sink
}

func NewMutator(cfg MutatorConfig, rng *rand.Rand) (*Mutator, error) {
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sink := cfg.Counters
	if sink == nil {
		sink = stats.Nop{}
	}
	return &Mutator{
		cfg:  cfg,
		rng:  rng,
		proc: codeproc.New(cfg.Registry, cfg.Layout, rng),
		log:  cfg.Logger,
		sink: sink,
	}, nil
}

func (m *Mutator) Name() string {
	return "regevo_mutator"
}

func (m *Mutator) Config() MutatorConfig {
	return m.cfg
}

// Apply mutates a copy of genome.
func (m *Mutator) Apply(ctx context.Context, genome *model.Genome) (*model.Genome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if genome == nil {
		return nil, errors.New("genome is required")
	}
	if err := CheckVersion(genome); err != nil {
		return nil, err
	}
	out := model.CloneGenome(genome)
	m.MutateGenome(out)
	return out, nil
}

// MutateGenome mutates g in place and reports whether anything changed.
// Rejected points leave g untouched.
func (m *Mutator) MutateGenome(g *model.Genome) bool {
	if g == nil || len(g.Program.Blocks) == 0 {
		return false
	}
	m.sink.Inc("mutate.genomes")
	points := m.pointCount(g)
	changed := false
	for i := 0; i < points; i++ {
		block, offset := m.pickPoint(g)
		var err error
		switch {
		case block < 0 && offset < 0:
			err = ErrNoMutationChoice
		case block < 0:
			err = m.mutateInfo(g, model.InfoParam(offset))
		default:
			var kind KindSpec
			kind, err = m.pickKind(g, block, offset)
			if err == nil {
				err = m.apply(g, block, offset, kind)
			}
		}
		if err != nil {
			m.skip(err)
			continue
		}
		changed = true
	}
	if changed {
		m.sink.Inc("mutate.changed")
	}
	return changed
}

// MutateAt applies one named kind at a given cell. On error g is unchanged.
func (m *Mutator) MutateAt(g *model.Genome, block, offset int, kind string) error {
	spec, err := ResolveKind(kind)
	if err != nil {
		return err
	}
	if block < 0 || block >= len(g.Program.Blocks) {
		return fmt.Errorf("%w: %d", model.ErrBlockIndex, block)
	}
	if offset < 0 || offset >= len(g.Program.Blocks[block].Code) {
		return fmt.Errorf("%w: offset %d", ErrNoMutationChoice, offset)
	}
	return m.apply(g, block, offset, spec)
}

func (m *Mutator) apply(g *model.Genome, block, offset int, kind KindSpec) error {
	if kind.Pool == PoolMacro && !m.cfg.Macros {
		return ErrMacrosDisabled
	}
	m.sink.Inc(stats.Key("mutate", "attempt", kind.Name))
	prog := model.CloneProgram(g.Program)
	s := newSite(g, &prog, block, offset, m.cfg.Registry, m.cfg.Area)
	if err := kind.Fn(m, s); err != nil {
		m.log.Trace().Str("kind", kind.Name).Int("block", block).Int("offset", offset).Err(err).Msg("mutation skipped")
		return err
	}
	if err := m.commit(g, &prog); err != nil {
		m.log.Trace().Str("kind", kind.Name).Int("block", block).Int("offset", offset).Err(err).Msg("mutation rejected")
		return err
	}
	g.Program = prog
	m.sink.Inc(stats.Key("mutate", "success", kind.Name))
	return nil
}

// commit repairs register liveness on the working program and checks every
// structural invariant against it.
func (m *Mutator) commit(g *model.Genome, prog *model.Program) error {
	for bi := range prog.Blocks {
		b := &prog.Blocks[bi]
		code, err := m.proc.RepairLiveness(b.Code, b.Meta)
		if err != nil {
			return fmt.Errorf("%w: block=%d: %v", ErrInvalidResult, bi, err)
		}
		b.Code = code
		if m.cfg.MaxBlockLen > 0 && len(code) > m.cfg.MaxBlockLen {
			return fmt.Errorf("%w: block=%d len=%d", ErrInvalidResult, bi, len(code))
		}
	}
	cand := *g
	cand.Program = *prog
	if err := analyzer.Validate(&cand, m.cfg.Registry, m.cfg.Layout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return nil
}

func (m *Mutator) skip(err error) {
	m.sink.Inc(stats.Key("mutate", "skip", SkipReason(err)))
}

// SkipReason maps a rejected mutation to a short counter label.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrProtectedRegister):
		return "protected_register"
	case errors.Is(err, ErrEmptyCandidates):
		return "empty_candidates"
	case errors.Is(err, ErrDynamicArgs):
		return "dynamic_args"
	case errors.Is(err, ErrWouldEmptyBlock):
		return "would_empty_block"
	case errors.Is(err, ErrMacrosDisabled):
		return "macros_disabled"
	case errors.Is(err, ErrBlockLimit):
		return "block_limit"
	case errors.Is(err, ErrRoleMismatch):
		return "role_mismatch"
	case errors.Is(err, ErrInvalidResult):
		return "invalid_result"
	case errors.Is(err, isa.ErrUnknownOpcode), errors.Is(err, isa.ErrArityMismatch):
		return "registry_miss"
	case errors.Is(err, codeproc.ErrSynthesisFailed):
		return "synthesis_failed"
	case errors.Is(err, ErrNoMutationChoice):
		return "no_choice"
	default:
		return "other"
	}
}

// param resolves an evolved scalar from the info block, falling back to def.
func param(g *model.Genome, p model.InfoParam, def float64) float64 {
	if g == nil {
		return def
	}
	if v, ok := g.InfoValue(p); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return def
}

func (m *Mutator) rate(g *model.Genome) float64 {
	return clamp(param(g, model.InfoMutationRate, m.cfg.Rate), 0, 1)
}

func (m *Mutator) stepExp(g *model.Genome) float64 {
	return clamp(param(g, model.InfoValueStepExp, m.cfg.ValueStepExp), 0.1, 64)
}

// pointCount rounds rate*gen-size stochastically with a floor of one point.
func (m *Mutator) pointCount(g *model.Genome) int {
	total := 0.0
	for _, b := range g.Program.Blocks {
		total += analyzer.Analyze(b.Code, m.cfg.Registry, m.cfg.Area).TotalWeight()
	}
	expected := m.rate(g) * total
	n := int(math.Floor(expected))
	if m.rng.Float64() < expected-float64(n) {
		n++
	}
	if n < 1 {
		n = 1
	}
	if m.cfg.MaxPoints > 0 && n > m.cfg.MaxPoints {
		n = m.cfg.MaxPoints
	}
	return n
}

// pickPoint draws a block proportionally to its gen-size and a cell inside
// it. A negative block selects the info cell at the returned offset.
func (m *Mutator) pickPoint(g *model.Genome) (int, int) {
	layouts := make([]analyzer.Layout, len(g.Program.Blocks))
	weights := make([]float64, len(layouts)+1)
	for i, b := range g.Program.Blocks {
		layouts[i] = analyzer.Analyze(b.Code, m.cfg.Registry, m.cfg.Area)
		weights[i] = layouts[i].TotalWeight()
	}
	info := mutableInfoParams(g)
	weights[len(layouts)] = float64(len(info)) * m.cfg.Area.ConstArg

	bi := codeproc.SelectProbItem(m.rng, weights)
	if weights[bi] <= 0 {
		return -1, -1
	}
	if bi == len(layouts) {
		return -1, int(info[m.rng.Intn(len(info))])
	}
	center, spread := param(g, model.InfoChangeCenter, m.cfg.ChangeCenter), m.cfg.ChangeSpread
	offset := layouts[bi].PickPosition(m.rng, clamp(center, 0, 1), spread)
	if offset < 0 {
		return -1, -1
	}
	return bi, offset
}

// pickKind draws a pool allowed for the role of the cell, then a kind from it.
func (m *Mutator) pickKind(g *model.Genome, block, offset int) (KindSpec, error) {
	l := analyzer.Analyze(g.Program.Blocks[block].Code, m.cfg.Registry, m.cfg.Area)
	if offset < 0 || offset >= len(l.Cells) {
		return KindSpec{}, ErrNoMutationChoice
	}
	pools := poolsForRole(l.Cells[offset].Role, m.cfg.Macros)
	candidates := make([][]KindSpec, 0, len(pools))
	weights := make([]float64, 0, len(pools))
	for _, p := range pools {
		kinds := ListKinds(p)
		if len(kinds) == 0 {
			continue
		}
		candidates = append(candidates, kinds)
		weights = append(weights, m.poolWeight(g, p))
	}
	if len(candidates) == 0 || sum(weights) <= 0 {
		return KindSpec{}, ErrNoMutationChoice
	}
	kinds := candidates[codeproc.SelectProbItem(m.rng, weights)]
	kw := make([]float64, len(kinds))
	for i, k := range kinds {
		kw[i] = m.kindWeight(k.Name)
	}
	if sum(kw) <= 0 {
		return KindSpec{}, ErrNoMutationChoice
	}
	return kinds[codeproc.SelectProbItem(m.rng, kw)], nil
}

func poolsForRole(role analyzer.Role, macros bool) []Pool {
	switch role {
	case analyzer.RoleValue:
		return []Pool{PoolGlobal, PoolValue}
	case analyzer.RoleRegister:
		return []Pool{PoolGlobal, PoolRegNo}
	case analyzer.RoleOpcode:
		if macros {
			return []Pool{PoolGlobal, PoolInstr, PoolMacro}
		}
		return []Pool{PoolGlobal, PoolInstr}
	default:
		return nil
	}
}

// poolWeight prefers the evolved weight, then the configured one, then 1.
func (m *Mutator) poolWeight(g *model.Genome, p Pool) float64 {
	if v, ok := g.InfoValue(p.InfoParam()); ok && v >= 0 && !math.IsNaN(v) {
		return v
	}
	if w, ok := m.cfg.PoolWeights[p.String()]; ok {
		return w
	}
	return 1
}

func (m *Mutator) kindWeight(name string) float64 {
	if w, ok := m.cfg.KindWeights[name]; ok {
		return w
	}
	return 1
}

func sum(ws []float64) float64 {
	t := 0.0
	for _, w := range ws {
		if w > 0 {
			t += w
		}
	}
	return t
}
