package evo

import (
	"errors"
	"fmt"
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

type CrossoverConfig struct {
	Registry *isa.Registry
	Layout   vm.Layout
	// Rate is the chance a pair exchanges anything at all.
	Rate float64
	// MaxDifference gates pairs whose genome difference exceeds it. Zero
	// disables the gate.
	MaxDifference float64
	// Blend mixes evolved per-genome rates (1) with the configured ones (0).
	Blend    float64
	Logger   zerolog.Logger
	Counters stats.Sink
}

func DefaultCrossoverConfig() CrossoverConfig {
	return CrossoverConfig{
		Registry: isa.DefaultRegistry(),
		Layout:   vm.DefaultLayout(),
		Rate:     0.3,
		Blend:    0.5,
		Logger:   zerolog.Nop(),
		Counters: stats.Nop{},
	}
}

func (c CrossoverConfig) Validate() error {
	var result *multierror.Error
	if c.Registry == nil {
		result = multierror.Append(result, errors.New("registry is required"))
	}
	if c.Rate < 0 || c.Rate > 1 {
		result = multierror.Append(result, fmt.Errorf("crossover rate must be in [0,1]: %f", c.Rate))
	}
	if c.MaxDifference < 0 || c.MaxDifference > 1 {
		result = multierror.Append(result, fmt.Errorf("crossover max difference must be in [0,1]: %f", c.MaxDifference))
	}
	if c.Blend < 0 || c.Blend > 1 {
		result = multierror.Append(result, fmt.Errorf("crossover blend must be in [0,1]: %f", c.Blend))
	}
	return result.ErrorOrNil()
}

// Crossover exchanges instruction-aligned segments between two genomes.
type Crossover struct {
	cfg  CrossoverConfig
	rng  *rand.Rand
	proc *codeproc.Processor
	log  zerolog.Logger
	sink stats.Sink
}

func NewCrossover(cfg CrossoverConfig, rng *rand.Rand) (*Crossover, error) {
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
	return &Crossover{
		cfg:  cfg,
		rng:  rng,
		proc: codeproc.New(cfg.Registry, cfg.Layout, rng),
		log:  cfg.Logger,
		sink: sink,
	}, nil
}

func (c *Crossover) Name() string {
	return "regevo_crossover"
}

// Cross exchanges segments between a and b in place and reports whether any
// segment or info scalar moved. Both genomes stay valid.
func (c *Crossover) Cross(a, b *model.Genome) bool {
	if a == nil || b == nil || a == b {
		return false
	}
	c.sink.Inc("crossover.attempt")
	if c.rng.Float64() >= c.pairParam(a, b, model.InfoCrossoverRate, c.cfg.Rate) {
		c.sink.Inc(stats.Key("crossover", "skip", "rate"))
		return false
	}
	if limit := c.pairParam(a, b, model.InfoCrossoverMaxDiff, c.cfg.MaxDifference); limit > 0 {
		if d := codeproc.Difference(a, b, c.cfg.Registry); d > limit {
			c.sink.Inc(stats.Key("crossover", "skip", "difference"))
			c.log.Trace().Str("a", a.ID).Str("b", b.ID).Float64("difference", d).Msg("crossover gated")
			return false
		}
	}
	return c.CrossUngated(a, b)
}

// CrossUngated performs the exchange without the rate and difference gates.
func (c *Crossover) CrossUngated(a, b *model.Genome) bool {
	performed := false
	if c.crossInfo(a, b) {
		performed = true
	}
	n := len(a.Program.Blocks)
	if len(b.Program.Blocks) < n {
		n = len(b.Program.Blocks)
	}
	for bi := 0; bi < n; bi++ {
		if err := c.crossBlock(a, b, bi); err != nil {
			c.sink.Inc(stats.Key("crossover", "skip", crossSkipReason(err)))
			c.log.Trace().Str("a", a.ID).Str("b", b.ID).Int("block", bi).Err(err).Msg("crossover skipped")
			continue
		}
		performed = true
	}
	if performed {
		c.sink.Inc("crossover.success")
	}
	return performed
}

var (
	ErrSingleInstruction = errors.New("block has no non-trivial split point")
	ErrEmptyWindow       = errors.New("crossover window is empty")
)

func crossSkipReason(err error) string {
	switch {
	case errors.Is(err, ErrSingleInstruction):
		return "single_instruction"
	case errors.Is(err, ErrEmptyWindow):
		return "empty_window"
	case errors.Is(err, ErrInvalidResult):
		return "invalid_result"
	default:
		return "other"
	}
}

// pairParam blends the mean evolved value of a pair with the configured one.
func (c *Crossover) pairParam(a, b *model.Genome, p model.InfoParam, def float64) float64 {
	evolved := (param(a, p, def) + param(b, p, def)) / 2
	return clamp(c.cfg.Blend*evolved+(1-c.cfg.Blend)*def, 0, 1)
}

// crossInfo swaps a contiguous range of info scalars. The island id stays
// with its genome.
func (c *Crossover) crossInfo(a, b *model.Genome) bool {
	n := len(a.Info)
	if len(b.Info) < n {
		n = len(b.Info)
	}
	first := int(model.InfoIslandID) + 1
	if n <= first {
		return false
	}
	from := first + c.rng.Intn(n-first)
	to := from + 1 + c.rng.Intn(n-from)
	for i := from; i < to; i++ {
		a.Info[i], b.Info[i] = b.Info[i], a.Info[i]
	}
	return true
}

// crossBlock swaps one instruction-aligned window of block bi. The window in
// b never holds more instructions than the one in a. Both genomes are left
// untouched unless the result validates.
func (c *Crossover) crossBlock(a, b *model.Genome, bi int) error {
	ca, cb := a.Program.Blocks[bi].Code, b.Program.Blocks[bi].Code
	la := analyzer.Analyze(ca, c.cfg.Registry, analyzer.AreaFactors{})
	lb := analyzer.Analyze(cb, c.cfg.Registry, analyzer.AreaFactors{})
	na, nb := la.InstrCount(), lb.InstrCount()
	if na < 2 || nb < 2 {
		return ErrSingleInstruction
	}

	i0 := la.IndexOfOffset(la.SnapForward(c.rng.Intn(len(ca))))
	i1 := la.IndexOfOffset(la.SnapForward(c.rng.Intn(len(ca))))
	if i0 > i1 {
		i0, i1 = i1, i0
	}
	if i0 == i1 {
		return ErrEmptyWindow
	}
	w := 1 + c.rng.Intn(min(i1-i0, nb-1))
	j0 := lb.IndexOfOffset(lb.SnapForward(c.rng.Intn(len(cb))))
	if j0 > nb-w {
		j0 = nb - w
	}
	j1 := j0 + w

	sa, ea := la.Instrs[i0].Offset, spanEnd(la, i1, len(ca))
	sb, eb := lb.Instrs[j0].Offset, spanEnd(lb, j1, len(cb))

	na2 := model.CloneProgram(a.Program)
	nb2 := model.CloneProgram(b.Program)
	na2.Blocks[bi].Code = spliceCells(ca, sa, ea, cb[sb:eb])
	nb2.Blocks[bi].Code = spliceCells(cb, sb, eb, ca[sa:ea])
	if err := c.settle(a, &na2, bi); err != nil {
		return err
	}
	if err := c.settle(b, &nb2, bi); err != nil {
		return err
	}
	a.Program, b.Program = na2, nb2
	return nil
}

// spanEnd is the offset where instruction index i starts, or the block end.
func spanEnd(l analyzer.Layout, i, n int) int {
	if i < len(l.Instrs) {
		return l.Instrs[i].Offset
	}
	return n
}

// settle repairs liveness of block bi in prog and validates the candidate.
func (c *Crossover) settle(g *model.Genome, prog *model.Program, bi int) error {
	b := &prog.Blocks[bi]
	code, err := c.proc.RepairLiveness(b.Code, b.Meta)
	if err != nil {
		return fmt.Errorf("%w: block=%d: %v", ErrInvalidResult, bi, err)
	}
	b.Code = code
	cand := *g
	cand.Program = *prog
	if err := analyzer.Validate(&cand, c.cfg.Registry, c.cfg.Layout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	return nil
}
