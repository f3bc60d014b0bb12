package evo

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"regevo/internal/model"
)

const (
	SupportedSchemaVersion = model.CurrentSchemaVersion
	SupportedCodecVersion  = model.CurrentCodecVersion
)

var (
	ErrKindExists      = errors.New("mutation kind already registered")
	ErrKindNotFound    = errors.New("mutation kind not found")
	ErrVersionMismatch = errors.New("genome version mismatch")
)

// Pool groups mutation kinds by the cell role they apply to.
type Pool uint8

const (
	PoolGlobal Pool = iota
	PoolValue
	PoolRegNo
	PoolInstr
	PoolMacro
	poolCount
)

var poolNames = [poolCount]string{"global", "value", "regno", "instr", "macro"}

func (p Pool) String() string {
	if p < poolCount {
		return poolNames[p]
	}
	return fmt.Sprintf("pool#%d", p)
}

func ParsePool(name string) (Pool, bool) {
	for i, n := range poolNames {
		if strings.EqualFold(n, name) {
			return Pool(i), true
		}
	}
	return 0, false
}

// Pools lists every pool in dispatch order.
func Pools() []Pool {
	out := make([]Pool, poolCount)
	for i := range out {
		out[i] = Pool(i)
	}
	return out
}

// InfoParam is the info-block scalar holding the evolved weight of p.
func (p Pool) InfoParam() model.InfoParam {
	return model.InfoPoolGlobal + model.InfoParam(p)
}

// KindFunc edits the working program behind s. Returning an error leaves the
// genome untouched.
type KindFunc func(m *Mutator, s *Site) error

type KindSpec struct {
	Name string
	Pool Pool
	Fn   KindFunc
	// Structural kinds change instruction boundaries or the block list.
	Structural bool
}

var kindRegistry = struct {
	mu    sync.RWMutex
	m     map[string]KindSpec
	order []string
}{
	m: make(map[string]KindSpec),
}

// RegisterKind adds a mutation kind to the global table.
func RegisterKind(spec KindSpec) error {
	if spec.Name == "" {
		return errors.New("kind name is required")
	}
	if spec.Fn == nil {
		return errors.New("kind function is required")
	}
	if spec.Pool >= poolCount {
		return fmt.Errorf("kind %s: unknown pool %d", spec.Name, spec.Pool)
	}

	kindRegistry.mu.Lock()
	defer kindRegistry.mu.Unlock()

	if _, exists := kindRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrKindExists, spec.Name)
	}
	kindRegistry.m[spec.Name] = spec
	kindRegistry.order = append(kindRegistry.order, spec.Name)
	return nil
}

func mustRegisterKind(spec KindSpec) {
	if err := RegisterKind(spec); err != nil {
		panic(err)
	}
}

func ResolveKind(name string) (KindSpec, error) {
	kindRegistry.mu.RLock()
	spec, ok := kindRegistry.m[name]
	kindRegistry.mu.RUnlock()
	if !ok {
		return KindSpec{}, fmt.Errorf("%w: %s", ErrKindNotFound, name)
	}
	return spec, nil
}

// ListKinds returns the kinds of the given pools in registration order, or
// every kind when no pool is given.
func ListKinds(pools ...Pool) []KindSpec {
	kindRegistry.mu.RLock()
	defer kindRegistry.mu.RUnlock()

	out := make([]KindSpec, 0, len(kindRegistry.order))
	for _, name := range kindRegistry.order {
		spec := kindRegistry.m[name]
		if len(pools) == 0 || containsPool(pools, spec.Pool) {
			out = append(out, spec)
		}
	}
	return out
}

// KindNames returns every registered kind name sorted alphabetically.
func KindNames() []string {
	kinds := ListKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Name
	}
	sort.Strings(names)
	return names
}

func containsPool(pools []Pool, p Pool) bool {
	for _, q := range pools {
		if q == p {
			return true
		}
	}
	return false
}

// CheckVersion rejects genomes written by an incompatible codec. Zero
// versions are treated as current.
func CheckVersion(g *model.Genome) error {
	schema, codec := g.SchemaVersion, g.CodecVersion
	if schema == 0 && codec == 0 {
		return nil
	}
	if schema != SupportedSchemaVersion || codec != SupportedCodecVersion {
		return fmt.Errorf("%w: expected(schema=%d codec=%d) got(schema=%d codec=%d)",
			ErrVersionMismatch,
			SupportedSchemaVersion,
			SupportedCodecVersion,
			schema,
			codec,
		)
	}
	return nil
}
