package island

import (
	"math"
	"sort"

	"regevo/internal/model"
)

// Tool assigns genomes to islands.
type Tool interface {
	Name() string
	IslandID(genome *model.Genome) int
	PrepareIslandMap(population []*model.Genome) map[int][]int
}

// InfoTool reads the island id from the genome's info block. Genomes without
// one fall back to their population index modulo Count.
type InfoTool struct {
	Count int
}

func (InfoTool) Name() string {
	return "info"
}

// IslandID returns the stored island id, or -1 when the genome carries none.
func (t InfoTool) IslandID(genome *model.Genome) int {
	if genome == nil {
		return -1
	}
	v, ok := genome.InfoValue(model.InfoIslandID)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > math.MaxInt32 {
		return -1
	}
	id := int(v)
	if t.Count > 0 {
		id %= t.Count
	}
	return id
}

func (t InfoTool) PrepareIslandMap(population []*model.Genome) map[int][]int {
	out := make(map[int][]int)
	for i, g := range population {
		id := t.IslandID(g)
		if id < 0 {
			id = t.fallback(i)
		}
		out[id] = append(out[id], i)
	}
	return out
}

func (t InfoTool) fallback(index int) int {
	if t.Count <= 1 {
		return 0
	}
	return index % t.Count
}

// SingleTool puts every genome on island 0.
type SingleTool struct{}

func (SingleTool) Name() string {
	return "single"
}

func (SingleTool) IslandID(*model.Genome) int {
	return 0
}

func (SingleTool) PrepareIslandMap(population []*model.Genome) map[int][]int {
	if len(population) == 0 {
		return map[int][]int{}
	}
	idx := make([]int, len(population))
	for i := range idx {
		idx[i] = i
	}
	return map[int][]int{0: idx}
}

// IDs returns the island ids of m in ascending order.
func IDs(m map[int][]int) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Assign stores round-robin island ids in every genome that has an info block.
func Assign(population []*model.Genome, count int) {
	if count < 1 {
		count = 1
	}
	for i, g := range population {
		if g != nil {
			g.SetInfoValue(model.InfoIslandID, float64(i%count))
		}
	}
}
