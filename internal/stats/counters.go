package stats

import (
	"sort"
	"strings"
	"sync"

	"regevo/internal/model"
)

// Sink receives diagnostic counters. Engines only write to it.
type Sink interface {
	Inc(name string)
	Add(name string, delta float64)
	Set(name string, value float64)
}

// Key joins counter name segments with dots.
func Key(parts ...string) string {
	return strings.Join(parts, ".")
}

// Counters is a Sink safe for concurrent use by island partitions.
type Counters struct {
	mu     sync.Mutex
	values map[string]float64
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]float64)}
}

func (c *Counters) Inc(name string) {
	c.Add(name, 1)
}

func (c *Counters) Add(name string, delta float64) {
	c.mu.Lock()
	c.values[name] += delta
	c.mu.Unlock()
}

func (c *Counters) Set(name string, value float64) {
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
}

func (c *Counters) Get(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Sum totals every counter whose name starts with prefix.
func (c *Counters) Sum(prefix string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0.0
	for k, v := range c.values {
		if strings.HasPrefix(k, prefix) {
			total += v
		}
	}
	return total
}

// Snapshot returns the counters sorted by name.
func (c *Counters) Snapshot() []model.CounterRow {
	c.mu.Lock()
	rows := make([]model.CounterRow, 0, len(c.values))
	for k, v := range c.values {
		rows = append(rows, model.CounterRow{Name: k, Value: v})
	}
	c.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func (c *Counters) Reset() {
	c.mu.Lock()
	c.values = make(map[string]float64)
	c.mu.Unlock()
}

// Nop discards every counter.
type Nop struct{}

func (Nop) Inc(string)          {}
func (Nop) Add(string, float64) {}
func (Nop) Set(string, float64) {}
