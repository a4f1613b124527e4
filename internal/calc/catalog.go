package calc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clubqueue/internal/task/queue"
)

var (
	ErrUnknownCalculation = errors.New("unknown calculation")
	ErrDisabled           = errors.New("calculation disabled")
)

// Definition describes a named calculation.
type Definition struct {
	Name     string
	Priority queue.Priority

	// DependsOn lists the content types the calculation reads. Informational.
	DependsOn []string

	Enabled       bool
	Timeout       time.Duration
	RetryAttempts int
}

// Override adjusts a Definition from config. Nil/zero fields keep the default.
type Override struct {
	Enabled       *bool
	Priority      string
	Timeout       time.Duration
	RetryAttempts *int
}

// Catalog is a set of calculation definitions.
type Catalog struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

func NewCatalog(defs ...Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if _, dup := c.defs[d.Name]; !dup {
			c.order = append(c.order, d.Name)
		}
		c.defs[d.Name] = d
	}
	return c
}

func (c *Catalog) Get(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Has reports whether name is defined, enabled or not.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// List returns definitions in registration order.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.defs[n])
	}
	return out
}

// Lookup returns an enabled definition.
func (c *Catalog) Lookup(name string) (Definition, error) {
	d, ok := c.Get(name)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownCalculation, name)
	}
	if !d.Enabled {
		return Definition{}, fmt.Errorf("%w: %s", ErrDisabled, name)
	}
	return d, nil
}

// Reset replaces the stored definitions with defs. Names not in defs keep
// their current definition.
func (c *Catalog) Reset(defs []Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range defs {
		if _, ok := c.defs[d.Name]; !ok {
			c.order = append(c.order, d.Name)
		}
		c.defs[d.Name] = d
	}
}

// Apply merges overrides into the catalog. Names that are not defined here
// are ignored and returned sorted, so the caller can report them.
func (c *Catalog) Apply(overrides map[string]Override) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var unknown []string
	for name, o := range overrides {
		d, ok := c.defs[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if o.Enabled != nil {
			d.Enabled = *o.Enabled
		}
		switch p := queue.Priority(strings.ToLower(strings.TrimSpace(o.Priority))); p {
		case queue.PriorityHigh, queue.PriorityMedium, queue.PriorityLow:
			d.Priority = p
		}
		if o.Timeout > 0 {
			d.Timeout = o.Timeout
		}
		if o.RetryAttempts != nil && *o.RetryAttempts >= 0 {
			d.RetryAttempts = *o.RetryAttempts
		}
		c.defs[name] = d
	}
	sort.Strings(unknown)
	return unknown
}
