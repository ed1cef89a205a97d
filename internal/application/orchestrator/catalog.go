package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// Factory builds a fresh orchestration for one run
type Factory func(opts ...orchestration.Option) (orchestration.Executable, error)

// GraphInfo describes a registered graph
type GraphInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputType   string   `json:"input_type"`
	OutputType  string   `json:"output_type"`
	Entry       string   `json:"entry"`
	Result      string   `json:"result,omitempty"`
	Nodes       []string `json:"nodes"`
}

type catalogEntry struct {
	factory Factory
	info    GraphInfo
}

// Catalog holds the graphs runs can be submitted to
type Catalog struct {
	validator *Validator

	mu      sync.RWMutex
	entries map[string]catalogEntry
}

// NewCatalog creates an empty catalog
func NewCatalog(validator *Validator) *Catalog {
	return &Catalog{
		validator: validator,
		entries:   make(map[string]catalogEntry),
	}
}

// Register adds a graph. The factory is called once to check the graph it
// builds and to describe it.
func (c *Catalog) Register(name, description string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("graph name is required")
	}
	if factory == nil {
		return fmt.Errorf("graph %s: factory is nil", name)
	}

	sample, err := factory()
	if err != nil {
		return fmt.Errorf("failed to build graph %s: %w", name, err)
	}
	if err := c.validator.Validate(sample); err != nil {
		return fmt.Errorf("invalid graph %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("graph %s already registered", name)
	}
	c.entries[name] = catalogEntry{factory: factory, info: describe(name, description, sample)}
	return nil
}

// Build creates a new orchestration of the named graph
func (c *Catalog) Build(name string, opts ...orchestration.Option) (orchestration.Executable, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGraphNotFound, name)
	}

	exec, err := entry.factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph %s: %w", name, err)
	}
	return exec, nil
}

// Get returns the description of the named graph
func (c *Catalog) Get(name string) (GraphInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[name]
	return entry.info, ok
}

// List returns every graph sorted by name
func (c *Catalog) List() []GraphInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]GraphInfo, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func describe(name, description string, exec orchestration.Executable) GraphInfo {
	info := GraphInfo{
		Name:        name,
		Description: description,
		InputType:   exec.InputType().String(),
		OutputType:  exec.OutputType().String(),
		Entry:       exec.Entry().Name(),
	}
	if result := exec.ResultNode(); result != nil {
		info.Result = result.Name()
	}
	for _, r := range exec.Runnables() {
		info.Nodes = append(info.Nodes, r.Name())
	}
	return info
}
