package graphs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// ErrInvalidDefinition is returned for script graph definitions that cannot be built
var ErrInvalidDefinition = errors.New("invalid graph definition")

// Definition describes a graph whose nodes are JavaScript bodies.
//
// A node script sees `input` (an array for combined nodes) and `props` (a
// snapshot of the run properties) and may call setProperty(key, value). The
// value of its last expression is the node output. An edge predicate sees
// `output` and must evaluate to a boolean; an empty predicate always matches.
type Definition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Entry       string           `json:"entry"`
	Result      string           `json:"result"`
	Nodes       []NodeDefinition `json:"nodes"`
	Edges       []EdgeDefinition `json:"edges"`
}

// NodeDefinition describes one script node
type NodeDefinition struct {
	Name     string `json:"name"`
	Script   string `json:"script"`
	Combine  bool   `json:"combine,omitempty"`
	Parallel bool   `json:"parallel,omitempty"`
	DeadEnd  bool   `json:"dead_end,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// EdgeDefinition describes one advancer
type EdgeDefinition struct {
	From string `json:"from"`
	To   string `json:"to"`
	When string `json:"when,omitempty"`
}

// ScriptGraph is a compiled definition. Programs are shared between builds; each
// invocation gets its own runtime.
type ScriptGraph struct {
	def     *Definition
	nodes   map[string]*goja.Program
	edges   []*goja.Program
	timeout map[string]time.Duration
	logger  *zap.Logger
}

// ParseDefinition decodes a JSON definition
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &def, nil
}

// Validate checks names and references
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: %s has no nodes", ErrInvalidDefinition, d.Name)
	}

	names := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.Name == "" {
			return fmt.Errorf("%w: %s has a node without a name", ErrInvalidDefinition, d.Name)
		}
		if names[n.Name] {
			return fmt.Errorf("%w: %s has duplicate node %s", ErrInvalidDefinition, d.Name, n.Name)
		}
		if strings.TrimSpace(n.Script) == "" {
			return fmt.Errorf("%w: node %s has no script", ErrInvalidDefinition, n.Name)
		}
		names[n.Name] = true
	}

	if !names[d.Entry] {
		return fmt.Errorf("%w: entry %q is not a node", ErrInvalidDefinition, d.Entry)
	}
	if d.Result != "" && !names[d.Result] {
		return fmt.Errorf("%w: result %q is not a node", ErrInvalidDefinition, d.Result)
	}
	for _, e := range d.Edges {
		if !names[e.From] || !names[e.To] {
			return fmt.Errorf("%w: edge %s -> %s references an unknown node", ErrInvalidDefinition, e.From, e.To)
		}
	}
	return nil
}

// Compile validates d and compiles its scripts
func Compile(d *Definition, logger *zap.Logger) (*ScriptGraph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &ScriptGraph{
		def:     d,
		nodes:   make(map[string]*goja.Program, len(d.Nodes)),
		edges:   make([]*goja.Program, len(d.Edges)),
		timeout: make(map[string]time.Duration),
		logger:  logger.With(zap.String("graph", d.Name)),
	}

	for _, n := range d.Nodes {
		prog, err := goja.Compile(n.Name, n.Script, false)
		if err != nil {
			return nil, fmt.Errorf("failed to compile node %s: %w", n.Name, err)
		}
		g.nodes[n.Name] = prog

		if n.Timeout != "" {
			timeout, err := time.ParseDuration(n.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: node %s timeout: %v", ErrInvalidDefinition, n.Name, err)
			}
			g.timeout[n.Name] = timeout
		}
	}

	for i, e := range d.Edges {
		if strings.TrimSpace(e.When) == "" {
			continue
		}
		prog, err := goja.Compile(e.From+"->"+e.To, e.When, false)
		if err != nil {
			return nil, fmt.Errorf("failed to compile predicate %s -> %s: %w", e.From, e.To, err)
		}
		g.edges[i] = prog
	}

	return g, nil
}

// Name returns the definition name
func (g *ScriptGraph) Name() string {
	return g.def.Name
}

// Description returns the definition description
func (g *ScriptGraph) Description() string {
	return g.def.Description
}

// Build creates a fresh orchestration from the compiled definition
func (g *ScriptGraph) Build(opts ...orchestration.Option) (orchestration.Executable, error) {
	nodes := make(map[string]*orchestration.Node[any, any], len(g.def.Nodes))
	orch := orchestration.New[any, any](g.def.Name, opts...)

	for _, n := range g.def.Nodes {
		node := g.node(n)
		nodes[n.Name] = node
		if err := orch.Register(node); err != nil {
			return nil, err
		}
	}

	for i, e := range g.def.Edges {
		if err := orchestration.Connect(nodes[e.From], nodes[e.To], g.predicate(e, g.edges[i]), nil); err != nil {
			return nil, err
		}
	}

	if err := orch.SetEntry(nodes[g.def.Entry]); err != nil {
		return nil, err
	}
	if g.def.Result != "" {
		if err := orch.SetResult(nodes[g.def.Result]); err != nil {
			return nil, err
		}
	}
	return orch, nil
}

func (g *ScriptGraph) node(n NodeDefinition) *orchestration.Node[any, any] {
	var opts []orchestration.NodeOption
	if n.Parallel {
		opts = append(opts, orchestration.WithParallelAdvances())
	}
	if n.DeadEnd {
		opts = append(opts, orchestration.AsDeadEnd())
	}
	if d := g.timeout[n.Name]; d > 0 {
		opts = append(opts, orchestration.WithTimeout(d))
	}

	prog := g.nodes[n.Name]
	if n.Combine {
		return orchestration.NewBatchNode(n.Name, func(ctx context.Context, props *orchestration.Properties, in []any) (any, error) {
			return runScript(ctx, prog, props, in)
		}, opts...)
	}
	return orchestration.NewNode(n.Name, func(ctx context.Context, props *orchestration.Properties, in any) (any, error) {
		return runScript(ctx, prog, props, in)
	}, opts...)
}

func (g *ScriptGraph) predicate(e EdgeDefinition, prog *goja.Program) func(any) bool {
	if prog == nil {
		return nil
	}
	return func(output any) bool {
		vm := goja.New()
		if err := vm.Set("output", output); err != nil {
			return false
		}
		v, err := vm.RunProgram(prog)
		if err != nil {
			g.logger.Warn("Edge predicate failed",
				zap.String("from", e.From),
				zap.String("to", e.To),
				zap.Error(err))
			return false
		}
		return v.ToBoolean()
	}
}

// runScript evaluates prog on a new runtime, interrupting it when ctx is done.
func runScript(ctx context.Context, prog *goja.Program, props *orchestration.Properties, input any) (any, error) {
	vm := goja.New()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("failed to set input: %w", err)
	}
	if err := vm.Set("props", props.Snapshot()); err != nil {
		return nil, fmt.Errorf("failed to set props: %w", err)
	}
	if err := vm.Set("setProperty", func(key string, value goja.Value) {
		props.Set(key, value.Export())
	}); err != nil {
		return nil, fmt.Errorf("failed to set setProperty: %w", err)
	}

	v, err := vm.RunProgram(prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("script interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

// LoadDefinitions compiles every *.json definition in dir, sorted by file name.
// A missing dir yields no graphs.
func LoadDefinitions(dir string, logger *zap.Logger) ([]*ScriptGraph, error) {
	if dir == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	sort.Strings(paths)

	graphs := make([]*ScriptGraph, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		g, err := Compile(def, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}
