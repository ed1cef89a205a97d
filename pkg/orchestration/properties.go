package orchestration

import (
	"sort"
	"sync"
)

// Properties is the key/value store shared by every runnable for the lifetime of one run.
//
// All methods are safe for concurrent use. There are no cross-key transactions: nodes
// invoked in the same tick should write independent keys, or accumulate through Update.
type Properties struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewProperties creates an empty property store
func NewProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

// Get returns the value stored under key
func (p *Properties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key
func (p *Properties) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values[key] = value
}

// Delete removes key
func (p *Properties) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.values, key)
}

// Update replaces the value under key with fn(old, ok) while holding the write lock,
// and returns the stored value.
func (p *Properties) Update(key string, fn func(old any, ok bool) any) any {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, ok := p.values[key]
	next := fn(old, ok)
	p.values[key] = next
	return next
}

// Keys returns the stored keys in sorted order
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys
func (p *Properties) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.values)
}

// Snapshot returns a shallow copy of the store
func (p *Properties) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p *Properties) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values = make(map[string]any)
}

// PropertyAs returns the value under key if it holds a T.
func PropertyAs[T any](p *Properties, key string) (T, bool) {
	var zero T
	v, ok := p.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
