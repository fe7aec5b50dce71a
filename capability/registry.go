// Package capability implements the CapabilityRegistry (§4.4): an
// in-memory map of capability name to handler, price, and tags, plus the
// nine built-in handlers every node pre-registers before accepting
// traffic.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/BSVanon/ClawSats-sub000/wallet"
)

// Handler executes a capability call. It receives the raw JSON params
// object and the node's wallet handle, and returns a JSON-serializable
// result or a string failure reason — capability-specific param
// validation lives inside the handler; the dispatcher never parses
// param schemas (§9 design note).
type Handler func(ctx context.Context, params json.RawMessage, gw wallet.Gateway) (any, error)

// Entry is one registered capability.
type Entry struct {
	Name        string
	Description string
	PriceSats   int64
	Tags        []string
	Handler     Handler
}

// Registry is the CapabilityRegistry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces a capability. Price must be non-negative;
// names are case-sensitive and unique by overwrite.
func (r *Registry) Register(e Entry) error {
	if e.PriceSats < 0 {
		return fmt.Errorf("capability: %q: price must be >= 0", e.Name)
	}
	if e.Name == "" {
		return fmt.Errorf("capability: name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name] = e
	return nil
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns every registered capability, sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted list of registered capability names.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
