// Package gates implements the quality-gate engine: the global definition
// registry, per-issue gate status bookkeeping, and execution of configured
// checkers with bounded timeouts and captured output.
package gates

import (
	"sort"

	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/store"
	"github.com/erankavija/jit/internal/types"
)

// Registry provides gate-definition operations over a store. Definitions
// are edited only here; per-issue requirements are edited only through
// issue commands. The two are linked by key.
type Registry struct {
	store store.Store
}

// NewRegistry returns a registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Define adds or replaces a gate definition.
func (r *Registry) Define(def types.GateDef) error {
	if err := def.Validate(); err != nil {
		return jiterr.Wrap(jiterr.KindInvalidArgument, err, "invalid gate definition")
	}
	doc, err := r.store.LoadGates()
	if err != nil {
		return err
	}
	replaced := false
	for i, g := range doc.Gates {
		if g.Key == def.Key {
			doc.Gates[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Gates = append(doc.Gates, def)
	}
	sort.Slice(doc.Gates, func(a, b int) bool { return doc.Gates[a].Key < doc.Gates[b].Key })
	return r.store.SaveGates(doc)
}

// Remove deletes a definition by key.
func (r *Registry) Remove(key string) error {
	doc, err := r.store.LoadGates()
	if err != nil {
		return err
	}
	for i, g := range doc.Gates {
		if g.Key == key {
			doc.Gates = append(doc.Gates[:i], doc.Gates[i+1:]...)
			return r.store.SaveGates(doc)
		}
	}
	return unknownGate(key)
}

// Get returns the definition for a key.
func (r *Registry) Get(key string) (*types.GateDef, error) {
	doc, err := r.store.LoadGates()
	if err != nil {
		return nil, err
	}
	for i := range doc.Gates {
		if doc.Gates[i].Key == key {
			return &doc.Gates[i], nil
		}
	}
	return nil, unknownGate(key)
}

// List returns every definition sorted by key.
func (r *Registry) List() ([]types.GateDef, error) {
	doc, err := r.store.LoadGates()
	if err != nil {
		return nil, err
	}
	out := append([]types.GateDef(nil), doc.Gates...)
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}

// ValidateKeys checks that every key resolves in the registry.
func (r *Registry) ValidateKeys(keys []string) error {
	doc, err := r.store.LoadGates()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(doc.Gates))
	for _, g := range doc.Gates {
		known[g.Key] = true
	}
	for _, key := range keys {
		if !known[key] {
			return unknownGate(key)
		}
	}
	return nil
}

func unknownGate(key string) error {
	return jiterr.New(jiterr.KindUnknownGate, "gate %q is not defined in the registry", key).With("key", key)
}

// Unpassed returns the issue's required gate keys of the given stage whose
// status is not passed, sorted. Keys in gates_status that are not required
// are never consulted.
func Unpassed(issue *types.Issue, defs map[string]types.GateDef, stage types.GateStage) []string {
	var keys []string
	for _, key := range issue.GatesRequired {
		def, ok := defs[key]
		if !ok || def.Stage != stage {
			continue
		}
		if issue.GateStatusOf(key) != types.GatePassed {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// DefMap indexes definitions by key.
func DefMap(defs []types.GateDef) map[string]types.GateDef {
	m := make(map[string]types.GateDef, len(defs))
	for _, d := range defs {
		m[d.Key] = d
	}
	return m
}
