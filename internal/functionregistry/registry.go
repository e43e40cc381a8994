// Package functionregistry replaces Python's dynamic (module_path,
// symbol_name) import with an explicit, process-wide registry of Go
// functions, per SPEC_FULL.md §9 / the original source's reliance on
// importlib. A function must be registered before any job referencing it
// can run; there is no reflection-based discovery.
package functionregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/legout/flowerpower/internal/domain"
)

// Func is the shape every registered job function must satisfy: it
// receives its decoded positional/keyword arguments and a context carrying
// cooperative-cancellation deadlines, and returns a JSON-serializable
// result or an error.
type Func func(ctx context.Context, positionalArgs, keywordArgs json.RawMessage) (result any, err error)

// Registry maps FunctionRef to Func. The zero value is not usable; call
// New.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register associates ref with fn, overwriting any previous registration
// — callers are expected to register once at startup, but re-registration
// is intentionally permitted for tests.
func (r *Registry) Register(ref domain.FunctionRef, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[ref.String()] = fn
}

// Lookup returns the Func for ref, or domain.ErrFunctionNotFound.
func (r *Registry) Lookup(ref domain.FunctionRef) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFunctionNotFound, ref.String())
	}
	return fn, nil
}

// Invoke looks up and calls ref's function in one step.
func (r *Registry) Invoke(ctx context.Context, ref domain.FunctionRef, positionalArgs, keywordArgs json.RawMessage) (any, error) {
	fn, err := r.Lookup(ref)
	if err != nil {
		return nil, err
	}
	return fn(ctx, positionalArgs, keywordArgs)
}
