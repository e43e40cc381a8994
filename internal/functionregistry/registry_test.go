package functionregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/legout/flowerpower/internal/domain"
)

func TestRegistry_LookupUnregistered(t *testing.T) {
	r := New()
	_, err := r.Lookup(domain.FunctionRef{ModulePath: "pkg", Symbol: "missing"})
	if err == nil {
		t.Fatal("expected error for unregistered function")
	}
}

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := New()
	ref := domain.FunctionRef{ModulePath: "pkg", Symbol: "echo"}
	r.Register(ref, func(_ context.Context, positionalArgs, _ json.RawMessage) (any, error) {
		return string(positionalArgs), nil
	})

	got, err := r.Invoke(context.Background(), ref, json.RawMessage(`"hi"`), nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != `"hi"` {
		t.Errorf("Invoke = %v, want %q", got, `"hi"`)
	}
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	r := New()
	ref := domain.FunctionRef{ModulePath: "pkg", Symbol: "f"}
	r.Register(ref, func(_ context.Context, _, _ json.RawMessage) (any, error) { return "first", nil })
	r.Register(ref, func(_ context.Context, _, _ json.RawMessage) (any, error) { return "second", nil })

	got, err := r.Invoke(context.Background(), ref, nil, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "second" {
		t.Errorf("Invoke = %v, want %q", got, "second")
	}
}
