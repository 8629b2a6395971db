package operator

import (
	"errors"
	"testing"
)

func TestRegistryGet(t *testing.T) {
	r := Builtin()

	op, err := r.Get("comparison")
	if err != nil {
		t.Fatalf("Get(comparison) returned error: %v", err)
	}
	if op.Name() != "comparison" {
		t.Errorf("expected operator comparison, got %s", op.Name())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := Builtin()

	_, err := r.Get("chaos")
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
	if !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("expected ErrUnknownOperator, got %v", err)
	}
}

func TestRegistryNamesInRegistrationOrder(t *testing.T) {
	r := Builtin()

	want := []string{"comparison", "arithmetic", "boolean", "boundary", "returns"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d operators, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i])
		}
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(Comparison())
	r.Register(Comparison())

	if len(r.Names()) != 1 {
		t.Errorf("expected one registered name, got %v", r.Names())
	}
}

func TestRegistryEnabled(t *testing.T) {
	r := Builtin()

	t.Run("empty request resolves all", func(t *testing.T) {
		ops, err := r.Enabled()
		if err != nil {
			t.Fatalf("Enabled() returned error: %v", err)
		}
		if len(ops) != 5 {
			t.Errorf("expected 5 operators, got %d", len(ops))
		}
	})

	t.Run("unknown names are skipped", func(t *testing.T) {
		ops, err := r.Enabled("boolean", "chaos")
		if err != nil {
			t.Fatalf("Enabled returned error: %v", err)
		}
		if len(ops) != 1 || ops[0].Name() != "boolean" {
			t.Errorf("expected [boolean], got %v", opNames(ops))
		}
	})

	t.Run("nothing resolved is an error", func(t *testing.T) {
		_, err := r.Enabled("chaos", "mayhem")
		if !errors.Is(err, ErrUnknownOperator) {
			t.Errorf("expected ErrUnknownOperator, got %v", err)
		}
	})

	t.Run("preserves registration order", func(t *testing.T) {
		ops, err := r.Enabled("returns", "comparison")
		if err != nil {
			t.Fatalf("Enabled returned error: %v", err)
		}
		got := opNames(ops)
		if len(got) != 2 || got[0] != "comparison" || got[1] != "returns" {
			t.Errorf("expected [comparison returns], got %v", got)
		}
	})
}

func opNames(ops []Operator) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name()
	}
	return names
}
