package crypto

import "testing"

func TestCanonicalJSONSortsKeysRegardlessOfInsertionOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	b := map[string]any{"c": map[string]any{"y": 2, "z": 1}, "a": 2, "b": 1}

	outA, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	outB, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(outA) != string(outB) {
		t.Fatalf("expected identical canonical output, got %q vs %q", outA, outB)
	}
}

func TestCanonicalJSONWithoutRemovesField(t *testing.T) {
	v := map[string]any{"a": 1, "signature": "abc"}
	out, err := CanonicalJSONWithout(v, "signature")
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Fatalf("unexpected output: %s", out)
	}
}
