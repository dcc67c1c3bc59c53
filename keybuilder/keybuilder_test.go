package keybuilder

import (
	"testing"

	"github.com/raid-newvicx/cachex/cacheerrors"
)

func sample(a, b int) int { return a + b }

func sample2(a, b int) int { return a + b + 1 }

// TestFunctionKeyStableAcrossCalls: deriving the key for the same
// function twice yields the same digest.
func TestFunctionKeyStableAcrossCalls(t *testing.T) {
	k1 := FunctionKeyOf(sample)
	k2 := FunctionKeyOf(sample)
	if k1 != k2 {
		t.Fatalf("expected stable function key, got %s != %s", k1, k2)
	}
}

// TestFunctionKeyDiffersAcrossFunctions: a function's identity is its
// code location, so two distinct functions must fingerprint differently.
func TestFunctionKeyDiffersAcrossFunctions(t *testing.T) {
	k1 := FunctionKeyOf(sample)
	k2 := FunctionKeyOf(sample2)
	if k1 == k2 {
		t.Fatalf("expected distinct function keys for distinct functions, both got %s", k1)
	}
}

// TestWithFunctionKeyOverridesDerivedIdentity: two syntactically distinct
// functions pinned to the same explicit key collide, and the same function
// pinned to two different explicit keys does not collide with itself.
func TestWithFunctionKeyOverridesDerivedIdentity(t *testing.T) {
	k1 := FunctionKeyOf(sample, WithFunctionKey("shared"))
	k2 := FunctionKeyOf(sample2, WithFunctionKey("shared"))
	if k1 != k2 {
		t.Fatalf("expected explicit function keys to collide regardless of underlying function, got %s != %s", k1, k2)
	}

	k3 := FunctionKeyOf(sample, WithFunctionKey("other"))
	if k1 == k3 {
		t.Fatalf("expected different explicit keys to produce different function keys")
	}
}

// TestArgKeyOrderingMatters: f(1, 2) and f(2, 1) must produce different
// keys.
func TestArgKeyOrderingMatters(t *testing.T) {
	k1, err := ArgKey("f", []Arg{Positional(1), Positional(2)}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	k2, err := ArgKey("f", []Arg{Positional(2), Positional(1)}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	if k1 == k2 {
		t.Fatalf("expected f(1, 2) and f(2, 1) to produce different argument keys")
	}
}

// TestArgKeyNamedOrderIsSignificant: named-argument insertion order is
// significant, so f(a=1, b=2) and f(b=2, a=1) key differently.
func TestArgKeyNamedOrderIsSignificant(t *testing.T) {
	k1, err := ArgKey("f", []Arg{Named("a", 1), Named("b", 2)}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	k2, err := ArgKey("f", []Arg{Named("b", 2), Named("a", 1)}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	if k1 == k2 {
		t.Fatalf("expected insertion order to be significant for named args")
	}
}

// TestArgKeyUnderscoreExclusion: a leading-underscore parameter name is
// excluded from the argument fingerprint regardless of its value.
func TestArgKeyUnderscoreExclusion(t *testing.T) {
	k1, err := ArgKey("f", []Arg{Named("_x", "alpha"), Named("y", "beta")}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	k2, err := ArgKey("f", []Arg{Named("_x", "gamma"), Named("y", "beta")}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected _x's value to be excluded from the argument key, got %x != %x", k1, k2)
	}
}

// TestArgKeyDeterminism: identical argument lists fingerprint identically
// across sessions.
func TestArgKeyDeterminism(t *testing.T) {
	args := []Arg{Named("a", 1), Named("b", "two")}
	k1, err := ArgKey("f", args, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	k2, err := ArgKey("f", args, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic argument key, got %x != %x", k1, k2)
	}
}

// TestArgKeyUnhashableWrapsError: a single unfingerprintable argument
// surfaces as UnhashableParamError naming the parameter.
func TestArgKeyUnhashableWrapsError(t *testing.T) {
	_, err := ArgKey("f", []Arg{Named("conn", make(chan int))}, nil)
	var target *cacheerrors.UnhashableParamError
	if err == nil {
		t.Fatalf("expected an error for an unhashable argument")
	}
	uerr, ok := err.(*cacheerrors.UnhashableParamError)
	if !ok {
		t.Fatalf("expected *cacheerrors.UnhashableParamError, got %T: %v", err, err)
	}
	target = uerr
	if target.Param != "conn" {
		t.Fatalf("expected the error to name the parameter %q, got %q", "conn", target.Param)
	}
}

// TestCacheKeyComposition pins the textual composition rule
// "{function_key}_{arg_key}".
func TestCacheKeyComposition(t *testing.T) {
	fk := FunctionKeyOf(sample)
	ak, err := ArgKey("sample", []Arg{Positional(1)}, nil)
	if err != nil {
		t.Fatalf("ArgKey: %v", err)
	}
	key := CacheKey(fk, ak)
	want := fk.String() + "_" + FunctionKey(ak).String()
	if key != want {
		t.Fatalf("got %q, want %q", key, want)
	}
}

// TestKeyEndToEnd exercises the single-step Key helper that decorators
// actually call.
func TestKeyEndToEnd(t *testing.T) {
	k1, err := Key(sample, nil, "sample", []Arg{Positional(1), Positional(2)}, nil)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	k2, err := Key(sample, nil, "sample", []Arg{Positional(1), Positional(2)}, nil)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic composite key, got %q != %q", k1, k2)
	}

	k3, err := Key(sample, nil, "sample", []Arg{Positional(2), Positional(1)}, nil)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if k1 == k3 {
		t.Fatalf("expected different argument order to produce a different composite key")
	}
}
