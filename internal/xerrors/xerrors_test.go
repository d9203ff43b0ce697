package xerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should return nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should return nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "doing thing")

	if got := err.Error(); got != "doing thing: boom" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should match base via errors.Is")
	}
}

func TestWrap_CapturesPC(t *testing.T) {
	err := Wrap(errors.New("boom"), "ctx")
	type hasPC interface{ PC() uintptr }
	hp, ok := err.(hasPC)
	if !ok {
		t.Fatal("Wrap result should expose PC()")
	}
	if hp.PC() == 0 {
		t.Fatal("PC should be non-zero")
	}
}

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	type hasStack interface{ StackPCs() []uintptr }
	hs, ok := err.(hasStack)
	if !ok {
		t.Fatal("New result should expose StackPCs()")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("stack should be non-empty")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("bad value %d for %s", 42, "threshold")
	if !strings.Contains(err.Error(), "bad value 42 for threshold") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEnsureTrace_DoesNotDoubleWrap(t *testing.T) {
	inner := WithStack(errors.New("boom"))
	outer := EnsureTrace(fmt.Errorf("outer: %w", inner))
	// inner already has a stack, so EnsureTrace should return its input
	if outer.Error() != "outer: boom" {
		t.Fatalf("Error() = %q", outer.Error())
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if !errors.As(outer, &hs) {
		t.Fatal("chain should still carry the inner stack")
	}
}
