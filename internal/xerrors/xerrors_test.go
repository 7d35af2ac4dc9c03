package xerrors

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

// stackContains reports whether any frame in pcs has a function containing substr.
func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			break
		}
	}
	return false
}

func TestNew_StackContainsCaller(t *testing.T) {
	err := New("test")

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New error should have StackPCs")
	}
	if !stackContains(hs.StackPCs(), "TestNew_StackContainsCaller") {
		t.Fatal("stack should contain calling function")
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("invalid limit %d for %s", -1, "number")
	want := "invalid limit -1 for number"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
}

func TestWrapf_MessageAndUnwrap(t *testing.T) {
	err := Wrapf(errSentinel, "phone number %q", " ")
	if err.Error() != `phone number " ": sentinel` {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is should find sentinel through Wrapf")
	}
}

func TestWrap_HasPC(t *testing.T) {
	err := Wrap(errSentinel, "ctx")

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrap should expose PC()")
	}
	if hp.PC() == 0 {
		t.Fatal("PC should be non-zero")
	}
	fn := runtime.FuncForPC(hp.PC())
	if fn == nil || !strings.Contains(fn.Name(), "TestWrap_HasPC") {
		t.Fatalf("PC should point at caller, got %v", fn)
	}
}

func TestEnsureTrace_Idempotent(t *testing.T) {
	first := EnsureTrace(errSentinel)
	second := EnsureTrace(first)
	if first != second {
		t.Fatal("EnsureTrace should not re-wrap an error that already has a stack")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should return nil")
	}
}

func TestEnsureTrace_WrappedErrorGetsStack(t *testing.T) {
	// Wrap carries a single PC, not a stack, so EnsureTrace still adds one
	err := EnsureTrace(Wrap(errSentinel, "outer"))

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace should add a stack on top of Wrap")
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("sentinel should remain reachable")
	}
}

func TestJoin_AllNil(t *testing.T) {
	if Join(nil, nil) != nil {
		t.Fatal("Join of nils should be nil")
	}
}

func TestJoin_KeepsEveryError(t *testing.T) {
	other := errors.New("other")
	err := Join(errSentinel, nil, other)
	if err == nil {
		t.Fatal("Join should return non-nil")
	}
	if !Is(err, errSentinel) || !Is(err, other) {
		t.Fatal("joined error should match both inputs")
	}
	if !strings.Contains(err.Error(), "sentinel") || !strings.Contains(err.Error(), "other") {
		t.Fatalf("Error() = %q, want both messages", err.Error())
	}

	var hs interface{ StackPCs() []uintptr }
	if !As(err, &hs) {
		t.Fatal("Join should attach a stack")
	}
}
