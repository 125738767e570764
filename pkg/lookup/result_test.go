package lookup

import (
	"errors"
	"testing"
)

type charge struct{ ID string }

func TestResultVariants(t *testing.T) {
	found := Found(&charge{ID: "pix_1"})
	if !found.IsFound() || found.Kind() != KindFound {
		t.Fatalf("expected found, got %s", found.Kind())
	}
	if v, ok := found.Collapse(); !ok || v.ID != "pix_1" {
		t.Fatalf("unexpected collapse %v %v", v, ok)
	}

	var zero Result[charge]
	if !zero.IsNotFound() {
		t.Fatalf("zero value must be not found, got %s", zero.Kind())
	}

	boom := errors.New("connection reset")
	failed := Failed[charge](boom)
	if !failed.IsFailed() || !errors.Is(failed.Err(), boom) {
		t.Fatalf("expected failure carrying cause, got %s %v", failed.Kind(), failed.Err())
	}
	if _, ok := failed.Collapse(); ok {
		t.Fatal("failed must collapse to not found")
	}
	if _, ok := NotFound[charge]().Collapse(); ok {
		t.Fatal("not found must collapse to not found")
	}
}

func TestFoundWithNilIsNotFound(t *testing.T) {
	if r := Found[charge](nil); !r.IsNotFound() {
		t.Fatalf("expected not found for nil value, got %s", r.Kind())
	}
	if r := Failed[charge](nil); r.Err() == nil {
		t.Fatal("failed without cause should still carry an error")
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{KindFound: "found", KindNotFound: "not_found", KindFailed: "failed"} {
		if kind.String() != want {
			t.Fatalf("expected %s got %s", want, kind.String())
		}
	}
}
