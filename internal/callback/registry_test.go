package callback

import (
	"errors"
	"testing"
)

func TestRegisterInvoke(t *testing.T) {
	r := NewRegistry()

	id := r.Register(func(args ...any) (any, error) {
		return len(args), nil
	})
	if id == 0 {
		t.Fatal("Register returned zero id")
	}
	if !r.Has(id) {
		t.Error("Has(id) = false after Register")
	}

	got, err := r.Invoke(id, "a", "b", "c")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != 3 {
		t.Errorf("Invoke result = %v, want 3", got)
	}
}

func TestInvokeAfterRelease(t *testing.T) {
	r := NewRegistry()
	id := r.Register(func(args ...any) (any, error) { return nil, nil })

	r.Release(id)
	if r.Has(id) {
		t.Error("Has(id) = true after Release")
	}

	_, err := r.Invoke(id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Invoke after release: err = %v, want ErrNotFound", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.Register(func(args ...any) (any, error) { return nil, nil })

	r.Release(id)
	r.Release(id) // second release is a no-op
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestIDsNeverReissued(t *testing.T) {
	r := NewRegistry()
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := r.Register(func(args ...any) (any, error) { return nil, nil })
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
		r.Release(id)
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.Register(func(args ...any) (any, error) { return nil, nil })
	}
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", r.Len())
	}
}
