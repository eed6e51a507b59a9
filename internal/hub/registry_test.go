package hub

import (
	"errors"
	"testing"
)

func TestRegistry_AddRejectsDuplicate(t *testing.T) {
	r := newRegistry()
	a := &client{connID: "conn-1"}
	if err := r.add("A", a); err != nil {
		t.Fatalf("add: %v", err)
	}

	dup := &client{connID: "conn-2"}
	if err := r.add("A", dup); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("err=%v, want ErrAlreadyRegistered", err)
	}

	got, ok := r.lookup("A")
	if !ok || got != a {
		t.Fatalf("original mapping must be untouched")
	}
}

func TestRegistry_RemoveRequiresOwnership(t *testing.T) {
	r := newRegistry()
	a := &client{connID: "conn-1"}
	if err := r.add("A", a); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A stale channel closing must not evict the live registration.
	if r.remove("A", "conn-2") {
		t.Fatalf("remove with wrong conn id must be a no-op")
	}
	if _, ok := r.lookup("A"); !ok {
		t.Fatalf("live registration was evicted")
	}

	if !r.remove("A", "conn-1") {
		t.Fatalf("owner remove failed")
	}
	if _, ok := r.lookup("A"); ok {
		t.Fatalf("entry still present after remove")
	}

	// Removing twice is a no-op, not an error.
	if r.remove("A", "conn-1") {
		t.Fatalf("second remove must be a no-op")
	}
}

func TestRegistry_IdentitiesSorted(t *testing.T) {
	r := newRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		if err := r.add(id, &client{connID: id}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	got := r.identities()
	want := []string{"alice", "bob", "carol"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("identities=%v, want %v", got, want)
		}
	}
	if r.count() != 3 {
		t.Fatalf("count=%d", r.count())
	}
}
