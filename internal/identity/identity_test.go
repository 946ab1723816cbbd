package identity

import "testing"

type stubSessions struct {
	id string
}

func (s stubSessions) SessionID() (string, error) { return s.id, nil }

func TestOwnerKeyDerivation(t *testing.T) {
	anon := Anonymous{SessionID: "abc123"}
	if got := anon.OwnerKey(); got != "session:abc123" {
		t.Fatalf("unexpected anonymous key %q", got)
	}

	user := Authenticated{UserID: "42"}
	if got := user.OwnerKey(); got != "user:42" {
		t.Fatalf("unexpected user key %q", got)
	}
}

func TestResolverStartsAnonymous(t *testing.T) {
	r := NewResolver(stubSessions{id: "deadbeef"})

	key, err := r.OwnerKey()
	if err != nil {
		t.Fatal(err)
	}
	if key != "session:deadbeef" {
		t.Fatalf("unexpected key %q", key)
	}
	if r.Epoch() != 0 {
		t.Fatalf("fresh resolver should be at epoch 0, got %d", r.Epoch())
	}
}

func TestAuthenticateChangesKeyExactlyOnce(t *testing.T) {
	r := NewResolver(stubSessions{id: "deadbeef"})

	before := r.Epoch()
	if err := r.Authenticate("u1"); err != nil {
		t.Fatal(err)
	}

	key, err := r.OwnerKey()
	if err != nil {
		t.Fatal(err)
	}
	if key != "user:u1" {
		t.Fatalf("unexpected key after login %q", key)
	}
	if r.Epoch() != before+1 {
		t.Fatalf("epoch should advance once, got %d", r.Epoch())
	}

	// Repeating the same login is a no-op.
	if err := r.Authenticate("u1"); err != nil {
		t.Fatal(err)
	}
	if r.Epoch() != before+1 {
		t.Fatal("repeated login must not advance the epoch")
	}

	// Switching users mid-flow is a programming error.
	if err := r.Authenticate("u2"); err == nil {
		t.Fatal("expected error when switching users mid-flow")
	}
}

func TestStillCurrentDetectsTransition(t *testing.T) {
	r := NewResolver(stubSessions{id: "deadbeef"})

	epoch := r.Epoch()
	if !r.StillCurrent(epoch) {
		t.Fatal("epoch should still be current")
	}
	if err := r.Authenticate("u1"); err != nil {
		t.Fatal(err)
	}
	if r.StillCurrent(epoch) {
		t.Fatal("old epoch must be invalid after the transition")
	}
}
