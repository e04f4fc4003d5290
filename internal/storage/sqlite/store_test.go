package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"vpnshare/internal/core"
)

func TestSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "ledger.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(empty.Users) != 0 || len(empty.Payments) != 0 {
		t.Fatalf("expected empty state, got %+v", empty)
	}

	h := "bob"
	st := core.NewState()
	st.Users[7] = core.User{Name: "Admin", Role: core.RoleAdmin}
	st.Users[42] = core.User{Name: "Bob", Username: &h, Role: core.RoleMember}
	st.Payments["2024-05"] = map[core.UserID]bool{42: true}
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A second save replaces, not appends.
	delete(st.Users, 42)
	st.Users[43] = core.User{Name: "Cid", Role: core.RoleMember}
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Users) != 2 {
		t.Fatalf("expected 2 users, got %+v", got.Users)
	}
	if got.Users[7].Role != core.RoleAdmin || got.Users[7].Username != nil {
		t.Fatalf("admin row mismatch: %+v", got.Users[7])
	}
	if _, ok := got.Users[42]; ok {
		t.Fatalf("removed user still stored")
	}
	if !got.Payments["2024-05"][42] {
		t.Fatalf("payment marks should survive user removal: %+v", got.Payments)
	}
}

func TestReopenRunsMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st := core.NewState()
	st.Users[1] = core.User{Name: "A", Role: core.RoleMember}
	if err := s.Save(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := s2.Load(context.Background())
	if got.Users[1].Name != "A" {
		t.Fatalf("data lost on reopen: %+v", got.Users)
	}
}
