package memory

import (
	"context"
	"testing"

	"vpnshare/internal/core"
)

func TestStoreCopiesState(t *testing.T) {
	ctx := context.Background()
	seed := core.NewState()
	seed.Users[1] = core.User{Name: "A", Role: core.RoleMember}
	s := NewWithState(seed)

	seed.Users[2] = core.User{Name: "B"}
	st, _ := s.Load(ctx)
	if len(st.Users) != 1 {
		t.Fatalf("seed mutation leaked into store: %v", st.Users)
	}

	st.Payments["2024-05"] = map[core.UserID]bool{1: true}
	again, _ := s.Load(ctx)
	if len(again.Payments) != 0 {
		t.Fatalf("loaded state shares maps with store")
	}

	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.Payments["2024-06"] = map[core.UserID]bool{1: true}
	again, _ = s.Load(ctx)
	if len(again.Payments) != 1 || s.Saves() != 1 {
		t.Fatalf("unexpected stored payments %v (saves=%d)", again.Payments, s.Saves())
	}
}
