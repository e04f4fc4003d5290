package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vpnshare/internal/core"
	"vpnshare/internal/ledger"
	"vpnshare/internal/storage/memory"
)

const adminID core.UserID = 1000

type fakePublisher struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (f *fakePublisher) PublishEvent(_ context.Context, e core.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func newService(t *testing.T, pub EventPublisher, max int) (*MembershipService, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(memory.New())
	s := NewMembershipService(l, pub, MembershipConfig{AdminID: adminID, MaxMembers: max, Location: time.UTC})
	s.now = func() time.Time { return time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC) }
	return s, l
}

func strptr(s string) *string { return &s }

func TestJoin(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	s, l := newService(t, pub, 4)

	tests := []struct {
		name    string
		profile Profile
		want    JoinOutcome
	}{
		{name: "admin", profile: Profile{ID: adminID, Name: "Boss"}, want: JoinedAdmin},
		{name: "first member", profile: Profile{ID: 1, Name: "A"}, want: Joined},
		{name: "second member", profile: Profile{ID: 2, Name: "B"}, want: Joined},
		{name: "returning member", profile: Profile{ID: 1, Name: "A", Username: strptr("aaa")}, want: AlreadyMember},
		{name: "third member", profile: Profile{ID: 3, Name: "C"}, want: Joined},
		{name: "fourth member", profile: Profile{ID: 4, Name: "D"}, want: Joined},
		{name: "fifth is refused", profile: Profile{ID: 5, Name: "E"}, want: CapacityReached},
		{name: "admin still passes when full", profile: Profile{ID: adminID, Name: "Boss"}, want: JoinedAdmin},
		{name: "existing member still recognised when full", profile: Profile{ID: 4, Name: "D"}, want: AlreadyMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Join(ctx, tt.profile)
			if err != nil {
				t.Fatalf("Join: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Join = %v, want %v", got, tt.want)
			}
		})
	}

	users, _ := l.ListUsers(ctx)
	if _, ok := users[5]; ok {
		t.Fatal("refused user must not be registered")
	}
	if users[adminID].Role != core.RoleAdmin {
		t.Fatalf("admin registered with role %q", users[adminID].Role)
	}
	if h := users[1].Username; h == nil || *h != "aaa" {
		t.Fatalf("username not backfilled: %v", h)
	}
	if len(pub.events) != 4 {
		t.Fatalf("want 4 join events, got %d", len(pub.events))
	}
	for _, e := range pub.events {
		if e.Type != core.EventUserJoined || e.Actor != core.ActorSelf || e.ID == "" {
			t.Fatalf("unexpected event %+v", e)
		}
	}
}

func TestJoinConcurrentRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	s, l := newService(t, nil, 4)

	var wg sync.WaitGroup
	for i := 1; i <= 12; i++ {
		wg.Add(1)
		go func(id core.UserID) {
			defer wg.Done()
			s.Join(ctx, Profile{ID: id, Name: "m"})
		}(core.UserID(i))
	}
	wg.Wait()

	members, _ := l.ListMembers(ctx, adminID)
	if len(members) != 4 {
		t.Fatalf("capacity exceeded under concurrency: %d members", len(members))
	}
}

func TestAddMemberBypassesCapacity(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	s, l := newService(t, pub, 1)

	if out, _ := s.Join(ctx, Profile{ID: 1, Name: "A"}); out != Joined {
		t.Fatalf("Join = %v", out)
	}
	if out, _ := s.Join(ctx, Profile{ID: 2, Name: "B"}); out != CapacityReached {
		t.Fatalf("Join = %v", out)
	}

	created, err := s.AddMember(ctx, Profile{ID: 2, Name: "B"})
	if err != nil || !created {
		t.Fatalf("AddMember = %v, %v", created, err)
	}
	created, _ = s.AddMember(ctx, Profile{ID: 2, Name: "B"})
	if created {
		t.Fatal("second AddMember must be a no-op")
	}
	if created, _ := s.AddMember(ctx, Profile{ID: adminID, Name: "Boss"}); created {
		t.Fatal("the administrator is never added as a member")
	}

	members, _ := l.ListMembers(ctx, adminID)
	if len(members) != 2 {
		t.Fatalf("members = %v", members)
	}
	last := pub.events[len(pub.events)-1]
	if last.Actor != core.ActorAdmin || last.UserID != 2 {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	s, l := newService(t, pub, 4)

	s.Join(ctx, Profile{ID: 2, Name: "Bob"})
	l.MarkPaid(ctx, 2, "2024-04")
	l.MarkPaid(ctx, 2, "2024-05")

	u, removed, err := s.Remove(ctx, 2)
	if err != nil || !removed || u.Name != "Bob" {
		t.Fatalf("Remove = %+v, %v, %v", u, removed, err)
	}
	st, _ := l.Snapshot(ctx)
	if len(st.Payments["2024-04"]) != 0 || len(st.Payments["2024-05"]) != 0 {
		t.Fatalf("marks survived removal: %v", st.Payments)
	}

	if _, removed, _ := s.Remove(ctx, 2); removed {
		t.Fatal("second removal must be a no-op")
	}
	if _, _, err := s.Remove(ctx, adminID); !errors.Is(err, ErrAdminRemoval) {
		t.Fatalf("Remove(admin) error = %v", err)
	}

	last := pub.events[len(pub.events)-1]
	if last.Type != core.EventUserRemoved || last.Name != "Bob" {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestMarkPaidAndStatus(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	s, _ := newService(t, pub, 4)
	s.Join(ctx, Profile{ID: 1, Name: "Ann"})
	pub.events = nil

	month, paid, err := s.Status(ctx, 1)
	if err != nil || paid || month != "2024-05" {
		t.Fatalf("Status = %v, %v, %v", month, paid, err)
	}

	month, err = s.MarkPaid(ctx, 1, core.ActorSelf)
	if err != nil || month != "2024-05" {
		t.Fatalf("MarkPaid = %v, %v", month, err)
	}
	if _, err := s.MarkPaid(ctx, 1, core.ActorAdmin); err != nil {
		t.Fatal(err)
	}

	if _, paid, _ := s.Status(ctx, 1); !paid {
		t.Fatal("Status should report paid")
	}
	if len(pub.events) != 1 {
		t.Fatalf("repeated marks must publish once, got %d events", len(pub.events))
	}
	e := pub.events[0]
	if e.Type != core.EventPaymentMarked || e.Month != "2024-05" || e.Name != "Ann" || e.Actor != core.ActorSelf {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestMarkPaidAndStatus_UnknownUser(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	s, l := newService(t, pub, 4)

	if _, err := s.MarkPaid(ctx, 77, core.ActorSelf); !errors.Is(err, core.ErrUnknownUser) {
		t.Fatalf("MarkPaid err = %v, want ErrUnknownUser", err)
	}
	if _, _, err := s.Status(ctx, 77); !errors.Is(err, core.ErrUnknownUser) {
		t.Fatalf("Status err = %v, want ErrUnknownUser", err)
	}
	if paid, _ := l.IsPaid(ctx, 77, "2024-05"); paid {
		t.Fatal("unknown user must not be marked")
	}
	if len(pub.events) != 0 {
		t.Fatalf("no events expected, got %d", len(pub.events))
	}

	// The administrator may mark without ever registering.
	if _, err := s.MarkPaid(ctx, adminID, core.ActorSelf); err != nil {
		t.Fatalf("admin MarkPaid: %v", err)
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	s, l := newService(t, &fakePublisher{err: errors.New("channel closed")}, 4)

	if out, err := s.Join(ctx, Profile{ID: 1, Name: "A"}); err != nil || out != Joined {
		t.Fatalf("Join = %v, %v", out, err)
	}
	if _, err := s.MarkPaid(ctx, 1, core.ActorSelf); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if paid, _ := l.IsPaid(ctx, 1, "2024-05"); !paid {
		t.Fatal("ledger write lost")
	}
}

func TestJoinOutcomeString(t *testing.T) {
	if CapacityReached.String() != "capacity_reached" || JoinOutcome(42).String() != "JoinOutcome(42)" {
		t.Fatal("unexpected JoinOutcome strings")
	}
}
