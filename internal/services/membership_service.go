package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vpnshare/internal/core"
	"vpnshare/internal/log"
)

var ErrAdminRemoval = errors.New("the administrator cannot be removed")

// Ledger is the subset of the ledger the membership service drives.
type Ledger interface {
	RegisterUser(ctx context.Context, id core.UserID, name string, username *string, role core.Role) (bool, error)
	ListUsers(ctx context.Context) (map[core.UserID]core.User, error)
	ListMembers(ctx context.Context, adminID core.UserID) (map[core.UserID]core.User, error)
	MarkPaid(ctx context.Context, id core.UserID, month core.Month) error
	IsPaid(ctx context.Context, id core.UserID, month core.Month) (bool, error)
	RemoveUser(ctx context.Context, id core.UserID) (bool, error)
}

// EventPublisher forwards ledger events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e core.Event) error
}

// Profile is what the chat platform tells us about a user.
type Profile struct {
	ID       core.UserID
	Name     string
	Username *string
}

type JoinOutcome int

const (
	Joined JoinOutcome = iota
	JoinedAdmin
	AlreadyMember
	CapacityReached
)

func (o JoinOutcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case JoinedAdmin:
		return "joined_admin"
	case AlreadyMember:
		return "already_member"
	case CapacityReached:
		return "capacity_reached"
	default:
		return fmt.Sprintf("JoinOutcome(%d)", int(o))
	}
}

type MembershipConfig struct {
	AdminID    core.UserID
	MaxMembers int
	Location   *time.Location
}

// MembershipService applies the membership policy on top of the ledger and
// publishes an event for every change it makes. The ledger write always
// happens first; publishing is best effort.
type MembershipService struct {
	ledger    Ledger
	publisher EventPublisher
	cfg       MembershipConfig
	now       func() time.Time

	// Serialises check-then-write sequences such as the capacity check.
	mu sync.Mutex
}

func NewMembershipService(l Ledger, publisher EventPublisher, cfg MembershipConfig) *MembershipService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &MembershipService{
		ledger:    l,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *MembershipService) AdminID() core.UserID { return s.cfg.AdminID }

func (s *MembershipService) IsAdmin(id core.UserID) bool { return id == s.cfg.AdminID }

func (s *MembershipService) MaxMembers() int { return s.cfg.MaxMembers }

func (s *MembershipService) CurrentMonth() core.Month {
	return core.MonthOf(s.now().In(s.cfg.Location))
}

// Join handles a self-service registration.
func (s *MembershipService) Join(ctx context.Context, p Profile) (JoinOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsAdmin(p.ID) {
		if _, err := s.ledger.RegisterUser(ctx, p.ID, p.Name, p.Username, core.RoleAdmin); err != nil {
			return 0, fmt.Errorf("register admin: %w", err)
		}
		return JoinedAdmin, nil
	}

	members, err := s.ledger.ListMembers(ctx, s.cfg.AdminID)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}

	if _, ok := members[p.ID]; ok {
		// Re-registering only backfills a missing username.
		if _, err := s.ledger.RegisterUser(ctx, p.ID, p.Name, p.Username, core.RoleMember); err != nil {
			return 0, fmt.Errorf("refresh member: %w", err)
		}
		return AlreadyMember, nil
	}

	if len(members) >= s.cfg.MaxMembers {
		slog.InfoContext(ctx, "Join refused, subscription is full",
			"user_id", p.ID,
			"members", len(members),
			"max_members", s.cfg.MaxMembers)
		return CapacityReached, nil
	}

	if _, err := s.ledger.RegisterUser(ctx, p.ID, p.Name, p.Username, core.RoleMember); err != nil {
		return 0, fmt.Errorf("register member: %w", err)
	}
	s.publish(ctx, core.EventUserJoined, p.ID, p.Name, "", core.ActorSelf)
	return Joined, nil
}

// AddMember registers p on the administrator's behalf. The capacity limit
// does not apply.
func (s *MembershipService) AddMember(ctx context.Context, p Profile) (bool, error) {
	if s.IsAdmin(p.ID) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.ledger.RegisterUser(ctx, p.ID, p.Name, p.Username, core.RoleMember)
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	if created {
		s.publish(ctx, core.EventUserJoined, p.ID, p.Name, "", core.ActorAdmin)
	}
	return created, nil
}

// Remove deletes a member and every payment mark they hold. The removed
// record is returned so the caller can notify the user.
func (s *MembershipService) Remove(ctx context.Context, id core.UserID) (core.User, bool, error) {
	if s.IsAdmin(id) {
		return core.User{}, false, ErrAdminRemoval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.ledger.ListUsers(ctx)
	if err != nil {
		return core.User{}, false, fmt.Errorf("list users: %w", err)
	}
	u := users[id]

	removed, err := s.ledger.RemoveUser(ctx, id)
	if err != nil {
		return core.User{}, false, fmt.Errorf("remove user: %w", err)
	}
	if removed {
		s.publish(ctx, core.EventUserRemoved, id, u.DisplayName(id), "", core.ActorAdmin)
	}
	return u, removed, nil
}

// MarkPaid marks id as paid for the current month and returns that month.
// Marking an already paid month publishes nothing. Ids that are neither
// registered nor the administrator get core.ErrUnknownUser.
func (s *MembershipService) MarkPaid(ctx context.Context, id core.UserID, actor core.Actor) (core.Month, error) {
	month := s.CurrentMonth()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.known(ctx, id); err != nil {
		return month, err
	}
	already, err := s.ledger.IsPaid(ctx, id, month)
	if err != nil {
		return month, fmt.Errorf("check payment: %w", err)
	}
	if err := s.ledger.MarkPaid(ctx, id, month); err != nil {
		return month, fmt.Errorf("mark paid: %w", err)
	}
	if already {
		return month, nil
	}

	name := ""
	if users, err := s.ledger.ListUsers(ctx); err == nil {
		name = users[id].DisplayName(id)
	}
	s.publish(ctx, core.EventPaymentMarked, id, name, month, actor)
	return month, nil
}

// Status reports whether id has paid for the current month.
func (s *MembershipService) Status(ctx context.Context, id core.UserID) (core.Month, bool, error) {
	month := s.CurrentMonth()
	if err := s.known(ctx, id); err != nil {
		return month, false, err
	}
	paid, err := s.ledger.IsPaid(ctx, id, month)
	if err != nil {
		return month, false, fmt.Errorf("check payment: %w", err)
	}
	return month, paid, nil
}

func (s *MembershipService) known(ctx context.Context, id core.UserID) error {
	if s.IsAdmin(id) {
		return nil
	}
	users, err := s.ledger.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if _, ok := users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, core.ErrUnknownUser)
	}
	return nil
}

// Members lists every non-administrator user.
func (s *MembershipService) Members(ctx context.Context) (map[core.UserID]core.User, error) {
	return s.ledger.ListMembers(ctx, s.cfg.AdminID)
}

func (s *MembershipService) publish(ctx context.Context, typ core.EventType, id core.UserID, name string, month core.Month, actor core.Actor) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No event publisher configured, skipping event", "type", typ)
		return
	}

	e := core.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    id,
		Name:      name,
		Month:     month,
		Actor:     actor,
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.PublishEvent(ctx, e); err != nil {
		// The ledger already holds the change.
		fields := log.NewFields().WithUser(int64(id)).WithError(err).ToSlice()
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			append(fields, log.FieldEventID, e.ID, log.FieldEventType, typ)...)
	}
}
