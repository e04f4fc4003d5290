package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// MonthLayout is the layout of a Month token.
const MonthLayout = "2006-01"

type (
	// UserID is the platform-assigned identifier of a party (Telegram user id).
	UserID int64

	// Role is display metadata only; membership is decided by comparing ids
	// with the configured administrator.
	Role string

	// Month is a YYYY-MM token keying payment marks.
	Month string

	User struct {
		Name     string  `json:"name"`
		Username *string `json:"username"`
		Role     Role    `json:"role"`
	}

	// State is the whole persisted ledger record.
	State struct {
		Users    map[UserID]User           `json:"users"`
		Payments map[Month]map[UserID]bool `json:"payments"`
	}
)

var (
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrUnknownUser   = errors.New("unknown user")
)

// NewState returns the empty ledger record.
func NewState() *State {
	return &State{
		Users:    map[UserID]User{},
		Payments: map[Month]map[UserID]bool{},
	}
}

// Normalize replaces nil maps so a decoded "{}" or "null" behaves like NewState.
func (s *State) Normalize() *State {
	if s == nil {
		return NewState()
	}
	if s.Users == nil {
		s.Users = map[UserID]User{}
	}
	if s.Payments == nil {
		s.Payments = map[Month]map[UserID]bool{}
	}
	for m, bucket := range s.Payments {
		if bucket == nil {
			s.Payments[m] = map[UserID]bool{}
		}
	}
	return s
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := NewState()
	if s == nil {
		return out
	}
	for id, u := range s.Users {
		if u.Username != nil {
			h := *u.Username
			u.Username = &h
		}
		out.Users[id] = u
	}
	for m, bucket := range s.Payments {
		nb := make(map[UserID]bool, len(bucket))
		for id, v := range bucket {
			nb[id] = v
		}
		out.Payments[m] = nb
	}
	return out
}

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses a decimal user id as found in callback data and commands.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	return UserID(v), nil
}

// MonthOf returns the month token of t in t's location.
func MonthOf(t time.Time) Month {
	return Month(t.Format(MonthLayout))
}

// ParseMonth validates a YYYY-MM token.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthOf(t), nil
}

func (m Month) String() string {
	return string(m)
}

// DisplayName returns the name, falling back to @handle and then the id.
func (u User) DisplayName(id UserID) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return "user " + id.String()
}
