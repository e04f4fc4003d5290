// Package ledger owns the record of registered users and their monthly
// payment marks.
//
// Every operation loads the whole record from the backing store, applies its
// change and writes the whole record back. A mutex serialises operations so
// concurrent callers never lose each other's updates; nothing is cached
// between calls.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"vpnshare/internal/core"
	"vpnshare/internal/log"
)

// Store loads and saves the complete ledger record. Load returns the empty
// record when nothing usable is stored.
type Store interface {
	Load(ctx context.Context) (*core.State, error)
	Save(ctx context.Context, st *core.State) error
}

type Ledger struct {
	mu    sync.Mutex
	store Store
}

func ledgerLog() *slog.Logger {
	return slog.Default().With(log.FieldComponent, log.ComponentLedger)
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) load(ctx context.Context) (*core.State, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return st.Normalize(), nil
}

func (l *Ledger) save(ctx context.Context, st *core.State) error {
	if err := l.store.Save(ctx, st); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// RegisterUser adds a user record. An existing id is left untouched, except
// that a missing username is filled in when one is supplied. The returned
// flag reports whether a new record was created.
func (l *Ledger) RegisterUser(ctx context.Context, id core.UserID, name string, username *string, role core.Role) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return false, err
	}

	if existing, ok := st.Users[id]; ok {
		if existing.Username != nil || username == nil {
			return false, nil
		}
		h := *username
		existing.Username = &h
		st.Users[id] = existing
		if err := l.save(ctx, st); err != nil {
			return false, err
		}
		ledgerLog().InfoContext(ctx, "Username backfilled", log.FieldUserID, id, "username", h)
		return false, nil
	}

	var handle *string
	if username != nil {
		h := *username
		handle = &h
	}
	st.Users[id] = core.User{Name: name, Username: handle, Role: role}
	if err := l.save(ctx, st); err != nil {
		return false, err
	}

	ledgerLog().InfoContext(ctx, "User registered",
		log.FieldUserID, id,
		"name", name,
		"role", role)
	return true, nil
}

// ListUsers returns every registered user, administrator included.
func (l *Ledger) ListUsers(ctx context.Context) (map[core.UserID]core.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return st.Users, nil
}

// ListMembers returns every user whose id is not adminID. The stored role is
// not consulted.
func (l *Ledger) ListMembers(ctx context.Context, adminID core.UserID) (map[core.UserID]core.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return members(st, adminID), nil
}

// MarkPaid records that id paid for month. Marking twice is a no-op.
func (l *Ledger) MarkPaid(ctx context.Context, id core.UserID, month core.Month) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return err
	}

	bucket := st.Payments[month]
	if bucket == nil {
		bucket = map[core.UserID]bool{}
		st.Payments[month] = bucket
	} else if bucket[id] {
		return nil
	}
	bucket[id] = true

	if err := l.save(ctx, st); err != nil {
		return err
	}
	ledgerLog().InfoContext(ctx, "Payment marked", log.FieldUserID, id, log.FieldMonth, month)
	return nil
}

// IsPaid reports whether id holds a mark for month.
func (l *Ledger) IsPaid(ctx context.Context, id core.UserID, month core.Month) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	return st.Payments[month][id], nil
}

// Unpaid returns the members without a mark for month, in ascending id order.
func (l *Ledger) Unpaid(ctx context.Context, month core.Month, adminID core.UserID) ([]core.UserID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return unpaid(st, month, adminID), nil
}

// RemoveUser deletes the user record and every payment mark it holds. It
// reports whether anything was removed.
func (l *Ledger) RemoveUser(ctx context.Context, id core.UserID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return false, err
	}

	_, existed := st.Users[id]
	delete(st.Users, id)
	marks := 0
	for _, bucket := range st.Payments {
		if _, ok := bucket[id]; ok {
			delete(bucket, id)
			marks++
		}
	}
	if !existed && marks == 0 {
		return false, nil
	}

	if err := l.save(ctx, st); err != nil {
		return false, err
	}
	ledgerLog().InfoContext(ctx, "User removed", log.FieldUserID, id, "marks_removed", marks)
	return true, nil
}

// Snapshot returns a copy of the whole record.
func (l *Ledger) Snapshot(ctx context.Context) (*core.State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// Standing reads members and debtors for one month from a single load, so
// both views agree.
func (l *Ledger) Standing(ctx context.Context, month core.Month, adminID core.UserID) (map[core.UserID]core.User, []core.UserID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return members(st, adminID), unpaid(st, month, adminID), nil
}

func members(st *core.State, adminID core.UserID) map[core.UserID]core.User {
	out := make(map[core.UserID]core.User, len(st.Users))
	for id, u := range st.Users {
		if id == adminID {
			continue
		}
		out[id] = u
	}
	return out
}

func unpaid(st *core.State, month core.Month, adminID core.UserID) []core.UserID {
	paid := st.Payments[month]
	out := []core.UserID{}
	for id := range st.Users {
		if id == adminID || paid[id] {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
