// Package memory keeps the ledger record in process memory. Every Load and
// Save copies the record so callers never share maps with the store.
package memory

import (
	"context"
	"sync"

	"vpnshare/internal/core"
)

type Store struct {
	mu    sync.Mutex
	state *core.State
	saves int
}

func New() *Store {
	return &Store{state: core.NewState()}
}

// NewWithState seeds the store with a copy of st.
func NewWithState(st *core.State) *Store {
	return &Store{state: st.Clone()}
}

func (s *Store) Load(_ context.Context) (*core.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

func (s *Store) Save(_ context.Context, st *core.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Clone()
	s.saves++
	return nil
}

// Saves returns how many times the record was written.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *Store) Close() error { return nil }
