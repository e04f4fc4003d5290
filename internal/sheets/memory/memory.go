// Package memory is an in-process stand-in for the Google Sheets mirror.
package memory

import (
	"context"
	"fmt"
	"sync"

	"vpnshare/internal/core"
	ports "vpnshare/internal/sheets"
)

var (
	_ ports.EventWriter  = (*Store)(nil)
	_ ports.ReportWriter = (*Store)(nil)
)

type Store struct {
	mu      sync.Mutex
	events  []core.Event
	rows    map[string]int
	reports []core.Report
}

func New() *Store {
	return &Store{rows: map[string]int{}}
}

// AppendEvent stores e once per event id and returns a synthetic row reference.
func (s *Store) AppendEvent(_ context.Context, e core.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[e.ID]; ok {
		return fmt.Sprintf("mem:%d", row), nil
	}
	s.events = append(s.events, e)
	s.rows[e.ID] = len(s.events)
	return fmt.Sprintf("mem:%d", len(s.events)), nil
}

func (s *Store) WriteReport(_ context.Context, r core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

// Events returns the logged events in write order.
func (s *Store) Events() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.events...)
}

// Reports returns the stored reports in write order.
func (s *Store) Reports() []core.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Report(nil), s.reports...)
}
