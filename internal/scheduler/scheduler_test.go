package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestMonthlySpec(t *testing.T) {
	tests := []struct {
		day, hour, minute int
		want              string
		wantErr           bool
	}{
		{day: 15, hour: 12, minute: 0, want: "0 12 15 * *"},
		{day: 1, hour: 21, minute: 30, want: "30 21 1 * *"},
		{day: 28, hour: 0, minute: 59, want: "59 0 28 * *"},
		{day: 29, hour: 12, wantErr: true},
		{day: 0, hour: 12, wantErr: true},
		{day: 10, hour: 24, wantErr: true},
		{day: 10, hour: 1, minute: 60, wantErr: true},
	}
	for _, tt := range tests {
		got, err := MonthlySpec(tt.day, tt.hour, tt.minute)
		if (err != nil) != tt.wantErr {
			t.Fatalf("MonthlySpec(%d, %d, %d) error = %v", tt.day, tt.hour, tt.minute, err)
		}
		if got != tt.want {
			t.Fatalf("MonthlySpec(%d, %d, %d) = %q, want %q", tt.day, tt.hour, tt.minute, got, tt.want)
		}
	}
}

func TestNextRunHonoursTimezone(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	s := New(loc, nil)
	if err := s.AddMonthly("reminders", 15, 12, 0, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMonthly("report", 15, 21, 0, func(context.Context) {}); err != nil {
		t.Fatal(err)
	}

	from := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC) // 13:00 MSK
	next, ok := s.NextRun("reminders", from)
	if !ok {
		t.Fatal("reminders job not found")
	}
	want := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("reminders next = %v, want %v (no catch-up of today's run)", next, want)
	}

	next, _ = s.NextRun("report", from)
	if want := time.Date(2024, 5, 15, 21, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("report next = %v, want %v", next, want)
	}

	if _, ok := s.NextRun("missing", from); ok {
		t.Fatal("unknown job reported")
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Fatalf("registered jobs = %d, want 2", got)
	}
}

func TestAddMonthlyRejectsBadDay(t *testing.T) {
	s := New(time.UTC, nil)
	if err := s.AddMonthly("bad", 31, 12, 0, func(context.Context) {}); err == nil {
		t.Fatal("expected error for day 31")
	}
}

func TestJobPanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := New(time.UTC, logger)

	ran := make(chan context.Context, 1)
	s.AddMonthly("boom", 1, 0, 0, func(context.Context) { panic("kaboom") })
	s.AddMonthly("ok", 2, 0, 0, func(ctx context.Context) { ran <- ctx })

	for _, e := range s.cron.Entries() {
		e.WrappedJob.Run()
	}

	select {
	case ctx := <-ran:
		if ctx == nil || ctx.Err() != nil {
			t.Fatalf("job got unusable context: %v", ctx)
		}
	default:
		t.Fatal("second job did not run after a panic")
	}
	if !strings.Contains(buf.String(), "kaboom") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(time.UTC, nil)
	s.Start()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.context().Err() == nil {
		t.Fatal("job context should be cancelled after Stop")
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
