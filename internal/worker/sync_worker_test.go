package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"vpnshare/internal/amqp"
	"vpnshare/internal/core"
	"vpnshare/internal/sheets/memory"
)

type failingLog struct{}

func (failingLog) AppendEvent(context.Context, core.Event) (string, error) {
	return "", errors.New("rate limited")
}

func event(id string) *amqp.EventMessage {
	return amqp.NewEventMessage(core.Event{
		ID:        id,
		Type:      core.EventPaymentMarked,
		UserID:    42,
		Name:      "Ann",
		Month:     "2024-05",
		Actor:     core.ActorSelf,
		Timestamp: time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC),
	})
}

func TestHandleEvent(t *testing.T) {
	log := memory.New()
	w := NewSyncWorker(log)
	ctx := context.Background()

	if err := w.HandleEvent(ctx, event("a")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	// Redelivery of the same event.
	if err := w.HandleEvent(ctx, event("a")); err != nil {
		t.Fatalf("HandleEvent redelivery: %v", err)
	}

	events := log.Events()
	if len(events) != 1 || events[0].UserID != 42 || events[0].Month != "2024-05" {
		t.Fatalf("logged events = %+v", events)
	}
	if synced, failed := w.Stats(); synced != 2 || failed != 0 {
		t.Fatalf("Stats = %d, %d", synced, failed)
	}
}

func TestHandleEventFailureRequeues(t *testing.T) {
	w := NewSyncWorker(failingLog{})
	if err := w.HandleEvent(context.Background(), event("b")); err == nil {
		t.Fatal("expected error so the message is requeued")
	}
	if _, failed := w.Stats(); failed != 1 {
		t.Fatalf("failed = %d", failed)
	}
}
