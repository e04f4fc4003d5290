package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"vpnshare/internal/amqp"
	"vpnshare/internal/log"
	"vpnshare/internal/sheets"
)

// SyncWorker mirrors ledger events into the payment log sheet.
type SyncWorker struct {
	events sheets.EventWriter

	synced atomic.Int64
	failed atomic.Int64
}

func NewSyncWorker(events sheets.EventWriter) *SyncWorker {
	return &SyncWorker{events: events}
}

// HandleEvent processes a single ledger event from AMQP. An error makes the
// consumer requeue the message; the payment log ignores duplicates so a
// redelivery is safe.
func (w *SyncWorker) HandleEvent(ctx context.Context, msg *amqp.EventMessage) error {
	fields := log.NewFields().
		WithOperation(log.OpSync).
		WithUser(int64(msg.UserID)).
		WithMonth(msg.Month.String()).
		ToSlice()
	slog.InfoContext(ctx, "Processing ledger event",
		append(fields, log.FieldEventID, msg.ID, log.FieldEventType, msg.Type)...)

	ref, err := w.events.AppendEvent(ctx, msg.Event)
	if err != nil {
		w.failed.Add(1)
		return fmt.Errorf("append event to sheets: %w", err)
	}
	w.synced.Add(1)

	slog.InfoContext(ctx, "Ledger event mirrored",
		log.FieldEventID, msg.ID,
		"sheets_ref", ref)
	return nil
}

// Stats returns how many events were mirrored and how many attempts failed.
func (w *SyncWorker) Stats() (synced, failed int64) {
	return w.synced.Load(), w.failed.Load()
}
