package sheets

import (
	"context"

	"vpnshare/internal/core"
)

// Ports for outbound adapters.
type (
	// EventWriter appends one ledger event to the payment log. Writing an
	// event that is already logged is a no-op returning its existing row.
	EventWriter interface {
		AppendEvent(ctx context.Context, e core.Event) (rowRef string, err error)
	}

	// ReportWriter stores a monthly report snapshot.
	ReportWriter interface {
		WriteReport(ctx context.Context, r core.Report) error
	}
)
