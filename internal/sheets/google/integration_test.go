//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"vpnshare/internal/core"
)

// Integration tests require a real spreadsheet shared with the service account.
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_EventLog(t *testing.T) {
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := New(ctx, Config{
		SpreadsheetID:   spreadsheetID,
		EventsSheet:     "IntegrationPayments",
		ReportsSheet:    "IntegrationReports",
		CredentialsJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		CredentialsFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	e := core.Event{
		ID:        uuid.NewString(),
		Type:      core.EventPaymentMarked,
		UserID:    42,
		Name:      "Integration",
		Month:     core.MonthOf(time.Now()),
		Actor:     core.ActorSelf,
		Timestamp: time.Now(),
	}

	first, err := client.AppendEvent(ctx, e)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	second, err := client.AppendEvent(ctx, e)
	if err != nil {
		t.Fatalf("AppendEvent (redelivery): %v", err)
	}
	t.Logf("first=%s second=%s", first, second)

	if err := client.WriteReport(ctx, core.Report{Month: e.Month, Paid: 1, Total: 1, GeneratedAt: time.Now()}); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
}
