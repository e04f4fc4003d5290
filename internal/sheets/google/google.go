package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"vpnshare/internal/core"
	ports "vpnshare/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Column layout of the payment log: A..G.
var eventHeader = []any{"Timestamp", "Event", "User ID", "Name", "Month", "Actor", "Event ID"}

// Column layout of the report sheet: A..F.
var reportHeader = []any{"Month", "Paid", "Total", "Debtors", "Generated at", "Complete"}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base names without year; the year of the row is prefixed on write.
	eventsBase  string
	reportsBase string
	loc         *time.Location
}

// Ensure interface conformance
var (
	_ ports.EventWriter  = (*Client)(nil)
	_ ports.ReportWriter = (*Client)(nil)
)

type Config struct {
	SpreadsheetID   string
	EventsSheet     string
	ReportsSheet    string
	CredentialsJSON string
	CredentialsFile string
	Location        *time.Location
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if cfg.EventsSheet == "" {
		cfg.EventsSheet = "Payments"
	}
	if cfg.ReportsSheet == "" {
		cfg.ReportsSheet = "Reports"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	svc, err := newSheetsService(ctx, cfg.CredentialsJSON, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		eventsBase:    cfg.EventsSheet,
		reportsBase:   cfg.ReportsSheet,
		loc:           cfg.Location,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when neither value is set.
func newSheetsService(ctx context.Context, credentialsJSON, credentialsFile string) (*gsheet.Service, error) {
	credentialsJSON = strings.TrimSpace(credentialsJSON)
	credentialsFile = strings.TrimSpace(credentialsFile)
	if credentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var creds []byte
	switch {
	case credentialsJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		creds = []byte(credentialsJSON)
	case credentialsFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", credentialsFile)
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		creds = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// AppendEvent appends e to the payment log of the event's year. Redelivered
// events are detected by their id and not written twice.
func (c *Client) AppendEvent(ctx context.Context, e core.Event) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	ts := e.Timestamp.In(c.loc)
	sheet := yearPrefixedName(c.eventsBase, ts.Year())

	ids, err := c.readCol(ctx, sheet, "G:G")
	if err != nil {
		return "", fmt.Errorf("read event ids: %w", err)
	}
	if i := indexOf(ids, e.ID); i >= 0 {
		slog.InfoContext(ctx, "Event already logged", "event_id", e.ID, "sheet", sheet, "row", i+1)
		return fmt.Sprintf("%s!A%d:G%d", sheet, i+1, i+1), nil
	}

	rows := [][]any{}
	if len(ids) == 0 {
		rows = append(rows, eventHeader)
	}
	rows = append(rows, eventRow(e, c.loc))

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:G", &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := sheet
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// WriteReport appends a snapshot of r to the report sheet of its year.
func (c *Client) WriteReport(ctx context.Context, r core.Report) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	year, _ := strconv.Atoi(string(r.Month)[:min(4, len(r.Month))])
	if year == 0 {
		year = r.GeneratedAt.In(c.loc).Year()
	}
	sheet := yearPrefixedName(c.reportsBase, year)

	existing, err := c.readCol(ctx, sheet, "A:A")
	if err != nil {
		return fmt.Errorf("read report sheet: %w", err)
	}
	rows := [][]any{}
	if len(existing) == 0 {
		rows = append(rows, reportHeader)
	}
	rows = append(rows, reportRow(r, c.loc))

	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:F", &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", sheet, err)
	}
	return nil
}

// readCol returns the trimmed cells of one column. A missing sheet reads as
// empty so the first write can create its header.
func (c *Client) readCol(ctx context.Context, sheetName, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		if isMissingSheet(err) {
			if err := c.addSheet(ctx, sheetName); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(fmt.Sprint(row[0])))
	}
	return out, nil
}

func (c *Client) addSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create sheet %s: %w", title, err)
	}
	slog.InfoContext(ctx, "Created sheet", "sheet", title)
	return nil
}

func isMissingSheet(err error) bool {
	return strings.Contains(err.Error(), "Unable to parse range")
}

func eventRow(e core.Event, loc *time.Location) []any {
	return []any{
		e.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
		string(e.Type),
		e.UserID.String(),
		e.Name,
		string(e.Month),
		string(e.Actor),
		e.ID,
	}
}

func reportRow(r core.Report, loc *time.Location) []any {
	names := make([]string, 0, len(r.Debtors))
	for _, d := range r.Debtors {
		names = append(names, d.Name)
	}
	return []any{
		string(r.Month),
		r.Paid,
		r.Total,
		strings.Join(names, ", "),
		r.GeneratedAt.In(loc).Format("2006-01-02 15:04:05"),
		r.Complete(),
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if v == target {
			return i
		}
	}
	return -1
}
