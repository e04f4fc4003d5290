// Package cycle computes who owes for a month and drives the two periodic
// actions: reminding debtors and reporting to the administrator.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vpnshare/internal/core"
)

// Notifier delivers a message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, to core.UserID, msg core.Message) error
}

// Ledger is the read side of the ledger the cycle depends on.
type Ledger interface {
	Unpaid(ctx context.Context, month core.Month, adminID core.UserID) ([]core.UserID, error)
	Standing(ctx context.Context, month core.Month, adminID core.UserID) (map[core.UserID]core.User, []core.UserID, error)
}

// ReportWriter stores a copy of each delivered report.
type ReportWriter interface {
	WriteReport(ctx context.Context, r core.Report) error
}

type Config struct {
	AdminID     core.UserID
	Location    *time.Location
	Concurrency int
	Texts       Texts
}

type Cycle struct {
	ledger   Ledger
	notifier Notifier
	reports  ReportWriter
	cfg      Config
	now      func() time.Time
}

// RemindResult summarises one reminder batch.
type RemindResult struct {
	Month     core.Month
	Attempted int
	Delivered int
	Failed    []core.UserID
}

func New(l Ledger, n Notifier, cfg Config) *Cycle {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Cycle{ledger: l, notifier: n, cfg: cfg, now: time.Now}
}

// WithReportWriter mirrors every summarised report to w.
func (c *Cycle) WithReportWriter(w ReportWriter) *Cycle {
	c.reports = w
	return c
}

func (c *Cycle) Texts() Texts { return c.cfg.Texts }

// CurrentMonth is the month of the current instant in the configured zone.
func (c *Cycle) CurrentMonth() core.Month {
	return core.MonthOf(c.now().In(c.cfg.Location))
}

// RemindDebtors reminds every member who has not paid for the current month.
func (c *Cycle) RemindDebtors(ctx context.Context) (RemindResult, error) {
	return c.RemindDebtorsFor(ctx, c.CurrentMonth())
}

// RemindDebtorsFor sends one reminder to each debtor of month. Deliveries are
// independent: a failed send is logged and counted, and never stops the rest
// of the batch.
func (c *Cycle) RemindDebtorsFor(ctx context.Context, month core.Month) (RemindResult, error) {
	debtors, err := c.ledger.Unpaid(ctx, month, c.cfg.AdminID)
	if err != nil {
		return RemindResult{Month: month}, fmt.Errorf("list debtors: %w", err)
	}

	res := RemindResult{Month: month, Attempted: len(debtors)}
	if len(debtors) == 0 {
		slog.InfoContext(ctx, "No debtors to remind", "month", month)
		return res, nil
	}

	msg := c.cfg.Texts.Reminder()
	failed := make([]bool, len(debtors))
	var delivered atomic.Int64

	// Members are notified from a detached context so a cancelled trigger
	// does not abort sends already in flight.
	sendCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, id := range debtors {
		g.Go(func() error {
			if err := c.notifier.Notify(sendCtx, id, msg); err != nil {
				failed[i] = true
				slog.WarnContext(ctx, "Reminder not delivered",
					"user_id", id,
					"month", month,
					"error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range debtors {
		if failed[i] {
			res.Failed = append(res.Failed, id)
		}
	}
	res.Delivered = int(delivered.Load())

	slog.InfoContext(ctx, "Reminders sent",
		"month", month,
		"attempted", res.Attempted,
		"delivered", res.Delivered,
		"failed", len(res.Failed))
	return res, nil
}

// BuildReport computes the payment standing for month without sending it.
func (c *Cycle) BuildReport(ctx context.Context, month core.Month) (core.Report, error) {
	members, debtors, err := c.ledger.Standing(ctx, month, c.cfg.AdminID)
	if err != nil {
		return core.Report{}, fmt.Errorf("read standing: %w", err)
	}

	r := core.Report{
		Month:       month,
		Total:       len(members),
		Paid:        len(members) - len(debtors),
		Debtors:     make([]core.Debtor, 0, len(debtors)),
		GeneratedAt: c.now().In(c.cfg.Location),
	}
	for _, id := range debtors {
		r.Debtors = append(r.Debtors, core.Debtor{ID: id, Name: members[id].DisplayName(id)})
	}
	sort.Slice(r.Debtors, func(i, j int) bool { return r.Debtors[i].ID < r.Debtors[j].ID })
	return r, nil
}

// Summarize reports the current month to the administrator.
func (c *Cycle) Summarize(ctx context.Context) (core.Report, error) {
	return c.SummarizeFor(ctx, c.CurrentMonth())
}

// SummarizeFor builds the report for month and delivers it to the
// administrator. A configured ReportWriter receives a copy; its failures are
// logged only.
func (c *Cycle) SummarizeFor(ctx context.Context, month core.Month) (core.Report, error) {
	r, err := c.BuildReport(ctx, month)
	if err != nil {
		return core.Report{}, err
	}

	sendErr := c.notifier.Notify(ctx, c.cfg.AdminID, ReportMessage(r))
	if sendErr != nil {
		slog.ErrorContext(ctx, "Report not delivered to administrator",
			"month", month,
			"error", sendErr)
	} else {
		slog.InfoContext(ctx, "Report delivered",
			"month", month,
			"paid", r.Paid,
			"total", r.Total)
	}

	if c.reports != nil {
		if err := c.reports.WriteReport(ctx, r); err != nil {
			slog.WarnContext(ctx, "Failed to mirror report", "month", month, "error", err)
		}
	}

	if sendErr != nil {
		return r, fmt.Errorf("deliver report: %w", sendErr)
	}
	return r, nil
}

// RemindOne sends a reminder to a single member on the administrator's
// request. The delivery error is returned so it can be explained to the
// administrator.
func (c *Cycle) RemindOne(ctx context.Context, id core.UserID) error {
	if err := c.notifier.Notify(ctx, id, c.cfg.Texts.Reminder()); err != nil {
		return fmt.Errorf("remind %d: %w", id, err)
	}
	slog.InfoContext(ctx, "Forced reminder sent", "user_id", id)
	return nil
}
