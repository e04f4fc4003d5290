package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"vpnshare/internal/amqp"
	"vpnshare/internal/backend"
	"vpnshare/internal/cli"
	"vpnshare/internal/config"
	"vpnshare/internal/core"
	"vpnshare/internal/cycle"
	apphttp "vpnshare/internal/http"
	"vpnshare/internal/ledger"
	"vpnshare/internal/log"
	"vpnshare/internal/middleware/ratelimit"
	"vpnshare/internal/scheduler"
	"vpnshare/internal/services"
	gsheet "vpnshare/internal/sheets/google"
	"vpnshare/internal/telegram"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)
	loc := cfg.Location()
	adminID := core.UserID(cfg.AdminID)

	logger.Info("Starting vpnshare",
		log.FieldOperation, log.OpStartup,
		"backend", cfg.DataBackend,
		"billing_day", cfg.BillingDay,
		"timezone", loc.String(),
		"max_members", cfg.MaxMembers)

	// Ledger store
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	storeLog := logger.WithComponent(log.ComponentStorage)
	res, err := backend.NewFactory(storeLog.Slog()).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to open ledger store", log.FieldError, err, "backend", bcfg.Type)
		os.Exit(1)
	}
	defer func() {
		if res.Cleanup == nil {
			return
		}
		if err := res.Cleanup(); err != nil {
			storeLog.Error("Failed to close ledger store", log.FieldError, err)
		}
	}()
	l := ledger.New(res.Store)

	// Ledger events are optional; the bot keeps working without a broker.
	var (
		amqpClient *amqp.Client
		publisher  services.EventPublisher
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.WithComponent(log.ComponentAMQP).Warn("AMQP unavailable, ledger events disabled", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.WithComponent(log.ComponentAMQP).Info("Publishing ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	bot, err := telegram.Connect(cfg.BotToken)
	if err != nil {
		logger.WithComponent(log.ComponentTelegram).Error("Failed to connect to Telegram", log.FieldError, err)
		os.Exit(1)
	}

	members := services.NewMembershipService(l, publisher, services.MembershipConfig{
		AdminID:    adminID,
		MaxMembers: cfg.MaxMembers,
		Location:   loc,
	})
	c := cycle.New(l, telegram.NewNotifier(bot), cycle.Config{
		AdminID:     adminID,
		Location:    loc,
		Concurrency: cfg.NotifyConcurrency,
		Texts: cycle.Texts{
			Price:       cfg.PriceAmount(),
			Currency:    cfg.Currency,
			PaymentInfo: cfg.PaymentInfo,
			BillingDay:  cfg.BillingDay,
		},
	})

	// Monthly reports are mirrored to Sheets when a spreadsheet is configured.
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			EventsSheet:     cfg.GoogleSheetName,
			ReportsSheet:    cfg.GoogleReportSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			Location:        loc,
		})
		if err != nil {
			logger.WithComponent(log.ComponentSheets).Warn("Google Sheets unavailable, reports will not be mirrored", log.FieldError, err)
		} else {
			c.WithReportWriter(sheetsClient)
		}
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})
	defer limiter.Stop()
	handler := telegram.NewHandler(bot, members, c, limiter)

	sched, err := newScheduler(cfg, logger, c)
	if err != nil {
		logger.WithComponent(log.ComponentScheduler).Error("Failed to schedule monthly jobs", log.FieldError, err)
		os.Exit(1)
	}
	sched.Start()
	now := time.Now()
	for _, job := range []string{"remind", "report"} {
		if next, ok := sched.NextRun(job, now); ok {
			logger.WithComponent(log.ComponentScheduler).Info("Next run", "job", job, "at", next)
		}
	}

	var srv *apphttp.Server
	if cfg.HTTPPort != "" {
		checks := map[string]apphttp.Check{
			"store": func(ctx context.Context) error {
				_, err := l.Snapshot(ctx)
				return err
			},
		}
		if amqpClient != nil {
			checks["amqp"] = amqpClient.Ping
		}
		srv = apphttp.NewServer(apphttp.Options{
			Addr:               ":" + cfg.HTTPPort,
			Reports:            c,
			Checks:             checks,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			Logger:             logger,
		})
		go func() {
			logger.WithComponent(log.ComponentHTTP).Info("Starting ops server", "port", cfg.HTTPPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithComponent(log.ComponentHTTP).Error("Ops server error", log.FieldError, err, "port", cfg.HTTPPort)
			}
		}()
	}

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				logger.WithComponent(log.ComponentHTTP).Error("Ops server shutdown error", log.FieldError, err)
			}
		}
		if err := sched.Stop(ctx); err != nil {
			logger.WithComponent(log.ComponentScheduler).Warn("Scheduled jobs still running at shutdown", log.FieldError, err)
		}
	})

	telegram.Poll(ctx, bot, int(cfg.PollTimeout.Seconds()), handler)
	cli.WaitForShutdown(ctx, done)
	logger.Info("vpnshare stopped")
}

// newScheduler registers the monthly reminder and report jobs on the billing
// day in the configured timezone.
func newScheduler(cfg *config.Config, logger *log.Logger, c *cycle.Cycle) (*scheduler.Scheduler, error) {
	schedLog := logger.WithComponent(log.ComponentScheduler)
	sched := scheduler.New(cfg.Location(), schedLog.Slog())

	remindH, remindM, err := config.ParseClock(cfg.RemindAt)
	if err != nil {
		return nil, err
	}
	reportH, reportM, err := config.ParseClock(cfg.ReportAt)
	if err != nil {
		return nil, err
	}

	cycleLog := logger.WithComponent(log.ComponentCycle)
	err = sched.AddMonthly("remind", cfg.BillingDay, remindH, remindM, func(ctx context.Context) {
		res, err := c.RemindDebtors(ctx)
		if err != nil {
			cycleLog.ErrorContext(ctx, "Scheduled reminders failed", log.FieldError, err)
			return
		}
		fields := log.NewFields().WithOperation(log.OpRemind).WithMonth(res.Month.String()).ToSlice()
		cycleLog.InfoContext(ctx, "Scheduled reminders finished",
			append(fields, "attempted", res.Attempted, "delivered", res.Delivered, "failed", len(res.Failed))...)
	})
	if err != nil {
		return nil, err
	}

	err = sched.AddMonthly("report", cfg.BillingDay, reportH, reportM, func(ctx context.Context) {
		report, err := c.Summarize(ctx)
		if err != nil {
			cycleLog.ErrorContext(ctx, "Scheduled report failed",
				log.NewFields().WithOperation(log.OpReport).WithError(err).ToSlice()...)
			return
		}
		cycleLog.InfoContext(ctx, "Scheduled report delivered",
			log.FieldMonth, report.Month,
			"paid", report.Paid,
			"total", report.Total)
	})
	if err != nil {
		return nil, err
	}

	return sched, nil
}
