package main

import (
	"context"
	"errors"
	"os"
	_ "time/tzdata"

	"vpnshare/internal/amqp"
	"vpnshare/internal/cli"
	"vpnshare/internal/config"
	"vpnshare/internal/log"
	gsheet "vpnshare/internal/sheets/google"
	"vpnshare/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)
	workerLog := logger.WithComponent(log.ComponentWorker)

	workerLog.Info("Starting vpnshare-worker", log.FieldOperation, log.OpStartup, "queue", cfg.AMQPQueue, "spreadsheet_id", cfg.GoogleSpreadsheetID)

	sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		EventsSheet:     cfg.GoogleSheetName,
		ReportsSheet:    cfg.GoogleReportSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
		Location:        cfg.Location(),
	})
	if err != nil {
		logger.WithComponent(log.ComponentSheets).Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.WithComponent(log.ComponentAMQP).Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(sheetsClient)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(context.Context) {
		synced, failed := syncWorker.Stats()
		workerLog.Info("Worker stopping", "synced", synced, "failed", failed)
	})

	if err := amqpClient.ConsumeEvents(ctx, syncWorker.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		workerLog.Error("Event consumption failed", log.FieldError, err)
		amqpClient.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	workerLog.Info("vpnshare-worker stopped")
}
