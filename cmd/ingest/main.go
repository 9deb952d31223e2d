package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/config"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/database"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/dedup"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/files"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/ingestion"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/parser"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/submission"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/watch"
)

type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	client   *submission.Client
	pipeline *ingestion.Pipeline
}

func setup(ctx context.Context, dryRun bool) (*app, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dryRun {
		cfg.DryRun = true
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		store  dedup.Store
		ledger ingestion.Ledger
	)
	if cfg.DatabaseURL != "" {
		dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, dbpool.Close)

		dbManager := database.NewPostgresDBManager(dbpool)
		if err := dbManager.CreateTables(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		ledger = dbManager

		if cfg.DedupBackend == config.DedupBackendPostgres {
			if store, err = database.OpenPostgresStore(ctx, dbpool, logger); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
	}
	if store == nil {
		fileStore, err := dedup.Open(cfg.DedupStorePath, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = fileStore
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("failed to close dedup store")
		}
	})

	client := submission.NewClient(submission.Config{
		BaseURL:    cfg.APIBaseURL,
		APIKey:     cfg.APIKey,
		IngestPath: cfg.APIIngestPath,
		Timeout:    cfg.APITimeout,
		SendDelay:  cfg.SendDelay,
		Retry: submission.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			Factor:     2,
			MaxDelay:   cfg.RetryMaxDelay,
		},
	}, logger)

	dirs := files.Directories{
		Inbox:     cfg.InboxDir,
		Processed: cfg.ProcessedDir,
		Error:     cfg.ErrorDir,
	}
	if err := dirs.EnsureDirectories(); err != nil {
		cleanup()
		return nil, nil, err
	}

	pipeline := ingestion.NewPipeline(ingestion.Deps{
		Dirs:          dirs,
		Reader:        parser.FileReader{},
		Store:         store,
		Submitter:     client,
		Ledger:        ledger,
		Logger:        logger,
		SendDelay:     cfg.SendDelay,
		ProgressEvery: cfg.BatchSize,
		DryRun:        cfg.DryRun,
	})

	return &app{cfg: cfg, logger: logger, client: client, pipeline: pipeline}, cleanup, nil
}

func (a *app) runOnce(ctx context.Context) (bool, error) {
	result, err := a.pipeline.Run(ctx)
	if err != nil {
		return false, err
	}
	printSummary(result)
	return result.Consumed(), nil
}

func printSummary(result models.RunResult) {
	switch result.Status {
	case models.RunStatusNoFile:
		log.Println("No file to process.")
	case models.RunStatusDryRun:
		if result.Reason != "" {
			log.Printf("Dry run of %s: file would be rejected: %s", result.FilePath, result.Reason)
			return
		}
		log.Printf("Dry run of %s: %d records, %d validation errors, nothing sent.", result.FilePath, result.Total, len(result.ValidationErrors))
	default:
		log.Printf("File %s -> %s (%s): total=%d success=%d failed=%d skipped=%d remote_duplicates=%d",
			result.FilePath, result.Destination, result.Status, result.Total, result.SuccessCount,
			result.FailedCount, result.SkippedDuplicates, result.RemoteDuplicates)
		if result.ReportPath != "" {
			log.Printf("Failure report: %s", result.ReportPath)
		}
	}
}

func main() {
	dryRun := flag.Bool("dry-run", false, "parse and validate the newest file without sending anything")
	watchMode := flag.Bool("watch", false, "keep running and process files as they arrive in the inbox")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := setup(ctx, *dryRun)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	healthCtx, cancel := context.WithTimeout(ctx, a.cfg.APITimeout)
	healthy := a.client.CheckHealth(healthCtx)
	cancel()
	a.logger.WithField("healthy", healthy).Info("ingestion endpoint probed")

	if *watchMode {
		err = watch.New(a.cfg.InboxDir, a.cfg.WatchInterval, a.runOnce, a.logger).Run(ctx)
	} else {
		_, err = a.runOnce(ctx)
	}
	if err != nil {
		cleanup()
		log.Fatalf("Error during ingestion: %v", err)
	}

	log.Printf("Execution time: %s", time.Since(startTime))
}
