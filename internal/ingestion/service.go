package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/dedup"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/files"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/parser"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/schema"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/submission"
	"github.com/ThiagoRGoveia/licitaciones-ingest/pkg/checksum"
)

type Stage string

const (
	StageIdle             Stage = "idle"
	StageSelecting        Stage = "selecting"
	StageParsing          Stage = "parsing"
	StageHeaderValidating Stage = "header_validating"
	StageTransforming     Stage = "transforming"
	StageDeduplicating    Stage = "deduplicating"
	StageSubmitting       Stage = "submitting"
	StageReporting        Stage = "reporting"
	StageRelocating       Stage = "relocating"
	StageDone             Stage = "done"
	StageError            Stage = "error"
)

// Submitter delivers one payload to the remote ingestion endpoint.
type Submitter interface {
	Submit(ctx context.Context, payload models.Payload) (*submission.Response, error)
}

// Ledger records the outcome of every file that reached a terminal state.
type Ledger interface {
	RecordRun(ctx context.Context, run models.FileRun) error
}

type Deps struct {
	Dirs      files.Directories
	Reader    parser.Reader
	Store     dedup.Store
	Submitter Submitter
	// Ledger is optional.
	Ledger Ledger
	Logger logrus.FieldLogger
	Clock  func() time.Time
	// SendDelay is the minimum spacing between two submissions.
	SendDelay time.Duration
	// ProgressEvery controls how often submission progress is logged.
	ProgressEvery int
	DryRun        bool
}

// Pipeline runs the whole ingestion of the newest inbox file.
type Pipeline struct {
	deps    Deps
	limiter *rate.Limiter

	moveToProcessed func(string) (string, error)
	moveToError     func(string) (string, error)
}

func NewPipeline(deps Deps) *Pipeline {
	if deps.Reader == nil {
		deps.Reader = parser.FileReader{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.ProgressEvery <= 0 {
		deps.ProgressEvery = 100
	}

	limit := rate.Inf
	if deps.SendDelay > 0 {
		limit = rate.Every(deps.SendDelay)
	}
	return &Pipeline{
		deps:            deps,
		limiter:         rate.NewLimiter(limit, 1),
		moveToProcessed: deps.Dirs.MoveToProcessed,
		moveToError:     deps.Dirs.MoveToError,
	}
}

// run carries the state of a single Run call.
type run struct {
	logger *logrus.Entry
	result models.RunResult
	stage  Stage
}

func (r *run) enter(stage Stage) {
	r.logger.WithFields(logrus.Fields{"from": r.stage, "to": stage}).Debug("stage transition")
	r.stage = stage
}

// Run processes at most one file. The returned error is reserved for
// failures that leave the run in an unknown state, such as a file that
// could not be moved.
func (p *Pipeline) Run(ctx context.Context) (models.RunResult, error) {
	sessionID := uuid.NewString()
	r := &run{
		logger: logging.ForSession(p.deps.Logger, logging.CategoryPipeline, sessionID),
		result: models.RunResult{SessionID: sessionID},
		stage:  StageIdle,
	}

	r.enter(StageSelecting)
	if err := p.deps.Dirs.EnsureDirectories(); err != nil {
		r.enter(StageError)
		return r.result, err
	}
	path, found, err := p.deps.Dirs.FindLatest()
	if err != nil {
		r.enter(StageError)
		return r.result, err
	}
	if !found {
		r.result.Status = models.RunStatusNoFile
		r.logger.WithField("inbox", p.deps.Dirs.Inbox).Info("no file to process")
		r.enter(StageDone)
		return r.result, nil
	}

	r.result.FilePath = path
	p.fileLogger(r).WithField("path", path).Info("file selected")
	r.logger = r.logger.WithField("file", filepath.Base(path))
	if sum, err := checksum.File(path); err != nil {
		r.logger.WithError(err).Warn("could not checksum file")
	} else {
		r.result.Checksum = sum
		r.logger = r.logger.WithField("checksum", sum)
	}
	r.logger.Info("processing file")

	r.enter(StageParsing)
	sheet, err := p.deps.Reader.Read(path)
	if err != nil {
		return p.reject(ctx, r, fmt.Sprintf("could not read file: %v", err))
	}

	r.enter(StageHeaderValidating)
	headers := schema.ValidateHeaders(sheet.Headers)
	r.result.UnmappedHeaders = headers.Mapping.Unmapped
	if len(headers.Mapping.Unmapped) > 0 {
		r.logger.WithField("unmapped", headers.Mapping.Unmapped).Info("columns without a canonical field")
	}
	if !headers.IsValid {
		for _, field := range headers.MissingHeaders {
			r.result.MissingHeaders = append(r.result.MissingHeaders, string(field))
		}
		return p.reject(ctx, r, fmt.Sprintf("missing required columns: %v", r.result.MissingHeaders))
	}
	if len(sheet.Rows) == 0 {
		return p.reject(ctx, r, "sheet has no data rows")
	}

	r.enter(StageTransforming)
	records := schema.Transform(sheet.Rows, headers.Mapping)
	r.result.Total = len(records)
	validation := schema.ValidateData(sheet.Rows, headers.Mapping)
	for _, issue := range validation.Errors {
		r.result.ValidationErrors = append(r.result.ValidationErrors, issue.String())
	}
	for _, issue := range validation.Warnings {
		r.result.Warnings = append(r.result.Warnings, issue.String())
	}
	r.logger.WithFields(logrus.Fields{
		"rows":       len(records),
		"valid_rows": validation.ValidRows,
		"errors":     len(validation.Errors),
		"warnings":   len(validation.Warnings),
	}).Info("data validated")

	if p.deps.DryRun {
		r.result.Status = models.RunStatusDryRun
		r.logger.Info("dry run, nothing submitted")
		r.enter(StageDone)
		return r.result, nil
	}

	p.processData(ctx, r, records)

	r.enter(StageRelocating)
	if r.result.SuccessCount == 0 && r.result.FailedCount > 0 {
		return p.finish(ctx, r, p.moveToError, models.RunStatusError)
	}
	return p.finish(ctx, r, p.moveToProcessed, models.RunStatusProcessed)
}

// reject moves the current file to the error directory without submitting
// anything. A dry run only reports the rejection and leaves the file in place.
func (p *Pipeline) reject(ctx context.Context, r *run, reason string) (models.RunResult, error) {
	r.result.Reason = reason
	if p.deps.DryRun {
		r.result.Status = models.RunStatusDryRun
		r.logger.WithField("reason", reason).Warn("dry run, file would be rejected")
		r.enter(StageDone)
		return r.result, nil
	}
	r.logger.WithField("reason", reason).Error("file rejected")
	r.enter(StageError)
	return p.finish(ctx, r, p.moveToError, models.RunStatusError)
}

func (p *Pipeline) finish(ctx context.Context, r *run, move func(string) (string, error), status models.RunStatus) (models.RunResult, error) {
	destination, err := move(r.result.FilePath)
	if err != nil {
		r.logger.WithError(err).Error("could not relocate file")
		return r.result, fmt.Errorf("relocate %s: %w", r.result.FilePath, err)
	}
	r.result.Status = status
	r.result.Destination = destination
	p.fileLogger(r).WithFields(logrus.Fields{"from": r.result.FilePath, "to": destination}).Info("file relocated")

	if status == models.RunStatusProcessed && len(r.result.FailedRecords) > 0 {
		p.writeReport(r)
	}
	p.record(ctx, r)
	r.logger.WithFields(logrus.Fields{
		"status":             status,
		"destination":        destination,
		"total":              r.result.Total,
		"success":            r.result.SuccessCount,
		"failed":             r.result.FailedCount,
		"skipped_duplicates": r.result.SkippedDuplicates,
		"remote_duplicates":  r.result.RemoteDuplicates,
	}).Info("run finished")
	r.enter(StageDone)
	return r.result, nil
}

// writeReport stores the failed rows next to the relocated file. It runs only
// once the source has reached the processed directory.
func (p *Pipeline) writeReport(r *run) {
	r.enter(StageReporting)
	reportPath, err := WriteFailureReport(p.deps.Dirs.Processed, r.result.FilePath, r.result.FailedRecords, p.deps.Clock())
	if err != nil {
		r.logger.WithError(err).Error("could not write failure report")
		return
	}
	r.result.ReportPath = reportPath
	r.logger.WithField("report", reportPath).Info("failure report written")
}

func (p *Pipeline) fileLogger(r *run) *logrus.Entry {
	return logging.ForSession(p.deps.Logger, logging.CategoryFiles, r.result.SessionID)
}

func (p *Pipeline) record(ctx context.Context, r *run) {
	if p.deps.Ledger == nil {
		return
	}

	var runErrors []string
	if r.result.Reason != "" {
		runErrors = append(runErrors, r.result.Reason)
	}
	for _, failed := range r.result.FailedRecords {
		runErrors = append(runErrors, fmt.Sprintf("row %d: %s", failed.Row, failed.Error))
	}

	err := p.deps.Ledger.RecordRun(ctx, models.FileRun{
		FileName:     filepath.Base(r.result.FilePath),
		ProcessedAt:  p.deps.Clock(),
		Status:       r.result.Status,
		Checksum:     r.result.Checksum,
		Total:        r.result.Total,
		SuccessCount: r.result.SuccessCount,
		FailedCount:  r.result.FailedCount,
		Errors:       runErrors,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.WithError(err).Warn("could not record run in ledger")
	}
}
