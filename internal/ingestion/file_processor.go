package ingestion

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/schema"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/submission"
)

// processData submits records one at a time. The store is consulted at each
// record's turn so a repeated id later in the same file is skipped once the
// first occurrence has been accepted.
func (p *Pipeline) processData(ctx context.Context, r *run, records []models.Licitacion) {
	r.enter(StageDeduplicating)
	known := 0
	for i := range records {
		if p.deps.Store.Has(records[i].ID) {
			known++
		}
	}
	r.logger.WithFields(logrus.Fields{"records": len(records), "already_submitted": known}).Info("deduplication check")

	r.enter(StageSubmitting)
	attempted := 0
	for _, record := range records {
		if record.ID != "" && p.deps.Store.Has(record.ID) {
			r.result.SkippedDuplicates++
			continue
		}

		payload := schema.ToPayload(record)
		if !record.Eligible() {
			p.fail(r, record, payload, schema.ValidateRow(record).ErrorText(), 0)
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			p.fail(r, record, payload, err.Error(), 0)
			continue
		}

		attempted++
		_, err := p.deps.Submitter.Submit(ctx, payload)
		switch {
		case err == nil:
			r.result.SuccessCount++
			p.remember(r, record.ID)
		case submission.IsDuplicate(err):
			r.result.RemoteDuplicates++
			r.logger.WithField("licitacion_id", record.ID).Info("already registered remotely")
			p.remember(r, record.ID)
		default:
			p.fail(r, record, payload, err.Error(), submission.StatusCode(err))
		}

		if attempted%p.deps.ProgressEvery == 0 {
			r.logger.WithFields(logrus.Fields{
				"attempted": attempted,
				"success":   r.result.SuccessCount,
				"failed":    r.result.FailedCount,
			}).Info("submission progress")
		}
	}
}

// remember adds an accepted id to the store. A persistence error does not
// stop the run; the id stays known in memory.
func (p *Pipeline) remember(r *run, id string) {
	if err := p.deps.Store.Add(id); err != nil {
		r.logger.WithError(err).WithField("licitacion_id", id).Error("could not persist submitted id")
	}
}

func (p *Pipeline) fail(r *run, record models.Licitacion, payload models.Payload, message string, status int) {
	failed := models.FailedRecord{
		Row:        record.Row,
		Raw:        record.Raw,
		Payload:    payload,
		Error:      message,
		StatusCode: status,
	}
	r.result.FailedCount++
	r.result.FailedRecords = append(r.result.FailedRecords, failed)
	r.logger.WithFields(logrus.Fields{
		"row":           record.Row,
		"licitacion_id": record.ID,
		"status":        status,
	}).Warn(failed.String())
}
