package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qsosync/platform/pkg/adapters"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/dedupe"
	"github.com/qsosync/platform/pkg/importer"
	"github.com/qsosync/platform/pkg/qso"
	"github.com/qsosync/platform/pkg/syncerrors"
)

// ErrSyncInProgress is returned when Run is called while a pass is active.
// Passes never queue; the caller retries after the current one finishes.
var ErrSyncInProgress = errors.New("sync already in progress")

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDownloading Phase = "downloading"
	PhaseUploading   Phase = "uploading"
)

// Status is the observable orchestrator state for the status endpoint.
type Status struct {
	Phase      Phase              `json:"phase"`
	Service    string             `json:"service,omitempty"`
	StartedAt  *time.Time         `json:"started_at,omitempty"`
	LastReport *models.SyncReport `json:"last_report,omitempty"`
}

type Store interface {
	ListNeedsUpload(ctx context.Context, service string, limit int) ([]qso.Record, error)
	CreateUploadAttempt(ctx context.Context, attempt *qso.UploadAttempt) error
	SealUploadAttempt(ctx context.Context, id string, status int, body string, success bool, correlationID string) error
}

type Importer interface {
	ImportFetched(ctx context.Context, service string, records []models.FetchedRecord) (importer.Summary, error)
}

type PresenceUpdater interface {
	MarkPresent(ctx context.Context, recordID, service string) error
	MarkDuplicate(ctx context.Context, recordID, service string) error
	MarkUploadRejected(ctx context.Context, recordID, service string) error
}

type CursorStore interface {
	Cursor(ctx context.Context, service string) (int64, error)
	SetCursor(ctx context.Context, service string, cursor int64) error
}

type Deduper interface {
	Run(ctx context.Context) (dedupe.Result, error)
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Orchestrator drives one full pass over every configured service: download
// and reconcile first, then upload, then a duplicate sweep. Services run
// serially so a shared upstream rate limit is never hit from two directions.
type Orchestrator struct {
	adapters  []adapters.Adapter
	store     Store
	importer  Importer
	presence  PresenceUpdater
	cursors   CursorStore
	deduper   Deduper
	producer  Publisher
	batchSize int

	mu         sync.Mutex
	phase      Phase
	service    string
	startedAt  time.Time
	lastReport *models.SyncReport
}

func NewOrchestrator(svcAdapters []adapters.Adapter, store Store, imp Importer, presence PresenceUpdater, cursors CursorStore, deduper Deduper, producer Publisher, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Orchestrator{
		adapters:  svcAdapters,
		store:     store,
		importer:  imp,
		presence:  presence,
		cursors:   cursors,
		deduper:   deduper,
		producer:  producer,
		batchSize: batchSize,
		phase:     PhaseIdle,
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := Status{Phase: o.phase, Service: o.service, LastReport: o.lastReport}
	if o.phase != PhaseIdle {
		started := o.startedAt
		status.StartedAt = &started
	}
	return status
}

func (o *Orchestrator) setPhase(phase Phase, service string) {
	o.mu.Lock()
	o.phase = phase
	o.service = service
	o.mu.Unlock()
}

// Run executes one pass. Per-service failures are aggregated into the report
// rather than aborting the pass; only re-entrancy is an error.
func (o *Orchestrator) Run(ctx context.Context, downloadOnly bool) (models.SyncReport, error) {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return models.SyncReport{}, ErrSyncInProgress
	}
	o.phase = PhaseDownloading
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()

	report := models.SyncReport{
		StartedAt:    o.startedAt,
		Errors:       map[string]string{},
		DownloadOnly: downloadOnly,
	}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		o.mu.Lock()
		o.phase = PhaseIdle
		o.service = ""
		snapshot := report
		o.lastReport = &snapshot
		o.mu.Unlock()
	}()

	skipped := map[string]bool{}
	for _, adapter := range o.adapters {
		o.setPhase(PhaseDownloading, adapter.Name())
		if err := o.download(ctx, adapter, &report); err != nil {
			if syncerrors.IsMaintenance(err) {
				report.Skipped = append(report.Skipped, adapter.Name())
				skipped[adapter.Name()] = true
				continue
			}
			report.Errors[adapter.Name()] = err.Error()
			logger.Log.WithError(err).WithField("service", adapter.Name()).Error("download failed")
		}
	}

	if !downloadOnly {
		for _, adapter := range o.adapters {
			if !adapter.UploadCapable() || skipped[adapter.Name()] {
				continue
			}
			if _, failed := report.Errors[adapter.Name()]; failed {
				continue
			}
			o.setPhase(PhaseUploading, adapter.Name())
			if err := o.upload(ctx, adapter, &report); err != nil {
				if syncerrors.IsMaintenance(err) {
					report.Skipped = append(report.Skipped, adapter.Name())
					continue
				}
				report.Errors[adapter.Name()] = err.Error()
				logger.Log.WithError(err).WithField("service", adapter.Name()).Error("upload failed")
			}
		}
	}

	if o.deduper != nil {
		if result, err := o.deduper.Run(ctx); err != nil {
			report.Errors["dedupe"] = err.Error()
		} else {
			report.SkippedDupes += result.Removed
		}
	}

	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	o.publishFinished(ctx, report)
	return report, nil
}

func (o *Orchestrator) download(ctx context.Context, adapter adapters.Adapter, report *models.SyncReport) error {
	cursor, err := o.cursors.Cursor(ctx, adapter.Name())
	if err != nil {
		return err
	}

	result, err := adapter.Fetch(ctx, cursor)
	if err != nil {
		return err
	}

	summary, err := o.importer.ImportFetched(ctx, adapter.Name(), result.Records)
	if err != nil {
		return err
	}

	// The watermark advances only after the batch is reconciled, so a crash
	// between fetch and import re-fetches instead of losing records.
	if result.NextCursor > cursor {
		if err := o.cursors.SetCursor(ctx, adapter.Name(), result.NextCursor); err != nil {
			return err
		}
	}

	report.Downloaded += len(result.Records)
	report.NewRecords += summary.New
	report.Merged += summary.Merged
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, adapter adapters.Adapter, report *models.SyncReport) error {
	for {
		batch, err := o.store.ListNeedsUpload(ctx, adapter.Name(), o.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		attempt := &qso.UploadAttempt{
			ID:          uuid.New().String(),
			Service:     adapter.Name(),
			RecordCount: len(batch),
			RequestBody: recordIDs(batch),
			StartedAt:   time.Now().UTC(),
		}
		if err := o.store.CreateUploadAttempt(ctx, attempt); err != nil {
			return err
		}

		result, err := adapter.Upload(ctx, batch)
		if err != nil {
			if sealErr := o.store.SealUploadAttempt(ctx, attempt.ID, 0, err.Error(), false, ""); sealErr != nil {
				logger.Log.WithError(sealErr).Warn("sealing failed upload attempt")
			}
			return err
		}
		if err := o.store.SealUploadAttempt(ctx, attempt.ID, 200, outcomeBody(result), true, result.CorrelationID); err != nil {
			logger.Log.WithError(err).Warn("sealing upload attempt")
		}

		if err := o.applyOutcomes(ctx, adapter.Name(), batch, result); err != nil {
			return err
		}
		report.Uploaded += result.Accepted

		if o.producer != nil {
			if perr := o.producer.PublishEvent(ctx, "upload", adapter.Name(), map[string]interface{}{
				"attempt_id": attempt.ID,
				"records":    len(batch),
				"accepted":   result.Accepted,
			}); perr != nil {
				logger.Log.WithError(perr).Warn("publishing upload event")
			}
		}

		if len(batch) < o.batchSize {
			return nil
		}
	}
}

// applyOutcomes moves presence rows according to what the service reported.
// Only accepted records become present. A duplicate gets its own flag: the
// service confirmed an equivalent entry exists, which clears needs-upload
// without claiming this record was placed there. Rejections are sticky.
func (o *Orchestrator) applyOutcomes(ctx context.Context, service string, batch []qso.Record, result models.AcceptanceResult) error {
	if len(result.Outcomes) == 0 {
		// Aggregate-only services report a count; the whole batch was either
		// taken or the call errored before this point.
		for _, rec := range batch {
			if err := o.presence.MarkPresent(ctx, rec.ID, service); err != nil {
				return err
			}
		}
		return nil
	}

	for _, outcome := range result.Outcomes {
		var err error
		switch outcome.Status {
		case models.UploadAccepted:
			err = o.presence.MarkPresent(ctx, outcome.RecordID, service)
		case models.UploadDuplicate:
			err = o.presence.MarkDuplicate(ctx, outcome.RecordID, service)
		case models.UploadRejected:
			logger.Log.WithFields(map[string]interface{}{
				"service": service,
				"record":  outcome.RecordID,
				"reason":  outcome.Reason,
			}).Warn("record rejected by service")
			err = o.presence.MarkUploadRejected(ctx, outcome.RecordID, service)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) publishFinished(ctx context.Context, report models.SyncReport) {
	if o.producer == nil {
		return
	}
	if err := o.producer.PublishEvent(ctx, "sync-finished", "syncer", map[string]interface{}{
		"downloaded":    report.Downloaded,
		"uploaded":      report.Uploaded,
		"new_records":   report.NewRecords,
		"merged":        report.Merged,
		"skipped_dupes": report.SkippedDupes,
		"errors":        len(report.Errors),
		"partial":       report.Partial(),
		"download_only": report.DownloadOnly,
	}); err != nil {
		logger.Log.WithError(err).Warn("publishing sync-finished event")
	}
}

func recordIDs(batch []qso.Record) string {
	ids := make([]string, 0, len(batch))
	for _, rec := range batch {
		ids = append(ids, rec.ID)
	}
	encoded, _ := json.Marshal(ids)
	return string(encoded)
}

func outcomeBody(result models.AcceptanceResult) string {
	encoded, _ := json.Marshal(result)
	return string(encoded)
}
