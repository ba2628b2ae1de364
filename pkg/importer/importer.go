package importer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qsosync/platform/pkg/bandplan"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/locator"
	"github.com/qsosync/platform/pkg/presence"
	"github.com/qsosync/platform/pkg/qso"
	"gorm.io/datatypes"
)

// Store is the slice of the repository the pipeline needs. *qso.Repository
// satisfies it.
type Store interface {
	FindByDedupeKey(ctx context.Context, key string, around time.Time) (*qso.Record, error)
	FindByExternalID(ctx context.Context, service, externalID string) (*qso.Record, error)
	InsertWithPresence(ctx context.Context, rec *qso.Record, rows []qso.PresenceRow) error
	SaveRecord(ctx context.Context, rec *qso.Record) error
}

type PresenceTracker interface {
	MarkPresent(ctx context.Context, recordID, service string) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

type Summary struct {
	New     int `json:"new"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}

type Pipeline struct {
	store         Store
	tracker       PresenceTracker
	producer      Publisher
	uploadCapable []string
	plan          bandplan.Plan
	nowFunc       func() time.Time
}

func NewPipeline(store Store, tracker PresenceTracker, producer Publisher, uploadCapable []string, plan bandplan.Plan) *Pipeline {
	if len(plan.Bands) == 0 {
		plan = bandplan.Default()
	}
	return &Pipeline{
		store:         store,
		tracker:       tracker,
		producer:      producer,
		uploadCapable: uploadCapable,
		plan:          plan,
		nowFunc:       time.Now,
	}
}

// ImportFile is the pure-insert mode used for manual/file imports: records
// whose dedupe key already exists are skipped, the rest are inserted with no
// service marked present. Importing the same file twice yields all skips the
// second time.
func (p *Pipeline) ImportFile(ctx context.Context, records []models.FetchedRecord) (Summary, error) {
	var summary Summary

	for i := range records {
		rec := p.toCanonical(&records[i], qso.SourceFileImport)
		key := rec.DedupeKey()

		_, err := p.store.FindByDedupeKey(ctx, key, rec.Time)
		if err == nil {
			summary.Skipped++
			continue
		}
		if !errors.Is(err, qso.ErrNotFound) {
			return summary, err
		}

		rows := presence.Bootstrap(rec.ID, qso.SourceFileImport, p.uploadCapable, p.nowFunc())
		if err := p.store.InsertWithPresence(ctx, rec, rows); err != nil {
			return summary, err
		}
		summary.New++
	}

	p.publish(ctx, qso.SourceFileImport, summary)
	return summary, nil
}

// ImportFetched is the merge-aware mode for service-originated records:
// match by the service's external id when it has one, else by dedupe key; on
// a match, fold in enrichment and mark the source present without inserting.
func (p *Pipeline) ImportFetched(ctx context.Context, service string, records []models.FetchedRecord) (Summary, error) {
	var summary Summary

	for i := range records {
		fetched := &records[i]
		if fetched.Deleted {
			// The origin soft-deleted it; nothing to reconcile locally.
			summary.Skipped++
			continue
		}

		existing, err := p.match(ctx, service, fetched)
		if err != nil && !errors.Is(err, qso.ErrNotFound) {
			return summary, err
		}

		if existing != nil {
			if err := p.enrich(ctx, existing, service, fetched); err != nil {
				return summary, err
			}
			if err := p.tracker.MarkPresent(ctx, existing.ID, service); err != nil {
				return summary, err
			}
			summary.Merged++
			continue
		}

		rec := p.toCanonical(fetched, service)
		rows := presence.Bootstrap(rec.ID, service, p.uploadCapable, p.nowFunc())
		if err := p.store.InsertWithPresence(ctx, rec, rows); err != nil {
			return summary, err
		}
		summary.New++
	}

	p.publish(ctx, service, summary)
	return summary, nil
}

func (p *Pipeline) match(ctx context.Context, service string, fetched *models.FetchedRecord) (*qso.Record, error) {
	if fetched.ExternalID != "" {
		rec, err := p.store.FindByExternalID(ctx, service, fetched.ExternalID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, qso.ErrNotFound) {
			return nil, err
		}
	}
	key := qso.DedupeKey(fetched.Callsign, fetched.Band, fetched.Mode, fetched.Time)
	return p.store.FindByDedupeKey(ctx, key, fetched.Time)
}

// enrich folds confirmation and enrichment fields from a fetched record into
// an existing canonical one. Existing non-empty values win; only gaps fill.
func (p *Pipeline) enrich(ctx context.Context, rec *qso.Record, service string, fetched *models.FetchedRecord) error {
	fill(&rec.Name, fetched.Name)
	fill(&rec.QTH, fetched.QTH)
	fill(&rec.TxPower, fetched.TxPower)
	fill(&rec.Gridsquare, validGrid(fetched.Gridsquare))
	fill(&rec.MyGridsquare, validGrid(fetched.MyGridsquare))
	fill(&rec.ParkRef, fetched.ParkRef)
	fill(&rec.MyParkRef, fetched.MyParkRef)
	fill(&rec.Band, p.plan.Normalize(fetched.Band))
	if rec.FreqKHz == 0 {
		rec.FreqKHz = fetched.FrequencyKHz
	}

	if fetched.ExternalID != "" {
		if rec.ExternalIDs == nil {
			rec.ExternalIDs = datatypes.JSONMap{}
		}
		rec.ExternalIDs[service] = fetched.ExternalID
	}
	for flag, set := range fetched.Confirmations {
		if !set {
			continue
		}
		if rec.Confirmations == nil {
			rec.Confirmations = datatypes.JSONMap{}
		}
		rec.Confirmations[flag] = true
	}

	return p.store.SaveRecord(ctx, rec)
}

func (p *Pipeline) toCanonical(fetched *models.FetchedRecord, source string) *qso.Record {
	rec := &qso.Record{
		ID:              uuid.New().String(),
		Callsign:        strings.ToUpper(strings.TrimSpace(fetched.Callsign)),
		Band:            p.plan.Normalize(fetched.Band),
		Mode:            strings.ToUpper(strings.TrimSpace(fetched.Mode)),
		FreqKHz:         fetched.FrequencyKHz,
		Time:            fetched.Time.UTC(),
		RSTSent:         fetched.RSTSent,
		RSTRcvd:         fetched.RSTRcvd,
		StationCallsign: strings.ToUpper(strings.TrimSpace(fetched.StationCallsign)),
		MyGridsquare:    validGrid(fetched.MyGridsquare),
		Gridsquare:      validGrid(fetched.Gridsquare),
		MyParkRef:       fetched.MyParkRef,
		ParkRef:         fetched.ParkRef,
		Name:            fetched.Name,
		QTH:             fetched.QTH,
		TxPower:         fetched.TxPower,
		Notes:           fetched.Notes,
		Source:          source,
		ImportedAt:      p.nowFunc().UTC(),
		RawADIF:         fetched.RawADIF,
	}
	if rec.Band == "" && rec.FreqKHz > 0 {
		if band, ok := p.plan.ForFrequency(rec.FreqKHz); ok {
			rec.Band = band.Name
		}
	}
	if fetched.ExternalID != "" && source != qso.SourceFileImport {
		rec.ExternalIDs = datatypes.JSONMap{source: fetched.ExternalID}
	}
	if len(fetched.Confirmations) > 0 {
		rec.Confirmations = datatypes.JSONMap{}
		for flag, set := range fetched.Confirmations {
			rec.Confirmations[flag] = set
		}
	}
	return rec
}

func (p *Pipeline) publish(ctx context.Context, source string, summary Summary) {
	if p.producer == nil {
		return
	}
	if err := p.producer.PublishEvent(ctx, "import", source, map[string]interface{}{
		"new":     summary.New,
		"merged":  summary.Merged,
		"skipped": summary.Skipped,
	}); err != nil {
		logger.Log.WithError(err).Warn("failed to publish import event")
	}
}

func fill(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
		*dst = src
	}
}

// validGrid drops gridsquares that are not plausible Maidenhead locators so
// a service's junk value never poisons the canonical record.
func validGrid(s string) string {
	g := strings.TrimSpace(s)
	if !locator.Valid(g) {
		return ""
	}
	return g
}
