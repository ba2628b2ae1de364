package qso

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("qso record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{}, &PresenceRow{}, &UploadAttempt{})
}

// InsertWithPresence creates a record and its bootstrap presence rows in one
// commit. A failure leaves neither visible.
func (r *Repository) InsertWithPresence(ctx context.Context, rec *Record, rows []PresenceRow) error {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].RecordID = rec.ID
			if rows[i].ID == "" {
				rows[i].ID = uuid.New().String()
			}
			rows[i].CreatedAt = now
			rows[i].UpdatedAt = now
			if err := tx.Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByDedupeKey looks for an existing record with the given derived
// identity. The key is never stored, so the query narrows by time bucket and
// the key comparison happens here.
func (r *Repository) FindByDedupeKey(ctx context.Context, key string, around time.Time) (*Record, error) {
	var candidates []Record
	from := around.UTC().Add(-2 * DedupeBucket)
	to := around.UTC().Add(2 * DedupeBucket)
	result := r.db.WithContext(ctx).
		Where("time BETWEEN ? AND ?", from, to).
		Order("time ASC").
		Find(&candidates)
	if result.Error != nil {
		return nil, result.Error
	}
	for i := range candidates {
		if candidates[i].DedupeKey() == key {
			return &candidates[i], nil
		}
	}
	return nil, ErrNotFound
}

func (r *Repository) FindByExternalID(ctx context.Context, service, externalID string) (*Record, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	var rec Record
	result := r.db.WithContext(ctx).
		Where("external_ids ->> ? = ?", service, externalID).
		First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, result.Error
}

// ListAllByTime returns every record ordered by contact time with presence
// preloaded. The dedupe engine depends on this ordering for its early-stop
// sweep.
func (r *Repository) ListAllByTime(ctx context.Context) ([]Record, error) {
	var records []Record
	result := r.db.WithContext(ctx).
		Preload("Presence").
		Order("time ASC").
		Find(&records)
	return records, result.Error
}

// ListNeedsUpload returns records whose presence row for the service is
// flagged needs-upload, oldest first.
func (r *Repository) ListNeedsUpload(ctx context.Context, service string, limit int) ([]Record, error) {
	var records []Record
	query := r.db.WithContext(ctx).
		Joins("JOIN qso_presence ON qso_presence.record_id = qso_records.id").
		Where("qso_presence.service = ? AND qso_presence.needs_upload = ?", service, true).
		Order("qso_records.time ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&records)
	return records, result.Error
}

func (r *Repository) SaveRecord(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *Repository) Presence(ctx context.Context, recordID, service string) (*PresenceRow, error) {
	var row PresenceRow
	result := r.db.WithContext(ctx).
		Where("record_id = ? AND service = ?", recordID, service).
		First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &row, result.Error
}

func (r *Repository) PresenceForRecord(ctx context.Context, recordID string) ([]PresenceRow, error) {
	var rows []PresenceRow
	result := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("service ASC").
		Find(&rows)
	return rows, result.Error
}

func (r *Repository) SavePresence(ctx context.Context, row *PresenceRow) error {
	now := time.Now().UTC()
	if row.ID == "" {
		row.ID = uuid.New().String()
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	return r.db.WithContext(ctx).Save(row).Error
}

// ApplyMerge commits one dedupe group resolution: the winner's updated
// fields, its final presence rows, and the losers' deletion happen in a
// single transaction so a cancelled sweep never leaves a half-merged group.
func (r *Repository) ApplyMerge(ctx context.Context, winner *Record, presence []PresenceRow, loserIDs []string) error {
	now := time.Now().UTC()
	winner.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Presence").Save(winner).Error; err != nil {
			return err
		}
		if err := tx.Where("record_id = ?", winner.ID).Delete(&PresenceRow{}).Error; err != nil {
			return err
		}
		for i := range presence {
			presence[i].RecordID = winner.ID
			if presence[i].ID == "" {
				presence[i].ID = uuid.New().String()
				presence[i].CreatedAt = now
			}
			presence[i].UpdatedAt = now
			if err := tx.Create(&presence[i]).Error; err != nil {
				return err
			}
		}
		if len(loserIDs) > 0 {
			if err := tx.Where("record_id IN ?", loserIDs).Delete(&PresenceRow{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", loserIDs).Delete(&Record{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) DeleteRecord(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("record_id = ?", id).Delete(&PresenceRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Record{}).Error
	})
}

func (r *Repository) CreateUploadAttempt(ctx context.Context, attempt *UploadAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

// SealUploadAttempt records the terminal outcome of an attempt exactly once.
func (r *Repository) SealUploadAttempt(ctx context.Context, id string, status int, body string, success bool, correlationID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&UploadAttempt{}).
		Where("id = ? AND finished_at IS NULL", id).
		Updates(map[string]interface{}{
			"response_status": status,
			"response_body":   body,
			"success":         success,
			"correlation_id":  correlationID,
			"finished_at":     now,
		}).Error
}
