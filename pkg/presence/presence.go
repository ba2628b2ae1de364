package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qsosync/platform/pkg/qso"
)

// Store is the slice of the repository the tracker needs. *qso.Repository
// satisfies it; tests use an in-memory fake.
type Store interface {
	Presence(ctx context.Context, recordID, service string) (*qso.PresenceRow, error)
	SavePresence(ctx context.Context, row *qso.PresenceRow) error
}

var ErrNotUploadCapable = errors.New("service does not accept uploads")

// Bootstrap converts import provenance into explicit presence state. It is
// the only place that policy lives: the originating service gets a present
// row, every other upload-capable service gets a needs-upload row, and
// download-only services get nothing until independently confirmed.
func Bootstrap(recordID, origin string, uploadCapable []string, now time.Time) []qso.PresenceRow {
	var rows []qso.PresenceRow

	if origin != "" && origin != qso.SourceFileImport {
		confirmed := now.UTC()
		rows = append(rows, qso.PresenceRow{
			RecordID:        recordID,
			Service:         origin,
			IsPresent:       true,
			LastConfirmedAt: &confirmed,
		})
	}

	for _, service := range uploadCapable {
		if service == origin {
			continue
		}
		rows = append(rows, qso.PresenceRow{
			RecordID:    recordID,
			Service:     service,
			NeedsUpload: true,
		})
	}

	return rows
}

type Tracker struct {
	store         Store
	uploadCapable map[string]struct{}
	nowFunc       func() time.Time
}

func NewTracker(store Store, uploadCapable []string) *Tracker {
	capable := make(map[string]struct{}, len(uploadCapable))
	for _, s := range uploadCapable {
		capable[s] = struct{}{}
	}
	return &Tracker{store: store, uploadCapable: capable, nowFunc: time.Now}
}

// MarkPresent sets the row present, clears needs-upload and stamps the
// confirmation time. It creates the row when the service had none yet, which
// is how download-only services gain presence.
func (t *Tracker) MarkPresent(ctx context.Context, recordID, service string) error {
	row, err := t.store.Presence(ctx, recordID, service)
	if errors.Is(err, qso.ErrNotFound) {
		row = &qso.PresenceRow{RecordID: recordID, Service: service}
	} else if err != nil {
		return err
	}

	confirmed := t.nowFunc().UTC()
	row.IsPresent = true
	row.NeedsUpload = false
	row.LastConfirmedAt = &confirmed
	return t.store.SavePresence(ctx, row)
}

// MarkNeedsUpload flags the record for upload to the service. It is a no-op
// when the record is already present there, and invalid for services that
// cannot accept uploads.
func (t *Tracker) MarkNeedsUpload(ctx context.Context, recordID, service string) error {
	if _, ok := t.uploadCapable[service]; !ok {
		return fmt.Errorf("%s: %w", service, ErrNotUploadCapable)
	}

	row, err := t.store.Presence(ctx, recordID, service)
	if errors.Is(err, qso.ErrNotFound) {
		row = &qso.PresenceRow{RecordID: recordID, Service: service}
	} else if err != nil {
		return err
	}

	if row.IsPresent {
		return nil
	}
	row.NeedsUpload = true
	return t.store.SavePresence(ctx, row)
}

// MarkDuplicate records that the service reported an equivalent entry
// already exists there. Needs-upload is cleared so the record is never
// re-sent, but the row does not become present: the service confirmed a
// match, not this record.
func (t *Tracker) MarkDuplicate(ctx context.Context, recordID, service string) error {
	row, err := t.store.Presence(ctx, recordID, service)
	if errors.Is(err, qso.ErrNotFound) {
		row = &qso.PresenceRow{RecordID: recordID, Service: service}
	} else if err != nil {
		return err
	}

	row.Duplicate = true
	row.NeedsUpload = false
	return t.store.SavePresence(ctx, row)
}

// MarkUploadRejected records that the user declined the upload. The flag is
// sticky; needs-upload is cleared so the record is never re-selected.
func (t *Tracker) MarkUploadRejected(ctx context.Context, recordID, service string) error {
	row, err := t.store.Presence(ctx, recordID, service)
	if errors.Is(err, qso.ErrNotFound) {
		row = &qso.PresenceRow{RecordID: recordID, Service: service}
	} else if err != nil {
		return err
	}

	row.UploadRejected = true
	row.NeedsUpload = false
	return t.store.SavePresence(ctx, row)
}
