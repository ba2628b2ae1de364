package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qsosync/platform/pkg/qso"
)

type fakeStore struct {
	rows map[string]*qso.PresenceRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*qso.PresenceRow{}}
}

func (f *fakeStore) key(recordID, service string) string { return recordID + "/" + service }

func (f *fakeStore) Presence(ctx context.Context, recordID, service string) (*qso.PresenceRow, error) {
	row, ok := f.rows[f.key(recordID, service)]
	if !ok {
		return nil, qso.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeStore) SavePresence(ctx context.Context, row *qso.PresenceRow) error {
	copied := *row
	f.rows[f.key(row.RecordID, row.Service)] = &copied
	return nil
}

var allUploadCapable = []string{qso.ServiceWavelog, qso.ServiceQRZ, qso.ServicePOTA}

func TestBootstrapServiceOrigin(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := Bootstrap("rec-1", qso.ServiceWavelog, allUploadCapable, now)

	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	byService := map[string]qso.PresenceRow{}
	for _, row := range rows {
		byService[row.Service] = row
	}

	origin := byService[qso.ServiceWavelog]
	if !origin.IsPresent || origin.NeedsUpload {
		t.Fatalf("origin row wrong: %+v", origin)
	}
	if origin.LastConfirmedAt == nil || !origin.LastConfirmedAt.Equal(now) {
		t.Fatalf("origin confirmation not stamped: %+v", origin)
	}

	for _, svc := range []string{qso.ServiceQRZ, qso.ServicePOTA} {
		row := byService[svc]
		if row.IsPresent || !row.NeedsUpload {
			t.Fatalf("%s row wrong: %+v", svc, row)
		}
	}
}

func TestBootstrapFileImportMarksNoOriginPresent(t *testing.T) {
	rows := Bootstrap("rec-1", qso.SourceFileImport, allUploadCapable, time.Now())
	if len(rows) != 3 {
		t.Fatalf("expected 3 needs-upload rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.IsPresent {
			t.Fatalf("file import must not mark any service present: %+v", row)
		}
		if !row.NeedsUpload {
			t.Fatalf("expected needs-upload row: %+v", row)
		}
	}
}

func TestBootstrapDownloadOnlyOriginGetsPresentRowOnly(t *testing.T) {
	// Origin is a download-only service: not in the upload-capable set.
	rows := Bootstrap("rec-1", "lotw", []string{qso.ServiceWavelog}, time.Now())
	if len(rows) != 2 {
		t.Fatalf("expected origin row plus one needs-upload row, got %d", len(rows))
	}
}

func TestPresenceInvariantHolds(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(store, allUploadCapable)
	ctx := context.Background()

	if err := tracker.MarkNeedsUpload(ctx, "rec-1", qso.ServiceQRZ); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.MarkPresent(ctx, "rec-1", qso.ServiceQRZ); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, _ := store.Presence(ctx, "rec-1", qso.ServiceQRZ)
	if !row.IsPresent || row.NeedsUpload {
		t.Fatalf("invariant violated: %+v", row)
	}
	if row.LastConfirmedAt == nil {
		t.Fatal("confirmation time not stamped")
	}
}

func TestMarkNeedsUploadIsNoOpWhenPresent(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(store, allUploadCapable)
	ctx := context.Background()

	if err := tracker.MarkPresent(ctx, "rec-1", qso.ServiceWavelog); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.MarkNeedsUpload(ctx, "rec-1", qso.ServiceWavelog); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, _ := store.Presence(ctx, "rec-1", qso.ServiceWavelog)
	if row.NeedsUpload {
		t.Fatal("needs-upload set on an already-present row")
	}
}

func TestMarkNeedsUploadRejectsDownloadOnlyService(t *testing.T) {
	tracker := NewTracker(newFakeStore(), []string{qso.ServiceWavelog})
	err := tracker.MarkNeedsUpload(context.Background(), "rec-1", "lotw")
	if !errors.Is(err, ErrNotUploadCapable) {
		t.Fatalf("expected ErrNotUploadCapable, got %v", err)
	}
}

func TestMarkUploadRejectedIsStickyAndClearsNeedsUpload(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(store, allUploadCapable)
	ctx := context.Background()

	if err := tracker.MarkNeedsUpload(ctx, "rec-1", qso.ServicePOTA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.MarkUploadRejected(ctx, "rec-1", qso.ServicePOTA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, _ := store.Presence(ctx, "rec-1", qso.ServicePOTA)
	if !row.UploadRejected || row.NeedsUpload {
		t.Fatalf("rejected row wrong: %+v", row)
	}
}

func TestMarkDuplicateClearsNeedsUploadWithoutPresence(t *testing.T) {
	store := newFakeStore()
	tracker := NewTracker(store, allUploadCapable)
	ctx := context.Background()

	if err := tracker.MarkNeedsUpload(ctx, "rec-1", qso.ServiceQRZ); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.MarkDuplicate(ctx, "rec-1", qso.ServiceQRZ); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row := store.rows[store.key("rec-1", qso.ServiceQRZ)]
	if !row.Duplicate {
		t.Fatalf("duplicate flag not set: %+v", row)
	}
	if row.IsPresent {
		t.Fatalf("duplicate must not claim presence: %+v", row)
	}
	if row.NeedsUpload {
		t.Fatalf("duplicate must leave the upload queue: %+v", row)
	}
}
