package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qsosync/platform/pkg/common/models"
)

func TestObserveSyncReport(t *testing.T) {
	ObserveSyncReport(models.SyncReport{
		FinishedAt:   time.Now(),
		Downloaded:   10,
		Uploaded:     4,
		NewRecords:   3,
		Merged:       2,
		SkippedDupes: 1,
		Errors:       map[string]string{"qrz": "down"},
	})

	rec := httptest.NewRecorder()
	WritePrometheus(rec)
	body := rec.Body.String()

	for _, want := range []string{
		"qsosync_sync_downloaded_total 10",
		"qsosync_sync_uploaded_total 4",
		"qsosync_sync_new_records_total 3",
		"qsosync_sync_merged_total 2",
		"qsosync_sync_duplicates_removed_total 1",
		"qsosync_sync_failed_services 1",
		"qsosync_sync_partial 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestHandleEventFeedsGauges(t *testing.T) {
	HandleEvent(models.Event{
		Type: "sync-finished",
		Data: map[string]interface{}{
			"downloaded": float64(7),
			"uploaded":   float64(5),
			"partial":    false,
		},
	})

	rec := httptest.NewRecorder()
	WritePrometheus(rec)
	body := rec.Body.String()

	if !strings.Contains(body, "qsosync_sync_downloaded_total 7") {
		t.Fatalf("expected downloaded gauge fed from event:\n%s", body)
	}
	if !strings.Contains(body, "qsosync_sync_partial 0") {
		t.Fatalf("expected partial reset:\n%s", body)
	}

	HandleEvent(models.Event{
		Type: "import",
		Data: map[string]interface{}{"new": float64(2), "merged": float64(1), "skipped": float64(3)},
	})
	rec = httptest.NewRecorder()
	WritePrometheus(rec)
	if !strings.Contains(rec.Body.String(), "qsosync_import_skipped_total 3") {
		t.Fatal("expected import gauges fed from event")
	}
}
