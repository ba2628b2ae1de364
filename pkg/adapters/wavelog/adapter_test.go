package wavelog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/qso"
	"github.com/qsosync/platform/pkg/syncerrors"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func TestFetchPersistsMaxCursorAcrossPages(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "trashed") {
			fmt.Fprint(w, `{"records":[],"records_left":0,"next_synced_at_millis":0}`)
			return
		}
		page++
		switch page {
		case 1:
			// Page 1 carries the higher cursor.
			fmt.Fprint(w, `{"records":[{"id":1,"callsign":"K1ABC","band":"20m","mode":"CW","datetime_on":"2025-03-01T14:00:00Z"}],"records_left":1,"next_synced_at_millis":100}`)
		default:
			// Page 2 arrives with a lower cursor; the watermark must stay 100.
			fmt.Fprint(w, `{"records":[{"id":2,"callsign":"W2DEF","band":"40m","mode":"SSB","datetime_on":"2025-03-01T15:00:00Z"}],"records_left":0,"next_synced_at_millis":90}`)
		}
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "key", "1", server.Client(), 50, false)
	result, err := adapter.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NextCursor != 100 {
		t.Fatalf("expected watermark max(100, 90) = 100, got %d", result.NextCursor)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
}

func TestFetchMergesTrashedCollectionByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "trashed") {
			fmt.Fprint(w, `{"records":[{"id":1,"callsign":"K1ABC","band":"20m","mode":"CW","datetime_on":"2025-03-01T14:00:00Z"}],"records_left":0,"next_synced_at_millis":50}`)
			return
		}
		fmt.Fprint(w, `{"records":[{"id":1,"callsign":"K1ABC","band":"20m","mode":"CW","datetime_on":"2025-03-01T14:00:00Z"},{"id":2,"callsign":"W2DEF","band":"40m","mode":"SSB","datetime_on":"2025-03-01T15:00:00Z"}],"records_left":0,"next_synced_at_millis":40}`)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "key", "1", server.Client(), 50, false)
	result, err := adapter.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected records merged by id, got %d", len(result.Records))
	}

	deleted := map[string]bool{}
	for _, rec := range result.Records {
		deleted[rec.ExternalID] = rec.Deleted
	}
	if !deleted["1"] {
		t.Fatal("trashed copy must win for record 1")
	}
	if deleted["2"] {
		t.Fatal("record 2 must stay active")
	}
}

func TestFetchOmitsFalseBooleanFlag(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		fmt.Fprint(w, `{"records":[],"records_left":0,"next_synced_at_millis":0}`)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "key", "1", server.Client(), 50, false)
	if _, err := adapter.Fetch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, q := range queries {
		if strings.Contains(q, "other_clients_only") {
			t.Fatalf("false-valued flag must be omitted entirely, got query %q", q)
		}
	}

	queries = nil
	adapter = NewAdapter(server.URL, "key", "1", server.Client(), 50, true)
	if _, err := adapter.Fetch(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, q := range queries {
		if strings.Contains(q, "other_clients_only=true") {
			found = true
		}
	}
	if !found {
		t.Fatal("true-valued flag must be sent")
	}
}

func TestFetchAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "bad", "1", server.Client(), 50, false)
	_, err := adapter.Fetch(context.Background(), 0)
	if !syncerrors.IsAuthentication(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestUploadMapsDuplicatesPerRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"accepted":2,"duplicates":["W2DEF"]}`)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "key", "1", server.Client(), 50, false)
	records := []qso.Record{
		{ID: "a", Callsign: "K1ABC", Band: "20m", Mode: "CW", Time: time.Now().UTC()},
		{ID: "b", Callsign: "W2DEF", Band: "40m", Mode: "SSB", Time: time.Now().UTC()},
		{ID: "c", Callsign: "N3GHI", Band: "20m", Mode: "FT8", Time: time.Now().UTC()},
	}
	result, err := adapter.Upload(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d", result.Accepted)
	}

	statuses := map[string]string{}
	for _, outcome := range result.Outcomes {
		statuses[outcome.RecordID] = outcome.Status
	}
	if statuses["a"] != models.UploadAccepted || statuses["c"] != models.UploadAccepted {
		t.Fatalf("expected a and c accepted: %v", statuses)
	}
	if statuses["b"] != models.UploadDuplicate {
		t.Fatalf("expected b flagged duplicate, got %v", statuses)
	}
}

func TestUploadSameCallRecordsShareReportedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"accepted":1,"duplicates":["K1ABC"]}`)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "key", "1", server.Client(), 50, false)
	records := []qso.Record{
		{ID: "a", Callsign: "K1ABC", Band: "20m", Mode: "CW", Time: time.Now().UTC()},
		{ID: "b", Callsign: "K1ABC", Band: "40m", Mode: "SSB", Time: time.Now().UTC()},
	}
	result, err := adapter.Upload(context.Background(), records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The server keys its report by callsign, so both records for the same
	// call carry the reported status.
	for _, outcome := range result.Outcomes {
		if outcome.Status != models.UploadDuplicate {
			t.Fatalf("expected both same-call records flagged duplicate, got %+v", result.Outcomes)
		}
	}
}
