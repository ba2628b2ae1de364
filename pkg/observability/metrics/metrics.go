package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/qsosync/platform/pkg/common/models"
)

var (
	syncDownloaded   atomic.Int64
	syncUploaded     atomic.Int64
	syncNewRecords   atomic.Int64
	syncMerged       atomic.Int64
	syncDupesRemoved atomic.Int64
	syncErrors       atomic.Int64
	syncPartial      atomic.Int64
	lastSyncUnix     atomic.Int64
	importNew        atomic.Int64
	importMerged     atomic.Int64
	importSkipped    atomic.Int64
)

func Init() {}

func ObserveSyncReport(report models.SyncReport) {
	syncDownloaded.Store(int64(report.Downloaded))
	syncUploaded.Store(int64(report.Uploaded))
	syncNewRecords.Store(int64(report.NewRecords))
	syncMerged.Store(int64(report.Merged))
	syncDupesRemoved.Store(int64(report.SkippedDupes))
	syncErrors.Store(int64(len(report.Errors)))
	if report.Partial() {
		syncPartial.Store(1)
	} else {
		syncPartial.Store(0)
	}
	lastSyncUnix.Store(report.FinishedAt.Unix())
}

func ObserveImportCounts(newRecords, merged, skipped int) {
	importNew.Store(int64(newRecords))
	importMerged.Store(int64(merged))
	importSkipped.Store(int64(skipped))
}

// HandleEvent feeds the gauges from the sync event stream, so a metrics
// process does not need to share memory with the orchestrator.
func HandleEvent(event models.Event) {
	asInt := func(key string) int {
		if value, ok := event.Data[key].(float64); ok {
			return int(value)
		}
		return 0
	}
	switch event.Type {
	case "sync-finished":
		syncDownloaded.Store(int64(asInt("downloaded")))
		syncUploaded.Store(int64(asInt("uploaded")))
		syncNewRecords.Store(int64(asInt("new_records")))
		syncMerged.Store(int64(asInt("merged")))
		syncDupesRemoved.Store(int64(asInt("skipped_dupes")))
		syncErrors.Store(int64(asInt("errors")))
		if partial, ok := event.Data["partial"].(bool); ok && partial {
			syncPartial.Store(1)
		} else {
			syncPartial.Store(0)
		}
		lastSyncUnix.Store(time.Now().Unix())
	case "import":
		importNew.Store(int64(asInt("new")))
		importMerged.Store(int64(asInt("merged")))
		importSkipped.Store(int64(asInt("skipped")))
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP qsosync_sync_downloaded_total Records downloaded in the latest sync pass.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_downloaded_total gauge\n")
	fmt.Fprintf(w, "qsosync_sync_downloaded_total %d\n", syncDownloaded.Load())

	fmt.Fprintf(w, "# HELP qsosync_sync_uploaded_total Records accepted by services in the latest sync pass.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_uploaded_total gauge\n")
	fmt.Fprintf(w, "qsosync_sync_uploaded_total %d\n", syncUploaded.Load())

	fmt.Fprintf(w, "# HELP qsosync_sync_new_records_total New log records created in the latest sync pass.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_new_records_total gauge\n")
	fmt.Fprintf(w, "qsosync_sync_new_records_total %d\n", syncNewRecords.Load())

	fmt.Fprintf(w, "# HELP qsosync_sync_merged_total Records merged into existing entries in the latest sync pass.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_merged_total gauge\n")
	fmt.Fprintf(w, "qsosync_sync_merged_total %d\n", syncMerged.Load())

	fmt.Fprintf(w, "# HELP qsosync_sync_duplicates_removed_total Duplicate records collapsed by the sweep in the latest sync pass.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_duplicates_removed_total gauge\n")
	fmt.Fprintf(w, "qsosync_sync_duplicates_removed_total %d\n", syncDupesRemoved.Load())

	fmt.Fprintf(w, "# HELP qsosync_sync_failed_services Services that failed in the latest sync pass.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_failed_services gauge\n")
	fmt.Fprintf(w, "qsosync_sync_failed_services %d\n", syncErrors.Load())

	fmt.Fprintf(w, "# HELP qsosync_sync_partial Whether the latest sync pass was a partial success.\n")
	fmt.Fprintf(w, "# TYPE qsosync_sync_partial gauge\n")
	fmt.Fprintf(w, "qsosync_sync_partial %d\n", syncPartial.Load())

	fmt.Fprintf(w, "# HELP qsosync_last_sync_timestamp_seconds Unix time the latest sync pass finished.\n")
	fmt.Fprintf(w, "# TYPE qsosync_last_sync_timestamp_seconds gauge\n")
	fmt.Fprintf(w, "qsosync_last_sync_timestamp_seconds %d\n", lastSyncUnix.Load())

	fmt.Fprintf(w, "# HELP qsosync_import_new_total New records in the latest import batch.\n")
	fmt.Fprintf(w, "# TYPE qsosync_import_new_total gauge\n")
	fmt.Fprintf(w, "qsosync_import_new_total %d\n", importNew.Load())

	fmt.Fprintf(w, "# HELP qsosync_import_merged_total Merged records in the latest import batch.\n")
	fmt.Fprintf(w, "# TYPE qsosync_import_merged_total gauge\n")
	fmt.Fprintf(w, "qsosync_import_merged_total %d\n", importMerged.Load())

	fmt.Fprintf(w, "# HELP qsosync_import_skipped_total Skipped records in the latest import batch.\n")
	fmt.Fprintf(w, "# TYPE qsosync_import_skipped_total gauge\n")
	fmt.Fprintf(w, "qsosync_import_skipped_total %d\n", importSkipped.Load())
}
