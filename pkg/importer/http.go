package importer

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qsosync/platform/pkg/adif"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/observability/metrics"
)

// HTTPHandler accepts log file imports from the UI layer. The body is a raw
// ADIF document; a multipart form with a "file" part works too.
type HTTPHandler struct {
	pipeline *Pipeline
	maxBody  int64
}

func NewHTTPHandler(pipeline *Pipeline, maxBody int64) *HTTPHandler {
	return &HTTPHandler{pipeline: pipeline, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/import/adif", h.ImportADIF).Methods("POST")
}

func (h *HTTPHandler) ImportADIF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var source io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(h.maxBody); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file part"})
			return
		}
		defer file.Close()
		source = file
	}

	parsed, err := adif.Parse(source)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(parsed.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no records in file"})
		return
	}

	summary, err := h.pipeline.ImportFile(r.Context(), toFetched(parsed.Records))
	if err != nil {
		logger.Log.WithError(err).Error("file import failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "import failed"})
		return
	}
	metrics.ObserveImportCounts(summary.New, summary.Merged, summary.Skipped)
	writeJSON(w, http.StatusOK, summary)
}

// toFetched bridges parsed file records onto the boundary type every import
// path shares. File records have no origin service and no external id.
func toFetched(records []adif.Record) []models.FetchedRecord {
	out := make([]models.FetchedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, models.FetchedRecord{
			Callsign:        rec.Call,
			Band:            rec.Band,
			Mode:            rec.Mode,
			FrequencyKHz:    rec.FreqKHz,
			Time:            rec.Time,
			RSTSent:         rec.RSTSent,
			RSTRcvd:         rec.RSTRcvd,
			StationCallsign: rec.StationCallsign,
			MyGridsquare:    rec.MyGridsquare,
			Gridsquare:      rec.Gridsquare,
			MyParkRef:       rec.MyParkRef,
			ParkRef:         rec.ParkRef,
			Name:            rec.Name,
			QTH:             rec.QTH,
			TxPower:         rec.TxPower,
			Notes:           rec.Comment,
			RawADIF:         adif.RenderRecord(rec),
			Extra:           rec.Fields,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Error("encoding response")
	}
}
