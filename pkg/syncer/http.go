package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/observability/metrics"
)

// Handler exposes the orchestrator to the UI layer. A sync request returns
// immediately with 202; progress is polled through the status endpoint.
type Handler struct {
	orchestrator *Orchestrator
}

func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sync", h.StartSync).Methods("POST")
	router.HandleFunc("/sync/status", h.SyncStatus).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")
}

type startRequest struct {
	DownloadOnly bool `json:"download_only"`
}

func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	if h.orchestrator.Status().Phase != PhaseIdle {
		writeJSON(w, http.StatusConflict, map[string]string{"error": ErrSyncInProgress.Error()})
		return
	}

	// The pass outlives the HTTP request on purpose; the request context
	// would cancel it the moment the client disconnects.
	go func() {
		report, err := h.orchestrator.Run(context.Background(), req.DownloadOnly)
		if err != nil {
			if !errors.Is(err, ErrSyncInProgress) {
				logger.Log.WithError(err).Error("sync pass failed")
			}
			return
		}
		metrics.ObserveSyncReport(report)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orchestrator.Status())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Error("encoding response")
	}
}
