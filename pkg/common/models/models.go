package models

import (
	"time"
)

// Event bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // fetch, import, merge, upload, sync-finished
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// FetchedRecord is the service-agnostic shape every adapter produces on
// fetch. It is never persisted; the import pipeline converts it into a
// canonical qso.Record.
type FetchedRecord struct {
	ExternalID      string            `json:"external_id,omitempty"`
	Callsign        string            `json:"callsign"`
	Band            string            `json:"band,omitempty"`
	Mode            string            `json:"mode"`
	FrequencyKHz    float64           `json:"frequency_khz,omitempty"`
	Time            time.Time         `json:"time"`
	RSTSent         string            `json:"rst_sent,omitempty"`
	RSTRcvd         string            `json:"rst_rcvd,omitempty"`
	StationCallsign string            `json:"station_callsign,omitempty"`
	MyGridsquare    string            `json:"my_gridsquare,omitempty"`
	Gridsquare      string            `json:"gridsquare,omitempty"`
	MyParkRef       string            `json:"my_park_ref,omitempty"`
	ParkRef         string            `json:"park_ref,omitempty"`
	Name            string            `json:"name,omitempty"`
	QTH             string            `json:"qth,omitempty"`
	TxPower         string            `json:"tx_power,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Confirmations   map[string]bool   `json:"confirmations,omitempty"` // lotw, eqsl, ...
	Extra           map[string]string `json:"extra,omitempty"`         // verbatim fields we did not map
	RawADIF         string            `json:"raw_adif,omitempty"`
	Deleted         bool              `json:"deleted,omitempty"` // soft-deleted on the origin service
}

// FetchResult is one complete incremental fetch from a service.
type FetchResult struct {
	Records    []FetchedRecord `json:"records"`
	NextCursor int64           `json:"next_cursor"` // max cursor observed across all pages
}

// Per-record upload outcomes.
const (
	UploadAccepted  = "accepted"
	UploadDuplicate = "duplicate"
	UploadRejected  = "rejected"
)

type RecordOutcome struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"` // accepted, duplicate, rejected
	Reason   string `json:"reason,omitempty"`
}

// AcceptanceResult is the adapter's view of one upload call. Services that
// only report an aggregate count leave Outcomes empty and set Accepted.
type AcceptanceResult struct {
	Accepted      int             `json:"accepted"`
	Outcomes      []RecordOutcome `json:"outcomes,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// SyncReport aggregates one orchestrator pass across all services. Errors
// holds one human-readable string per failed service; Skipped services hit a
// maintenance window and are not failures.
type SyncReport struct {
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Downloaded   int               `json:"downloaded"`
	Uploaded     int               `json:"uploaded"`
	NewRecords   int               `json:"new_records"`
	Merged       int               `json:"merged"`
	SkippedDupes int               `json:"skipped_duplicates"`
	Skipped      []string          `json:"skipped_services,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	DownloadOnly bool              `json:"download_only"`
}

// Partial reports whether at least one service succeeded while at least one
// failed. A caller can tell partial success from total failure with this plus
// len(Errors).
func (r SyncReport) Partial() bool {
	return len(r.Errors) > 0 && r.succeededSomething()
}

func (r SyncReport) succeededSomething() bool {
	return r.Downloaded > 0 || r.Uploaded > 0 || r.NewRecords > 0 || r.SkippedDupes > 0
}
