package qso

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Service identifiers used across presence rows, provenance and config.
const (
	ServiceWavelog   = "wavelog"
	ServiceQRZ       = "qrz"
	ServicePOTA      = "pota"
	SourceFileImport = "file"
)

// DedupeBucket is the timestamp rounding applied when deriving record
// identity. Two reports of the same contact routinely disagree by a minute
// or so depending on which end logged it.
const DedupeBucket = 120 * time.Second

// Record is one logged two-way contact in canonical form.
type Record struct {
	ID              string            `json:"id" gorm:"primaryKey;column:id"`
	Callsign        string            `json:"callsign" gorm:"column:callsign;index"`
	Band            string            `json:"band" gorm:"column:band"`
	Mode            string            `json:"mode" gorm:"column:mode"`
	FreqKHz         float64           `json:"freq_khz,omitempty" gorm:"column:freq_khz"`
	Time            time.Time         `json:"time" gorm:"column:time;index"`
	RSTSent         string            `json:"rst_sent,omitempty" gorm:"column:rst_sent"`
	RSTRcvd         string            `json:"rst_rcvd,omitempty" gorm:"column:rst_rcvd"`
	StationCallsign string            `json:"station_callsign,omitempty" gorm:"column:station_callsign"`
	MyGridsquare    string            `json:"my_gridsquare,omitempty" gorm:"column:my_gridsquare"`
	Gridsquare      string            `json:"gridsquare,omitempty" gorm:"column:gridsquare"`
	MyParkRef       string            `json:"my_park_ref,omitempty" gorm:"column:my_park_ref"`
	ParkRef         string            `json:"park_ref,omitempty" gorm:"column:park_ref"`
	Name            string            `json:"name,omitempty" gorm:"column:name"`
	QTH             string            `json:"qth,omitempty" gorm:"column:qth"`
	TxPower         string            `json:"tx_power,omitempty" gorm:"column:tx_power"`
	Notes           string            `json:"notes,omitempty" gorm:"column:notes"`
	Source          string            `json:"source" gorm:"column:source"`
	ImportedAt      time.Time         `json:"imported_at" gorm:"column:imported_at"`
	RawADIF         string            `json:"raw_adif,omitempty" gorm:"column:raw_adif"`
	ExternalIDs     datatypes.JSONMap `json:"external_ids,omitempty" gorm:"column:external_ids"`
	Confirmations   datatypes.JSONMap `json:"confirmations,omitempty" gorm:"column:confirmations"`
	CreatedAt       time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time         `json:"updated_at" gorm:"column:updated_at"`

	Presence []PresenceRow `json:"presence,omitempty" gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE"`
}

func (Record) TableName() string {
	return "qso_records"
}

// DedupeKey derives the reconciliation identity of a contact. It is a pure
// function of callsign, band, mode and the bucketed timestamp; descriptive
// fields never influence it, and it is never stored.
func DedupeKey(callsign, band, mode string, t time.Time) string {
	bucket := t.UTC().Unix() / int64(DedupeBucket/time.Second)
	return fmt.Sprintf("%s|%s|%s|%d",
		strings.ToUpper(strings.TrimSpace(callsign)),
		strings.ToUpper(strings.TrimSpace(band)),
		strings.ToUpper(strings.TrimSpace(mode)),
		bucket,
	)
}

func (r *Record) DedupeKey() string {
	return DedupeKey(r.Callsign, r.Band, r.Mode, r.Time)
}

// OptionalFieldCount counts the non-empty descriptive fields. The dedupe
// engine uses it to break winner ties: more detail wins.
func (r *Record) OptionalFieldCount() int {
	count := 0
	for _, v := range []string{
		r.RSTSent, r.RSTRcvd, r.StationCallsign, r.MyGridsquare, r.Gridsquare,
		r.MyParkRef, r.ParkRef, r.Name, r.QTH, r.TxPower, r.Notes,
	} {
		if strings.TrimSpace(v) != "" {
			count++
		}
	}
	if r.FreqKHz > 0 {
		count++
	}
	count += len(r.ExternalIDs)
	for _, v := range r.Confirmations {
		if b, ok := v.(bool); ok && b {
			count++
		}
	}
	return count
}

// ExternalID returns the record's id on the given service, if known.
func (r *Record) ExternalID(service string) string {
	if r.ExternalIDs == nil {
		return ""
	}
	if v, ok := r.ExternalIDs[service]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PresenceRow tracks one record's state on one service. IsPresent and
// NeedsUpload are never both true; UploadRejected is sticky once set.
type PresenceRow struct {
	ID              string     `json:"id" gorm:"primaryKey;column:id"`
	RecordID        string     `json:"record_id" gorm:"column:record_id;uniqueIndex:idx_presence_record_service"`
	Service         string     `json:"service" gorm:"column:service;uniqueIndex:idx_presence_record_service"`
	IsPresent       bool       `json:"is_present" gorm:"column:is_present"`
	NeedsUpload     bool       `json:"needs_upload" gorm:"column:needs_upload"`
	// Duplicate records that the service reported it already holds an
	// equivalent entry. Distinct from IsPresent: the service confirmed
	// existence of some matching record, not this exact one.
	Duplicate       bool       `json:"duplicate" gorm:"column:duplicate"`
	UploadRejected  bool       `json:"upload_rejected" gorm:"column:upload_rejected"`
	LastConfirmedAt *time.Time `json:"last_confirmed_at,omitempty" gorm:"column:last_confirmed_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (PresenceRow) TableName() string {
	return "qso_presence"
}

// UploadAttempt is the audit record of one outbound upload call. It is
// written when the call starts and sealed once with the terminal outcome.
type UploadAttempt struct {
	ID             string     `json:"id" gorm:"primaryKey;column:id"`
	Service        string     `json:"service" gorm:"column:service"`
	RecordCount    int        `json:"record_count" gorm:"column:record_count"`
	RequestBody    string     `json:"request_body" gorm:"column:request_body"`
	ResponseStatus int        `json:"response_status" gorm:"column:response_status"`
	ResponseBody   string     `json:"response_body" gorm:"column:response_body"`
	StartedAt      time.Time  `json:"started_at" gorm:"column:started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" gorm:"column:finished_at"`
	Success        bool       `json:"success" gorm:"column:success"`
	CorrelationID  string     `json:"correlation_id,omitempty" gorm:"column:correlation_id"`
}

func (UploadAttempt) TableName() string {
	return "upload_attempts"
}
