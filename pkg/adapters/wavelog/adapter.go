package wavelog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/qsosync/platform/pkg/adif"
	"github.com/qsosync/platform/pkg/common/httpclient"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/qso"
	"github.com/qsosync/platform/pkg/syncerrors"
)

// Adapter talks to a Wavelog/Cloudlog instance. Fetch pages through the
// server's synced-at cursor; active and trashed QSOs live in separate
// collections and are merged here by server record id.
type Adapter struct {
	baseURL          string
	apiKey           string
	stationID        string
	client           *http.Client
	pageLimit        int
	otherClientsOnly bool
}

func NewAdapter(baseURL, apiKey, stationID string, client *http.Client, pageLimit int, otherClientsOnly bool) *Adapter {
	if pageLimit <= 0 {
		pageLimit = 250
	}
	return &Adapter{
		baseURL:          baseURL,
		apiKey:           apiKey,
		stationID:        stationID,
		client:           client,
		pageLimit:        pageLimit,
		otherClientsOnly: otherClientsOnly,
	}
}

func (a *Adapter) Name() string        { return qso.ServiceWavelog }
func (a *Adapter) UploadCapable() bool { return true }

type pageResponse struct {
	Records            []wireQSO `json:"records"`
	RecordsLeft        int       `json:"records_left"`
	NextSyncedAtMillis int64     `json:"next_synced_at_millis"`
}

type wireQSO struct {
	ID              int64   `json:"id"`
	Callsign        string  `json:"callsign"`
	Band            string  `json:"band"`
	Mode            string  `json:"mode"`
	FreqHz          int64   `json:"freq"`
	DatetimeOn      string  `json:"datetime_on"` // RFC 3339
	RSTSent         string  `json:"rst_sent"`
	RSTRcvd         string  `json:"rst_rcvd"`
	StationCallsign string  `json:"station_callsign"`
	MyGridsquare    string  `json:"my_gridsquare"`
	Gridsquare      string  `json:"gridsquare"`
	Name            string  `json:"name"`
	QTH             string  `json:"qth"`
	TxPower         float64 `json:"tx_pwr"`
	Comment         string  `json:"comment"`
	LotwConfirmed   bool    `json:"lotw_qsl_rcvd"`
	EqslConfirmed   bool    `json:"eqsl_qsl_rcvd"`
}

// Fetch walks both collections until the server reports zero records left.
// The persisted watermark is the maximum cursor seen on any page, not the
// last page's value: pages can arrive out of cursor order.
func (a *Adapter) Fetch(ctx context.Context, cursor int64) (models.FetchResult, error) {
	byID := map[int64]models.FetchedRecord{}
	maxCursor := cursor

	for _, collection := range []string{"qsos", "qsos/trashed"} {
		pageCursor := cursor
		for {
			page, err := a.fetchPage(ctx, collection, pageCursor)
			if err != nil {
				return models.FetchResult{}, err
			}
			for _, wire := range page.Records {
				rec, err := wire.toFetched()
				if err != nil {
					logger.Log.WithError(err).WithField("id", wire.ID).Warn("skipping unparseable wavelog record")
					continue
				}
				rec.Deleted = collection == "qsos/trashed"
				// Trashed state wins over an earlier active copy of the
				// same server record.
				if existing, ok := byID[wire.ID]; !ok || !existing.Deleted {
					byID[wire.ID] = rec
				}
			}
			if page.NextSyncedAtMillis > maxCursor {
				maxCursor = page.NextSyncedAtMillis
			}
			if page.RecordsLeft <= 0 {
				break
			}
			pageCursor = page.NextSyncedAtMillis
		}
	}

	result := models.FetchResult{NextCursor: maxCursor}
	for _, rec := range byID {
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func (a *Adapter) fetchPage(ctx context.Context, collection string, cursor int64) (*pageResponse, error) {
	params := url.Values{}
	params.Set("synced_since_millis", strconv.FormatInt(cursor, 10))
	params.Set("limit", strconv.Itoa(a.pageLimit))
	// The server treats any non-absent value of this flag as true, the
	// string "false" included, so it is only ever set or omitted.
	if a.otherClientsOnly {
		params.Set("other_clients_only", "true")
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s?%s", a.baseURL, collection, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(req)
	// The page GET is idempotent, so a transient timeout gets one immediate
	// retry before the pass gives up on the service.
	if err != nil && httpclient.IsRetriable(err) {
		resp, err = a.client.Do(req)
	}
	if err != nil {
		return nil, &syncerrors.TransportError{Service: a.Name(), Reason: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &syncerrors.TransportError{Service: a.Name(), Reason: err}
	}
	if err := classifyStatus(a.Name(), resp.StatusCode, body); err != nil {
		return nil, err
	}

	var page pageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &syncerrors.TransportError{Service: a.Name(), Reason: fmt.Errorf("decoding page: %w", err)}
	}
	return &page, nil
}

func (w *wireQSO) toFetched() (models.FetchedRecord, error) {
	ts, err := time.Parse(time.RFC3339, w.DatetimeOn)
	if err != nil {
		return models.FetchedRecord{}, fmt.Errorf("bad datetime_on %q: %w", w.DatetimeOn, err)
	}
	rec := models.FetchedRecord{
		ExternalID:      strconv.FormatInt(w.ID, 10),
		Callsign:        w.Callsign,
		Band:            w.Band,
		Mode:            w.Mode,
		FrequencyKHz:    float64(w.FreqHz) / 1000,
		Time:            ts.UTC(),
		RSTSent:         w.RSTSent,
		RSTRcvd:         w.RSTRcvd,
		StationCallsign: w.StationCallsign,
		MyGridsquare:    w.MyGridsquare,
		Gridsquare:      w.Gridsquare,
		Name:            w.Name,
		QTH:             w.QTH,
		Notes:           w.Comment,
	}
	if w.TxPower > 0 {
		rec.TxPower = strconv.FormatFloat(w.TxPower, 'f', -1, 64)
	}
	if w.LotwConfirmed || w.EqslConfirmed {
		rec.Confirmations = map[string]bool{}
		if w.LotwConfirmed {
			rec.Confirmations["lotw"] = true
		}
		if w.EqslConfirmed {
			rec.Confirmations["eqsl"] = true
		}
	}
	return rec, nil
}

type uploadRequest struct {
	StationID string `json:"station_profile_id,omitempty"`
	ADIF      string `json:"adif"`
}

type uploadResponse struct {
	Accepted   int      `json:"accepted"`
	Duplicates []string `json:"duplicates"`
	Rejected   []struct {
		Call   string `json:"call"`
		Reason string `json:"reason"`
	} `json:"rejected"`
}

// Upload posts one batch as rendered ADIF. The server reports duplicates and
// rejections by call; those are mapped back onto record ids so the caller can
// settle their needs-upload state per record.
func (a *Adapter) Upload(ctx context.Context, records []qso.Record) (models.AcceptanceResult, error) {
	payload := uploadRequest{StationID: a.stationID, ADIF: adif.Render(toADIF(records))}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.AcceptanceResult{}, err
	}

	endpoint := a.baseURL + "/api/v1/qsos/import"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return models.AcceptanceResult{}, err
	}
	req.Header.Set("X-Api-Key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return models.AcceptanceResult{}, &syncerrors.TransportError{Service: a.Name(), Reason: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.AcceptanceResult{}, &syncerrors.TransportError{Service: a.Name(), Reason: err}
	}
	if err := classifyStatus(a.Name(), resp.StatusCode, respBody); err != nil {
		return models.AcceptanceResult{}, err
	}

	var parsed uploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return models.AcceptanceResult{}, &syncerrors.TransportError{Service: a.Name(), Reason: fmt.Errorf("decoding upload response: %w", err)}
	}

	result := models.AcceptanceResult{Accepted: parsed.Accepted}
	duplicates := map[string]bool{}
	for _, call := range parsed.Duplicates {
		duplicates[call] = true
	}
	rejected := map[string]string{}
	for _, r := range parsed.Rejected {
		rejected[r.Call] = r.Reason
	}
	// The response identifies records by callsign only, so two records for
	// the same call in one batch share whatever status the server reported
	// for that call. Batches are small enough that the ambiguity has not
	// warranted a per-record id in the upload payload.
	for _, rec := range records {
		outcome := models.RecordOutcome{RecordID: rec.ID, Status: models.UploadAccepted}
		if duplicates[rec.Callsign] {
			outcome.Status = models.UploadDuplicate
		} else if reason, ok := rejected[rec.Callsign]; ok {
			outcome.Status = models.UploadRejected
			outcome.Reason = reason
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func toADIF(records []qso.Record) []adif.Record {
	out := make([]adif.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, adif.Record{
			Call:            rec.Callsign,
			Band:            rec.Band,
			Mode:            rec.Mode,
			FreqKHz:         rec.FreqKHz,
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
			Comment:         rec.Notes,
		})
	}
	return out
}

func classifyStatus(service string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &syncerrors.AuthenticationError{Service: service, Reason: fmt.Errorf("status %d", status)}
	case status >= 400 && status < 500:
		return &syncerrors.ValidationError{Service: service, Reason: fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body))}
	default:
		return &syncerrors.TransportError{Service: service, Reason: fmt.Errorf("status %d", status)}
	}
}
