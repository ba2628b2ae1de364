package pota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/qsosync/platform/pkg/adif"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/locator"
	"github.com/qsosync/platform/pkg/qso"
	"github.com/qsosync/platform/pkg/syncerrors"

	"golang.org/x/oauth2"
)

// Adapter talks to the park activity service. Uploads go up as multipart
// ADIF files tagged with the activation's park reference and region; the
// maintenance window is enforced locally before any network call.
type Adapter struct {
	baseURL string
	client  *http.Client
	tokens  oauth2.TokenSource
	window  Window
	regions locator.RegionLookup
	now     func() time.Time
}

func NewAdapter(baseURL string, client *http.Client, tokens oauth2.TokenSource, window Window, regions locator.RegionLookup) *Adapter {
	if regions == nil {
		regions = locator.DefaultLookup()
	}
	return &Adapter{
		baseURL: baseURL,
		client:  client,
		tokens:  tokens,
		window:  window,
		regions: regions,
		now:     time.Now,
	}
}

func (a *Adapter) Name() string        { return qso.ServicePOTA }
func (a *Adapter) UploadCapable() bool { return true }

func (a *Adapter) checkWindow() error {
	inside, until := a.window.Contains(a.now())
	if !inside {
		return nil
	}
	return &syncerrors.MaintenanceError{Service: a.Name(), Until: until}
}

type wireEntry struct {
	QSOID        int64  `json:"qsoId"`
	Callsign     string `json:"workedCallsign"`
	Band         string `json:"band"`
	Mode         string `json:"mode"`
	QSODateTime  string `json:"qsoDateTime"` // RFC 3339
	Reference    string `json:"reference"`
	MyReference  string `json:"myReference"`
	Gridsquare   string `json:"grid"`
	MyGridsquare string `json:"myGrid"`
	Confirmed    bool   `json:"confirmed"`
}

// Fetch downloads the full hunter/activator logbook. The service has no
// incremental endpoint, so entries at or before the cursor are dropped here
// and the watermark advances to the newest entry seen.
func (a *Adapter) Fetch(ctx context.Context, cursor int64) (models.FetchResult, error) {
	if err := a.checkWindow(); err != nil {
		return models.FetchResult{}, err
	}

	body, err := a.get(ctx, "/user/logbook")
	if err != nil {
		return models.FetchResult{}, err
	}

	var entries []wireEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return models.FetchResult{}, &syncerrors.TransportError{Service: a.Name(), Reason: fmt.Errorf("decoding logbook: %w", err)}
	}

	result := models.FetchResult{NextCursor: cursor}
	for _, entry := range entries {
		ts, err := time.Parse(time.RFC3339, entry.QSODateTime)
		if err != nil {
			logger.Log.WithError(err).WithField("qsoId", entry.QSOID).Warn("skipping entry with bad timestamp")
			continue
		}
		millis := ts.UTC().UnixMilli()
		if millis <= cursor {
			continue
		}
		if millis > result.NextCursor {
			result.NextCursor = millis
		}
		rec := models.FetchedRecord{
			ExternalID:   strconv.FormatInt(entry.QSOID, 10),
			Callsign:     entry.Callsign,
			Band:         entry.Band,
			Mode:         entry.Mode,
			Time:         ts.UTC(),
			Gridsquare:   entry.Gridsquare,
			MyGridsquare: entry.MyGridsquare,
			ParkRef:      entry.Reference,
			MyParkRef:    entry.MyReference,
		}
		if entry.Confirmed {
			rec.Confirmations = map[string]bool{"pota": true}
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// Upload submits one batch as a multipart ADIF file. All records in a batch
// belong to one activation; the park reference and derived region ride along
// as form fields the way the web client sends them.
func (a *Adapter) Upload(ctx context.Context, records []qso.Record) (models.AcceptanceResult, error) {
	if err := a.checkWindow(); err != nil {
		return models.AcceptanceResult{}, err
	}
	if len(records) == 0 {
		return models.AcceptanceResult{}, nil
	}

	reference := records[0].MyParkRef
	if reference == "" {
		return models.AcceptanceResult{}, &syncerrors.ValidationError{
			Service: a.Name(),
			Reason:  fmt.Errorf("record %s has no park reference", records[0].ID),
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", reference+".adi")
	if err != nil {
		return models.AcceptanceResult{}, err
	}
	if _, err := io.WriteString(part, adif.RenderFile("qsosync", toADIF(records))); err != nil {
		return models.AcceptanceResult{}, err
	}
	writer.WriteField("reference", reference)
	writer.WriteField("callsign", records[0].StationCallsign)
	if region, ok := a.regions.Region(records[0].MyGridsquare); ok {
		writer.WriteField("location", region)
	}
	if err := writer.Close(); err != nil {
		return models.AcceptanceResult{}, err
	}

	token, err := a.tokens.Token()
	if err != nil {
		return models.AcceptanceResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/user/logbook/upload", &buf)
	if err != nil {
		return models.AcceptanceResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	token.SetAuthHeader(req)

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

	// The service only reports an aggregate count and an upload id; there is
	// no per-record breakdown to map outcomes from.
	var parsed struct {
		Count    int    `json:"count"`
		UploadID string `json:"uploadId"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return models.AcceptanceResult{}, &syncerrors.TransportError{Service: a.Name(), Reason: fmt.Errorf("decoding upload response: %w", err)}
	}
	return models.AcceptanceResult{Accepted: parsed.Count, CorrelationID: parsed.UploadID}, nil
}

func (a *Adapter) get(ctx context.Context, path string) ([]byte, error) {
	token, err := a.tokens.Token()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)

	resp, err := a.client.Do(req)
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
	return body, nil
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
			Comment:         rec.Notes,
		})
	}
	return out
}
