package qrz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/qsosync/platform/pkg/adif"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/common/models"
	"github.com/qsosync/platform/pkg/qso"
	"github.com/qsosync/platform/pkg/syncerrors"
)

// resultAuth is the distinguished code the service returns when a session
// key has expired. It triggers exactly one re-login, never a blind retry.
const resultAuth = "AUTH"

// Adapter speaks the logbook's form-encoded key/value protocol. A LOGIN call
// trades the configured credentials for an opaque session key; every other
// call carries that key.
type Adapter struct {
	baseURL  string
	username string
	password string
	client   *http.Client

	mu         sync.Mutex
	sessionKey string
}

func NewAdapter(baseURL, username, password string, client *http.Client) *Adapter {
	return &Adapter{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   client,
	}
}

func (a *Adapter) Name() string        { return qso.ServiceQRZ }
func (a *Adapter) UploadCapable() bool { return true }

func (a *Adapter) login(ctx context.Context) error {
	params := url.Values{}
	params.Set("ACTION", "LOGIN")
	params.Set("USERNAME", a.username)
	params.Set("PASSWORD", a.password)

	fields, err := a.call(ctx, params)
	if err != nil {
		return err
	}
	if fields["RESULT"] != "OK" || fields["KEY"] == "" {
		return &syncerrors.AuthenticationError{
			Service: a.Name(),
			Reason:  fmt.Errorf("login refused: %s", fields["REASON"]),
		}
	}

	a.mu.Lock()
	a.sessionKey = fields["KEY"]
	a.mu.Unlock()
	return nil
}

// callWithAuth runs one keyed call, re-authenticating once when the service
// reports an expired session.
func (a *Adapter) callWithAuth(ctx context.Context, params url.Values) (map[string]string, error) {
	a.mu.Lock()
	key := a.sessionKey
	a.mu.Unlock()

	if key == "" {
		if err := a.login(ctx); err != nil {
			return nil, err
		}
		a.mu.Lock()
		key = a.sessionKey
		a.mu.Unlock()
	}

	params.Set("KEY", key)
	fields, err := a.call(ctx, params)
	if err != nil {
		return nil, err
	}

	if fields["RESULT"] == resultAuth {
		logger.Log.WithField("service", a.Name()).Info("session key expired, re-authenticating")
		if err := a.login(ctx); err != nil {
			return nil, err
		}
		a.mu.Lock()
		params.Set("KEY", a.sessionKey)
		a.mu.Unlock()
		return a.call(ctx, params)
	}
	return fields, nil
}

func (a *Adapter) call(ctx context.Context, params url.Values) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &syncerrors.TransportError{Service: a.Name(), Reason: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &syncerrors.TransportError{Service: a.Name(), Reason: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &syncerrors.TransportError{Service: a.Name(), Reason: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return parseKV(string(body)), nil
}

// Fetch downloads records modified since the cursor. The service filters by
// date, not milliseconds, so the cursor day is the effective granularity;
// re-fetched records reconcile through the import pipeline's id match.
func (a *Adapter) Fetch(ctx context.Context, cursor int64) (models.FetchResult, error) {
	params := url.Values{}
	params.Set("ACTION", "FETCH")
	since := time.UnixMilli(cursor).UTC()
	params.Set("OPTION", "MODSINCE:"+since.Format("2006-01-02"))

	fields, err := a.callWithAuth(ctx, params)
	if err != nil {
		return models.FetchResult{}, err
	}
	if fields["RESULT"] == "FAIL" {
		reason := fields["REASON"]
		if strings.Contains(strings.ToLower(reason), "no log entries") {
			return models.FetchResult{NextCursor: cursor}, nil
		}
		return models.FetchResult{}, &syncerrors.ValidationError{Service: a.Name(), Reason: errors.New(reason)}
	}

	file, err := adif.ParseString(fields["ADIF"])
	if err != nil {
		return models.FetchResult{}, &syncerrors.ValidationError{Service: a.Name(), Reason: err}
	}

	result := models.FetchResult{NextCursor: cursor}
	for _, parsed := range file.Records {
		rec := models.FetchedRecord{
			ExternalID:      parsed.Fields["app_qrzlog_logid"],
			Callsign:        parsed.Call,
			Band:            parsed.Band,
			Mode:            parsed.Mode,
			FrequencyKHz:    parsed.FreqKHz,
			Time:            parsed.Time,
			RSTSent:         parsed.RSTSent,
			RSTRcvd:         parsed.RSTRcvd,
			StationCallsign: parsed.StationCallsign,
			MyGridsquare:    parsed.MyGridsquare,
			Gridsquare:      parsed.Gridsquare,
			Name:            parsed.Name,
			QTH:             parsed.QTH,
			Notes:           parsed.Comment,
			RawADIF:         adif.RenderRecord(parsed),
		}
		if parsed.Fields["lotw_qsl_rcvd"] == "Y" {
			rec.Confirmations = map[string]bool{"lotw": true}
		}
		if ts := parsed.Time.UnixMilli(); ts > result.NextCursor {
			result.NextCursor = ts
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// Upload inserts records one call each; the protocol has no batch form. A
// duplicate response means the logbook already holds an equivalent entry,
// which the caller records as settled rather than as a failure.
func (a *Adapter) Upload(ctx context.Context, records []qso.Record) (models.AcceptanceResult, error) {
	var result models.AcceptanceResult

	for _, rec := range records {
		params := url.Values{}
		params.Set("ACTION", "INSERT")
		params.Set("ADIF", adif.RenderRecord(toADIF(rec)))

		fields, err := a.callWithAuth(ctx, params)
		if err != nil {
			return result, err
		}

		outcome := models.RecordOutcome{RecordID: rec.ID}
		switch {
		case fields["RESULT"] == "OK":
			outcome.Status = models.UploadAccepted
			result.Accepted++
		case strings.Contains(strings.ToLower(fields["REASON"]), "duplicate"):
			outcome.Status = models.UploadDuplicate
		default:
			outcome.Status = models.UploadRejected
			outcome.Reason = fields["REASON"]
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func toADIF(rec qso.Record) adif.Record {
	return adif.Record{
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
	}
}
