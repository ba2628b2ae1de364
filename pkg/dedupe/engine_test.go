package dedupe

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/qso"
	"gorm.io/datatypes"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// fakeStore keeps records in memory and applies merges, so idempotence can
// be checked by running the engine twice.
type fakeStore struct {
	records map[string]*qso.Record
}

func newFakeStore(records ...*qso.Record) *fakeStore {
	store := &fakeStore{records: map[string]*qso.Record{}}
	for _, rec := range records {
		store.records[rec.ID] = rec
	}
	return store
}

func (f *fakeStore) ListAllByTime(ctx context.Context) ([]qso.Record, error) {
	var out []qso.Record
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (f *fakeStore) ApplyMerge(ctx context.Context, winner *qso.Record, presence []qso.PresenceRow, loserIDs []string) error {
	copied := *winner
	copied.Presence = presence
	f.records[winner.ID] = &copied
	for _, id := range loserIDs {
		delete(f.records, id)
	}
	return nil
}

func ts(minute, second int) time.Time {
	return time.Date(2025, 3, 1, 14, minute, second, 0, time.UTC)
}

func presentRow(service string) qso.PresenceRow {
	confirmed := ts(0, 0)
	return qso.PresenceRow{ID: "p-" + service, Service: service, IsPresent: true, LastConfirmedAt: &confirmed}
}

func TestMergeScenarioBandOptional(t *testing.T) {
	a := &qso.Record{
		ID: "a", Callsign: "K1ABC", Mode: "CW", Band: "20m",
		Time: ts(0, 0), Notes: "x",
		Presence: []qso.PresenceRow{presentRow(qso.ServiceWavelog)},
	}
	b := &qso.Record{
		ID: "b", Callsign: "K1ABC", Mode: "CW", Band: "",
		Time:          ts(1, 30),
		Confirmations: datatypes.JSONMap{"lotw": true},
	}
	store := newFakeStore(a, b)
	engine := NewEngine(store, nil, 0)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Groups != 1 || result.Removed != 1 {
		t.Fatalf("expected one merge removing one record, got %+v", result)
	}

	survivor, ok := store.records["a"]
	if !ok {
		t.Fatal("expected record a (present on a service) to win")
	}
	if survivor.Band != "20m" {
		t.Fatalf("winner band lost: %q", survivor.Band)
	}
	if flagged, _ := survivor.Confirmations["lotw"].(bool); !flagged {
		t.Fatal("loser's confirmation flag not carried over")
	}
	if survivor.Notes != "x" {
		t.Fatalf("winner notes clobbered: %q", survivor.Notes)
	}
}

func TestSecondRunMergesNothing(t *testing.T) {
	store := newFakeStore(
		&qso.Record{ID: "a", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(0, 0)},
		&qso.Record{ID: "b", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(2, 0), Name: "John"},
		&qso.Record{ID: "c", Callsign: "W2DEF", Mode: "SSB", Band: "40m", Time: ts(0, 30)},
	)
	engine := NewEngine(store, nil, 0)
	ctx := context.Background()

	first, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Groups != 1 {
		t.Fatalf("expected one group, got %+v", first)
	}

	second, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Groups != 0 || second.Removed != 0 {
		t.Fatalf("second run must be a no-op, got %+v", second)
	}
}

func TestWindowStopsEarly(t *testing.T) {
	store := newFakeStore(
		&qso.Record{ID: "a", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(0, 0)},
		// Same identity fields, but 10 minutes later: a separate contact.
		&qso.Record{ID: "b", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(10, 0)},
	)
	engine := NewEngine(store, nil, 0)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Groups != 0 {
		t.Fatalf("records outside the window must not merge: %+v", result)
	}
}

func TestDistinctBandsDoNotMerge(t *testing.T) {
	store := newFakeStore(
		&qso.Record{ID: "a", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(0, 0)},
		&qso.Record{ID: "b", Callsign: "K1ABC", Mode: "CW", Band: "40m", Time: ts(1, 0)},
	)
	engine := NewEngine(store, nil, 0)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Groups != 0 {
		t.Fatalf("different bands must not merge: %+v", result)
	}
}

func TestMergeIsInformationPreserving(t *testing.T) {
	a := &qso.Record{
		ID: "a", Callsign: "K1ABC", Mode: "FT8", Band: "20m", Time: ts(0, 0),
		Presence: []qso.PresenceRow{presentRow(qso.ServiceWavelog)},
	}
	b := &qso.Record{
		ID: "b", Callsign: "K1ABC", Mode: "FT8", Band: "20m", Time: ts(1, 0),
		Name: "John", QTH: "Boston", Gridsquare: "FN42", TxPower: "100",
		ExternalIDs: datatypes.JSONMap{"qrz": "555"},
		Presence: []qso.PresenceRow{
			presentRow(qso.ServiceQRZ),
			{ID: "p-needs", Service: qso.ServicePOTA, NeedsUpload: true},
		},
	}
	store := newFakeStore(a, b)
	engine := NewEngine(store, nil, 0)

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected one survivor, got %d", len(store.records))
	}

	var survivor *qso.Record
	for _, rec := range store.records {
		survivor = rec
	}

	// Every non-empty optional field from the loser appears on the winner.
	if survivor.Name != "John" || survivor.QTH != "Boston" || survivor.Gridsquare != "FN42" || survivor.TxPower != "100" {
		t.Fatalf("loser fields lost: %+v", survivor)
	}
	if survivor.ExternalID("qrz") != "555" {
		t.Fatal("loser external id lost")
	}

	// Presence rows transferred: wavelog present, qrz present, pota needs-upload.
	byService := map[string]qso.PresenceRow{}
	for _, row := range survivor.Presence {
		byService[row.Service] = row
	}
	if !byService[qso.ServiceWavelog].IsPresent || !byService[qso.ServiceQRZ].IsPresent {
		t.Fatalf("presence not transferred: %+v", survivor.Presence)
	}
	if !byService[qso.ServicePOTA].NeedsUpload {
		t.Fatalf("needs-upload row lost: %+v", survivor.Presence)
	}
	for _, row := range survivor.Presence {
		if row.IsPresent && row.NeedsUpload {
			t.Fatalf("presence invariant violated: %+v", row)
		}
	}
}

func TestWinnerPrefersMorePresentServices(t *testing.T) {
	a := &qso.Record{
		ID: "a", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(0, 0),
		Name: "John", QTH: "Boston", // more detail, fewer services
		Presence: []qso.PresenceRow{presentRow(qso.ServiceWavelog)},
	}
	b := &qso.Record{
		ID: "b", Callsign: "K1ABC", Mode: "CW", Band: "20m", Time: ts(1, 0),
		Presence: []qso.PresenceRow{presentRow(qso.ServiceWavelog), presentRow(qso.ServiceQRZ)},
	}
	store := newFakeStore(a, b)
	engine := NewEngine(store, nil, 0)

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	survivor, ok := store.records["b"]
	if !ok {
		t.Fatal("expected the record present on more services to win")
	}
	// And it still inherited the loser's detail.
	if survivor.Name != "John" {
		t.Fatalf("winner did not inherit loser fields: %+v", survivor)
	}
}
