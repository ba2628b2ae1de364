package adif

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sample = `<adif_ver:5>3.1.4<programid:7>wavelog<eoh>
<call:5>K1ABC <qso_date:8>20250301 <time_on:6>140000 <band:3>20m <mode:2>CW <freq:6>14.055 <rst_sent:3>599 <my_sig:4>POTA <my_sig_info:7>US-0001 <app_wavelog_id:4>9913 <eor>
<call:5>W2DEF <qso_date:8>20250301 <time_on:4>1412 <mode:3>SSB <eor>
`

func TestParseSample(t *testing.T) {
	file, err := ParseString(sample)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Header["programid"] != "wavelog" {
		t.Fatalf("header not parsed: %v", file.Header)
	}
	if len(file.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(file.Records))
	}

	first := file.Records[0]
	if first.Call != "K1ABC" || first.Band != "20m" || first.Mode != "CW" {
		t.Fatalf("unexpected record: %+v", first)
	}
	if first.FreqKHz != 14055 {
		t.Fatalf("expected 14055 kHz, got %v", first.FreqKHz)
	}
	want := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)
	if !first.Time.Equal(want) {
		t.Fatalf("expected %v, got %v", want, first.Time)
	}
	if first.MyParkRef != "US-0001" {
		t.Fatalf("expected park ref, got %q", first.MyParkRef)
	}
	// Unknown fields survive verbatim.
	if first.Fields["app_wavelog_id"] != "9913" {
		t.Fatalf("unknown field lost: %v", first.Fields)
	}

	// Four-digit time_on and absent band both parse.
	second := file.Records[1]
	if second.Time.Hour() != 14 || second.Time.Minute() != 12 {
		t.Fatalf("short time_on mishandled: %v", second.Time)
	}
	if second.Band != "" {
		t.Fatalf("expected empty band, got %q", second.Band)
	}
}

func TestParseRejectsMissingTimestamp(t *testing.T) {
	_, err := ParseString("<call:5>K1ABC <band:3>20m <mode:2>CW <eor>")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Index != 0 {
		t.Fatalf("expected index 0, got %d", pe.Index)
	}
}

func TestParseDerivesBandFromFrequency(t *testing.T) {
	file, err := ParseString("<call:5>K1ABC <qso_date:8>20250301 <time_on:4>1400 <mode:3>FT8 <freq:6>14.074 <eor>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Records[0].Band != "20m" {
		t.Fatalf("expected derived band 20m, got %q", file.Records[0].Band)
	}
}

func TestRenderEmitsOnlyPresentFieldsWithExactLengths(t *testing.T) {
	rec := Record{
		Call:    "K1ABC",
		Band:    "20M",
		Mode:    "CW",
		FreqKHz: 14055,
		Time:    time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC),
		RSTSent: "599",
	}
	line := RenderRecord(rec)

	for _, want := range []string{"<call:5>K1ABC", "<band:3>20m", "<freq:6>14.055", "<rst_sent:3>599"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "rst_rcvd") || strings.Contains(line, "comment") {
		t.Fatalf("absent fields must not be emitted: %q", line)
	}
	if !strings.HasSuffix(line, "<eor>") {
		t.Fatalf("record not terminated: %q", line)
	}
}

func TestNonASCIIValueRoundTripsWithByteLength(t *testing.T) {
	rec := Record{
		Call: "EA4XYZ",
		Band: "40m",
		Mode: "SSB",
		Time: time.Date(2025, 6, 10, 6, 30, 15, 0, time.UTC),
		Name: "José",
	}
	line := RenderRecord(rec)
	// "José" is 4 runes but 5 bytes; the declared length counts bytes.
	if !strings.Contains(line, "<name:5>José") {
		t.Fatalf("expected byte-length declaration, got %q", line)
	}

	file, err := ParseString(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if file.Records[0].Name != "José" {
		t.Fatalf("non-ascii value mangled: %q", file.Records[0].Name)
	}
}

func TestRoundTrip(t *testing.T) {
	rec := Record{
		Call:    "EA4XYZ",
		Band:    "40m",
		Mode:    "SSB",
		Time:    time.Date(2025, 6, 10, 6, 30, 15, 0, time.UTC),
		ParkRef: "ES-0042",
		Comment: "portable QRP",
	}
	file, err := ParseString(RenderRecord(rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := file.Records[0]
	if got.Call != rec.Call || got.Band != rec.Band || !got.Time.Equal(rec.Time) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ParkRef != "ES-0042" {
		t.Fatalf("park ref lost: %+v", got)
	}
	if got.Comment != rec.Comment {
		t.Fatalf("comment lost: %q", got.Comment)
	}
}
