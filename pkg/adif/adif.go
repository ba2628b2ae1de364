package adif

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/qsosync/platform/pkg/bandplan"
)

// Record is one parsed ADIF record. Fields carries every tag verbatim
// (lowercased names), including ones the struct does not map, so nothing a
// service sent is lost on round-trip.
type Record struct {
	Call            string
	Band            string
	Mode            string
	FreqKHz         float64 // 0 when absent; ADIF wire unit is MHz
	Time            time.Time
	RSTSent         string
	RSTRcvd         string
	StationCallsign string
	MyGridsquare    string
	Gridsquare      string
	MyParkRef       string
	ParkRef         string
	Name            string
	QTH             string
	TxPower         string
	Comment         string
	Fields          map[string]string
}

type File struct {
	Header  map[string]string
	Records []Record
}

// ParseError reports an unusable record. Index is the zero-based position of
// the record in the input.
type ParseError struct {
	Index  int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("adif: record %d: %s", e.Index, e.Reason)
}

// Parse reads a complete ADIF document: optional header terminated by <eoh>,
// then records terminated by <eor>. A record with no qso_date/time_on pair
// fails the whole parse, because a timestamp is what reconciliation keys on.
func Parse(r io.Reader) (File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return File{}, err
	}
	return ParseString(string(raw))
}

func ParseString(input string) (File, error) {
	file := File{Header: map[string]string{}}
	fields := map[string]string{}
	inHeader := strings.Contains(strings.ToLower(input), "<eoh>")
	pos := 0

	for {
		open := strings.IndexByte(input[pos:], '<')
		if open < 0 {
			break
		}
		pos += open
		closing := strings.IndexByte(input[pos:], '>')
		if closing < 0 {
			break
		}
		tag := input[pos+1 : pos+closing]
		pos += closing + 1

		name, length, ok := splitTag(tag)
		switch {
		case !ok:
			continue
		case name == "eoh":
			file.Header = fields
			fields = map[string]string{}
			inHeader = false
			continue
		case name == "eor":
			record, err := buildRecord(fields, len(file.Records))
			if err != nil {
				return File{}, err
			}
			file.Records = append(file.Records, record)
			fields = map[string]string{}
			continue
		}

		if length > len(input)-pos {
			length = len(input) - pos
		}
		// The declared length is consumed as bytes, matching what writeField
		// emits, so non-ASCII values round-trip through this codec.
		value := input[pos : pos+length]
		pos += length
		if inHeader {
			file.Header[name] = value
		} else {
			fields[name] = value
		}
	}

	return file, nil
}

func splitTag(tag string) (name string, length int, ok bool) {
	parts := strings.SplitN(tag, ":", 3)
	name = strings.ToLower(strings.TrimSpace(parts[0]))
	if name == "eor" || name == "eoh" {
		return name, 0, true
	}
	if len(parts) < 2 {
		return "", 0, false
	}
	length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || length < 0 {
		return "", 0, false
	}
	return name, length, true
}

func buildRecord(fields map[string]string, index int) (Record, error) {
	ts, err := parseTimestamp(fields["qso_date"], fields["time_on"])
	if err != nil {
		return Record{}, &ParseError{Index: index, Reason: err.Error()}
	}

	rec := Record{
		Call:            strings.TrimSpace(fields["call"]),
		Band:            strings.ToLower(strings.TrimSpace(fields["band"])),
		Mode:            strings.TrimSpace(fields["mode"]),
		Time:            ts,
		RSTSent:         fields["rst_sent"],
		RSTRcvd:         fields["rst_rcvd"],
		StationCallsign: strings.TrimSpace(fields["station_callsign"]),
		MyGridsquare:    strings.TrimSpace(fields["my_gridsquare"]),
		Gridsquare:      strings.TrimSpace(fields["gridsquare"]),
		Name:            fields["name"],
		QTH:             fields["qth"],
		TxPower:         fields["tx_pwr"],
		Comment:         fields["comment"],
		Fields:          fields,
	}

	if freq := fields["freq"]; freq != "" {
		if mhz, err := strconv.ParseFloat(strings.TrimSpace(freq), 64); err == nil {
			rec.FreqKHz = mhz * 1000
		}
	}
	if rec.Band == "" && rec.FreqKHz > 0 {
		if band, ok := bandplan.Default().ForFrequency(rec.FreqKHz); ok {
			rec.Band = band.Name
		}
	}
	if strings.EqualFold(fields["my_sig"], "POTA") {
		rec.MyParkRef = strings.TrimSpace(fields["my_sig_info"])
	}
	if strings.EqualFold(fields["sig"], "POTA") {
		rec.ParkRef = strings.TrimSpace(fields["sig_info"])
	}

	return rec, nil
}

func parseTimestamp(date, timeOn string) (time.Time, error) {
	date = strings.TrimSpace(date)
	timeOn = strings.TrimSpace(timeOn)
	if date == "" || timeOn == "" {
		return time.Time{}, fmt.Errorf("missing qso_date/time_on")
	}
	layout := "20060102 1504"
	if len(timeOn) == 6 {
		layout = "20060102 150405"
	}
	ts, err := time.ParseInLocation(layout, date+" "+timeOn, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q %q", date, timeOn)
	}
	return ts, nil
}

// Render emits one line per record containing only present fields, each as
// <name:length>value with length equal to the exact byte count of the value,
// terminated by <eor>.
func Render(records []Record) string {
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(RenderRecord(rec))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderFile prepends a minimal header terminated by <eoh>.
func RenderFile(programID string, records []Record) string {
	var b strings.Builder
	writeField(&b, "adif_ver", "3.1.4")
	writeField(&b, "programid", programID)
	b.WriteString("<eoh>\n")
	b.WriteString(Render(records))
	return b.String()
}

func RenderRecord(rec Record) string {
	var b strings.Builder
	writeField(&b, "call", rec.Call)
	if !rec.Time.IsZero() {
		utc := rec.Time.UTC()
		writeField(&b, "qso_date", utc.Format("20060102"))
		writeField(&b, "time_on", utc.Format("150405"))
	}
	writeField(&b, "band", strings.ToLower(rec.Band))
	writeField(&b, "mode", rec.Mode)
	if rec.FreqKHz > 0 {
		writeField(&b, "freq", strconv.FormatFloat(rec.FreqKHz/1000, 'f', -1, 64))
	}
	writeField(&b, "rst_sent", rec.RSTSent)
	writeField(&b, "rst_rcvd", rec.RSTRcvd)
	writeField(&b, "station_callsign", rec.StationCallsign)
	writeField(&b, "my_gridsquare", rec.MyGridsquare)
	writeField(&b, "gridsquare", rec.Gridsquare)
	if rec.MyParkRef != "" {
		writeField(&b, "my_sig", "POTA")
		writeField(&b, "my_sig_info", rec.MyParkRef)
	}
	if rec.ParkRef != "" {
		writeField(&b, "sig", "POTA")
		writeField(&b, "sig_info", rec.ParkRef)
	}
	writeField(&b, "name", rec.Name)
	writeField(&b, "qth", rec.QTH)
	writeField(&b, "tx_pwr", rec.TxPower)
	writeField(&b, "comment", rec.Comment)
	b.WriteString("<eor>")
	return b.String()
}

// writeField declares the value's byte length, not its rune count. Parse
// consumes bytes too, so the codec is self-consistent; consumers that count
// characters will disagree on non-ASCII values.
func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "<%s:%d>%s ", name, len(value), value)
}
