package pem

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fixturePath = "testdata/line200e.pem"

func readFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func parseFixture(t *testing.T) *File {
	t.Helper()
	f, err := ParseFile(fixturePath)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	return f
}

func TestParseFile(t *testing.T) {
	f := parseFixture(t)

	if f.Tags.Format != 210 {
		t.Errorf("Format = %d, want 210", f.Tags.Format)
	}
	if f.Tags.Units != UnitsNanoTeslaPerSec {
		t.Errorf("Units = %q, want %q", f.Tags.Units, UnitsNanoTeslaPerSec)
	}
	if f.Tags.Operator != "Crew A" {
		t.Errorf("Operator = %q, want %q", f.Tags.Operator, "Crew A")
	}
	if f.Tags.Current != 20 {
		t.Errorf("Current = %v, want 20", f.Tags.Current)
	}
	if len(f.Tags.LoopDimensions) != 2 {
		t.Errorf("LoopDimensions = %v, want 2 values", f.Tags.LoopDimensions)
	}
	if len(f.LoopCoords) != 4 {
		t.Errorf("got %d loop coords, want 4", len(f.LoopCoords))
	}
	if len(f.LineCoords) != 2 || f.LineCoords[1].Station != "50N" {
		t.Errorf("LineCoords = %+v, want 2 points ending at 50N", f.LineCoords)
	}
	if f.Collar != nil || len(f.Segments) != 0 {
		t.Errorf("surface survey should have no borehole geometry")
	}
	if len(f.Notes) != 2 || !strings.HasPrefix(f.Notes[1], "<HE3>") {
		t.Errorf("Notes = %q", f.Notes)
	}

	h := f.Header
	if h.Client != "Client Co" || h.LineName != "Line 200E" || h.Date != "March 3, 2021" {
		t.Errorf("header text = %q %q %q", h.Client, h.LineName, h.Date)
	}
	if h.SurveyType != "Surface" || h.Timebase != 50 || h.Ramp != 1.5 {
		t.Errorf("survey line = %q %v %v", h.SurveyType, h.Timebase, h.Ramp)
	}
	if h.NumChannels != 7 || h.NumReadings != 4 {
		t.Errorf("NumChannels, NumReadings = %d, %d, want 7, 4", h.NumChannels, h.NumReadings)
	}
	if h.Normalized || h.CoilArea != 1000 || h.LoopPolarity != "Up" {
		t.Errorf("receiver line = %v %v %q", h.Normalized, h.CoilArea, h.LoopPolarity)
	}
	if len(h.Channels) != 8 {
		t.Fatalf("got %d channel rows, want 8", len(h.Channels))
	}

	if len(f.Readings) != 4 {
		t.Fatalf("got %d readings, want 4", len(f.Readings))
	}
	for _, r := range f.Readings {
		if len(r.Decay) != h.NumChannels+1 {
			t.Errorf("%s %s: decay has %d values, want %d", r.Station, r.Component, len(r.Decay), h.NumChannels+1)
		}
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseReadings(t *testing.T) {
	f := parseFixture(t)

	first := f.Readings[0]
	if first.Station != "0N" || first.Component != ComponentZ || first.NumStacks != 16 {
		t.Errorf("first reading = %s %s stacks %d", first.Station, first.Component, first.NumStacks)
	}
	if _, ok := first.RAD.(Magnetometer); !ok {
		t.Errorf("first RAD = %T, want Magnetometer", first.RAD)
	}

	rotated, ok := f.Readings[3].RAD.(Accelerometer)
	if !ok {
		t.Fatalf("last RAD = %T, want Accelerometer", f.Readings[3].RAD)
	}
	if !rotated.Rotated || rotated.R != "S" || rotated.RollAngleUsed != 12.5 {
		t.Errorf("rotated RAD = %+v", rotated)
	}

	wantIDs := []int{1, 1, 2, 3}
	for i, r := range f.Readings {
		if r.RadID != wantIDs[i] {
			t.Errorf("reading %d RadID = %d, want %d", i, r.RadID, wantIDs[i])
		}
	}
}

func TestParseRAD(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    RADTool
		wantErr bool
	}{
		{
			name: "accelerometer",
			line: "D5 1 2 3 4 5",
			want: Accelerometer{X: 1, Y: 2, Z: 3, RollAngle: 4, Dip: 5},
		},
		{
			name: "accelerometer with metadata",
			line: "D5 1 2 3 4 5 extra",
			want: Accelerometer{X: 1, Y: 2, Z: 3, RollAngle: 4, Dip: 5},
		},
		{
			name: "rotated accelerometer",
			line: "D5 1 2 3 4 5 A 7.5",
			want: Accelerometer{X: 1, Y: 2, Z: 3, RollAngle: 4, Dip: 5, Rotated: true, R: "A", RollAngleUsed: 7.5},
		},
		{
			name: "magnetometer",
			line: "D7 1 2 3 4 5 6 7",
			want: Magnetometer{Hx: 1, Gx: 2, Hy: 3, Gy: 4, Hz: 5, Gz: 6, T: 7},
		},
		{name: "unknown tag", line: "D6 1 2 3", wantErr: true},
		{name: "short accelerometer", line: "D5 1 2 3", wantErr: true},
		{name: "non-numeric", line: "D7 1 2 x 4 5 6 7", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRAD(strings.Fields(tt.line), 1)
			if tt.wantErr {
				if !IsFormatError(err) {
					t.Fatalf("parseRAD() error = %v, want FormatError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRAD() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseRAD() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	fixture := readFixture(t)

	tests := []struct {
		name        string
		text        string
		wantSection string
	}{
		{
			name:        "missing units tag",
			text:        strings.Replace(fixture, "<UNI> nanoTesla/sec\n", "", 1),
			wantSection: SectionTags,
		},
		{
			name:        "unknown units",
			text:        strings.Replace(fixture, "nanoTesla/sec", "gauss", 1),
			wantSection: SectionTags,
		},
		{
			name:        "malformed loop coordinate",
			text:        strings.Replace(fixture, "<L01> 500400 5000000 300 0", "<L01> 500400 north 300 0", 1),
			wantSection: SectionCoordinates,
		},
		{
			name:        "short survey line",
			text:        strings.Replace(fixture, "Crystal-Master 50 1.5 7 4", "Crystal-Master 50 7 4", 1),
			wantSection: SectionHeader,
		},
		{
			name:        "bad normalization flag",
			text:        strings.Replace(fixture, "RX1 N 0", "RX1 maybe 0", 1),
			wantSection: SectionHeader,
		},
		{
			name:        "channel count mismatch",
			text:        strings.Replace(fixture, "1.5 7 4", "1.5 8 4", 1),
			wantSection: SectionChannelTimes,
		},
		{
			name:        "missing channel terminator",
			text:        strings.Replace(fixture, "\n$\n", "\n", 1),
			wantSection: SectionChannelTimes,
		},
		{
			name:        "short decay",
			text:        strings.TrimSuffix(fixture, "-0.25\n"),
			wantSection: SectionData,
		},
		{
			name:        "too many decay values",
			text:        strings.Replace(fixture, "\n30\n", "\n30 20\n", 1),
			wantSection: SectionData,
		},
		{
			name:        "non-numeric decay",
			text:        strings.Replace(fixture, "\n30\n", "\nthirty\n", 1),
			wantSection: SectionData,
		},
		{
			name:        "bad component",
			text:        strings.Replace(fixture, "0N ZR1 0 A 0 0 16", "0N QR1 0 A 0 0 16", 1),
			wantSection: SectionData,
		},
		{
			name:        "bad RAD record",
			text:        strings.Replace(fixture, "D5 0.1 0.2 0.3 10 -60\n", "D5 0.1 0.2\n", 1),
			wantSection: SectionRAD,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.text))
			if f != nil {
				t.Errorf("Parse() returned a File alongside error %v", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Parse() error = %v, want FormatError", err)
			}
			if fe.Section != tt.wantSection {
				t.Errorf("Section = %q, want %q (%v)", fe.Section, tt.wantSection, err)
			}
		})
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "missing.pem"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ParseFile() error = %v, want os.ErrNotExist", err)
	}
	if IsFormatError(err) {
		t.Errorf("I/O failure reported as FormatError")
	}
}

func TestParseLineEndings(t *testing.T) {
	fixture := readFixture(t)
	want, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	crlf := "\ufeff" + strings.ReplaceAll(fixture, "\n", "\r\n")
	got, err := Parse([]byte(crlf))
	if err != nil {
		t.Fatalf("Parse(CRLF with BOM) error = %v", err)
	}
	if Serialize(got) != Serialize(want) {
		t.Errorf("CRLF input parsed differently from LF input")
	}
}

func TestParseHeaderByPosition(t *testing.T) {
	tests := []struct {
		name       string
		old, new   string
		wantClient string
	}{
		{"empty client", "Client Co\n", "\n", ""},
		{"client starting with a marker", "Client Co\n", "~ Client Co\n", "~ Client Co"},
		{"blank lines before the header", "Client Co\n", "\n\nClient Co\n", "Client Co"},
		{"marker line before the header", "Client Co\n", "~\nClient Co\n", "Client Co"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Replace(readFixture(t), tt.old, tt.new, 1)
			f, err := Parse([]byte(text))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if f.Header.Client != tt.wantClient {
				t.Errorf("Client = %q, want %q", f.Header.Client, tt.wantClient)
			}
			if f.Header.Grid != "Grid A" || f.Header.LineName != "Line 200E" || f.Header.Date != "March 3, 2021" {
				t.Errorf("header fields shifted: %+v", f.Header)
			}
			if f.Header.NumChannels != 7 || len(f.Readings) != 4 {
				t.Errorf("got %d channels and %d readings, want 7 and 4", f.Header.NumChannels, len(f.Readings))
			}
		})
	}
}

func TestParseBorehole(t *testing.T) {
	text := strings.NewReplacer(
		"Surface Metric", "Borehole Metric",
		"<P00> 500200 4999800 300 0 0N", "<P00> 500200 4999800 300 0",
		"<P01> 500200 4999850 300 0 50N", "<P01> 90 -60 100 0 100",
	).Replace(readFixture(t))

	f, err := Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !f.IsBorehole() {
		t.Fatalf("IsBorehole() = false for survey type %q", f.Header.SurveyType)
	}
	if f.Collar == nil || f.Collar.Easting != 500200 {
		t.Fatalf("Collar = %+v", f.Collar)
	}
	want := Segment{Azimuth: 90, Dip: -60, Length: 100, Unit: "0", Depth: 100}
	if len(f.Segments) != 1 || f.Segments[0] != want {
		t.Errorf("Segments = %+v, want [%+v]", f.Segments, want)
	}
	if len(f.LineCoords) != 0 {
		t.Errorf("borehole survey has %d line coords", len(f.LineCoords))
	}
}

func TestSurveyKind(t *testing.T) {
	tests := []struct {
		surveyType   string
		wantBorehole bool
		wantFluxgate bool
	}{
		{"Surface", false, false},
		{"Borehole", true, false},
		{"BH-Fluxgate", true, true},
		{"b-induction", true, false},
		{"S-Flux", false, true},
		{"SQUID", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.surveyType, func(t *testing.T) {
			f := &File{Header: Header{SurveyType: tt.surveyType}}
			if got := f.IsBorehole(); got != tt.wantBorehole {
				t.Errorf("IsBorehole() = %v, want %v", got, tt.wantBorehole)
			}
			if got := f.IsFluxgate(); got != tt.wantFluxgate {
				t.Errorf("IsFluxgate() = %v, want %v", got, tt.wantFluxgate)
			}
		})
	}
}
