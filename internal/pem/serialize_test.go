package pem

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func reparse(t *testing.T, f *File) *File {
	t.Helper()
	got, err := Parse([]byte(Serialize(f)))
	if err != nil {
		t.Fatalf("Parse(Serialize()) error = %v\n%s", err, Serialize(f))
	}
	return got
}

func TestSerializeRoundTrip(t *testing.T) {
	borehole := strings.NewReplacer(
		"Surface Metric", "Borehole Metric",
		"<P00> 500200 4999800 300 0 0N", "<P00> 500200 4999800 300 0",
		"<P01> 500200 4999850 300 0 50N", "<P01> 90 -60 100 0 100",
	).Replace(readFixture(t))

	tests := []struct {
		name string
		text string
	}{
		{"surface", readFixture(t)},
		{"borehole", borehole},
		{"picotesla", strings.Replace(readFixture(t), "nanoTesla/sec", "picoTesla", 1)},
		{"no coordinates", strings.NewReplacer(
			"<P00> 500200 4999800 300 0 0N\n", "",
			"<P01> 500200 4999850 300 0 50N\n", "",
		).Replace(readFixture(t))},
		{"empty client", strings.Replace(readFixture(t), "Client Co\n", "\n", 1)},
		{"marker client", strings.Replace(readFixture(t), "Client Co\n", "~ Client Co\n", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := Parse([]byte(tt.text))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			got := reparse(t, want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
			}
		})
	}
}

func TestSerializeIdempotent(t *testing.T) {
	f := parseFixture(t)
	if err := f.Average(); err != nil {
		t.Fatalf("Average() error = %v", err)
	}
	first := Serialize(f)
	second := Serialize(reparse(t, f))
	if first != second {
		t.Errorf("serialization is not stable\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestSerializeAfterSplit(t *testing.T) {
	f := parseFixture(t)
	if err := f.SplitChannels(); err != nil {
		t.Fatalf("SplitChannels() error = %v", err)
	}
	got := reparse(t, f)
	if got.Header.NumChannels != 5 || len(got.Header.Channels) != 6 {
		t.Fatalf("reparsed NumChannels = %d with %d rows, want 5 with 6", got.Header.NumChannels, len(got.Header.Channels))
	}
	if !got.IsSplit() {
		t.Error("reparsed split file is not split")
	}
	if !reflect.DeepEqual(got.Header.Channels, f.Header.Channels) {
		t.Errorf("channel table changed\n got: %+v\nwant: %+v", got.Header.Channels, f.Header.Channels)
	}
}

func TestSerializeLayout(t *testing.T) {
	f := parseFixture(t)
	out := Serialize(f)
	lines := strings.Split(out, "\n")

	wantPrefix := []string{
		"<FMT> 210",
		"<UNI> nanoTesla/sec",
		"<OPR> Crew A",
		"<XYP> 1 0 0 0",
		"<CUR> 20",
		"<TXS> 400 400",
		"~ Transmitter Loop Co-ordinates:",
	}
	for i, want := range wantPrefix {
		if lines[i] != want {
			t.Errorf("line %d = %q, want %q", i+1, lines[i], want)
		}
	}

	for _, want := range []string{
		"Surface Metric Crystal-Master 50 1.5 7 4\n",
		"Crone 1.2 2019/01/01 RX1 N 0 1000 Up\n",
		"-0.000200 -0.000100 -0.000100 0.000100 0.000200 0.000400 0.000800\n0.001600 0.003200 0.003400\n$\n",
		"0N ZR1 0 A 0 0 16 1 1\nD7 0 0 0 0 0 0 0\n100        90         80         70         60         50         40\n30\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	for i, line := range lines {
		if line != strings.TrimRight(line, " ") {
			t.Errorf("line %d has trailing spaces: %q", i+1, line)
		}
	}
}

func TestSerializeSortsReadings(t *testing.T) {
	f := parseFixture(t)
	f.Readings[0], f.Readings[3] = f.Readings[3], f.Readings[0]
	snapshot := f.Clone()

	out := Serialize(f)
	if !reflect.DeepEqual(f.Readings, snapshot.Readings) {
		t.Error("Serialize() reordered the model")
	}
	first := strings.Index(out, "\n0N ZR1")
	last := strings.Index(out, "\n50N ZR1")
	if first < 0 || last < 0 || first > last {
		t.Errorf("readings not written in station order:\n%s", out)
	}
}

func TestSerializePlaceholders(t *testing.T) {
	f := parseFixture(t)
	f.LoopCoords = nil
	f.LineCoords = nil

	out := Serialize(f)
	for _, want := range []string{"<L00>\n", "<L03>\n", "<P00>\n", "<P05>\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing placeholder %q", want)
		}
	}
	got := reparse(t, f)
	if len(got.LoopCoords) != 0 || len(got.LineCoords) != 0 {
		t.Errorf("placeholders parsed as coordinates: %+v %+v", got.LoopCoords, got.LineCoords)
	}
}

func TestSerializeDeduplicatesNotes(t *testing.T) {
	f := parseFixture(t)
	f.Notes = append(f.Notes, f.Notes[0])
	if got := strings.Count(Serialize(f), f.Notes[0]+"\n"); got != 1 {
		t.Errorf("note written %d times, want 1", got)
	}
}

func TestFormatWrite(t *testing.T) {
	f := parseFixture(t)
	custom := Format{ChannelTimeDecimals: 4, ValuesPerLine: 4, DecayWidth: 0, DecayPrecision: 3}

	var buf bytes.Buffer
	if err := custom.Write(&buf, f); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "-0.0002 -0.0001 -0.0001 0.0001\n") {
		t.Errorf("channel times not written four to a line:\n%s", out)
	}
	if !strings.Contains(out, "1.5 1.25 1 0.75\n0.5 0.25 0.125 0.0625\n") {
		t.Errorf("decay not written four to a line:\n%s", out)
	}
	if _, err := Parse(buf.Bytes()); err != nil {
		t.Errorf("Parse() of custom layout error = %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	f := parseFixture(t)
	path := filepath.Join(t.TempDir(), "out.pem")
	if err := WriteFile(path, f); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if !reflect.DeepEqual(got, f) {
		t.Error("file written to disk did not parse back to the same model")
	}
}
