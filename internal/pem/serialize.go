package pem

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Format controls the numeric layout of serialized files.
type Format struct {
	ChannelTimeDecimals int // fixed decimals for header channel times
	ValuesPerLine       int // channel times and decay values per line
	DecayWidth          int // minimum column width of a decay value
	DecayPrecision      int // significant digits, -1 for the shortest exact form
}

// DefaultFormat is the layout Serialize uses.
var DefaultFormat = Format{
	ChannelTimeDecimals: 6,
	ValuesPerLine:       7,
	DecayWidth:          10,
	DecayPrecision:      -1,
}

var unitsTokens = map[Units]string{
	UnitsNanoTeslaPerSec: unitsTokenNanoTesla,
	UnitsPicoTesla:       unitsTokenPicoTesla,
}

// Serialize renders f as PEM text with DefaultFormat.
func Serialize(f *File) string {
	return DefaultFormat.Serialize(f)
}

// WriteFile serializes f to path with DefaultFormat.
func WriteFile(path string, f *File) error {
	return os.WriteFile(path, []byte(Serialize(f)), 0o644)
}

// Serialize renders f as PEM text. Readings are written sorted by station
// and component; f itself is not modified.
func (o Format) Serialize(f *File) string {
	var b strings.Builder
	o.writeTags(&b, f.Tags)
	o.writeCoords(&b, f)
	writeNotes(&b, f.Notes)
	o.writeHeader(&b, f.Header)
	o.writeReadings(&b, f.Readings)
	return b.String()
}

// Write serializes f to w.
func (o Format) Write(w io.Writer, f *File) error {
	_, err := io.WriteString(w, o.Serialize(f))
	return err
}

func (o Format) writeTags(b *strings.Builder, t Tags) {
	fmt.Fprintf(b, "<FMT> %d\n", t.Format)
	fmt.Fprintf(b, "<UNI> %s\n", unitsTokens[t.Units])
	fmt.Fprintf(b, "<OPR> %s\n", t.Operator)
	fmt.Fprintf(b, "<XYP> %d %d %d %d\n", t.Probes.Number, t.Probes.SOA, t.Probes.Tool, t.Probes.ToolID)
	fmt.Fprintf(b, "<CUR> %s\n", formatFixed(t.Current))
	writeTagged(b, "<TXS>", formatAll(t.LoopDimensions))
}

func (o Format) writeCoords(b *strings.Builder, f *File) {
	b.WriteString("~ Transmitter Loop Co-ordinates:\n")
	if len(f.LoopCoords) == 0 {
		writePlaceholders(b, "L", 4)
	}
	for i, c := range f.LoopCoords {
		writeTagged(b, fmt.Sprintf("<L%02d>", i), coordFields(c))
	}

	b.WriteString("~ Hole/Profile Co-ordinates:\n")
	switch {
	case f.Collar != nil:
		writeTagged(b, "<P00>", coordFields(*f.Collar))
		for i, s := range f.Segments {
			writeTagged(b, fmt.Sprintf("<P%02d>", i+1), []string{
				formatFixed(s.Azimuth), formatFixed(s.Dip), formatFixed(s.Length), s.Unit, formatFixed(s.Depth),
			})
		}
	case len(f.LineCoords) > 0:
		for i, c := range f.LineCoords {
			writeTagged(b, fmt.Sprintf("<P%02d>", i), coordFields(c))
		}
	default:
		writePlaceholders(b, "P", 6)
	}
}

func coordFields(c Coord) []string {
	out := []string{formatFixed(c.Easting), formatFixed(c.Northing), formatFixed(c.Elevation), c.Unit}
	if c.Station != "" {
		out = append(out, c.Station)
	}
	return out
}

func writePlaceholders(b *strings.Builder, prefix string, n int) {
	for i := 0; i < n; i++ {
		fmt.Fprintf(b, "<%s%02d>\n", prefix, i)
	}
}

// writeNotes writes each distinct note once, in first-seen order.
func writeNotes(b *strings.Builder, notes []string) {
	seen := make(map[string]bool, len(notes))
	for _, n := range notes {
		if seen[n] {
			continue
		}
		seen[n] = true
		b.WriteString(n)
		b.WriteByte('\n')
	}
}

func (o Format) writeHeader(b *strings.Builder, h Header) {
	for _, s := range []string{h.Client, h.Grid, h.LineName, h.LoopName, h.Date} {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, "%s %s %s %s %s %d %d\n", h.SurveyType, h.Convention, h.Sync,
		formatFixed(h.Timebase), formatFixed(h.Ramp), h.NumChannels, h.NumReadings)

	normalized := "N"
	if h.Normalized {
		normalized = "Y"
	}
	rx := []string{h.Receiver, h.RxSoftwareVersion, h.RxSoftwareDate, h.RxFileName, normalized,
		formatFixed(h.PrimaryField), formatFixed(h.CoilArea)}
	if h.LoopPolarity != "" {
		rx = append(rx, h.LoopPolarity)
	}
	b.WriteString(strings.Join(rx, " "))
	b.WriteByte('\n')

	times := h.Channels.Times()
	tokens := make([]string, len(times))
	for i, t := range times {
		tokens[i] = strconv.FormatFloat(t, 'f', o.ChannelTimeDecimals, 64)
	}
	o.writeRows(b, tokens, 0)
	b.WriteString(channelTimesEnd)
	b.WriteByte('\n')
}

func (o Format) writeReadings(b *strings.Builder, readings []Reading) {
	sorted := append([]Reading(nil), readings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := compareStations(sorted[i].Station, sorted[j].Station); c != 0 {
			return c < 0
		}
		return sorted[i].Component < sorted[j].Component
	})

	for _, r := range sorted {
		b.WriteByte('\n')
		fmt.Fprintf(b, "%s %sR%d %d %s %s %d %d %d %d\n", r.Station, r.Component, r.ReadingIndex,
			r.Gain, r.RxType, formatFixed(r.ZTS), r.CoilDelay, r.NumStacks, r.ReadingsPerSet, r.ReadingNumber)
		b.WriteString(radLine(r.RAD))
		b.WriteByte('\n')

		tokens := make([]string, len(r.Decay))
		for i, v := range r.Decay {
			tokens[i] = o.formatDecay(v)
		}
		o.writeRows(b, tokens, o.DecayWidth)
	}
}

func (o Format) formatDecay(v float64) string {
	if o.DecayPrecision < 0 {
		return formatGeneral(v)
	}
	return strconv.FormatFloat(v, 'g', o.DecayPrecision, 64)
}

// writeRows writes tokens ValuesPerLine to a line, each left-aligned in a
// column of at least width characters.
func (o Format) writeRows(b *strings.Builder, tokens []string, width int) {
	per := o.ValuesPerLine
	if per <= 0 {
		per = len(tokens)
	}
	for start := 0; start < len(tokens); start += per {
		end := min(start+per, len(tokens))
		var line strings.Builder
		for _, tok := range tokens[start:end] {
			fmt.Fprintf(&line, "%-*s ", width, tok)
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteByte('\n')
	}
}

func writeTagged(b *strings.Builder, tag string, fields []string) {
	b.WriteString(tag)
	if len(fields) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(fields, " "))
	}
	b.WriteByte('\n')
}

func formatAll(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatFixed(v)
	}
	return out
}
