package pem

import (
	"io"
	"os"
	"strings"
)

// ParseFile reads and parses the PEM file at path. I/O errors are returned
// unchanged.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ParseReader reads r to the end and parses it.
func ParseReader(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses PEM text. On error no File is returned.
func Parse(data []byte) (*File, error) {
	p := &parser{sc: newLineScanner(data)}
	return p.parse()
}

type parser struct {
	sc *lineScanner
}

// rawCoord is a <P##> line kept until the header says whether the survey is
// a borehole survey.
type rawCoord struct {
	tokens []string
	line   int
}

type preamble struct {
	loop  []Coord
	line  []rawCoord
	notes []string
}

func (p *parser) parse() (*File, error) {
	f := &File{}
	if err := p.parseTags(&f.Tags); err != nil {
		return nil, err
	}
	pre, err := p.parsePreamble()
	if err != nil {
		return nil, err
	}
	f.LoopCoords = pre.loop
	f.Notes = pre.notes

	if err := p.parseHeader(&f.Header, f.Tags.Units); err != nil {
		return nil, err
	}
	if err := assignLineCoords(f, pre.line); err != nil {
		return nil, err
	}

	readings, err := p.parseData(f.Header.NumChannels + 1)
	if err != nil {
		return nil, err
	}
	f.Readings = readings
	return f, nil
}

func (p *parser) parseTags(t *Tags) error {
	line, n, err := p.tagLine("<FMT>")
	if err != nil {
		return err
	}
	m := formatRule.FindStringSubmatch(line)
	if m == nil {
		return formatErrorf(SectionTags, n, "malformed <FMT> line %q", line)
	}
	if t.Format, err = parseInt(m[1]); err != nil {
		return formatErrorf(SectionTags, n, "<FMT>: %v", err)
	}

	if line, n, err = p.tagLine("<UNI>"); err != nil {
		return err
	}
	m = unitsRule.FindStringSubmatch(line)
	if m == nil {
		return formatErrorf(SectionTags, n, "unknown units in %q", line)
	}
	t.Units = normalizeUnits(m[1])

	if line, n, err = p.tagLine("<OPR>"); err != nil {
		return err
	}
	m = operatorRule.FindStringSubmatch(line)
	if m == nil {
		return formatErrorf(SectionTags, n, "malformed <OPR> line %q", line)
	}
	t.Operator = strings.TrimSpace(m[1])

	if line, n, err = p.tagLine("<XYP>"); err != nil {
		return err
	}
	m = probesRule.FindStringSubmatch(line)
	if m == nil {
		return formatErrorf(SectionTags, n, "<XYP> needs four integers, got %q", line)
	}
	probes := make([]int, 4)
	for i := range probes {
		if probes[i], err = parseInt(m[i+1]); err != nil {
			return formatErrorf(SectionTags, n, "<XYP>: %v", err)
		}
	}
	t.Probes = Probes{Number: probes[0], SOA: probes[1], Tool: probes[2], ToolID: probes[3]}

	if line, n, err = p.tagLine("<CUR>"); err != nil {
		return err
	}
	m = currentRule.FindStringSubmatch(line)
	if m == nil {
		return formatErrorf(SectionTags, n, "malformed <CUR> line %q", line)
	}
	cur, err := parseFloats(m[1:2])
	if err != nil {
		return formatErrorf(SectionTags, n, "<CUR>: %v", err)
	}
	t.Current = cur[0]

	if line, n, err = p.tagLine("<TXS>"); err != nil {
		return err
	}
	m = loopSizeRule.FindStringSubmatch(line)
	if m == nil {
		return formatErrorf(SectionTags, n, "malformed <TXS> line %q", line)
	}
	if dims := strings.Fields(m[1]); len(dims) > 0 {
		if t.LoopDimensions, err = parseFloats(dims); err != nil {
			return formatErrorf(SectionTags, n, "<TXS>: %v", err)
		}
	}
	return nil
}

// tagLine returns the next non-blank line, which must start with tag.
func (p *parser) tagLine(tag string) (string, int, error) {
	line, n, ok := p.sc.nextNonBlank()
	if !ok {
		return "", n, formatErrorf(SectionTags, n, "missing %s line", tag)
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, tag) {
		return "", n, formatErrorf(SectionTags, n, "expected %s line, got %q", tag, line)
	}
	return line, n, nil
}

func normalizeUnits(token string) Units {
	if token == unitsTokenPicoTesla {
		return UnitsPicoTesla
	}
	return UnitsNanoTeslaPerSec
}

// parsePreamble consumes coordinate, note and marker lines up to the first
// line of the header.
func (p *parser) parsePreamble() (preamble, error) {
	var pre preamble
	tagEnd := p.sc.pos
	for {
		line, ok := p.sc.peek()
		if !ok {
			return pre, formatErrorf(SectionHeader, p.sc.pos+1, "file ends before the header")
		}
		trimmed := strings.TrimSpace(line)
		n := p.sc.pos + 1

		switch {
		case trimmed == "", strings.HasPrefix(trimmed, markerPrefix):
		case loopCoordRule.MatchString(trimmed):
			tokens := strings.Fields(loopCoordRule.FindStringSubmatch(trimmed)[1])
			if len(tokens) > 0 {
				c, err := parseCoord(tokens, n)
				if err != nil {
					return pre, err
				}
				pre.loop = append(pre.loop, c)
			}
			tagEnd = n
		case lineCoordRule.MatchString(trimmed):
			tokens := strings.Fields(lineCoordRule.FindStringSubmatch(trimmed)[1])
			if len(tokens) > 0 {
				pre.line = append(pre.line, rawCoord{tokens: tokens, line: n})
			}
			tagEnd = n
		case noteRule.MatchString(trimmed):
			pre.notes = append(pre.notes, line)
			tagEnd = n
		default:
			p.sc.pos = p.headerStart(tagEnd, p.sc.pos)
			return pre, nil
		}
		p.sc.advance()
	}
}

// headerStart returns the index of the Client line. The header is found by
// position: Client is the fifth line above the survey line. Blank or marker
// lines after the last preamble tag therefore belong to the header when the
// survey line says so. first is the first line that is not preamble; it is
// returned when no survey line follows within reach.
func (p *parser) headerStart(tagEnd, first int) int {
	last := min(first+headerTextLines, len(p.sc.lines)-1)
	for i := first; i <= last; i++ {
		if !isSurveyLine(p.sc.lines[i]) {
			continue
		}
		if start := i - headerTextLines; start >= tagEnd && start <= first {
			return start
		}
		break
	}
	return first
}

// isSurveyLine reports whether line has the survey line shape, ending in
// the channel and reading counts.
func isSurveyLine(line string) bool {
	tokens := strings.Fields(line)
	if len(tokens) != surveyLineTokens {
		return false
	}
	_, errCh := parseInt(tokens[5])
	_, errRd := parseInt(tokens[6])
	return errCh == nil && errRd == nil
}

func parseCoord(tokens []string, line int) (Coord, error) {
	if len(tokens) != 4 && len(tokens) != 5 {
		return Coord{}, formatErrorf(SectionCoordinates, line,
			"expected easting, northing, elevation, unit and optional station, got %d fields", len(tokens))
	}
	v, err := parseFloats(tokens[:3])
	if err != nil {
		return Coord{}, formatErrorf(SectionCoordinates, line, "%v", err)
	}
	c := Coord{Easting: v[0], Northing: v[1], Elevation: v[2], Unit: tokens[3]}
	if len(tokens) == 5 {
		c.Station = tokens[4]
	}
	return c, nil
}

func parseSegment(tokens []string, line int) (Segment, error) {
	if len(tokens) != 5 {
		return Segment{}, formatErrorf(SectionCoordinates, line,
			"expected azimuth, dip, length, unit and depth, got %d fields", len(tokens))
	}
	v, err := parseFloats([]string{tokens[0], tokens[1], tokens[2], tokens[4]})
	if err != nil {
		return Segment{}, formatErrorf(SectionCoordinates, line, "%v", err)
	}
	return Segment{Azimuth: v[0], Dip: v[1], Length: v[2], Unit: tokens[3], Depth: v[3]}, nil
}

// assignLineCoords interprets the <P##> lines: collar and segments for a
// borehole survey, line points otherwise.
func assignLineCoords(f *File, raw []rawCoord) error {
	if len(raw) == 0 {
		return nil
	}
	if !f.IsBorehole() {
		for _, rc := range raw {
			c, err := parseCoord(rc.tokens, rc.line)
			if err != nil {
				return err
			}
			f.LineCoords = append(f.LineCoords, c)
		}
		return nil
	}

	collar, err := parseCoord(raw[0].tokens, raw[0].line)
	if err != nil {
		return err
	}
	f.Collar = &collar
	for _, rc := range raw[1:] {
		s, err := parseSegment(rc.tokens, rc.line)
		if err != nil {
			return err
		}
		f.Segments = append(f.Segments, s)
	}
	return nil
}

// parseHeader reads the fixed header block. Every line is located by
// position, so a wrong token count is fatal.
func (p *parser) parseHeader(h *Header, units Units) error {
	text := make([]string, headerTextLines)
	for i := range text {
		line, n, ok := p.sc.next()
		if !ok {
			return formatErrorf(SectionHeader, n, "file ends inside the header")
		}
		text[i] = strings.TrimSpace(line)
	}
	h.Client, h.Grid, h.LineName, h.LoopName, h.Date = text[0], text[1], text[2], text[3], text[4]

	if err := p.parseSurveyLine(h); err != nil {
		return err
	}
	if err := p.parseReceiverLine(h); err != nil {
		return err
	}
	return p.parseChannelTimes(h, units)
}

func (p *parser) parseSurveyLine(h *Header) error {
	line, n, ok := p.sc.next()
	if !ok {
		return formatErrorf(SectionHeader, n, "missing survey line")
	}
	tokens := strings.Fields(line)
	if len(tokens) != surveyLineTokens {
		return formatErrorf(SectionHeader, n,
			"survey line needs %d fields (type, convention, sync, timebase, ramp, channels, readings), got %d",
			surveyLineTokens, len(tokens))
	}
	h.SurveyType, h.Convention, h.Sync = tokens[0], tokens[1], tokens[2]

	v, err := parseFloats(tokens[3:5])
	if err != nil {
		return formatErrorf(SectionHeader, n, "survey line: %v", err)
	}
	h.Timebase, h.Ramp = v[0], v[1]

	if h.NumChannels, err = parseInt(tokens[5]); err != nil {
		return formatErrorf(SectionHeader, n, "channel count: %v", err)
	}
	if h.NumChannels < 0 {
		return formatErrorf(SectionHeader, n, "negative channel count %d", h.NumChannels)
	}
	if h.NumReadings, err = parseInt(tokens[6]); err != nil {
		return formatErrorf(SectionHeader, n, "reading count: %v", err)
	}
	return nil
}

func (p *parser) parseReceiverLine(h *Header) error {
	line, n, ok := p.sc.next()
	if !ok {
		return formatErrorf(SectionHeader, n, "missing receiver line")
	}
	tokens := strings.Fields(line)
	if len(tokens) != receiverLineTokens && len(tokens) != receiverLineMaxTokens {
		return formatErrorf(SectionHeader, n,
			"receiver line needs %d or %d fields, got %d", receiverLineTokens, receiverLineMaxTokens, len(tokens))
	}
	h.Receiver, h.RxSoftwareVersion, h.RxSoftwareDate, h.RxFileName = tokens[0], tokens[1], tokens[2], tokens[3]

	switch strings.ToUpper(tokens[4]) {
	case "Y":
		h.Normalized = true
	case "N":
		h.Normalized = false
	default:
		return formatErrorf(SectionHeader, n, "normalization flag must be Y or N, got %q", tokens[4])
	}

	v, err := parseFloats(tokens[5:7])
	if err != nil {
		return formatErrorf(SectionHeader, n, "receiver line: %v", err)
	}
	h.PrimaryField, h.CoilArea = v[0], v[1]
	if len(tokens) == receiverLineMaxTokens {
		h.LoopPolarity = tokens[7]
	}
	return nil
}

func (p *parser) parseChannelTimes(h *Header, units Units) error {
	var times []float64
	start := p.sc.pos + 1
	for {
		line, n, ok := p.sc.next()
		if !ok {
			return formatErrorf(SectionChannelTimes, start, "missing %q terminator", channelTimesEnd)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == channelTimesEnd {
			break
		}
		v, err := parseFloats(strings.Fields(trimmed))
		if err != nil {
			return formatErrorf(SectionChannelTimes, n, "%v", err)
		}
		times = append(times, v...)
	}

	// NumChannels+1 rows need NumChannels+3 raw times.
	if want := h.NumChannels + 3; len(times) != want {
		return formatErrorf(SectionChannelTimes, start,
			"header declares %d channels, which needs %d times, got %d", h.NumChannels, want, len(times))
	}
	table, err := BuildChannelTable(times, units)
	if err != nil {
		return formatErrorf(SectionChannelTimes, start, "%v", err)
	}
	h.Channels = table
	return nil
}

// parseData reads readings until the end of the text. Each decay must hold
// exactly want values.
func (p *parser) parseData(want int) ([]Reading, error) {
	var readings []Reading
	radIDs := make(map[string]int)
	for {
		line, n, ok := p.sc.nextNonBlank()
		if !ok {
			return readings, nil
		}
		r, err := parseReadingID(strings.Fields(line), n)
		if err != nil {
			return nil, err
		}

		radText, rn, ok := p.sc.nextNonBlank()
		if !ok {
			return nil, formatErrorf(SectionRAD, rn, "reading at line %d has no RAD tool line", n)
		}
		if r.RAD, err = parseRAD(strings.Fields(radText), rn); err != nil {
			return nil, err
		}
		key := radLine(r.RAD)
		id, seen := radIDs[key]
		if !seen {
			id = len(radIDs) + 1
			radIDs[key] = id
		}
		r.RadID = id

		r.Decay = make([]float64, 0, want)
		for len(r.Decay) < want {
			dl, dn, ok := p.sc.nextNonBlank()
			if !ok {
				return nil, formatErrorf(SectionData, n,
					"reading %s %s has %d decay values, want %d", r.Station, r.Component, len(r.Decay), want)
			}
			values, err := parseFloats(strings.Fields(dl))
			if err != nil {
				return nil, formatErrorf(SectionData, dn,
					"reading %s %s has %d decay values, want %d: %v", r.Station, r.Component, len(r.Decay), want, err)
			}
			if len(r.Decay)+len(values) > want {
				return nil, formatErrorf(SectionData, dn,
					"reading %s %s has %d decay values, want %d", r.Station, r.Component, len(r.Decay)+len(values), want)
			}
			r.Decay = append(r.Decay, values...)
		}
		readings = append(readings, r)
	}
}

func parseReadingID(tokens []string, line int) (Reading, error) {
	if len(tokens) != readingIDTokens {
		return Reading{}, formatErrorf(SectionData, line,
			"reading identifier needs %d fields, got %d", readingIDTokens, len(tokens))
	}
	m := componentRule.FindStringSubmatch(tokens[1])
	if m == nil {
		return Reading{}, formatErrorf(SectionData, line, "malformed component %q", tokens[1])
	}
	r := Reading{Station: tokens[0], Component: Component(m[1]), RxType: tokens[3]}

	ints := []struct {
		dst *int
		tok string
	}{
		{&r.ReadingIndex, m[2]},
		{&r.Gain, tokens[2]},
		{&r.CoilDelay, tokens[5]},
		{&r.NumStacks, tokens[6]},
		{&r.ReadingsPerSet, tokens[7]},
		{&r.ReadingNumber, tokens[8]},
	}
	for _, f := range ints {
		v, err := parseInt(f.tok)
		if err != nil {
			return Reading{}, formatErrorf(SectionData, line, "reading identifier: %v", err)
		}
		*f.dst = v
	}
	zts, err := parseFloats(tokens[4:5])
	if err != nil {
		return Reading{}, formatErrorf(SectionData, line, "ZTS: %v", err)
	}
	r.ZTS = zts[0]
	return r, nil
}

// lineScanner walks the text line by line; pos is the index of the next
// unread line.
type lineScanner struct {
	lines []string
	pos   int
}

func newLineScanner(data []byte) *lineScanner {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return &lineScanner{lines: lines}
}

func (s *lineScanner) peek() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	return s.lines[s.pos], true
}

func (s *lineScanner) advance() {
	s.pos++
}

// next returns the next line and its 1-based number.
func (s *lineScanner) next() (string, int, bool) {
	line, ok := s.peek()
	if !ok {
		return "", s.pos + 1, false
	}
	s.pos++
	return line, s.pos, true
}

func (s *lineScanner) nextNonBlank() (string, int, bool) {
	for {
		line, n, ok := s.next()
		if !ok || strings.TrimSpace(line) != "" {
			return line, n, ok
		}
	}
}
