package pem

import (
	"fmt"
	"sort"
	"strings"
)

// Units is the normalized data unit of a file.
type Units string

const (
	UnitsNanoTeslaPerSec Units = "nT/s"
	UnitsPicoTesla       Units = "pT"
)

// Component is a measurement axis.
type Component string

const (
	ComponentX Component = "X"
	ComponentY Component = "Y"
	ComponentZ Component = "Z"
)

// Valid reports whether c is X, Y or Z.
func (c Component) Valid() bool {
	return c == ComponentX || c == ComponentY || c == ComponentZ
}

// Probes holds the <XYP> tag values.
type Probes struct {
	Number int
	SOA    int // sensor offset angle
	Tool   int
	ToolID int
}

// Tags holds the six leading tag lines.
type Tags struct {
	Format         int
	Units          Units
	Operator       string
	Probes         Probes
	Current        float64
	LoopDimensions []float64
}

// Header is the fixed block between the preamble and the data.
type Header struct {
	Client     string
	Grid       string
	LineName   string
	LoopName   string
	Date       string
	SurveyType string
	Convention string
	Sync       string
	Timebase   float64
	Ramp       float64

	// NumChannels counts the channels after the primary pulse channel, so
	// every decay holds NumChannels+1 values.
	NumChannels int
	NumReadings int

	Receiver          string
	RxSoftwareVersion string
	RxSoftwareDate    string
	RxFileName        string
	Normalized        bool
	PrimaryField      float64
	CoilArea          float64
	LoopPolarity      string // empty when the receiver line omits it

	Channels ChannelTable
}

// Coord is a loop vertex, a surface line point or a borehole collar.
type Coord struct {
	Easting   float64
	Northing  float64
	Elevation float64
	Unit      string
	Station   string // surface line points only, may be empty
}

// Segment is one borehole geometry segment (<P01> onwards).
type Segment struct {
	Azimuth float64
	Dip     float64
	Length  float64
	Unit    string
	Depth   float64
}

// Reading is one recorded decay for a station, component and pass.
type Reading struct {
	Station        string
	Component      Component
	ReadingIndex   int
	Gain           int
	RxType         string
	ZTS            float64
	CoilDelay      int
	NumStacks      int
	ReadingsPerSet int
	ReadingNumber  int
	RAD            RADTool
	RadID          int
	Decay          []float64

	// stationWidth keeps a zero-padded station number at its digit count
	// across shifts, so "0650N" shifted away and back stays "0650N".
	stationWidth int
}

func (r Reading) clone() Reading {
	r.Decay = append([]float64(nil), r.Decay...)
	return r
}

// File is a parsed PEM file. Only Parse creates a valid File; edit
// operators keep it internally consistent.
type File struct {
	Tags       Tags
	Header     Header
	Notes      []string
	LoopCoords []Coord
	LineCoords []Coord   // surface surveys
	Collar     *Coord    // borehole surveys
	Segments   []Segment // borehole surveys
	Readings   []Reading

	history []revision
}

// IsBorehole reports whether the survey type describes a borehole survey.
func (f *File) IsBorehole() bool {
	t := strings.ToLower(f.Header.SurveyType)
	return strings.Contains(t, "borehole") || strings.HasPrefix(t, "b-") || strings.HasPrefix(t, "bh")
}

// IsFluxgate reports whether the survey uses a fluxgate or SQUID sensor
// rather than an induction coil.
func (f *File) IsFluxgate() bool {
	t := strings.ToLower(f.Header.SurveyType)
	return strings.Contains(t, "flux") || strings.Contains(t, "squid")
}

// IsAveraged reports whether every station/component pair has a single reading.
func (f *File) IsAveraged() bool {
	seen := make(map[readingKey]bool, len(f.Readings))
	for _, r := range f.Readings {
		k := readingKey{r.Station, r.Component}
		if seen[k] {
			return false
		}
		seen[k] = true
	}
	return true
}

// IsSplit reports whether the channel table has no removable channel other
// than the primary pulse channel.
func (f *File) IsSplit() bool {
	pp := f.ppChannel()
	for i, ch := range f.Header.Channels {
		if ch.Remove && i != pp {
			return false
		}
	}
	return true
}

// ppChannel returns the primary pulse channel index, or -1. Induction
// surveys use the (-0.0002, -0.0001) channel, fluxgate and SQUID surveys
// use channel 0.
func (f *File) ppChannel() int {
	if f.IsFluxgate() {
		if len(f.Header.Channels) == 0 {
			return -1
		}
		return 0
	}
	for i, ch := range f.Header.Channels {
		if ch.Start == -0.0002 && ch.End == -0.0001 {
			return i
		}
	}
	return -1
}

// Stations returns the unique station labels in numeric-aware order.
func (f *File) Stations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range f.Readings {
		if !seen[r.Station] {
			seen[r.Station] = true
			out = append(out, r.Station)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return compareStations(out[i], out[j]) < 0 })
	return out
}

// Components returns the components present, in X, Y, Z order.
func (f *File) Components() []Component {
	var has [3]bool
	for _, r := range f.Readings {
		switch r.Component {
		case ComponentX:
			has[0] = true
		case ComponentY:
			has[1] = true
		case ComponentZ:
			has[2] = true
		}
	}
	var out []Component
	for i, c := range []Component{ComponentX, ComponentY, ComponentZ} {
		if has[i] {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy of f without its edit history.
func (f *File) Clone() *File {
	c := *f
	c.history = nil
	c.Tags.LoopDimensions = append([]float64(nil), f.Tags.LoopDimensions...)
	c.Header.Channels = append(ChannelTable(nil), f.Header.Channels...)
	c.Notes = append([]string(nil), f.Notes...)
	c.LoopCoords = append([]Coord(nil), f.LoopCoords...)
	c.LineCoords = append([]Coord(nil), f.LineCoords...)
	c.Segments = append([]Segment(nil), f.Segments...)
	if f.Collar != nil {
		collar := *f.Collar
		c.Collar = &collar
	}
	if f.Readings != nil {
		c.Readings = make([]Reading, len(f.Readings))
		for i, r := range f.Readings {
			c.Readings[i] = r.clone()
		}
	}
	return &c
}

// Validate re-checks the model invariants.
func (f *File) Validate() error {
	if f.Tags.Units != UnitsNanoTeslaPerSec && f.Tags.Units != UnitsPicoTesla {
		return formatErrorf(SectionModel, 0, "units %q are not normalized", f.Tags.Units)
	}
	want := f.Header.NumChannels + 1
	if len(f.Header.Channels) != want {
		return formatErrorf(SectionModel, 0, "channel table has %d rows, want %d", len(f.Header.Channels), want)
	}
	for i, r := range f.Readings {
		if len(r.Decay) != want {
			return formatErrorf(SectionModel, 0, "reading %d (%s %s) has %d decay values, want %d",
				i, r.Station, r.Component, len(r.Decay), want)
		}
		if !r.Component.Valid() {
			return formatErrorf(SectionModel, 0, "reading %d has component %q", i, r.Component)
		}
		if r.RAD == nil {
			return formatErrorf(SectionModel, 0, "reading %d has no RAD tool record", i)
		}
	}
	return nil
}

type readingKey struct {
	station   string
	component Component
}

func (k readingKey) String() string {
	return fmt.Sprintf("%s %s", k.station, k.component)
}
