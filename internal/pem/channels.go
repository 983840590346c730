package pem

import "fmt"

// Channel is one row of the channel-time table.
type Channel struct {
	Start  float64
	End    float64
	Center float64
	Width  float64
	Remove bool // on-time or trailing channel, dropped by SplitChannels
}

// ChannelTable is the per-channel timing derived from the header times.
type ChannelTable []Channel

// On-time boundaries: a channel starting exactly here is the primary pulse
// channel and is kept.
const (
	onTimeBoundaryNanoTesla = -0.0002
	onTimeBoundaryPicoTesla = -0.002
)

// BuildChannelTable derives the table from the raw header times. Row i spans
// times[i] to times[i+1]; row 1 is dropped because the format repeats the
// third raw time.
func BuildChannelTable(times []float64, units Units) (ChannelTable, error) {
	if len(times) < 3 {
		return nil, fmt.Errorf("need at least 3 channel times, got %d", len(times))
	}
	table := make(ChannelTable, 0, len(times)-2)
	for i := 0; i < len(times)-1; i++ {
		if i == 1 {
			continue
		}
		table = append(table, newChannel(times[i], times[i+1]))
	}
	if err := table.classify(units); err != nil {
		return nil, err
	}
	return table, nil
}

func newChannel(start, end float64) Channel {
	width := end - start
	return Channel{Start: start, End: end, Width: width, Center: start + width/2}
}

// classify sets Remove on every row. On-time rows (strictly after the
// boundary, up to zero) are removable, then every row after the last
// off-time channel is forced removable.
func (t ChannelTable) classify(units Units) error {
	var boundary float64
	switch units {
	case UnitsNanoTeslaPerSec:
		boundary = onTimeBoundaryNanoTesla
	case UnitsPicoTesla:
		boundary = onTimeBoundaryPicoTesla
	default:
		return fmt.Errorf("units %q are not normalized", units)
	}

	var kept []int
	for i := range t {
		t[i].Remove = t[i].Start > boundary && t[i].Start <= 0
		if !t[i].Remove {
			kept = append(kept, i)
		}
	}

	// The first kept row is the primary pulse; the last kept row has no
	// successor to compare against.
	for k := 1; k < len(kept)-1; k++ {
		i := kept[k]
		if t[i].Width > 2*t[i+1].Width {
			for j := i + 1; j < len(t); j++ {
				t[j].Remove = true
			}
			break
		}
	}
	return nil
}

// Times flattens the table back into header times: every Start, with the
// first row's End inserted after the first Start and the last row's End
// appended.
func (t ChannelTable) Times() []float64 {
	if len(t) == 0 {
		return nil
	}
	out := make([]float64, 0, len(t)+2)
	out = append(out, t[0].Start, t[0].End)
	for _, ch := range t[1:] {
		out = append(out, ch.Start)
	}
	return append(out, t[len(t)-1].End)
}

// Retained returns the indices of rows not marked Remove.
func (t ChannelTable) Retained() []int {
	var out []int
	for i, ch := range t {
		if !ch.Remove {
			out = append(out, i)
		}
	}
	return out
}
