package pem

import (
	"fmt"
	"math"
	"sort"
)

// Edit operation names, as recorded in the history.
const (
	OpAverage          = "average"
	OpSplitChannels    = "split_channels"
	OpScaleCoilArea    = "scale_coil_area"
	OpScaleCurrent     = "scale_current"
	OpShiftStations    = "shift_stations"
	OpReverseComponent = "reverse_component"
)

// revision is the model as it was before op was applied.
type revision struct {
	op     string
	before *File
}

// History returns the names of the edits applied since parsing, oldest first.
func (f *File) History() []string {
	out := make([]string, len(f.history))
	for i, r := range f.history {
		out[i] = r.op
	}
	return out
}

// Undo restores the model captured before the most recent edit.
func (f *File) Undo() error {
	if len(f.history) == 0 {
		return &LogicError{Op: "undo", Err: ErrNothingToUndo}
	}
	last := f.history[len(f.history)-1]
	f.restore(last.before, f.history[:len(f.history)-1])
	return nil
}

func (f *File) restore(before *File, history []revision) {
	*f = *before.Clone()
	f.history = history
}

// apply runs mutate and records the previous model. If mutate fails or the
// result breaks an invariant the file is rolled back and the error returned.
func (f *File) apply(op string, mutate func() error) error {
	before := f.Clone()
	err := mutate()
	if err == nil {
		err = f.Validate()
	}
	if err != nil {
		f.restore(before, f.history)
		return fmt.Errorf("%s: %w", op, err)
	}
	f.history = append(f.history, revision{op: op, before: before})
	return nil
}

// Average replaces every station/component group with one reading holding
// the stack-weighted mean decay. The merged reading copies the first member
// and carries the summed stack count.
func (f *File) Average() error {
	if f.IsAveraged() {
		return &LogicError{Op: OpAverage, Err: ErrAlreadyAveraged}
	}
	return f.apply(OpAverage, func() error {
		var order []readingKey
		groups := make(map[readingKey][]int)
		for i, r := range f.Readings {
			k := readingKey{r.Station, r.Component}
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], i)
		}

		out := make([]Reading, 0, len(order))
		for _, k := range order {
			members := groups[k]
			merged := f.Readings[members[0]].clone()
			if len(members) > 1 {
				merged.Decay, merged.NumStacks = weightedMean(f.Readings, members)
			}
			out = append(out, merged)
		}
		f.Readings = out
		f.Header.NumReadings = len(out)
		return nil
	})
}

// weightedMean weights each member by NumStacks/total. Members without any
// stacks are weighted equally.
func weightedMean(readings []Reading, members []int) ([]float64, int) {
	total := 0
	for _, i := range members {
		total += readings[i].NumStacks
	}
	mean := make([]float64, len(readings[members[0]].Decay))
	for _, i := range members {
		w := 1 / float64(len(members))
		if total > 0 {
			w = float64(readings[i].NumStacks) / float64(total)
		}
		for j, v := range readings[i].Decay {
			mean[j] += v * w
		}
	}
	return mean, total
}

// SplitChannels drops the on-time and trailing channels flagged in the
// channel table, keeping the primary pulse channel.
func (f *File) SplitChannels() error {
	if f.IsSplit() {
		return &LogicError{Op: OpSplitChannels, Err: ErrAlreadySplit}
	}
	keep := f.splitIndices()
	if len(keep) < 2 {
		return logicErrorf(OpSplitChannels, ErrNoChannels, "only %d channel(s) would remain", len(keep))
	}
	return f.apply(OpSplitChannels, func() error {
		table := make(ChannelTable, len(keep))
		for k, i := range keep {
			table[k] = f.Header.Channels[i]
		}
		if err := table.classify(f.Tags.Units); err != nil {
			return err
		}
		f.Header.Channels = table
		f.Header.NumChannels = len(keep) - 1

		for i := range f.Readings {
			decay := make([]float64, len(keep))
			for k, j := range keep {
				decay[k] = f.Readings[i].Decay[j]
			}
			f.Readings[i].Decay = decay
		}
		return nil
	})
}

// splitIndices returns the sorted channel indices SplitChannels keeps.
func (f *File) splitIndices() []int {
	keep := f.Header.Channels.Retained()
	if pp := f.ppChannel(); pp >= 0 {
		i := sort.SearchInts(keep, pp)
		if i == len(keep) || keep[i] != pp {
			keep = append(keep, 0)
			copy(keep[i+1:], keep[i:])
			keep[i] = pp
		}
	}
	return keep
}

// ScaleCoilArea rescales every decay value by old/new coil area in exact
// rational arithmetic and records the change in the notes.
func (f *File) ScaleCoilArea(newArea float64) error {
	old := f.Header.CoilArea
	if !positive(newArea) {
		return logicErrorf(OpScaleCoilArea, ErrInvalidCoilArea, "new coil area %s must be positive", formatGeneral(newArea))
	}
	if old == 0 {
		return logicErrorf(OpScaleCoilArea, ErrInvalidCoilArea, "file coil area is zero")
	}
	factor := ratio(old, newArea)
	return f.apply(OpScaleCoilArea, func() error {
		for i := range f.Readings {
			scaleExact(f.Readings[i].Decay, factor)
		}
		f.Header.CoilArea = newArea
		f.Notes = append(f.Notes, fmt.Sprintf("<HE3> Data scaled by coil area change of %s/%s",
			formatGeneral(old), formatGeneral(newArea)))
		return nil
	})
}

// ScaleCurrent rescales every decay value by old/new transmitter current and
// records the change in the notes.
func (f *File) ScaleCurrent(newCurrent float64) error {
	old := f.Tags.Current
	if !positive(newCurrent) {
		return logicErrorf(OpScaleCurrent, ErrInvalidCurrent, "new current %s must be positive", formatGeneral(newCurrent))
	}
	if old == 0 {
		return logicErrorf(OpScaleCurrent, ErrInvalidCurrent, "file current is zero")
	}
	factor := ratio(old, newCurrent)
	return f.apply(OpScaleCurrent, func() error {
		for i := range f.Readings {
			scaleExact(f.Readings[i].Decay, factor)
		}
		f.Tags.Current = newCurrent
		f.Notes = append(f.Notes, fmt.Sprintf("<HE3> Data scaled by current change of %s/%s",
			formatGeneral(old), formatGeneral(newCurrent)))
		return nil
	})
}

// ShiftStations adds amount to every station's numeric part, keeping any
// direction suffix. Decay data is untouched.
func (f *File) ShiftStations(amount int) error {
	for _, r := range f.Readings {
		if _, _, _, ok := splitStation(r.Station); !ok {
			return logicErrorf(OpShiftStations, ErrInvalidStation, "%q has no numeric part", r.Station)
		}
	}
	return f.apply(OpShiftStations, func() error {
		for i := range f.Readings {
			r := &f.Readings[i]
			n, suffix, width, _ := splitStation(r.Station)
			if r.stationWidth == 0 {
				r.stationWidth = width
			}
			r.Station = joinStation(n+amount, suffix, r.stationWidth)
		}
		return nil
	})
}

// ReverseComponent flips the polarity of every reading of component c.
func (f *File) ReverseComponent(c Component) error {
	if !c.Valid() {
		return logicErrorf(OpReverseComponent, ErrUnknownComponent, "%q", c)
	}
	found := false
	for _, r := range f.Readings {
		if r.Component == c {
			found = true
			break
		}
	}
	if !found {
		return logicErrorf(OpReverseComponent, ErrUnknownComponent, "file has no %s readings", c)
	}
	return f.apply(OpReverseComponent, func() error {
		for i := range f.Readings {
			if f.Readings[i].Component != c {
				continue
			}
			for j, v := range f.Readings[i].Decay {
				f.Readings[i].Decay[j] = -v
			}
		}
		f.Notes = append(f.Notes, fmt.Sprintf("<HE3> %s component data reversed", c))
		return nil
	})
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
