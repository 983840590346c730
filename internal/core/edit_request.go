package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/pemtool/internal/pem"
)

// EditRequest is a set of edits applied together. Steps run in a fixed
// order: average, split, current, coil area, shift, reverse. Scaling after
// averaging means each merged reading is scaled once.
type EditRequest struct {
	Average  bool            `json:"average,omitempty"`
	Split    bool            `json:"split,omitempty"`
	Current  float64         `json:"current,omitempty"`
	CoilArea float64         `json:"coilArea,omitempty"`
	Shift    int             `json:"shift,omitempty"`
	Reverse  []pem.Component `json:"reverse,omitempty"`
}

// Empty reports whether the request has no steps.
func (r EditRequest) Empty() bool {
	return !r.Average && !r.Split && r.Current == 0 && r.CoilArea == 0 &&
		r.Shift == 0 && len(r.Reverse) == 0
}

// Ops lists the pem operation names the request runs, in order.
func (r EditRequest) Ops() []string {
	var ops []string
	if r.Average {
		ops = append(ops, pem.OpAverage)
	}
	if r.Split {
		ops = append(ops, pem.OpSplitChannels)
	}
	if r.Current != 0 {
		ops = append(ops, pem.OpScaleCurrent)
	}
	if r.CoilArea != 0 {
		ops = append(ops, pem.OpScaleCoilArea)
	}
	if r.Shift != 0 {
		ops = append(ops, pem.OpShiftStations)
	}
	for range r.Reverse {
		ops = append(ops, pem.OpReverseComponent)
	}
	return ops
}

// String is the op list joined with '+', as stored on a revision.
func (r EditRequest) String() string {
	return strings.Join(r.Ops(), "+")
}

// JSON encodes the request for storage.
func (r EditRequest) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(b)
}

// ApplyTo runs the request on a copy of f. f is never modified; on error
// no partial result is returned.
func (r EditRequest) ApplyTo(f *pem.File) (*pem.File, error) {
	out := f.Clone()
	steps := []struct {
		run bool
		fn  func() error
	}{
		{r.Average, out.Average},
		{r.Split, out.SplitChannels},
		{r.Current != 0, func() error { return out.ScaleCurrent(r.Current) }},
		{r.CoilArea != 0, func() error { return out.ScaleCoilArea(r.CoilArea) }},
		{r.Shift != 0, func() error { return out.ShiftStations(r.Shift) }},
	}
	for _, s := range steps {
		if !s.run {
			continue
		}
		if err := s.fn(); err != nil {
			return nil, err
		}
	}
	for _, c := range r.Reverse {
		if err := out.ReverseComponent(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParseEditOp builds a single-step request from an operation name and its
// argument, as submitted by the web form.
func ParseEditOp(op, arg string) (EditRequest, error) {
	arg = strings.TrimSpace(arg)
	var req EditRequest
	switch op {
	case pem.OpAverage:
		req.Average = true
	case pem.OpSplitChannels:
		req.Split = true
	case pem.OpScaleCurrent, pem.OpScaleCoilArea:
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return req, fmt.Errorf("%s: invalid number %q", op, arg)
		}
		if op == pem.OpScaleCurrent {
			if v == 0 {
				return req, &pem.LogicError{Op: op, Err: pem.ErrInvalidCurrent, Msg: "current must be positive"}
			}
			req.Current = v
		} else {
			if v == 0 {
				return req, &pem.LogicError{Op: op, Err: pem.ErrInvalidCoilArea, Msg: "coil area must be positive"}
			}
			req.CoilArea = v
		}
	case pem.OpShiftStations:
		v, err := strconv.Atoi(arg)
		if err != nil {
			return req, fmt.Errorf("%s: invalid number %q", op, arg)
		}
		req.Shift = v
	case pem.OpReverseComponent:
		req.Reverse = []pem.Component{pem.Component(strings.ToUpper(arg))}
	default:
		return req, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}
	return req, nil
}
