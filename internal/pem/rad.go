package pem

import (
	"strings"
)

// RADTool is the sensor orientation record attached to each reading. It is
// either an Accelerometer (D5) or a Magnetometer (D7).
type RADTool interface {
	Tag() string
	fields() []string
}

// Accelerometer is the D5 RAD record. Rotated records carry the rotation
// method R and the roll angle that was applied.
type Accelerometer struct {
	X         float64
	Y         float64
	Z         float64
	RollAngle float64
	Dip       float64

	Rotated       bool
	R             string
	RollAngleUsed float64
}

func (Accelerometer) Tag() string { return "D5" }

func (a Accelerometer) fields() []string {
	out := []string{formatFixed(a.X), formatFixed(a.Y), formatFixed(a.Z),
		formatFixed(a.RollAngle), formatFixed(a.Dip)}
	if a.Rotated {
		out = append(out, a.R, formatFixed(a.RollAngleUsed))
	}
	return out
}

// Magnetometer is the D7 RAD record.
type Magnetometer struct {
	Hx float64
	Gx float64
	Hy float64
	Gy float64
	Hz float64
	Gz float64
	T  float64
}

func (Magnetometer) Tag() string { return "D7" }

func (m Magnetometer) fields() []string {
	return []string{formatFixed(m.Hx), formatFixed(m.Gx), formatFixed(m.Hy),
		formatFixed(m.Gy), formatFixed(m.Hz), formatFixed(m.Gz), formatFixed(m.T)}
}

// radLine renders a RAD record as it appears in the data block.
func radLine(t RADTool) string {
	return t.Tag() + " " + strings.Join(t.fields(), " ")
}

// parseRAD decides the RAD variant once, from the tag and the token count:
//
//	D5 + 5 values          accelerometer
//	D5 + 5 values + R, a   rotated accelerometer
//	D7 + 7 values          magnetometer
//
// A single trailing metadata token beyond these shapes is dropped.
func parseRAD(tokens []string, line int) (RADTool, error) {
	if len(tokens) == 0 || !radTagRule.MatchString(tokens[0]) {
		return nil, formatErrorf(SectionRAD, line, "expected a D5 or D7 RAD tool line")
	}
	switch tokens[0] {
	case "D5":
		switch len(tokens) {
		case 6, 7:
			v, err := parseFloats(tokens[1:6])
			if err != nil {
				return nil, formatErrorf(SectionRAD, line, "D5 record: %v", err)
			}
			return Accelerometer{X: v[0], Y: v[1], Z: v[2], RollAngle: v[3], Dip: v[4]}, nil
		case 8, 9:
			v, err := parseFloats(append(append([]string(nil), tokens[1:6]...), tokens[7]))
			if err != nil {
				return nil, formatErrorf(SectionRAD, line, "rotated D5 record: %v", err)
			}
			return Accelerometer{X: v[0], Y: v[1], Z: v[2], RollAngle: v[3], Dip: v[4],
				Rotated: true, R: tokens[6], RollAngleUsed: v[5]}, nil
		}
	case "D7":
		if len(tokens) == 8 || len(tokens) == 9 {
			v, err := parseFloats(tokens[1:8])
			if err != nil {
				return nil, formatErrorf(SectionRAD, line, "D7 record: %v", err)
			}
			return Magnetometer{Hx: v[0], Gx: v[1], Hy: v[2], Gy: v[3], Hz: v[4], Gz: v[5], T: v[6]}, nil
		}
	}
	return nil, formatErrorf(SectionRAD, line, "unrecognized %s record with %d tokens", tokens[0], len(tokens))
}
