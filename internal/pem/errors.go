package pem

import (
	"errors"
	"fmt"
)

// Sections named by FormatError.
const (
	SectionTags         = "tags"
	SectionCoordinates  = "coordinates"
	SectionHeader       = "header"
	SectionChannelTimes = "channel times"
	SectionData         = "data"
	SectionRAD          = "rad"
	SectionModel        = "model"
)

// Sentinels wrapped by LogicError.
var (
	ErrAlreadyAveraged  = errors.New("file is already averaged")
	ErrAlreadySplit     = errors.New("file channels are already split")
	ErrNoChannels       = errors.New("no channels left to keep")
	ErrInvalidCoilArea  = errors.New("invalid coil area")
	ErrInvalidCurrent   = errors.New("invalid current")
	ErrInvalidStation   = errors.New("invalid station label")
	ErrUnknownComponent = errors.New("unknown component")
	ErrNothingToUndo    = errors.New("nothing to undo")
)

// FormatError reports text that does not match the PEM grammar. Parsing is
// all or nothing: a FormatError means no File was produced.
type FormatError struct {
	Section string
	Line    int // 1-based, 0 when not tied to a line
	Msg     string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("pem: invalid %s section at line %d: %s", e.Section, e.Line, e.Msg)
	}
	return fmt.Sprintf("pem: invalid %s section: %s", e.Section, e.Msg)
}

func formatErrorf(section string, line int, format string, args ...any) *FormatError {
	return &FormatError{Section: section, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// LogicError reports an edit that cannot be applied to the file in its
// current state or with the given parameters. The file is left unchanged.
type LogicError struct {
	Op  string
	Err error
	Msg string
}

func (e *LogicError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("pem: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("pem: %s: %v: %s", e.Op, e.Err, e.Msg)
}

func (e *LogicError) Unwrap() error {
	return e.Err
}

func logicErrorf(op string, err error, format string, args ...any) *LogicError {
	return &LogicError{Op: op, Err: err, Msg: fmt.Sprintf(format, args...)}
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsLogicError reports whether err is or wraps a *LogicError.
func IsLogicError(err error) bool {
	var le *LogicError
	return errors.As(err, &le)
}
