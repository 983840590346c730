// Package pem reads, edits and writes PEM survey files.
//
// A PEM file records a time-domain electromagnetic survey: the transmitter
// loop geometry, receiver header metadata, and per-station, per-component
// decay readings with a RAD tool (sensor orientation) sub-record. The format
// is line oriented and position dependent, so the parser is a single forward
// pass over fixed sections:
//
//  1. Tags: <FMT>, <UNI>, <OPR>, <XYP>, <CUR>, <TXS> in that order.
//  2. Preamble: loop coordinates (<L##>), line or borehole coordinates
//     (<P##>), notes (<GEN>, <HE#>) and ~ marker lines.
//  3. Header: client, grid, line/hole, loop, date, the survey line, the
//     receiver line, the channel times and a terminating "$".
//  4. Data: repeating reading-id line, RAD line and decay values.
//
// # Usage
//
//	f, err := pem.ParseFile("L650.PEM")
//	if err != nil {
//	    return err
//	}
//	if err := f.Average(); err != nil && !errors.Is(err, pem.ErrAlreadyAveraged) {
//	    return err
//	}
//	out := pem.Serialize(f)
//
// # Edits
//
// Edit operators ([File.Average], [File.SplitChannels], [File.ScaleCoilArea],
// [File.ScaleCurrent], [File.ShiftStations], [File.ReverseComponent]) mutate
// the file in place. Preconditions are checked before anything changes, and
// the pre-edit model is kept in the file's history so [File.Undo] can restore
// it. A File is not safe for concurrent mutation; separate files can be
// processed in parallel.
//
// # Errors
//
// Parse failures are reported as *[FormatError] naming the offending section
// and line. Invalid edits return *[LogicError], which unwraps to one of the
// Err* sentinels so callers can use errors.Is.
package pem
