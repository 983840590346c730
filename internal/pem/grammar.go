package pem

// grammar.go holds the compiled line rules for every PEM section.
//
// The rules are package-level and immutable, so they are safe to share
// across goroutines parsing different files.

import "regexp"

var (
	// Tags, in the order they must appear.
	formatRule   = regexp.MustCompile(`^<FMT>\s*(\d+)\s*$`)
	unitsRule    = regexp.MustCompile(`^<UNI>\s*(nanoTesla/sec|picoTesla)\s*$`)
	operatorRule = regexp.MustCompile(`^<OPR>([^~]*)`)
	probesRule   = regexp.MustCompile(`^<XYP>\s*(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s*$`)
	currentRule  = regexp.MustCompile(`^<CUR>\s*(\S+)\s*$`)
	loopSizeRule = regexp.MustCompile(`^<TXS>(.*)$`)

	// Preamble lines. The captured group is everything after the tag.
	loopCoordRule = regexp.MustCompile(`^<L\d\d>(.*)$`)
	lineCoordRule = regexp.MustCompile(`^<P\d\d>(.*)$`)
	noteRule      = regexp.MustCompile(`^<(?:GEN|HE\d)>`)

	// Data block tokens.
	componentRule = regexp.MustCompile(`^([XYZ])R(\d+)$`)
	radTagRule    = regexp.MustCompile(`^D[57]$`)

	// Station labels: signed magnitude with an optional direction suffix.
	stationRule = regexp.MustCompile(`^(-?\d+)([NSEWnsew]?)$`)
)

// Token counts for the position-dependent header lines.
const (
	headerTextLines       = 5 // client, grid, line, loop, date
	surveyLineTokens      = 7
	receiverLineTokens    = 7
	receiverLineMaxTokens = 8
	readingIDTokens       = 9
)

const (
	unitsTokenNanoTesla = "nanoTesla/sec"
	unitsTokenPicoTesla = "picoTesla"
	channelTimesEnd     = "$"
	markerPrefix        = "~"
)
