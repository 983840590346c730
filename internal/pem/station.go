package pem

import (
	"strconv"
	"strings"
	"unicode"
)

// splitStation decomposes a station label into its numeric magnitude and
// direction suffix ("650S" -> 650, "S"). width is the digit count of a
// zero-padded number ("0650S" -> 4) and 0 otherwise.
func splitStation(label string) (n int, suffix string, width int, ok bool) {
	m := stationRule.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return 0, "", 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", 0, false
	}
	if digits := strings.TrimPrefix(m[1], "-"); len(digits) > 1 && digits[0] == '0' {
		width = len(digits)
	}
	return n, m[2], width, true
}

// joinStation renders n with suffix, zero-padding the digits to width.
func joinStation(n int, suffix string, width int) string {
	digits := strconv.Itoa(n)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	if pad := width - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return sign + digits + suffix
}

// compareStations orders labels by their digit and non-digit runs, comparing
// digit runs numerically, so "9N" sorts before "10N".
func compareStations(a, b string) int {
	for a != "" && b != "" {
		ca, ra := nextChunk(a)
		cb, rb := nextChunk(b)
		if c := compareChunks(ca, cb); c != 0 {
			return c
		}
		a, b = ra, rb
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func nextChunk(s string) (string, string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func compareChunks(a, b string) int {
	if isDigit(a[0]) && isDigit(b[0]) {
		ta := strings.TrimLeft(a, "0")
		tb := strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
		// Equal values: fewer leading zeros first.
		return compareInts(len(a), len(b))
	}
	return strings.Compare(strings.ToUpper(a), strings.ToUpper(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isDigit(c byte) bool {
	return c < unicode.MaxASCII && unicode.IsDigit(rune(c))
}
