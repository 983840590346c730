package pem

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

func parseFloats(tokens []string) ([]float64, error) {
	out := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid number %q", tok)
		}
		out[i] = v
	}
	return out, nil
}

func parseInt(tok string) (int, error) {
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", tok)
	}
	return v, nil
}

// formatGeneral renders v with the fewest digits that parse back to v.
func formatGeneral(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatFixed is formatGeneral without exponent notation, for coordinates
// and header values.
func formatFixed(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// decimalRat returns the exact decimal value v was written as.
func decimalRat(v float64) *big.Rat {
	r, _ := new(big.Rat).SetString(formatGeneral(v))
	return r
}

// ratio returns num/den as an exact rational of their decimal values.
func ratio(num, den float64) *big.Rat {
	return new(big.Rat).Quo(decimalRat(num), decimalRat(den))
}

// scaleExact multiplies every value by factor in rational arithmetic and
// rounds once to the nearest float64.
func scaleExact(values []float64, factor *big.Rat) {
	var r big.Rat
	for i, v := range values {
		r.Mul(decimalRat(v), factor)
		values[i], _ = r.Float64()
	}
}
