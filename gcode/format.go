package gcode

import (
	"strconv"
	"strings"
)

// FormatHalfDown renders v with exactly places decimals, rounding to the
// nearest value and breaking ties toward zero.
func FormatHalfDown(v float64, places int) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) <= places {
		frac += strings.Repeat("0", places-len(frac))
		return sign(neg, intPart, frac)
	}

	dropped := frac[places:]
	frac = frac[:places]
	up := dropped[0] > '5' || (dropped[0] == '5' && strings.TrimRight(dropped[1:], "0") != "")
	if !up {
		return sign(neg, intPart, frac)
	}

	digits := []byte(intPart + frac)
	i := len(digits) - 1
	for ; i >= 0; i-- {
		if digits[i] != '9' {
			digits[i]++
			break
		}
		digits[i] = '0'
	}
	if i < 0 {
		digits = append([]byte{'1'}, digits...)
	}
	n := len(digits) - places
	return sign(neg, string(digits[:n]), string(digits[n:]))
}

func sign(neg bool, intPart, frac string) string {
	s := intPart
	if frac != "" {
		s += "." + frac
	}
	if neg && strings.Trim(s, "0.") != "" {
		return "-" + s
	}
	return s
}
