package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// FormatFloat renders f with at most prec decimals and no trailing zeros.
func FormatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + FormatFloat(w.Arg, 3)
}

// ParseWord parses a single word such as "G54" or "F2540.".
func ParseWord(s string) (Word, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Word{}, fmt.Errorf("invalid word '%s'", s)
	}
	w := Word{W: strings.ToUpper(s[:1])[0]}
	if !w.IsValid() {
		return Word{}, fmt.Errorf("invalid word letter '%s'", s)
	}
	var err error
	w.Arg, err = strconv.ParseFloat(s[1:], 64)
	if err != nil {
		return Word{}, fmt.Errorf("invalid word '%s': %w", s, err)
	}
	return w, nil
}
