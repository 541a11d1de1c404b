package machine

import (
	"errors"
	"fmt"
)

// JogRequest describes an active manual-motion gesture.
//
// Step is in mm and Feed in mm/min regardless of the active unit.
type JogRequest struct {
	Axis     byte
	Negative bool
	Step     float64
	Feed     float64
	Precise  bool
}

func (r JogRequest) Validate() error {
	switch r.Axis {
	case 'X', 'Y', 'Z':
	default:
		return fmt.Errorf("invalid jog axis '%c'", r.Axis)
	}
	if r.Feed <= 0 {
		return errors.New("jog feed must be positive")
	}
	if r.Precise && r.Step <= 0 {
		return errors.New("jog step must be positive")
	}
	return nil
}
