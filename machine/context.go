package machine

import (
	"fmt"
	"strings"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
)

type DistanceMode int

const (
	DistanceAbsolute DistanceMode = iota
	DistanceRelative
)

func (d DistanceMode) String() string {
	if d == DistanceRelative {
		return "G91"
	}
	return "G90"
}

type Unit int

const (
	UnitMillimeter Unit = iota
	UnitInch
)

const mmPerInch = 25.4

func (u Unit) String() string {
	if u == UnitInch {
		return "G20"
	}
	return "G21"
}

// FromMillimeters converts v (mm or mm/min) to the unit.
func (u Unit) FromMillimeters(v float64) float64 {
	if u == UnitInch {
		return v / mmPerInch
	}
	return v
}

// ToMillimeters converts v expressed in the unit to mm.
func (u Unit) ToMillimeters(v float64) float64 {
	if u == UnitInch {
		return v * mmPerInch
	}
	return v
}

// CoordinateSystem is one of the six work coordinate systems G54-G59.
type CoordinateSystem int

const (
	G54 CoordinateSystem = iota + 1
	G55
	G56
	G57
	G58
	G59
)

// CoordinateSystems lists every supported system in order.
var CoordinateSystems = []CoordinateSystem{G54, G55, G56, G57, G58, G59}

func (cs CoordinateSystem) Valid() bool { return cs >= G54 && cs <= G59 }

// Index returns the G10 P number of the system.
func (cs CoordinateSystem) Index() int { return int(cs) }

func (cs CoordinateSystem) String() string {
	if !cs.Valid() {
		return fmt.Sprintf("CoordinateSystem(%d)", int(cs))
	}
	return fmt.Sprintf("G%d", 53+int(cs))
}

func (cs CoordinateSystem) MarshalText() ([]byte, error) { return []byte(cs.String()), nil }

func (cs *CoordinateSystem) UnmarshalText(data []byte) error {
	v, err := ParseCoordinateSystem(string(data))
	if err != nil {
		return err
	}
	*cs = v
	return nil
}

// Word returns the G-code word selecting the system.
func (cs CoordinateSystem) Word() gcode.Word {
	return gcode.Word{W: 'G', Arg: float64(53 + int(cs))}
}

// ParseCoordinateSystem parses a name like "G55".
func ParseCoordinateSystem(s string) (CoordinateSystem, error) {
	for _, cs := range CoordinateSystems {
		if strings.EqualFold(strings.TrimSpace(s), cs.String()) {
			return cs, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownCoordinateSystem, s)
}

// MotionContext mirrors the modal interpreter state of the controller.
type MotionContext struct {
	Distance         DistanceMode
	Unit             Unit
	CoordinateSystem CoordinateSystem

	offsets map[CoordinateSystem]coord.Point
}

// NewMotionContext returns the power-on defaults (G90 G21 G54).
func NewMotionContext() MotionContext {
	return MotionContext{CoordinateSystem: G54}
}

// Offset returns the stored offset for cs, creating a zero entry on first access.
func (c *MotionContext) Offset(cs CoordinateSystem) coord.Point {
	if c.offsets == nil {
		c.offsets = make(map[CoordinateSystem]coord.Point, len(CoordinateSystems))
	}
	p, ok := c.offsets[cs]
	if !ok {
		c.offsets[cs] = p
	}
	return p
}

func (c *MotionContext) SetOffset(cs CoordinateSystem, p coord.Point) {
	if c.offsets == nil {
		c.offsets = make(map[CoordinateSystem]coord.Point, len(CoordinateSystems))
	}
	c.offsets[cs] = p
}

// Offsets returns a copy of every materialized offset.
func (c MotionContext) Offsets() map[CoordinateSystem]coord.Point {
	res := make(map[CoordinateSystem]coord.Point, len(c.offsets))
	for k, v := range c.offsets {
		res[k] = v
	}
	return res
}

// Clone returns a deep copy.
func (c MotionContext) Clone() MotionContext {
	if c.offsets != nil {
		c.offsets = c.Offsets()
	}
	return c
}

// Apply updates the modal state from the words of a parser-state report
// or a block about to be sent.
func (c *MotionContext) Apply(words []gcode.Word) {
	for _, w := range words {
		switch w.ModalGroup() {
		case gcode.ModalGroupDistanceMode:
			if w.Arg == 91 {
				c.Distance = DistanceRelative
			} else {
				c.Distance = DistanceAbsolute
			}
		case gcode.ModalGroupUnits:
			if w.Arg == 20 {
				c.Unit = UnitInch
			} else {
				c.Unit = UnitMillimeter
			}
		case gcode.ModalGroupCoordinateSystem:
			cs := CoordinateSystem(int(w.Arg) - 53)
			if w.Arg == float64(int(w.Arg)) && cs.Valid() {
				c.CoordinateSystem = cs
			}
		}
	}
}
