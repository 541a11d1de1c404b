package gcode

// ModalGroup is the NIST modal group a G or M word belongs to. Words from
// the same group are mutually exclusive within a block.
type ModalGroup byte

const (
	ModalGroupNone ModalGroup = iota
	ModalGroupNonModal
	ModalGroupMotion
	ModalGroupPlaneSelection
	ModalGroupDistanceMode
	ModalGroupArcDistanceMode
	ModalGroupFeedRateMode
	ModalGroupUnits
	ModalGroupCutterCompensationMode
	ModalGroupToolLength
	ModalGroupCoordinateSystem
	ModalGroupControlMode
	ModalGroupStopping
	ModalGroupSpindle
	ModalGroupCoolant
	ModalGroupOverride

	modalGroupCount
)

var modalGroupNames = [...]string{
	ModalGroupNone:                   "none",
	ModalGroupNonModal:               "non-modal",
	ModalGroupMotion:                 "motion",
	ModalGroupPlaneSelection:         "plane",
	ModalGroupDistanceMode:           "distance",
	ModalGroupArcDistanceMode:        "arc distance",
	ModalGroupFeedRateMode:           "feed rate mode",
	ModalGroupUnits:                  "units",
	ModalGroupCutterCompensationMode: "cutter compensation",
	ModalGroupToolLength:             "tool length",
	ModalGroupCoordinateSystem:       "coordinate system",
	ModalGroupControlMode:            "control mode",
	ModalGroupStopping:               "stopping",
	ModalGroupSpindle:                "spindle",
	ModalGroupCoolant:                "coolant",
	ModalGroupOverride:               "override",
}

func (g ModalGroup) String() string {
	if int(g) < len(modalGroupNames) {
		return modalGroupNames[g]
	}
	return "unknown"
}

// grblCommands lists the G and M words a Grbl 1.1 controller accepts.
var grblCommands = map[Word]ModalGroup{}

func init() {
	add := func(letter byte, g ModalGroup, args ...float64) {
		for _, a := range args {
			grblCommands[Word{W: letter, Arg: a}] = g
		}
	}
	add('G', ModalGroupNonModal, 4, 10, 28, 28.1, 30, 30.1, 53, 92, 92.1)
	add('G', ModalGroupMotion, 0, 1, 2, 3, 38.2, 38.3, 38.4, 38.5, 80)
	add('G', ModalGroupPlaneSelection, 17, 18, 19)
	add('G', ModalGroupDistanceMode, 90, 91)
	add('G', ModalGroupArcDistanceMode, 91.1)
	add('G', ModalGroupFeedRateMode, 93, 94)
	add('G', ModalGroupUnits, 20, 21)
	add('G', ModalGroupCutterCompensationMode, 40)
	add('G', ModalGroupToolLength, 43.1, 49)
	add('G', ModalGroupCoordinateSystem, 54, 55, 56, 57, 58, 59)
	add('G', ModalGroupControlMode, 61)
	add('M', ModalGroupStopping, 0, 1, 2, 30)
	add('M', ModalGroupSpindle, 3, 4, 5)
	add('M', ModalGroupCoolant, 7, 8, 9)
	add('M', ModalGroupOverride, 56)
}

// ModalGroup returns the group of a G or M word, or ModalGroupNone for
// parameter words and commands Grbl does not know.
func (w Word) ModalGroup() ModalGroup {
	return grblCommands[w]
}

// Supported reports whether a Grbl controller accepts the word.
func (w Word) Supported() bool {
	switch w.W {
	case 'G', 'M':
		_, ok := grblCommands[w]
		return ok
	case 'F', 'I', 'J', 'K', 'L', 'N', 'P', 'R', 'S', 'T', 'X', 'Y', 'Z':
		return true
	}
	return false
}
