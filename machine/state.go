package machine

// State is the mirrored operating mode of the controller.
type State int

const (
	StateUndefined State = iota
	StateAlarm
	StateReady
	StateCheck
	StateHoming
	StateHold
	StateMotionRunning
	StateMotionHolding
	StateProgramEnd
	StateProgramStop
)

var stateNames = [...]string{
	StateUndefined:     "Undefined",
	StateAlarm:         "Alarm",
	StateReady:         "Ready",
	StateCheck:         "Check",
	StateHoming:        "Homing",
	StateHold:          "Hold",
	StateMotionRunning: "MotionRunning",
	StateMotionHolding: "MotionHolding",
	StateProgramEnd:    "ProgramEnd",
	StateProgramStop:   "ProgramStop",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Undefined"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Idle reports whether the machine is at rest and will accept a discrete move.
func (s State) Idle() bool {
	return s == StateReady || s == StateProgramEnd || s == StateProgramStop
}

// StateChange is published once for every transition between distinct states.
type StateChange struct {
	Old, New State
}
