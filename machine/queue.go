package machine

import "github.com/mastercactapus/grblctl/gcode"

// RunState is the state of the external execution queue.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunPaused
	RunError
)

func (r RunState) String() string {
	switch r {
	case RunRunning:
		return "Running"
	case RunPaused:
		return "Paused"
	case RunError:
		return "Error"
	}
	return "Idle"
}

func (r RunState) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Active reports whether a run is in progress, paused or not.
func (r RunState) Active() bool {
	return r == RunRunning || r == RunPaused || r == RunError
}

// Lane separates user programs from generated system programs.
type Lane int

const (
	LaneDefault Lane = iota
	LaneSystem
)

func (l Lane) String() string {
	if l == LaneSystem {
		return "system"
	}
	return "default"
}

// Program is a named list of instructions.
type Program struct {
	Name   string
	Blocks []gcode.Block
}

// ExecutionQueue sequences programs into the controller.
type ExecutionQueue interface {
	RunState() RunState
	Begin(Lane) error
	Pause() error
	Resume() error
	Stop() error
	Clear(Lane) error
	Add(Lane, Program) error

	// ConfirmNext acknowledges the oldest sent instruction.
	ConfirmNext()
	// FailNext marks the oldest sent instruction failed and returns it.
	FailNext() (gcode.Block, bool)
}

// Executor is the controller side of an ExecutionQueue.
type Executor interface {
	// CanAccept reports whether b can be sent without overrunning the device.
	CanAccept(b gcode.Block) bool
	Execute(b gcode.Block) error
}

// Transport writes bytes to the device.
type Transport interface {
	// Send writes a buffered command line.
	Send([]byte) error
	// SendImmediate writes realtime control bytes that bypass the device's line buffer.
	SendImmediate([]byte) error
}

// Renderer turns an instruction into device text.
type Renderer interface {
	Render(gcode.Block) string
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(gcode.Block) string

func (fn RenderFunc) Render(b gcode.Block) string { return fn(b) }

// DefaultRenderer renders blocks in their compact form.
var DefaultRenderer Renderer = RenderFunc(gcode.Block.String)
