package machine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady matches every StateError.
	ErrNotReady = errors.New("machine not ready")

	ErrUnknownCoordinateSystem = errors.New("unknown coordinate system")
	ErrNoQueue                 = errors.New("no execution queue attached")
)

// StateError rejects an operation the current machine state forbids.
// It is returned before anything is written to the device.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while machine is %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrNotReady }
