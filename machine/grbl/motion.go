package grbl

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
)

// PauseMotion issues a feed hold and pauses the running program.
func (c *Controller) PauseMotion() error {
	if err := c.SendImmediate([]byte{cmdFeedHold}); err != nil {
		return err
	}
	if q := c.Queue(); q.RunState() != machine.RunIdle {
		return q.Pause()
	}
	return nil
}

// StopMotion halts the machine with a feed hold and soft reset, stops the
// program and forgets every in-flight command. Acknowledgments still on
// their way for those commands are ignored.
func (c *Controller) StopMotion() error {
	err := c.SendImmediate([]byte{cmdFeedHold, cmdSoftReset})
	if q := c.Queue(); q.RunState() != machine.RunIdle {
		err = errors.Join(err, q.Stop())
	}
	c.buf.Reset()
	c.mirror.SetPlannerUsed(0)
	c.probes.cancelAll()
	c.jog.Disable()
	return err
}

// StartMotion resumes a paused program or begins the default lane.
func (c *Controller) StartMotion() error {
	if s := c.mirror.State(); s == machine.StateAlarm {
		return &machine.StateError{Op: "start", State: s}
	}
	if err := c.SendImmediate([]byte{cmdCycleStart}); err != nil {
		return err
	}
	q := c.Queue()
	if q.RunState() == machine.RunPaused {
		return q.Resume()
	}
	return q.Begin(machine.LaneDefault)
}

// ResumeMotion releases a feed hold and resumes the program.
func (c *Controller) ResumeMotion() error {
	if err := c.SendImmediate([]byte{cmdCycleStart}); err != nil {
		return err
	}
	return c.Queue().Resume()
}

// Home starts the homing cycle.
func (c *Controller) Home() error {
	s := c.mirror.State()
	if s != machine.StateReady && s != machine.StateAlarm {
		return &machine.StateError{Op: "home", State: s}
	}
	if err := c.sendLine(cmdHome); err != nil {
		return err
	}
	c.mirror.SetState(machine.StateHoming)
	return nil
}

// Unlock clears an alarm lock.
func (c *Controller) Unlock() error { return c.sendLine(cmdUnlock) }

// Reset soft-resets the controller.
func (c *Controller) Reset() error {
	err := c.SendImmediate([]byte{cmdSoftReset})
	c.buf.Reset()
	c.mirror.SetPlannerUsed(0)
	return err
}

// ResetZero makes the current position the temporary zero (G92) of the
// given axes, or all axes when none are given.
func (c *Controller) ResetZero(axes ...byte) error {
	if err := c.requireReady("reset zero"); err != nil {
		return err
	}
	if len(axes) == 0 {
		axes = []byte{'X', 'Y', 'Z'}
	}
	b := gcode.Block{{W: 'G', Arg: 92}}
	for _, a := range axes {
		w := gcode.Word{W: a}
		if !w.IsAxis() {
			return fmt.Errorf("invalid axis '%c'", a)
		}
		b = append(b, w)
	}
	return c.SendBlock(b)
}

// SetCheckMode toggles the firmware's dry-run mode ("$C"). It can only be
// enabled from Ready and disabled from Check.
func (c *Controller) SetCheckMode(enabled bool) error {
	s := c.mirror.State()
	if (enabled && s != machine.StateReady) || (!enabled && s != machine.StateCheck) {
		return &machine.StateError{Op: "check mode", State: s}
	}
	return c.sendLine(cmdCheckMode)
}

// SetCoordinateSystem selects the active work coordinate system.
func (c *Controller) SetCoordinateSystem(cs machine.CoordinateSystem) error {
	if !cs.Valid() {
		return fmt.Errorf("%w: %d", machine.ErrUnknownCoordinateSystem, int(cs))
	}
	if err := c.requireReady("select coordinate system"); err != nil {
		return err
	}
	if err := c.SendBlock(gcode.Block{cs.Word()}); err != nil {
		return err
	}
	return c.RefreshParserState()
}

// ResetCoordinateSystem moves the origin of the active coordinate system
// to the current position.
func (c *Controller) ResetCoordinateSystem() error {
	snap := c.mirror.Snapshot()
	cs := snap.Context.CoordinateSystem
	return c.UpdateCoordinateSystemOffset(cs, snap.WPos.Add(c.mirror.Offset(cs)))
}

// UpdateCoordinateSystemOffset stores offset (mm, machine coordinates)
// as the origin of cs.
func (c *Controller) UpdateCoordinateSystemOffset(cs machine.CoordinateSystem, offset coord.Point) error {
	if !cs.Valid() {
		return fmt.Errorf("%w: %d", machine.ErrUnknownCoordinateSystem, int(cs))
	}
	if err := c.requireReady("update coordinate system"); err != nil {
		return err
	}
	unit := c.mirror.Context().Unit
	b := gcode.Block{
		{W: 'G', Arg: 10},
		{W: 'L', Arg: 2},
		{W: 'P', Arg: float64(cs.Index())},
		{W: 'X', Arg: unit.FromMillimeters(offset.X)},
		{W: 'Y', Arg: unit.FromMillimeters(offset.Y)},
		{W: 'Z', Arg: unit.FromMillimeters(offset.Z)},
	}
	if err := c.SendBlock(b); err != nil {
		return err
	}
	return c.RefreshParameters()
}
