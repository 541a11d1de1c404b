package grbl

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
)

// Jogger turns an active jog gesture into a stream of small moves.
//
// Run parks until Enable hands over a request, then emits at most one
// command per period while the machine is ready for it. In precise mode
// a gesture produces exactly one command of the requested step; in smooth
// mode the step is the distance covered in one period at the jog feed.
type Jogger struct {
	mirror *machine.Mirror
	buf    *Buffer
	tr     machine.Transport
	log    *slog.Logger

	period     time.Duration
	plannerLow int
	bufferLow  int

	// signal holds at most one pending request; nil disables jogging.
	signal chan *machine.JogRequest
	active atomic.Bool
}

func newJogger(c *Controller, cfg Config) *Jogger {
	return &Jogger{
		mirror:     c.mirror,
		buf:        c.buf,
		tr:         c,
		log:        cfg.Logger,
		period:     cfg.JogPeriod,
		plannerLow: cfg.JogPlannerLowWater,
		bufferLow:  cfg.JogBufferLowWater,
		signal:     make(chan *machine.JogRequest, 1),
	}
}

// Enable starts or replaces the active jog gesture.
func (j *Jogger) Enable(req machine.JogRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if s := j.mirror.State(); s == machine.StateAlarm {
		return &machine.StateError{Op: "jog", State: s}
	}
	j.post(&req)
	return nil
}

// Disable parks the loop. Motion already sent is not cancelled.
func (j *Jogger) Disable() { j.post(nil) }

// Active reports whether a gesture is in progress.
func (j *Jogger) Active() bool { return j.active.Load() }

func (j *Jogger) post(req *machine.JogRequest) {
	for {
		select {
		case j.signal <- req:
			return
		default:
		}
		select {
		case <-j.signal:
		default:
		}
	}
}

// Run is the jog loop. It returns when ctx is done.
func (j *Jogger) Run(ctx context.Context) {
	t := time.NewTicker(j.period)
	defer t.Stop()

	var req *machine.JogRequest
	for {
		j.active.Store(req != nil)
		if req == nil {
			select {
			case <-ctx.Done():
				return
			case req = <-j.signal:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case req = <-j.signal:
		case <-t.C:
			if j.tick(*req) {
				req = nil
			}
		}
	}
}

// tick emits the next command if the machine is ready and reports whether
// the gesture is complete.
func (j *Jogger) tick(req machine.JogRequest) bool {
	if s := j.mirror.State(); s == machine.StateAlarm {
		j.log.Warn("jog parked", "state", s)
		return true
	}
	if !j.ready(req) {
		return false
	}
	cmd := JogCommand(req, j.mirror.Snapshot(), j.period)
	if err := j.tr.Send([]byte(cmd)); err != nil {
		j.log.Error("jog", "command", cmd, "err", err)
		return false
	}
	return req.Precise
}

func (j *Jogger) ready(req machine.JogRequest) bool {
	if req.Precise {
		return j.mirror.State().Idle()
	}
	return j.mirror.PlannerUsed() < j.plannerLow && j.buf.Used() < j.bufferLow
}

// JogCommand renders the move for one jog tick, in the active unit.
//
// In absolute mode the target is the current work position plus or minus
// the step, rounded half-down to five decimals.
func JogCommand(req machine.JogRequest, snap machine.Snapshot, period time.Duration) string {
	unit := snap.Context.Unit
	cmd := "G1F" + strconv.FormatFloat(unit.FromMillimeters(req.Feed), 'f', 0, 64) + string(req.Axis)

	step := req.Step
	if !req.Precise {
		step = req.Feed * period.Seconds() / 60
	}

	if snap.Context.Distance == machine.DistanceAbsolute {
		pos, _ := snap.WPos.Axis(req.Axis)
		if req.Negative {
			pos -= step
		} else {
			pos += step
		}
		return cmd + gcode.FormatHalfDown(unit.FromMillimeters(pos), 5)
	}

	if req.Negative {
		cmd += "-"
	}
	return cmd + gcode.FormatFloat(unit.FromMillimeters(step), 3)
}
