package grbl

import (
	"strings"

	"github.com/mastercactapus/grblctl/machine"
)

func (c *Controller) handleOK() {
	c.buf.Release()
	c.mirror.IncPlanner()
	if q := c.Queue(); q.RunState().Active() {
		q.ConfirmNext()
	}
}

func (c *Controller) handleError(resp Response) {
	c.buf.Release()

	msg := FormatError(resp)
	q := c.Queue()

	var text, line string
	if q.RunState().Active() {
		if b, ok := q.FailNext(); ok {
			line = c.render.Render(b)
		}
	}
	if line != "" {
		text = "Error with command '" + line + "' : " + strings.TrimSpace(strings.TrimPrefix(msg, "error:"))
	} else {
		text = "Grbl " + msg
	}
	c.log.Error(text, "code", resp.ErrorCode)

	var d machine.Diagnostic
	if q.RunState() == machine.RunRunning && c.mirror.State() != machine.StateCheck {
		if err := c.PauseMotion(); err != nil {
			c.log.Error("pause after error", "err", err)
		}
		d = machine.NewDiagnostic(machine.SeverityError,
			"Error reported during execution",
			"Execution was paused after Grbl reported an error. You can resume, or stop the execution at your own risk.",
			text)
		d.Paused = true
	} else {
		d = machine.NewDiagnostic(machine.SeverityWarning, "Grbl error", "Grbl reported an error.", text)
	}
	d.Raw = resp.Raw
	d.Line = line
	c.Diagnostics.Publish(d)
}
