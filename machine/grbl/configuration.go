package grbl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mastercactapus/grblctl/machine"
)

func (c *Controller) requireIdle(op string) error {
	if s := c.mirror.State(); s != machine.StateReady {
		return &machine.StateError{Op: op, State: s}
	}
	return nil
}

// CanExport reports whether the configuration may be exported now.
func (c *Controller) CanExport() bool { return c.mirror.State() == machine.StateReady }

// CanImport reports whether a configuration may be imported now.
func (c *Controller) CanImport() bool { return c.mirror.State() == machine.StateReady }

// ExportConfiguration writes the known settings as "id=value" lines.
func (c *Controller) ExportConfiguration(w io.Writer) error {
	if err := c.requireIdle("export configuration"); err != nil {
		return err
	}
	return c.settings.Export(w)
}

// ImportConfiguration reads "id=value" lines and pushes every valid one
// to the controller. Malformed lines are logged and skipped.
func (c *Controller) ImportConfiguration(ctx context.Context, r io.Reader) ([]Assignment, error) {
	if err := c.requireIdle("import configuration"); err != nil {
		return nil, err
	}
	as, err := c.settings.ParseImport(r, c.log)
	if err != nil {
		return nil, err
	}
	return as, c.ApplyConfiguration(ctx, as)
}

// ApplyConfiguration writes settings one at a time, pausing between writes
// so the controller can commit each to EEPROM, then reads them back.
func (c *Controller) ApplyConfiguration(ctx context.Context, as []Assignment) error {
	if err := c.requireIdle("apply configuration"); err != nil {
		return err
	}
	if len(as) == 0 {
		return nil
	}
	for i, a := range as {
		if i > 0 {
			if err := sleep(ctx, c.cfg.SettingWriteDelay); err != nil {
				return &ApplyError{Applied: as[:i], Err: err}
			}
		}
		if err := c.sendLine(a.String()); err != nil {
			return &ApplyError{Applied: as[:i], Failed: &as[i], Err: err}
		}
	}
	return c.RefreshConfiguration()
}

// ApplyError reports an interrupted ApplyConfiguration. The controller
// holds the Applied settings; nothing after them was written.
type ApplyError struct {
	Applied []Assignment
	// Failed is the setting whose write failed, nil when cancelled.
	Failed *Assignment
	Err    error
}

func (e *ApplyError) Error() string {
	if e.Failed != nil {
		return fmt.Sprintf("apply setting %s (%d applied): %v", e.Failed.ID, len(e.Applied), e.Err)
	}
	return fmt.Sprintf("apply configuration (%d applied): %v", len(e.Applied), e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
