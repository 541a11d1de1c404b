package grbl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/grblctl/event"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
)

// Realtime and system commands understood by the firmware.
const (
	cmdStatus     = '?'
	cmdFeedHold   = '!'
	cmdCycleStart = '~'
	cmdSoftReset  = 0x18

	cmdHome        = "$H"
	cmdUnlock      = "$X"
	cmdCheckMode   = "$C"
	cmdParameters  = "$#"
	cmdParserState = "$G"
	cmdSettings    = "$$"
)

// Config holds the tunables of a Controller. Zero fields take the values
// from DefaultConfig.
type Config struct {
	// MaxRXBytes is the size of the controller's serial receive buffer.
	MaxRXBytes int
	// MaxPlannerSlots is the depth of the controller's motion planner.
	MaxPlannerSlots int

	PollInterval time.Duration

	JogPeriod          time.Duration
	JogPlannerLowWater int
	JogBufferLowWater  int

	// SettingWriteDelay separates consecutive setting writes.
	SettingWriteDelay time.Duration

	Renderer machine.Renderer
	Logger   *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxRXBytes:         128,
		MaxPlannerSlots:    15,
		PollInterval:       100 * time.Millisecond,
		JogPeriod:          100 * time.Millisecond,
		JogPlannerLowWater: 4,
		JogBufferLowWater:  60,
		SettingWriteDelay:  10 * time.Millisecond,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.MaxRXBytes <= 0 {
		cfg.MaxRXBytes = def.MaxRXBytes
	}
	if cfg.MaxPlannerSlots <= 0 {
		cfg.MaxPlannerSlots = def.MaxPlannerSlots
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.JogPeriod <= 0 {
		cfg.JogPeriod = def.JogPeriod
	}
	if cfg.JogPlannerLowWater <= 0 {
		cfg.JogPlannerLowWater = def.JogPlannerLowWater
	}
	if cfg.JogBufferLowWater <= 0 {
		cfg.JogBufferLowWater = def.JogBufferLowWater
	}
	if cfg.SettingWriteDelay <= 0 {
		cfg.SettingWriteDelay = def.SettingWriteDelay
	}
	if cfg.Renderer == nil {
		cfg.Renderer = machine.DefaultRenderer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// Traffic is a line exchanged with the controller.
type Traffic struct {
	Time      time.Time
	Direction Direction
	Line      string
}

// Controller drives a Grbl controller over a Transport.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	tr     machine.Transport
	render machine.Renderer

	buf      *Buffer
	mirror   *machine.Mirror
	settings *Settings
	probes   *probeCoordinator
	jog      *Jogger

	qMx   sync.RWMutex
	queue machine.ExecutionQueue

	sendMx  sync.Mutex
	polling atomic.Bool

	Diagnostics    event.Topic[machine.Diagnostic]
	SettingChanged event.Topic[SettingChange]
	ProbeResults   event.Topic[machine.ProbeResult]
	Traffic        event.Topic[Traffic]
}

var _ machine.Transport = (*Controller)(nil)

// New creates a controller writing to tr. Incoming lines must be passed
// to HandleLine.
func New(tr machine.Transport, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		log:      cfg.Logger,
		tr:       tr,
		render:   cfg.Renderer,
		buf:      NewBuffer(cfg.MaxRXBytes),
		mirror:   machine.NewMirror(cfg.MaxPlannerSlots),
		settings: NewSettings(),
		probes:   &probeCoordinator{},
		queue:    idleQueue{},
	}
	c.jog = newJogger(c, cfg)
	return c
}

// SetQueue attaches the execution queue that streams programs.
func (c *Controller) SetQueue(q machine.ExecutionQueue) {
	if q == nil {
		q = idleQueue{}
	}
	c.qMx.Lock()
	c.queue = q
	c.qMx.Unlock()
}

func (c *Controller) Queue() machine.ExecutionQueue {
	c.qMx.RLock()
	defer c.qMx.RUnlock()
	return c.queue
}

func (c *Controller) Mirror() *machine.Mirror { return c.mirror }
func (c *Controller) Settings() *Settings     { return c.settings }
func (c *Controller) Buffer() *Buffer         { return c.buf }
func (c *Controller) Jogger() *Jogger         { return c.jog }
func (c *Controller) Config() Config          { return c.cfg }

// Run drives the status poll and jog loops until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.jog.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()
	wg.Wait()
}

// SetPolling enables or disables the periodic status request.
func (c *Controller) SetPolling(enabled bool) { c.polling.Store(enabled) }
func (c *Controller) Polling() bool           { return c.polling.Load() }

func (c *Controller) pollLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !c.polling.Load() {
			continue
		}
		if err := c.tr.SendImmediate([]byte{cmdStatus}); err != nil {
			c.log.Error("status poll", "err", err)
		}
	}
}

// Send writes a command line, reserving its bytes in the device buffer
// before the write.
func (c *Controller) Send(p []byte) error {
	line := strings.TrimRight(string(p), "\r\n")
	data := []byte(line + "\n")

	c.sendMx.Lock()
	defer c.sendMx.Unlock()
	c.buf.Reserve(len(data))
	if err := c.tr.Send(data); err != nil {
		c.buf.Unreserve()
		return fmt.Errorf("send '%s': %w", line, err)
	}
	// published under sendMx so the log keeps wire order
	c.Traffic.Publish(Traffic{Time: time.Now(), Direction: DirectionOut, Line: line})
	return nil
}

// SendImmediate writes realtime bytes without buffer accounting.
func (c *Controller) SendImmediate(p []byte) error {
	if err := c.tr.SendImmediate(p); err != nil {
		return fmt.Errorf("send realtime %q: %w", p, err)
	}
	return nil
}

func (c *Controller) sendLine(line string) error { return c.Send([]byte(line)) }

// SendBlock renders and sends an instruction. Motion is refused while the
// machine is in alarm.
func (c *Controller) SendBlock(b gcode.Block) error {
	if s := c.mirror.State(); s == machine.StateAlarm {
		return &machine.StateError{Op: "send", State: s}
	}
	return c.sendLine(c.render.Render(b))
}

// Command sends an operator-entered line. G-code lines also update the
// mirrored modal state.
func (c *Controller) Command(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "$") {
		return c.sendLine(line)
	}
	blocks, err := gcode.Parse(line)
	if err != nil || len(blocks) != 1 {
		return c.sendLine(line)
	}
	if err := c.SendBlock(blocks[0]); err != nil {
		return err
	}
	c.mirror.UpdateContext(func(ctx *machine.MotionContext) { ctx.Apply(blocks[0]) })
	return nil
}

// CanAccept reports whether b fits into the device buffer now.
func (c *Controller) CanAccept(b gcode.Block) bool {
	if c.mirror.State() == machine.StateAlarm {
		return false
	}
	return c.buf.Fits(len(c.render.Render(b)) + 1)
}

// Execute sends a queued instruction.
func (c *Controller) Execute(b gcode.Block) error { return c.SendBlock(b) }

// HandleLine processes one line received from the controller.
func (c *Controller) HandleLine(line string) {
	resp, err := Classify(line, c.cfg.MaxPlannerSlots)
	if err != nil {
		c.log.Warn("ignoring malformed response", "line", line, "err", err)
		return
	}
	if resp.Kind != KindEmpty && resp.Kind != KindStatus {
		c.Traffic.Publish(Traffic{Time: time.Now(), Direction: DirectionIn, Line: resp.Raw})
	}

	switch resp.Kind {
	case KindOK:
		c.handleOK()
	case KindError:
		c.handleError(resp)
	case KindStatus:
		c.handleStatus(resp.Status)
	case KindProbe:
		c.handleProbe(resp.Probe)
	case KindSetting:
		c.handleSetting(resp)
	case KindParserState:
		c.mirror.UpdateContext(func(ctx *machine.MotionContext) { ctx.Apply(resp.ParserState) })
	case KindParameter:
		c.handleParameter(resp.Parameter)
	case KindWelcome:
		c.handleWelcome(resp)
	case KindAlarm:
		c.handleAlarm(resp)
	case KindMessage:
		c.log.Info("grbl message", "message", resp.Message)
	case KindUnknown:
		c.log.Debug("unhandled response", "line", resp.Raw)
	}
}

func (c *Controller) handleStatus(s machine.Status) {
	if c.settings.Bool(SettingReportInches) {
		s = s.Scale(25.4)
	}
	c.mirror.ApplyStatus(s)
}

func (c *Controller) handleProbe(r machine.ProbeResult) {
	if c.settings.Bool(SettingReportInches) {
		r.Point = r.Point.Mul(25.4)
	}
	c.ProbeResults.Publish(r)
	if !c.probes.resolve(r) {
		c.log.Debug("probe result without pending request", "x", r.X, "y", r.Y, "z", r.Z)
	}
}

func (c *Controller) handleSetting(resp Response) {
	if err := c.settings.Receive(resp.SettingID, resp.SettingValue); err != nil {
		c.log.Warn("ignoring setting", "line", resp.Raw, "err", err)
		return
	}
	c.SettingChanged.Publish(SettingChange{ID: normalizeID(resp.SettingID), Value: resp.SettingValue})
}

func (c *Controller) handleParameter(p Parameter) {
	cs, err := machine.ParseCoordinateSystem(p.Name)
	if err != nil {
		return
	}
	pt := p.Point
	if c.settings.Bool(SettingReportInches) {
		pt = pt.Mul(25.4)
	}
	c.mirror.UpdateContext(func(ctx *machine.MotionContext) { ctx.SetOffset(cs, pt) })
}

func (c *Controller) handleAlarm(resp Response) {
	msg := FormatAlarm(resp)
	c.log.Error("grbl alarm", "message", msg)
	c.mirror.SetState(machine.StateAlarm)
	d := machine.NewDiagnostic(machine.SeverityError, "Grbl alarm", "Motion is locked until the machine is unlocked or homed.", msg)
	d.Raw = resp.Raw
	c.Diagnostics.Publish(d)
}

// handleWelcome resets local accounting after the controller restarted
// and reads back its configuration.
func (c *Controller) handleWelcome(resp Response) {
	c.log.Info("controller connected", "version", resp.Message)
	if q := c.Queue(); q.RunState() != machine.RunIdle {
		if err := q.Stop(); err != nil {
			c.log.Error("stop execution after reset", "err", err)
		}
	}
	c.buf.Reset()
	c.mirror.SetPlannerUsed(0)
	c.probes.cancelAll()
	if err := c.refreshAll(); err != nil {
		c.log.Error("initialise connection", "err", err)
	}
}

func (c *Controller) refreshAll() error {
	return errors.Join(
		c.RefreshConfiguration(),
		c.RefreshParameters(),
		c.RefreshParserState(),
	)
}

// RefreshConfiguration requests every setting ("$$").
func (c *Controller) RefreshConfiguration() error { return c.sendLine(cmdSettings) }

// RefreshParameters requests stored offsets ("$#").
func (c *Controller) RefreshParameters() error { return c.sendLine(cmdParameters) }

// RefreshParserState requests the modal state ("$G").
func (c *Controller) RefreshParserState() error { return c.sendLine(cmdParserState) }

// ReadyForStreaming reports whether programs may be executed.
func (c *Controller) ReadyForStreaming() bool {
	s := c.mirror.State()
	return s == machine.StateReady || s == machine.StateCheck
}

// ReadyToProbe reports whether a probe batch may start.
func (c *Controller) ReadyToProbe() bool { return c.ReadyForStreaming() }

func (c *Controller) requireReady(op string) error {
	if !c.ReadyForStreaming() {
		return &machine.StateError{Op: op, State: c.mirror.State()}
	}
	return nil
}

// idleQueue stands in when no execution queue is attached.
type idleQueue struct{}

func (idleQueue) RunState() machine.RunState              { return machine.RunIdle }
func (idleQueue) Begin(machine.Lane) error                { return machine.ErrNoQueue }
func (idleQueue) Pause() error                            { return nil }
func (idleQueue) Resume() error                           { return nil }
func (idleQueue) Stop() error                             { return nil }
func (idleQueue) Clear(machine.Lane) error                { return nil }
func (idleQueue) Add(machine.Lane, machine.Program) error { return machine.ErrNoQueue }
func (idleQueue) ConfirmNext()                            {}
func (idleQueue) FailNext() (gcode.Block, bool)           { return nil, false }
