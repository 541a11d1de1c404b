// Package stream feeds programs to a controller, one lane at a time,
// as fast as the controller's buffer allows.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mastercactapus/grblctl/event"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
)

var (
	ErrEmptyLane  = errors.New("lane is empty")
	ErrBusy       = errors.New("execution in progress")
	ErrNotRunning = errors.New("no execution in progress")
)

// Progress describes the position of the active run.
type Progress struct {
	Lane      machine.Lane
	Name      string
	State     machine.RunState
	Total     int
	Sent      int
	Confirmed int
	Failed    int
}

type lane struct {
	names  []string
	blocks []gcode.Block
}

func (l *lane) name() string {
	switch len(l.names) {
	case 0:
		return ""
	case 1:
		return l.names[0]
	}
	return fmt.Sprintf("%s (+%d)", l.names[0], len(l.names)-1)
}

// Queue is an in-process machine.ExecutionQueue.
type Queue struct {
	exec machine.Executor
	log  *slog.Logger

	mx     sync.Mutex
	lanes  map[machine.Lane]*lane
	state  machine.RunState
	active machine.Lane
	cursor int
	// sent holds blocks written but not yet acknowledged, oldest first.
	sent      []gcode.Block
	confirmed int
	failed    int

	wake chan struct{}

	Progress event.Topic[Progress]
}

// New creates a queue feeding exec. A nil logger uses slog.Default.
func New(exec machine.Executor, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		exec:  exec,
		log:   log,
		lanes: make(map[machine.Lane]*lane),
		wake:  make(chan struct{}, 1),
	}
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// progress must be called with mx held.
func (q *Queue) progress() Progress {
	p := Progress{
		Lane:      q.active,
		State:     q.state,
		Sent:      q.cursor,
		Confirmed: q.confirmed,
		Failed:    q.failed,
	}
	if l := q.lanes[q.active]; l != nil {
		p.Name = l.name()
		p.Total = len(l.blocks)
	}
	return p
}

func (q *Queue) unlockAndPublish() {
	p := q.progress()
	q.mx.Unlock()
	q.Progress.Publish(p)
}

func (q *Queue) RunState() machine.RunState {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.state
}

// Snapshot returns the current progress.
func (q *Queue) Snapshot() Progress {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.progress()
}

// Begin starts executing lane from its first instruction.
func (q *Queue) Begin(l machine.Lane) error {
	q.mx.Lock()
	if q.state.Active() {
		q.mx.Unlock()
		return ErrBusy
	}
	if ln := q.lanes[l]; ln == nil || len(ln.blocks) == 0 {
		q.mx.Unlock()
		return fmt.Errorf("begin %s lane: %w", l, ErrEmptyLane)
	}
	q.active = l
	q.cursor, q.confirmed, q.failed = 0, 0, 0
	q.sent = nil
	q.state = machine.RunRunning
	q.log.Info("execution started", "lane", l, "program", q.lanes[l].name())
	q.unlockAndPublish()
	q.notify()
	return nil
}

func (q *Queue) Pause() error {
	q.mx.Lock()
	if q.state != machine.RunRunning {
		q.mx.Unlock()
		return ErrNotRunning
	}
	q.state = machine.RunPaused
	q.unlockAndPublish()
	return nil
}

// Resume continues a paused or failed run.
func (q *Queue) Resume() error {
	q.mx.Lock()
	if q.state != machine.RunPaused && q.state != machine.RunError {
		q.mx.Unlock()
		return ErrNotRunning
	}
	q.state = machine.RunRunning
	q.complete()
	q.unlockAndPublish()
	q.notify()
	return nil
}

// Stop abandons the run. Programs stay in their lanes.
func (q *Queue) Stop() error {
	q.mx.Lock()
	if q.state == machine.RunIdle {
		q.mx.Unlock()
		return nil
	}
	q.state = machine.RunIdle
	q.sent = nil
	q.log.Info("execution stopped", "lane", q.active, "sent", q.cursor, "confirmed", q.confirmed)
	q.unlockAndPublish()
	return nil
}

// Clear removes every program from l. The lane of an active run cannot be
// cleared.
func (q *Queue) Clear(l machine.Lane) error {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.state.Active() && q.active == l {
		return fmt.Errorf("clear %s lane: %w", l, ErrBusy)
	}
	delete(q.lanes, l)
	return nil
}

// Add appends a program to l.
func (q *Queue) Add(l machine.Lane, p machine.Program) error {
	if len(p.Blocks) == 0 {
		return fmt.Errorf("add '%s': %w", p.Name, ErrEmptyLane)
	}
	q.mx.Lock()
	defer q.mx.Unlock()
	ln := q.lanes[l]
	if ln == nil {
		ln = &lane{}
		q.lanes[l] = ln
	}
	ln.names = append(ln.names, p.Name)
	ln.blocks = append(ln.blocks, p.Blocks...)
	return nil
}

func (q *Queue) ConfirmNext() {
	q.mx.Lock()
	if len(q.sent) == 0 {
		q.mx.Unlock()
		return
	}
	q.sent = q.sent[1:]
	q.confirmed++
	q.complete()
	q.unlockAndPublish()
	q.notify()
}

func (q *Queue) FailNext() (gcode.Block, bool) {
	q.mx.Lock()
	if len(q.sent) == 0 {
		q.mx.Unlock()
		return nil, false
	}
	b := q.sent[0]
	q.sent = q.sent[1:]
	q.failed++
	q.complete()
	q.unlockAndPublish()
	q.notify()
	return b, true
}

// complete ends a run once every instruction was sent and answered. It
// must be called with mx held.
func (q *Queue) complete() {
	if q.state != machine.RunRunning || len(q.sent) > 0 {
		return
	}
	if l := q.lanes[q.active]; l != nil && q.cursor < len(l.blocks) {
		return
	}
	q.state = machine.RunIdle
	q.log.Info("execution complete", "lane", q.active, "confirmed", q.confirmed, "failed", q.failed)
}

// finish ends a running run that has nothing left to send or confirm.
func (q *Queue) finish() {
	q.mx.Lock()
	if q.state != machine.RunRunning {
		q.mx.Unlock()
		return
	}
	q.complete()
	if q.state == machine.RunRunning {
		q.mx.Unlock()
		return
	}
	q.unlockAndPublish()
}

// next reserves the next instruction of the running lane, if any.
func (q *Queue) next() (gcode.Block, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.state != machine.RunRunning {
		return nil, false
	}
	l := q.lanes[q.active]
	if l == nil || q.cursor >= len(l.blocks) {
		return nil, false
	}
	b := l.blocks[q.cursor]
	if !q.exec.CanAccept(b) {
		return nil, false
	}
	q.cursor++
	q.sent = append(q.sent, b)
	return b, true
}

// Pump sends instructions until the executor is full or the run stops,
// and returns the number sent.
func (q *Queue) Pump() int {
	var n int
	for {
		b, ok := q.next()
		if !ok {
			q.finish()
			return n
		}
		if err := q.exec.Execute(b); err != nil {
			q.log.Error("execute", "block", b.String(), "err", err)
			q.mx.Lock()
			q.cursor--
			if len(q.sent) > 0 {
				q.sent = q.sent[:len(q.sent)-1]
			}
			q.state = machine.RunError
			q.unlockAndPublish()
			return n
		}
		n++
		q.mx.Lock()
		q.unlockAndPublish()
	}
}

// Run feeds the executor whenever the queue changes, and at least every
// interval. It returns when ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-t.C:
		}
		q.Pump()
	}
}

// Kick wakes Run, for when the executor freed capacity outside of the
// queue's knowledge.
func (q *Queue) Kick() { q.notify() }
