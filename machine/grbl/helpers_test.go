package grbl

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
	"github.com/stretchr/testify/mock"
)

type recorder struct {
	mx        sync.Mutex
	lines     []string
	immediate []string
	err       error
}

func (r *recorder) Send(p []byte) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err != nil {
		return r.err
	}
	r.lines = append(r.lines, string(p))
	return nil
}

func (r *recorder) SendImmediate(p []byte) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err != nil {
		return r.err
	}
	r.immediate = append(r.immediate, string(p))
	return nil
}

func (r *recorder) Lines() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recorder) Immediate() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.immediate...)
}

func (r *recorder) Reset() {
	r.mx.Lock()
	r.lines, r.immediate = nil, nil
	r.mx.Unlock()
}

// fakeQueue keeps just enough state to observe the bridge.
type fakeQueue struct {
	mx        sync.Mutex
	state     machine.RunState
	sent      []gcode.Block
	confirmed int
	failed    []gcode.Block
	lanes     map[machine.Lane][]machine.Program
	begun     []machine.Lane
}

func (q *fakeQueue) RunState() machine.RunState {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.state
}

func (q *fakeQueue) Begin(l machine.Lane) error {
	q.mx.Lock()
	defer q.mx.Unlock()
	q.begun = append(q.begun, l)
	q.state = machine.RunRunning
	for _, p := range q.lanes[l] {
		q.sent = append(q.sent, p.Blocks...)
	}
	return nil
}

func (q *fakeQueue) Pause() error {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.state == machine.RunRunning {
		q.state = machine.RunPaused
	}
	return nil
}

func (q *fakeQueue) Resume() error {
	q.mx.Lock()
	defer q.mx.Unlock()
	q.state = machine.RunRunning
	return nil
}

func (q *fakeQueue) Stop() error {
	q.mx.Lock()
	defer q.mx.Unlock()
	q.state = machine.RunIdle
	q.sent = nil
	return nil
}

func (q *fakeQueue) Clear(l machine.Lane) error {
	q.mx.Lock()
	defer q.mx.Unlock()
	delete(q.lanes, l)
	return nil
}

func (q *fakeQueue) Add(l machine.Lane, p machine.Program) error {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.lanes == nil {
		q.lanes = make(map[machine.Lane][]machine.Program)
	}
	q.lanes[l] = append(q.lanes[l], p)
	return nil
}

func (q *fakeQueue) ConfirmNext() {
	q.mx.Lock()
	defer q.mx.Unlock()
	q.confirmed++
	if len(q.sent) > 0 {
		q.sent = q.sent[1:]
	}
}

func (q *fakeQueue) FailNext() (gcode.Block, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()
	if len(q.sent) == 0 {
		return nil, false
	}
	b := q.sent[0]
	q.sent = q.sent[1:]
	q.failed = append(q.failed, b)
	return b, true
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) RunState() machine.RunState { return m.Called().Get(0).(machine.RunState) }
func (m *mockQueue) Begin(l machine.Lane) error { return m.Called(l).Error(0) }
func (m *mockQueue) Pause() error               { return m.Called().Error(0) }
func (m *mockQueue) Resume() error              { return m.Called().Error(0) }
func (m *mockQueue) Stop() error                { return m.Called().Error(0) }
func (m *mockQueue) Clear(l machine.Lane) error { return m.Called(l).Error(0) }
func (m *mockQueue) Add(l machine.Lane, p machine.Program) error {
	return m.Called(l, p).Error(0)
}
func (m *mockQueue) ConfirmNext() { m.Called() }
func (m *mockQueue) FailNext() (gcode.Block, bool) {
	args := m.Called()
	b, _ := args.Get(0).(gcode.Block)
	return b, args.Bool(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := New(rec, Config{Logger: testLogger()})
	return c, rec
}

// feed passes device lines to the controller.
func feed(c *Controller, lines ...string) {
	for _, l := range lines {
		c.HandleLine(l)
	}
}
