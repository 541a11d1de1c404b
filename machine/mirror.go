package machine

import (
	"sync"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/event"
)

// Snapshot is a consistent copy of the mirrored device state.
type Snapshot struct {
	State       State
	Mode        string
	MPos        coord.Point
	WPos        coord.Point
	WCO         coord.Point
	PlannerUsed int
	Feed        float64
	Context     MotionContext `json:"-"`
}

// Mirror holds the local copy of device state.
//
// Status reports are applied from the response path; any goroutine may
// read a snapshot.
type Mirror struct {
	mx sync.RWMutex

	state       State
	mode        string
	mpos, wco   coord.Point
	plannerUsed int
	plannerMax  int
	feed        float64
	ctx         MotionContext

	StateChanged event.Topic[StateChange]
}

// NewMirror creates a mirror in StateUndefined. plannerMax bounds the
// locally counted planner depth; zero disables the bound.
func NewMirror(plannerMax int) *Mirror {
	return &Mirror{plannerMax: plannerMax, ctx: NewMotionContext()}
}

// ApplyStatus applies a status report and notifies listeners when the
// state changed.
func (m *Mirror) ApplyStatus(s Status) {
	m.mx.Lock()
	switch {
	case s.HasWCO:
		m.wco = s.WCO
	case s.HasMPos && s.HasWPos:
		m.wco = s.MPos.Sub(s.WPos)
	}
	switch {
	case s.HasMPos:
		m.mpos = s.MPos
	case s.HasWPos:
		m.mpos = s.WPos.Add(m.wco)
	}
	if s.HasPlanner {
		m.plannerUsed = s.PlannerUsed
	}
	if s.HasFeed {
		m.feed = s.Feed
	}
	m.mode = s.Mode
	change, changed := m.setStateLocked(s.State)
	m.mx.Unlock()

	if changed {
		m.StateChanged.Publish(change)
	}
}

// SetState forces the state, used for protocol events such as a reset.
func (m *Mirror) SetState(s State) {
	m.mx.Lock()
	change, changed := m.setStateLocked(s)
	m.mx.Unlock()

	if changed {
		m.StateChanged.Publish(change)
	}
}

func (m *Mirror) setStateLocked(s State) (StateChange, bool) {
	if m.state == s {
		return StateChange{}, false
	}
	change := StateChange{Old: m.state, New: s}
	m.state = s
	return change, true
}

func (m *Mirror) State() State {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.state
}

func (m *Mirror) Snapshot() Snapshot {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return Snapshot{
		State:       m.state,
		Mode:        m.mode,
		MPos:        m.mpos,
		WPos:        m.mpos.Sub(m.wco),
		WCO:         m.wco,
		PlannerUsed: m.plannerUsed,
		Feed:        m.feed,
		Context:     m.ctx.Clone(),
	}
}

func (m *Mirror) PlannerUsed() int {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.plannerUsed
}

func (m *Mirror) SetPlannerUsed(n int) {
	m.mx.Lock()
	m.plannerUsed = n
	m.mx.Unlock()
}

// IncPlanner counts one more block in the planner.
func (m *Mirror) IncPlanner() {
	m.mx.Lock()
	m.plannerUsed++
	if m.plannerMax > 0 && m.plannerUsed > m.plannerMax {
		m.plannerUsed = m.plannerMax
	}
	m.mx.Unlock()
}

// Context returns a copy of the motion context.
func (m *Mirror) Context() MotionContext {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.ctx.Clone()
}

// UpdateContext mutates the motion context under the mirror lock.
func (m *Mirror) UpdateContext(fn func(*MotionContext)) {
	m.mx.Lock()
	fn(&m.ctx)
	m.mx.Unlock()
}

// Offset returns the stored offset of cs.
func (m *Mirror) Offset(cs CoordinateSystem) coord.Point {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.ctx.Offset(cs)
}
