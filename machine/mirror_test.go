package machine

import (
	"testing"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/stretchr/testify/assert"
)

func TestMirror_ApplyStatus(t *testing.T) {
	m := NewMirror(15)
	var changes []StateChange
	m.StateChanged.Subscribe(func(c StateChange) { changes = append(changes, c) })

	m.ApplyStatus(Status{State: StateReady})
	m.ApplyStatus(Status{State: StateReady})
	assert.Equal(t, []StateChange{{Old: StateUndefined, New: StateReady}}, changes)

	m.ApplyStatus(Status{State: StateMotionRunning})
	assert.Len(t, changes, 2)
	assert.Equal(t, StateChange{Old: StateReady, New: StateMotionRunning}, changes[1])

	m.SetState(StateMotionRunning)
	assert.Len(t, changes, 2)
}

func TestMirror_Positions(t *testing.T) {
	m := NewMirror(15)

	m.ApplyStatus(Status{
		State:   StateReady,
		MPos:    coord.Point{X: 10, Y: 5},
		WPos:    coord.Point{X: 8, Y: 5},
		HasMPos: true, HasWPos: true,
		PlannerUsed: 3, HasPlanner: true,
	})
	snap := m.Snapshot()
	assert.Equal(t, coord.Point{X: 2}, snap.WCO)
	assert.Equal(t, coord.Point{X: 8, Y: 5}, snap.WPos)
	assert.Equal(t, 3, snap.PlannerUsed)

	// a report without WCO keeps the last known offset
	m.ApplyStatus(Status{State: StateReady, MPos: coord.Point{X: 12}, HasMPos: true})
	assert.Equal(t, coord.Point{X: 10}, m.Snapshot().WPos)
	assert.Equal(t, 3, m.PlannerUsed())
}

func TestMirror_IncPlanner(t *testing.T) {
	m := NewMirror(2)
	m.IncPlanner()
	m.IncPlanner()
	m.IncPlanner()
	assert.Equal(t, 2, m.PlannerUsed())

	m.SetPlannerUsed(0)
	assert.Equal(t, 0, m.PlannerUsed())
}
