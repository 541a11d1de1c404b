package grbl

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_SendReserves(t *testing.T) {
	c, rec := newTestController(t)

	require.NoError(t, c.Send([]byte("G0X1")))
	require.NoError(t, c.Send([]byte("G0X10\n")))
	assert.Equal(t, []string{"G0X1\n", "G0X10\n"}, rec.Lines())
	assert.Equal(t, 11, c.Buffer().Used())

	feed(c, "ok")
	assert.Equal(t, 6, c.Buffer().Used())
	feed(c, "ok", "ok")
	assert.Equal(t, 0, c.Buffer().Used())
}

func TestController_SendFailure(t *testing.T) {
	c, rec := newTestController(t)
	rec.err = errors.New("port closed")

	err := c.Send([]byte("G0X1"))
	assert.Error(t, err)
	assert.Equal(t, 0, c.Buffer().Used())
	assert.Equal(t, 0, c.Buffer().Pending())
}

func TestController_TrafficWireOrder(t *testing.T) {
	c, rec := newTestController(t)
	var mx sync.Mutex
	var logged []string
	c.Traffic.Subscribe(func(tr Traffic) {
		mx.Lock()
		logged = append(logged, tr.Line+"\n")
		mx.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, c.Send([]byte(fmt.Sprintf("G0X%dY%d", g, i))))
			}
		}(g)
	}
	wg.Wait()

	mx.Lock()
	defer mx.Unlock()
	assert.Len(t, logged, 100)
	assert.Equal(t, rec.Lines(), logged)
}

func TestController_StateNotifications(t *testing.T) {
	c, _ := newTestController(t)
	var changes []machine.StateChange
	c.Mirror().StateChanged.Subscribe(func(sc machine.StateChange) { changes = append(changes, sc) })

	feed(c, "<Idle|MPos:0.000,0.000,0.000|Bf:15,128>", "<Idle|MPos:0.000,0.000,0.000|Bf:15,128>")
	assert.Len(t, changes, 1)

	feed(c, "<Run|MPos:1.000,0.000,0.000|Bf:14,100>")
	assert.Len(t, changes, 2)
	assert.Equal(t, machine.StateChange{Old: machine.StateReady, New: machine.StateMotionRunning}, changes[1])
	assert.Equal(t, 1, c.Mirror().PlannerUsed())
}

func TestController_ReportInches(t *testing.T) {
	c, _ := newTestController(t)
	feed(c, "$13=1 (report inches, bool)", "<Idle,MPos:1.000,0.000,0.000,WPos:1.000,0.000,0.000>")
	assert.InDelta(t, 25.4, c.Mirror().Snapshot().MPos.X, 1e-9)
}

func TestController_ParserStateAndParameters(t *testing.T) {
	c, _ := newTestController(t)
	feed(c,
		"[G0 G55 G17 G20 G91 G94 M0 M5 M9 T0 F0. S0.]",
		"[G55:1.000,2.000,3.000]",
		"[G28:0.000,0.000,0.000]",
	)
	ctx := c.Mirror().Context()
	assert.Equal(t, machine.G55, ctx.CoordinateSystem)
	assert.Equal(t, machine.DistanceRelative, ctx.Distance)
	assert.Equal(t, machine.UnitInch, ctx.Unit)
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 3}, ctx.Offset(machine.G55))
}

func TestController_Welcome(t *testing.T) {
	c, rec := newTestController(t)
	q := &fakeQueue{state: machine.RunRunning}
	c.SetQueue(q)
	require.NoError(t, c.Send([]byte("G0X1")))

	feed(c, "Grbl 0.9j ['$' for help]")
	assert.Equal(t, machine.RunIdle, q.RunState())
	assert.Equal(t, []string{"G0X1\n", "$$\n", "$#\n", "$G\n"}, rec.Lines())
	assert.Equal(t, 9, c.Buffer().Used())
}

func TestController_Alarm(t *testing.T) {
	c, _ := newTestController(t)
	var diags []machine.Diagnostic
	c.Diagnostics.Subscribe(func(d machine.Diagnostic) { diags = append(diags, d) })

	feed(c, "<Idle>", "ALARM:1")
	assert.Equal(t, machine.StateAlarm, c.Mirror().State())
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "Hard limit")

	err := c.SendBlock(gcode.Block{{W: 'G', Arg: 0}, {W: 'X', Arg: 1}})
	assert.ErrorIs(t, err, machine.ErrNotReady)
	assert.False(t, c.CanAccept(gcode.Block{{W: 'G', Arg: 0}}))

	err = c.StartMotion()
	assert.ErrorIs(t, err, machine.ErrNotReady)

	assert.NoError(t, c.Unlock())
	assert.NoError(t, c.Home())
	assert.Equal(t, machine.StateHoming, c.Mirror().State())
}

func TestController_CheckMode(t *testing.T) {
	c, rec := newTestController(t)

	err := c.SetCheckMode(true)
	var serr *machine.StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, machine.StateUndefined, serr.State)
	assert.Empty(t, rec.Lines())

	feed(c, "<Idle>")
	assert.Error(t, c.SetCheckMode(false))
	assert.NoError(t, c.SetCheckMode(true))

	feed(c, "<Check>")
	assert.Error(t, c.SetCheckMode(true))
	assert.NoError(t, c.SetCheckMode(false))
	assert.Equal(t, []string{"$C\n", "$C\n"}, rec.Lines())
}

func TestController_CoordinateSystems(t *testing.T) {
	c, rec := newTestController(t)

	assert.ErrorIs(t, c.SetCoordinateSystem(machine.G55), machine.ErrNotReady)
	feed(c, "<Idle|MPos:10.000,20.000,5.000|WCO:2.000,3.000,0.000>")

	require.NoError(t, c.SetCoordinateSystem(machine.G55))
	assert.Equal(t, []string{"G55\n", "$G\n"}, rec.Lines())
	assert.ErrorIs(t, c.SetCoordinateSystem(machine.CoordinateSystem(9)), machine.ErrUnknownCoordinateSystem)

	rec.Reset()
	feed(c, "[G54:2.000,3.000,0.000]")
	require.NoError(t, c.ResetCoordinateSystem())
	assert.Equal(t, []string{"G10L2P1X10Y20Z5\n", "$#\n"}, rec.Lines())

	rec.Reset()
	require.NoError(t, c.UpdateCoordinateSystemOffset(machine.G57, coord.Point{X: 1.5}))
	assert.Equal(t, []string{"G10L2P4X1.5Y0Z0\n", "$#\n"}, rec.Lines())

	rec.Reset()
	require.NoError(t, c.ResetZero('Z'))
	assert.Equal(t, []string{"G92Z0\n"}, rec.Lines())
}

func TestController_MotionActions(t *testing.T) {
	c, rec := newTestController(t)
	q := &fakeQueue{}
	c.SetQueue(q)
	feed(c, "<Idle>")

	require.NoError(t, c.StartMotion())
	assert.Equal(t, []machine.Lane{machine.LaneDefault}, q.begun)

	require.NoError(t, c.PauseMotion())
	assert.Equal(t, machine.RunPaused, q.RunState())

	require.NoError(t, c.StartMotion())
	assert.Equal(t, machine.RunRunning, q.RunState())
	assert.Len(t, q.begun, 1)

	require.NoError(t, c.Send([]byte("G1X5")))
	require.NoError(t, c.StopMotion())
	assert.Equal(t, machine.RunIdle, q.RunState())
	assert.Equal(t, 0, c.Buffer().Used())
	assert.Equal(t, []string{"~", "!", "~", "!\x18"}, rec.Immediate())

	// late acknowledgments for cleared commands are ignored
	feed(c, "ok", "ok")
	assert.Equal(t, 0, c.Buffer().Used())
}

func TestController_NoQueue(t *testing.T) {
	c, _ := newTestController(t)
	feed(c, "<Idle>")
	assert.ErrorIs(t, c.StartMotion(), machine.ErrNoQueue)
}
