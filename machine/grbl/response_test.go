package grbl

import (
	"testing"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Status(t *testing.T) {
	resp, err := Classify("<Run,MPos:1.000,2.000,3.000,WPos:0.500,2.000,3.000,Buf:4,RX:17>", 15)
	require.NoError(t, err)
	assert.Equal(t, KindStatus, resp.Kind)
	s := resp.Status
	assert.Equal(t, machine.StateMotionRunning, s.State)
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 3}, s.MPos)
	assert.Equal(t, coord.Point{X: 0.5, Y: 2, Z: 3}, s.WPos)
	assert.True(t, s.HasMPos && s.HasWPos && s.HasPlanner && s.HasRX)
	assert.False(t, s.HasWCO)
	assert.Equal(t, 4, s.PlannerUsed)
	assert.Equal(t, 17, s.RXUsed)

	resp, err = Classify("<Hold:0|MPos:0.000,0.000,-1.000|Bf:12,100|FS:500,0|WCO:1.000,1.000,0.000>", 15)
	require.NoError(t, err)
	s = resp.Status
	assert.Equal(t, machine.StateHold, s.State)
	assert.Equal(t, "Hold:0", s.Mode)
	assert.Equal(t, coord.Point{Z: -1}, s.MPos)
	assert.Equal(t, coord.Point{X: 1, Y: 1}, s.WCO)
	assert.Equal(t, 3, s.PlannerUsed)
	assert.Equal(t, 500.0, s.Feed)

	_, err = Classify("<Idle,MPos:1.000,x,3.000>", 15)
	assert.Error(t, err)
}

func TestClassify_Modes(t *testing.T) {
	modes := map[string]machine.State{
		"Idle":  machine.StateReady,
		"Queue": machine.StateMotionHolding,
		"Run":   machine.StateMotionRunning,
		"Home":  machine.StateHoming,
		"Check": machine.StateCheck,
		"Hold":  machine.StateHold,
		"Alarm": machine.StateAlarm,
		"Door":  machine.StateUndefined,
	}
	for mode, exp := range modes {
		resp, err := Classify("<"+mode+">", 15)
		require.NoError(t, err, mode)
		assert.Equal(t, exp, resp.Status.State, mode)
	}
}

func TestClassify_Acks(t *testing.T) {
	resp, err := Classify("ok\r", 15)
	require.NoError(t, err)
	assert.Equal(t, KindOK, resp.Kind)

	resp, err = Classify("error: Invalid gcode ID:24", 15)
	require.NoError(t, err)
	assert.Equal(t, KindError, resp.Kind)
	assert.Equal(t, 24, resp.ErrorCode)

	resp, err = Classify("error:9", 15)
	require.NoError(t, err)
	assert.Equal(t, 9, resp.ErrorCode)

	resp, err = Classify("error: Bad number format", 15)
	require.NoError(t, err)
	assert.Equal(t, KindError, resp.Kind)
	assert.Equal(t, 0, resp.ErrorCode)
	assert.Equal(t, "Bad number format", resp.Message)
}

func TestClassify_Reports(t *testing.T) {
	resp, err := Classify("$110=500.000 (x max rate, mm/min)", 15)
	require.NoError(t, err)
	assert.Equal(t, KindSetting, resp.Kind)
	assert.Equal(t, "$110", resp.SettingID)
	assert.Equal(t, "500.000", resp.SettingValue)

	resp, err = Classify("[PRB:1.000,2.000,-3.500:1]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindProbe, resp.Kind)
	assert.Equal(t, machine.ProbeResult{Point: coord.Point{X: 1, Y: 2, Z: -3.5}, Valid: true}, resp.Probe)

	resp, err = Classify("[G55:10.000,20.000,0.000]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindParameter, resp.Kind)
	assert.Equal(t, Parameter{Name: "G55", Point: coord.Point{X: 10, Y: 20}}, resp.Parameter)

	resp, err = Classify("[TLO:1.500]", 15)
	require.NoError(t, err)
	assert.Equal(t, 1.5, resp.Parameter.Point.Z)

	resp, err = Classify("[G0 G54 G17 G21 G90 G94 M0 M5 M9 T0 F2540. S0.]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindParserState, resp.Kind)
	assert.Contains(t, resp.ParserState, gcode.Word{W: 'F', Arg: 2540})
	assert.Len(t, resp.ParserState, 12)

	resp, err = Classify("[GC:G0 G55 G17 G20 G91 G94 M5 M9 T0 F0 S0]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindParserState, resp.Kind)

	resp, err = Classify("['$H'|'$X' to unlock]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindMessage, resp.Kind)

	resp, err = Classify("[MSG:Caution: Unlocked]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindMessage, resp.Kind)
	assert.Equal(t, "Caution: Unlocked", resp.Message)
}

func TestClassify_Other(t *testing.T) {
	resp, err := Classify("Grbl 0.9j ['$' for help]", 15)
	require.NoError(t, err)
	assert.Equal(t, KindWelcome, resp.Kind)

	resp, err = Classify("ALARM:2", 15)
	require.NoError(t, err)
	assert.Equal(t, KindAlarm, resp.Kind)
	assert.Equal(t, 2, resp.ErrorCode)

	resp, err = Classify("", 15)
	require.NoError(t, err)
	assert.Equal(t, KindEmpty, resp.Kind)

	resp, err = Classify("garbage", 15)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, resp.Kind)
}

func TestFormatError(t *testing.T) {
	resp, _ := Classify("error: Invalid gcode ID:22", 15)
	assert.Equal(t, "error #22 : Feed rate has not yet been set or is undefined.", FormatError(resp))

	resp, _ = Classify("error: Invalid gcode ID:99", 15)
	assert.Equal(t, "error: Invalid gcode ID:99", FormatError(resp))

	resp, _ = Classify("error: Bad number format", 15)
	assert.Equal(t, "error: Bad number format", FormatError(resp))
}
