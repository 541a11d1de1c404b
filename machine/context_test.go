package machine

import (
	"testing"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMotionContext_Offset(t *testing.T) {
	var c MotionContext
	assert.Empty(t, c.Offsets())

	assert.Equal(t, coord.Point{}, c.Offset(G56))
	assert.Len(t, c.Offsets(), 1)

	c.SetOffset(G55, coord.Point{X: 1})
	clone := c.Clone()
	clone.SetOffset(G55, coord.Point{X: 2})
	assert.Equal(t, coord.Point{X: 1}, c.Offset(G55))
	assert.Equal(t, coord.Point{X: 2}, clone.Offset(G55))
}

func TestMotionContext_Apply(t *testing.T) {
	c := NewMotionContext()
	blocks := gcode.MustParse("G0 G55 G17 G20 G91 G94 M0 M5 M9 T0 F0 S0")
	require.Len(t, blocks, 1)

	c.Apply(blocks[0])
	assert.Equal(t, DistanceRelative, c.Distance)
	assert.Equal(t, UnitInch, c.Unit)
	assert.Equal(t, G55, c.CoordinateSystem)

	c.Apply(gcode.Block{{W: 'G', Arg: 90}, {W: 'G', Arg: 21}, {W: 'G', Arg: 59.1}})
	assert.Equal(t, DistanceAbsolute, c.Distance)
	assert.Equal(t, UnitMillimeter, c.Unit)
	assert.Equal(t, G55, c.CoordinateSystem)
}

func TestParseCoordinateSystem(t *testing.T) {
	cs, err := ParseCoordinateSystem("g57")
	assert.NoError(t, err)
	assert.Equal(t, G57, cs)
	assert.Equal(t, 4, cs.Index())
	assert.Equal(t, gcode.Word{W: 'G', Arg: 57}, cs.Word())

	_, err = ParseCoordinateSystem("G53")
	assert.ErrorIs(t, err, ErrUnknownCoordinateSystem)
}

func TestUnit(t *testing.T) {
	assert.Equal(t, 1.0, UnitInch.FromMillimeters(25.4))
	assert.Equal(t, 25.4, UnitInch.ToMillimeters(1))
	assert.Equal(t, 3.0, UnitMillimeter.FromMillimeters(3))
}
