package heightmap

import (
	"math"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
)

// Surface reports the height offset at a machine position.
type Surface interface {
	OffsetZ(x, y float64) (bool, float64)
}

type flatSurface struct{}

func (flatSurface) OffsetZ(x, y float64) (bool, float64) { return false, 0 }

// Config configures a Leveler.
type Config struct {
	Surface Surface
	// Granularity is the longest XY move, in mm, emitted unsplit.
	Granularity float64

	// MPos and WCO are the machine position and work offset the program
	// starts from.
	MPos, WCO coord.Point

	Reader gcode.Reader
}

// Leveler is a gcode.Reader that splits long moves into segments and
// shifts their Z by the surface height under each segment end.
//
// Surface lookups use machine coordinates, the frame probe results are
// reported in. Moves starting or ending outside the surface pass through
// unchanged.
type Leveler struct {
	granularity float64
	surface     Surface

	buf  []gcode.Block
	bufN int

	splitVM *gcode.VM
	levelVM *gcode.VM

	gr gcode.Reader
}

func NewLeveler(cfg Config) *Leveler {
	l := &Leveler{
		splitVM: gcode.NewVM(),
		levelVM: gcode.NewVM(),

		granularity: cfg.Granularity,
		gr:          cfg.Reader,

		surface: cfg.Surface,
	}
	if l.surface == nil {
		l.surface = flatSurface{}
	}
	if l.granularity <= 0 {
		l.granularity = math.Inf(1)
	}
	l.splitVM.SetMPos(cfg.MPos)
	l.levelVM.SetMPos(cfg.MPos)

	l.splitVM.SetWCO(cfg.WCO)
	l.levelVM.SetWCO(cfg.WCO)

	return l
}

func hasAxis(b gcode.Block) bool {
	for _, w := range b {
		if w.IsAxis() {
			return true
		}
	}
	return false
}

func (l *Leveler) Read() (gcode.Block, error) {
	b, err := l.next()
	if err != nil {
		return nil, err
	}

	oldPos := l.levelVM.MPos()
	err = l.levelVM.Run(b)
	if err != nil {
		return nil, err
	}
	if !hasAxis(b) {
		return b, nil
	}
	newPos := l.levelVM.MPos()

	ok, newOffset := l.surface.OffsetZ(newPos.X, newPos.Y)
	if !ok {
		return b, nil
	}
	unit := 1.0
	if l.levelVM.Inches() {
		unit = 25.4
	}

	b = b.Clone()
	if !l.levelVM.RelativeMotion() {
		return b.SetArg('Z', (l.levelVM.WPos().Z+newOffset)/unit), nil
	}

	ok, oldOffset := l.surface.OffsetZ(oldPos.X, oldPos.Y)
	if !ok || oldOffset == newOffset {
		return b, nil
	}
	_, dz := b.Arg('Z')
	return b.SetArg('Z', dz+(newOffset-oldOffset)/unit), nil
}

// setAxes copies the axes present in b from p, in program units.
func setAxes(b gcode.Block, p coord.Point, unit float64) gcode.Block {
	for _, a := range []byte{'X', 'Y', 'Z'} {
		if ok, _ := b.Arg(a); !ok {
			continue
		}
		v, _ := p.Axis(a)
		b = b.SetArg(a, v/unit)
	}
	return b
}

func (l *Leveler) next() (gcode.Block, error) {
	if len(l.buf)-l.bufN > 0 {
		l.bufN++
		return l.buf[l.bufN-1], nil
	}
	l.buf, l.bufN = l.buf[:0], 0

	b, err := l.gr.Read()
	if err != nil {
		return nil, err
	}

	oldPos := l.splitVM.WPos()
	err = l.splitVM.Run(b)
	if err != nil {
		return nil, err
	}
	newPos := l.splitVM.WPos()
	if oldPos.Equal(newPos) {
		return b, nil
	}
	dist := oldPos.DistanceXY(newPos.X, newPos.Y)
	if dist <= l.granularity {
		return b, nil
	}

	unit := 1.0
	if l.splitVM.Inches() {
		unit = 25.4
	}
	n := int(math.Ceil(dist / l.granularity))
	step := newPos.Sub(oldPos).Div(float64(n))

	if l.splitVM.RelativeMotion() {
		bl := setAxes(b.Clone(), step, unit)
		for i := 1; i <= n; i++ {
			l.buf = append(l.buf, bl)
		}
	} else {
		for i := 1; i <= n; i++ {
			l.buf = append(l.buf, setAxes(b.Clone(), oldPos.Add(step.Mul(float64(i))), unit))
		}
	}

	l.bufN = 1
	return l.buf[0], nil
}
