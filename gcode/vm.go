package gcode

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/grblctl/coord"
)

// ErrPositionUnknown is returned for moves whose end point depends on
// controller state the VM does not track, such as homing or probing.
var ErrPositionUnknown = errors.New("position after block is unknown")

// VM tracks the modal state and position a Grbl controller would have
// after executing a program, in millimetres.
type VM struct {
	pos coord.Point

	// offsets holds G54..G59; g92 is added on top of the active one.
	offsets [6]coord.Point
	g92     coord.Point

	modal [modalGroupCount]float64
	feed  float64
}

// NewVM constructs a VM in the Grbl power-on state.
func NewVM() *VM {
	vm := &VM{}

	vm.modal[ModalGroupMotion] = 0
	vm.modal[ModalGroupCoordinateSystem] = 54
	vm.modal[ModalGroupPlaneSelection] = 17
	vm.modal[ModalGroupDistanceMode] = 90
	vm.modal[ModalGroupArcDistanceMode] = 91.1
	vm.modal[ModalGroupFeedRateMode] = 94
	vm.modal[ModalGroupUnits] = 21
	vm.modal[ModalGroupCutterCompensationMode] = 40
	vm.modal[ModalGroupToolLength] = 49
	vm.modal[ModalGroupControlMode] = 61
	vm.modal[ModalGroupStopping] = 0
	vm.modal[ModalGroupSpindle] = 5
	vm.modal[ModalGroupCoolant] = 9

	return vm
}

func (vm *VM) Inches() bool         { return vm.modal[ModalGroupUnits] == 20 }
func (vm *VM) RelativeMotion() bool { return vm.modal[ModalGroupDistanceMode] == 91 }

// Modal returns the active word of g, e.g. 91 for ModalGroupDistanceMode.
func (vm *VM) Modal(g ModalGroup) float64 { return vm.modal[g] }

// Feed returns the last programmed feed rate in millimetres per minute.
func (vm *VM) Feed() float64 { return vm.feed }

func (vm *VM) active() int { return int(vm.modal[ModalGroupCoordinateSystem]) - 54 }

// WCO returns the work coordinate offset currently in effect.
func (vm *VM) WCO() coord.Point { return vm.offsets[vm.active()].Add(vm.g92) }

func (vm *VM) WPos() coord.Point { return vm.pos.Sub(vm.WCO()) }
func (vm *VM) MPos() coord.Point { return vm.pos }

func (vm *VM) SetMPos(p coord.Point) { vm.pos = p }

// SetWCO makes p the offset of the active coordinate system and clears
// any G92 offset, matching the WCO field of a status report.
func (vm *VM) SetWCO(p coord.Point) {
	vm.offsets[vm.active()] = p
	vm.g92 = coord.Point{}
}

// SetOffset sets the stored offset of a coordinate system, 54 through 59.
func (vm *VM) SetOffset(system int, p coord.Point) error {
	if system < 54 || system > 59 {
		return fmt.Errorf("invalid coordinate system G%d", system)
	}
	vm.offsets[system-54] = p
	return nil
}

// setOffsetFrom handles G10 L2 (store offset) and G10 L20 (offset that
// makes the current position the given work position). P0 selects the
// active system.
func (vm *VM) setOffsetFrom(args Block, mul float64) error {
	_, l := args.Arg('L')
	okP, p := args.Arg('P')
	if !okP || p != float64(int(p)) || p < 0 || p > 6 {
		return errors.New("G10 requires P0 through P6")
	}
	n := int(p) - 1
	if n < 0 {
		n = vm.active()
	}
	g92 := vm.g92
	if n != vm.active() {
		g92 = coord.Point{}
	}

	switch l {
	case 2:
		vm.offsets[n] = applyAxes(vm.offsets[n], args, mul)
	case 20:
		target := applyAxes(vm.pos.Sub(vm.offsets[n]).Sub(g92), args, mul)
		vm.offsets[n] = vm.pos.Sub(g92).Sub(target)
	default:
		return fmt.Errorf("unsupported G10 L%s", FormatFloat(l, 0))
	}
	return nil
}

// applyAxes replaces the axes present in args, scaled by mul.
func applyAxes(p coord.Point, args Block, mul float64) coord.Point {
	for _, g := range args {
		switch g.W {
		case 'X':
			p.X = g.Arg * mul
		case 'Y':
			p.Y = g.Arg * mul
		case 'Z':
			p.Z = g.Arg * mul
		}
	}

	return p
}

func hasAxes(args Block) bool {
	for _, w := range args {
		if w.IsAxis() {
			return true
		}
	}
	return false
}

// Run executes one block. The VM is left unchanged when it returns an
// error.
func (vm *VM) Run(b Block) error {
	if err := b.Validate(); err != nil {
		return err
	}

	next := *vm
	var nonModal Word
	for _, w := range b {
		if !w.Supported() {
			return fmt.Errorf("unsupported word '%s'", w)
		}
		switch g := w.ModalGroup(); g {
		case ModalGroupNone:
		case ModalGroupNonModal:
			if nonModal.W != 0 {
				return fmt.Errorf("'%s' and '%s' are both non-modal commands", nonModal, w)
			}
			nonModal = w
		default:
			next.modal[g] = w.Arg
		}
	}

	mul := 1.0
	if next.Inches() {
		mul = 25.4
	}
	args := b.Args()
	if ok, f := args.Arg('F'); ok {
		next.feed = f * mul
	}

	switch nonModal.Arg {
	case 0:
	case 4:
		*vm = next
		return nil
	case 92:
		if !hasAxes(args) {
			return errors.New("G92 requires at least one axis")
		}
		wpos := next.WPos()
		next.g92 = next.g92.Add(wpos.Sub(applyAxes(wpos, args, mul)))
		*vm = next
		return nil
	case 92.1:
		next.g92 = coord.Point{}
		*vm = next
		return nil
	case 10:
		if err := next.setOffsetFrom(args, mul); err != nil {
			return err
		}
		*vm = next
		return nil
	case 53:
		next.pos = applyAxes(next.pos, args, mul)
		*vm = next
		return nil
	default:
		return fmt.Errorf("'%s': %w", nonModal, ErrPositionUnknown)
	}

	if hasAxes(args) {
		switch m := next.modal[ModalGroupMotion]; {
		case m >= 38 && m < 39:
			return fmt.Errorf("'%s': %w", Word{W: 'G', Arg: m}, ErrPositionUnknown)
		case next.RelativeMotion():
			next.pos = next.pos.Add(applyAxes(coord.Point{}, args, mul))
		default:
			next.pos = applyAxes(next.WPos(), args, mul).Add(next.WCO())
		}
	}

	*vm = next
	return nil
}
