package gcode

import (
	"fmt"
	"strings"
)

type Block []Word

// String renders the block in its compact wire form, e.g. "G1X10F600".
func (b Block) String() string {
	var sb strings.Builder
	for _, w := range b {
		sb.WriteString(w.String())
	}
	return sb.String()
}

func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}
// SetArg updates the first word with letter w, appending one if missing.
func (b Block) SetArg(w byte, val float64) Block {
	for i, g := range b {
		if g.W == w {
			b[i].Arg = val
			return b
		}
	}
	return append(b, Word{W: w, Arg: val})
}

// Has reports whether the block contains the exact word.
func (b Block) Has(w Word) bool {
	for _, g := range b {
		if g == w {
			return true
		}
	}
	return false
}

// Args returns the parameter words of the block: axes, feed, spindle
// speed and the like.
func (b Block) Args() Block {
	res := make(Block, 0, len(b))
	for _, g := range b {
		if g.W != 'G' && g.W != 'M' {
			res = append(res, g)
		}
	}
	return res
}

func (b Block) Clone() Block {
	c := make(Block, len(b))
	copy(c, b)
	return c
}

// Validate rejects blocks that repeat a parameter word or carry two
// commands from the same modal group.
func (b Block) Validate() error {
	var seen [256]bool
	var groups [modalGroupCount]Word

	for _, w := range b {
		if !w.IsValid() {
			return fmt.Errorf("invalid word '%s'", w)
		}
		if w.W == 'G' || w.W == 'M' {
			g := w.ModalGroup()
			if g == ModalGroupNone || g == ModalGroupNonModal {
				continue
			}
			if prev := groups[g]; prev.W != 0 {
				return fmt.Errorf("'%s' and '%s' are both %s commands", prev, w, g)
			}
			groups[g] = w
			continue
		}
		if seen[w.W] {
			return fmt.Errorf("word '%c' repeated in block", w.W)
		}
		seen[w.W] = true
	}

	return nil
}
