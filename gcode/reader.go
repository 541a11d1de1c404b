package gcode

import (
	"errors"
	"io"
)

// Reader produces blocks until io.EOF.
type Reader interface {
	Read() (Block, error)
}

// BlocksReader reads from a slice of blocks.
type BlocksReader struct {
	Blocks []Block
	n      int
}

func (b *BlocksReader) Read() (Block, error) {
	if b.n >= len(b.Blocks) {
		return nil, io.EOF
	}

	b.n++
	return b.Blocks[b.n-1], nil
}

// Remaining returns the number of blocks not yet read.
func (b *BlocksReader) Remaining() int { return len(b.Blocks) - b.n }

// ReadAll drains r. Reaching io.EOF is not an error.
func ReadAll(r Reader) ([]Block, error) {
	var res []Block
	for {
		b, err := r.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res = append(res, b)
	}
}
