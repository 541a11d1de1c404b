package gcode

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocksReader(t *testing.T) {
	gr := &BlocksReader{Blocks: MustParse("G21\nG0 X1\n")}
	assert.Equal(t, 2, gr.Remaining())

	b, err := gr.Read()
	require.NoError(t, err)
	assert.Equal(t, "G21", b.String())
	assert.Equal(t, 1, gr.Remaining())

	rest, err := ReadAll(gr)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Equal(t, 0, gr.Remaining())

	_, err = gr.Read()
	assert.Equal(t, io.EOF, err)
}

type failingReader struct{ n int }

func (f *failingReader) Read() (Block, error) {
	if f.n == 0 {
		return nil, errors.New("disk gone")
	}
	f.n--
	return Block{{W: 'M', Arg: 5}}, nil
}

func TestReadAll_Error(t *testing.T) {
	blocks, err := ReadAll(&failingReader{n: 2})
	assert.EqualError(t, err, "disk gone")
	assert.Len(t, blocks, 2)
}
