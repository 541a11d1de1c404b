package trafficlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mastercactapus/grblctl/machine/grbl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	now := time.Date(2026, 10, 15, 12, 0, 0, 123, time.UTC)

	rec.Record(grbl.Traffic{Time: now, Direction: grbl.DirectionOut, Line: "G0X1"})
	rec.Record(grbl.Traffic{Time: now.Add(time.Millisecond), Direction: grbl.DirectionIn, Line: "ok"})
	require.NoError(t, rec.Close())
	rec.Record(grbl.Traffic{Time: now, Direction: grbl.DirectionIn, Line: "ignored"})

	entries, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, grbl.DirectionOut, entries[0].Direction)
	assert.Equal(t, "G0X1", entries[0].Line)
	assert.True(t, now.Equal(entries[0].Time))
	assert.Equal(t, rec.Session(), entries[0].Session)

	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.Equal(t, "ok", entries[1].Line)
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.cbor")

	for i := 0; i < 2; i++ {
		rec, err := Open(path)
		require.NoError(t, err)
		rec.Record(grbl.Traffic{Time: time.Now(), Direction: grbl.DirectionIn, Line: "ok"})
		require.NoError(t, rec.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	entries, err := ReadAll(f)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Session, entries[1].Session)
}
