// Package trafficlog records the lines exchanged with a controller to a
// CBOR file for later inspection.
package trafficlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/mastercactapus/grblctl/machine/grbl"
)

// Entry is one recorded line.
type Entry struct {
	Seq       uint64         `cbor:"1,keyasint"`
	Time      time.Time      `cbor:"2,keyasint"`
	Session   string         `cbor:"3,keyasint"`
	Direction grbl.Direction `cbor:"4,keyasint"`
	Line      string         `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trafficlog: encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trafficlog: decoder mode: %v", err))
	}
}

// Recorder appends entries to a writer. It is safe for concurrent use.
type Recorder struct {
	w       io.Writer
	enc     *cbor.Encoder
	session string

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewRecorder records to w under a new session id.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{
		w:       w,
		enc:     encMode.NewEncoder(w),
		session: uuid.NewString(),
	}
}

// Open appends to the file at path, creating it if needed.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f), nil
}

func (r *Recorder) Session() string { return r.session }

// Record writes one line. Encoding errors are dropped; recording must
// never disturb the connection.
func (r *Recorder) Record(t grbl.Traffic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	_ = r.enc.Encode(Entry{
		Seq:       r.seq,
		Time:      t.Time,
		Session:   r.session,
		Direction: t.Direction,
		Line:      t.Line,
	})
}

// Close closes the underlying writer, if it is an io.Closer. It is safe
// to call Close more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Reader decodes entries written by a Recorder.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader { return &Reader{dec: decMode.NewDecoder(r)} }

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if err := r.dec.Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// ReadAll decodes every entry of r.
func ReadAll(r io.Reader) ([]Entry, error) {
	rd := NewReader(r)
	var res []Entry
	for {
		e, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res = append(res, e)
	}
}
