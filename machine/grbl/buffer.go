package grbl

import (
	"sync"
	"sync/atomic"
)

// Buffer accounts for the bytes of sent commands the controller has not
// acknowledged yet.
//
// Reservations are released strictly in the order they were made, since
// the controller acknowledges lines in the order it received them.
type Buffer struct {
	capacity int

	mx    sync.Mutex
	sizes []int
	used  atomic.Int64
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Reserve records n bytes as in flight. It never blocks or fails; callers
// consult Used or Fits before sending optional commands.
func (b *Buffer) Reserve(n int) {
	b.mx.Lock()
	b.sizes = append(b.sizes, n)
	b.used.Add(int64(n))
	b.mx.Unlock()
}

// Release frees the oldest reservation. It is a no-op when nothing is
// reserved, e.g. for an acknowledgment that arrives after Reset.
func (b *Buffer) Release() (int, bool) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.sizes) == 0 {
		return 0, false
	}
	n := b.sizes[0]
	b.sizes = b.sizes[1:]
	b.used.Add(-int64(n))
	return n, true
}

// Unreserve drops the newest reservation, for a write that never reached
// the device.
func (b *Buffer) Unreserve() {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.sizes) == 0 {
		return
	}
	n := b.sizes[len(b.sizes)-1]
	b.sizes = b.sizes[:len(b.sizes)-1]
	b.used.Add(-int64(n))
}

// Reset discards every reservation.
func (b *Buffer) Reset() {
	b.mx.Lock()
	b.sizes = nil
	b.used.Store(0)
	b.mx.Unlock()
}

// Used returns the number of reserved bytes.
func (b *Buffer) Used() int { return int(b.used.Load()) }

// Pending returns the number of outstanding reservations.
func (b *Buffer) Pending() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.sizes)
}

func (b *Buffer) Capacity() int { return b.capacity }

// Fits reports whether n more bytes fit in the device buffer.
func (b *Buffer) Fits(n int) bool {
	return b.Used()+n <= b.capacity
}
