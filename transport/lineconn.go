package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("transport closed")

// LineConn is a line oriented connection to a controller over any
// ReadWriter, typically a serial port.
//
// Writes are serialized; no buffer accounting happens here.
type LineConn struct {
	rw io.ReadWriter

	mx sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewLineConn creates a new LineConn using the provided ReadWriter for data.
func NewLineConn(rw io.ReadWriter) *LineConn {
	return &LineConn{
		rw:      rw,
		closeCh: make(chan struct{}),
	}
}

// Close will abort ReadLines and close the underlying ReadWriter, if it
// implements io.Closer.
func (c *LineConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

func (c *LineConn) closed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *LineConn) write(p []byte) error {
	if c.closed() {
		return ErrClosed
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	_, err := c.rw.Write(p)
	return err
}

// Send writes a complete command line.
func (c *LineConn) Send(p []byte) error { return c.write(p) }

// SendImmediate writes realtime bytes like `?` directly to the device.
func (c *LineConn) SendImmediate(p []byte) error { return c.write(p) }

func splitLinesKeepN(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// cleanLine drops line endings and anything outside printable ASCII.
func cleanLine(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		if b < ' ' || b > '~' {
			continue
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

// ReadLines calls fn with each line received from the device until the
// connection fails, is closed, or ctx is done. Cancelling ctx closes the
// connection.
func (c *LineConn) ReadLines(ctx context.Context, fn func(line string)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	scan := bufio.NewScanner(c.rw)
	scan.Split(splitLinesKeepN)
	for scan.Scan() {
		line := cleanLine(scan.Bytes())
		if line == "" {
			continue
		}
		fn(line)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.closed() {
		return ErrClosed
	}
	if err := scan.Err(); err != nil {
		return err
	}
	return io.EOF
}
