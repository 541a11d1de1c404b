// Package spjs connects to a controller through a Serial Port JSON Server
// over a websocket.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("spjs: closed")

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	ID         string `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name            string
	Friendly        string
	SerialNumber    string
	IsOpen          bool
	IsPrimary       bool
	Baud            int
	BufferAlgorithm string
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

type message struct {
	done    chan error
	payload []byte
}

// Options configures a Client.
type Options struct {
	// Baud is used when the client has to open the port itself.
	Baud int
	// RetryDelay separates reconnection attempts.
	RetryDelay time.Duration
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client is a transport to one serial port of an SPJS server.
type Client struct {
	url  string
	port string
	opt  Options
	log  *slog.Logger

	lastID atomic.Int64

	outgoing chan message

	closeOnce sync.Once
	closeCh   chan struct{}

	// partial holds data received after the last newline.
	partial bytes.Buffer
}

// New creates a client for port on the server at url. Nothing happens
// until Run is called.
func New(url, port string, opt Options) *Client {
	if opt.Baud <= 0 {
		opt.Baud = 115200
	}
	if opt.RetryDelay <= 0 {
		opt.RetryDelay = 3 * time.Second
	}
	if opt.Dialer == nil {
		opt.Dialer = websocket.DefaultDialer
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Client{
		url:      url,
		port:     port,
		opt:      opt,
		log:      opt.Logger.With("spjs", url, "port", port),
		outgoing: make(chan message, 1000),
		closeCh:  make(chan struct{}),
	}
}

func (c *Client) nextID() string {
	return "cmd_" + strconv.FormatInt(c.lastID.Add(1), 36)
}

// Close stops Run and fails pending writes.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

// Run keeps a websocket connection to the server, reconnecting on
// failure, and calls fn with every line the port receives. It returns
// when ctx is done or the client is closed; the client is closed after.
func (c *Client) Run(ctx context.Context, fn func(line string)) error {
	defer c.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var nextUp *message
	for {
		c.log.Info("connecting")
		ws, _, err := c.opt.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("connect", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opt.RetryDelay):
			}
			continue
		}
		c.log.Info("connected")
		c.partial.Reset()

		nextUp, err = c.session(ctx, ws, nextUp, fn)
		ws.Close()
		if ctx.Err() != nil {
			if nextUp != nil {
				nextUp.done <- ErrClosed
			}
			return ctx.Err()
		}
		c.log.Error("connection lost", "err", err)
	}
}

// session runs one connection. A message that could not be written is
// returned so it is retried on the next connection.
func (c *Client) session(ctx context.Context, ws *websocket.Conn, nextUp *message, fn func(string)) (*message, error) {
	readErr := make(chan error, 1)
	ports := make(chan SerialPortList, 1)
	go func() { readErr <- c.readLoop(ws, ports, fn) }()

	// always get the port list first
	if err := ws.WriteMessage(websocket.TextMessage, []byte("list")); err != nil {
		return nextUp, err
	}

	for {
		if nextUp != nil {
			if err := ws.WriteMessage(websocket.TextMessage, nextUp.payload); err != nil {
				return nextUp, err
			}
			nextUp.done <- nil
			nextUp = nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErr:
			return nil, err
		case list := <-ports:
			if err := c.ensureOpen(ws, list); err != nil {
				return nil, err
			}
		case m := <-c.outgoing:
			nextUp = &m
		}
	}
}

func (c *Client) ensureOpen(ws *websocket.Conn, list SerialPortList) error {
	for _, p := range list.SerialPorts {
		if p.Name != c.port || p.IsOpen {
			continue
		}
		c.log.Info("opening port", "baud", c.opt.Baud)
		cmd := fmt.Sprintf("open %s %d grbl", c.port, c.opt.Baud)
		return ws.WriteMessage(websocket.TextMessage, []byte(cmd))
	}
	return nil
}

func (c *Client) readLoop(ws *websocket.Conn, ports chan<- SerialPortList, fn func(string)) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			c.log.Warn("ignoring message", "err", err)
			continue
		}
		switch msg := val.(type) {
		case *ErrorMessage:
			c.log.Error("server error", "message", msg.Error)
		case *SerialPortList:
			select {
			case ports <- *msg:
			default:
			}
		case *DataFrame:
			if msg.Port != c.port {
				continue
			}
			c.deliver(msg.Data, fn)
		}
	}
}

// deliver splits frame data into lines; frames may break anywhere.
func (c *Client) deliver(data string, fn func(string)) {
	c.partial.WriteString(data)
	for {
		buf := c.partial.Bytes()
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return
		}
		line := strings.TrimRight(string(buf[:i]), "\r")
		c.partial.Next(i + 1)
		if line != "" {
			fn(line)
		}
	}
}

func (c *Client) enqueue(payload []byte) error {
	m := message{done: make(chan error, 1), payload: payload}
	select {
	case <-c.closeCh:
		return ErrClosed
	case c.outgoing <- m:
	}
	select {
	case <-c.closeCh:
		return ErrClosed
	case err := <-m.done:
		return err
	}
}

// Send queues a command line on the server's buffered queue.
func (c *Client) Send(p []byte) error {
	data, err := json.Marshal(JSON{
		Port: c.port,
		Data: []Data{{Data: string(p), ID: c.nextID()}},
	})
	if err != nil {
		return err
	}
	return c.enqueue(append([]byte("sendjson "), data...))
}

// SendImmediate bypasses the server queue, for realtime bytes.
func (c *Client) SendImmediate(p []byte) error {
	return c.enqueue([]byte("sendnobuf " + c.port + " " + string(p)))
}
