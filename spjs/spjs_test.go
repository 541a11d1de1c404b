package spjs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	recv chan string
	send chan string
}

func newFakeServer(t *testing.T) (*fakeServer, string) {
	fs := &fakeServer{recv: make(chan string, 100), send: make(chan string, 100)}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		go func() {
			for msg := range fs.send {
				if ws.WriteMessage(websocket.TextMessage, []byte(msg)) != nil {
					return
				}
			}
		}()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			fs.recv <- string(data)
		}
	}))
	t.Cleanup(srv.Close)
	return fs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (fs *fakeServer) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-fs.recv:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func testClient(url string) *Client {
	return New(url, "/dev/ttyUSB0", Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryDelay: 10 * time.Millisecond,
	})
}

func TestClient(t *testing.T) {
	fs, url := newFakeServer(t)
	c := testClient(url)

	lines := make(chan string, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(l string) { lines <- l }) }()

	assert.Equal(t, "list", fs.next(t))
	fs.send <- `{"SerialPorts":[{"Name":"/dev/ttyS0","IsOpen":false},{"Name":"/dev/ttyUSB0","IsOpen":false}]}`
	assert.Equal(t, "open /dev/ttyUSB0 115200 grbl", fs.next(t))

	require.NoError(t, c.Send([]byte("G0X1\n")))
	assert.Equal(t, `sendjson {"P":"/dev/ttyUSB0","Data":[{"D":"G0X1\n","Id":"cmd_1"}]}`, fs.next(t))

	require.NoError(t, c.SendImmediate([]byte("?")))
	assert.Equal(t, "sendnobuf /dev/ttyUSB0 ?", fs.next(t))

	fs.send <- `{"P":"/dev/ttyUSB0","D":"ok\r\n<Idle|MPos:0.000"}`
	fs.send <- `{"P":"/dev/ttyS0","D":"ignored\n"}`
	fs.send <- `echo`
	fs.send <- `{"P":"/dev/ttyUSB0","D":",0.000,0.000|FS:0,0>\n"}`

	assert.Equal(t, "ok", <-lines)
	assert.Equal(t, "<Idle|MPos:0.000,0.000,0.000|FS:0,0>", <-lines)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, c.Send([]byte("G0X2\n")), ErrClosed)
}

func TestParseMessage(t *testing.T) {
	v, err := parseMessage([]byte(`{"Error":"port not open"}`))
	require.NoError(t, err)
	assert.Equal(t, &ErrorMessage{Error: "port not open"}, v)

	v, err = parseMessage([]byte(`{"Cmd":"Complete","Id":"cmd_a","P":"/dev/ttyUSB0"}`))
	require.NoError(t, err)
	assert.Equal(t, &CmdStatus{Cmd: "Complete", ID: "cmd_a"}, v)

	_, err = parseMessage([]byte(`{"Hello":1}`))
	assert.Error(t, err)
}
