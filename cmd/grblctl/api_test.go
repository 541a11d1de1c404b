package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/machine"
	"github.com/mastercactapus/grblctl/machine/grbl"
	"github.com/mastercactapus/grblctl/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mx    sync.Mutex
	lines []string
}

func (r *recorder) Send(p []byte) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.lines = append(r.lines, strings.TrimSpace(string(p)))
	return nil
}

func (r *recorder) SendImmediate(p []byte) error { return r.Send(p) }

func (r *recorder) Lines() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.lines...)
}

type apiFixture struct {
	rec *recorder
	c   *grbl.Controller
	q   *stream.Queue
	a   *api
	dir string
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recorder{}
	c := grbl.New(rec, grbl.Config{Logger: logger})
	q := stream.New(c, logger)
	c.SetQueue(q)

	cfg := defaultConfig()
	cfg.DataDir = t.TempDir()
	return &apiFixture{rec: rec, c: c, q: q, a: newAPI(c, q, cfg, logger), dir: cfg.DataDir}
}

func (f *apiFixture) do(method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.a.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
	return w
}

func (f *apiFixture) idle() {
	f.c.HandleLine("<Idle|MPos:1.000,2.000,3.000|Bf:15,128|FS:0,0|WCO:0.000,0.000,0.000>")
}

func TestAPI_State(t *testing.T) {
	f := newFixture(t)
	f.idle()

	w := f.do("GET", "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Ready", res["State"])
	assert.Equal(t, "G54", res["CoordinateSystem"])
	assert.Equal(t, map[string]interface{}{"X": 1.0, "Y": 2.0, "Z": 3.0}, res["MPos"])
}

func TestAPI_Command(t *testing.T) {
	f := newFixture(t)
	w := f.do("POST", "/api/command", "$X\n\nG91\n")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"$X", "G91"}, f.rec.Lines())
	assert.Equal(t, machine.DistanceRelative, f.c.Mirror().Context().Distance)
}

func TestAPI_Run(t *testing.T) {
	f := newFixture(t)

	w := f.do("POST", "/api/run", "G0X1\n")
	assert.Equal(t, http.StatusConflict, w.Code)

	f.idle()
	w = f.do("POST", "/api/run?name=part.nc", "G0 X1\nG0 X2\n")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, machine.RunRunning, f.q.RunState())
	assert.Equal(t, "part.nc", f.q.Snapshot().Name)

	f.q.Pump()
	assert.Equal(t, []string{"~", "G0X1", "G0X2"}, f.rec.Lines())

	w = f.do("POST", "/api/run?level=1", "G0X1\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", "/api/motion/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, machine.RunIdle, f.q.RunState())

	w = f.do("POST", "/api/motion/dance", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_Jog(t *testing.T) {
	f := newFixture(t)

	w := f.do("POST", "/api/jog", `{"Axis":"Q"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do("POST", "/api/jog", `{"Axis":"xy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("POST", "/api/jog", `{"Axis":"x","Negative":true}`)
	assert.Equal(t, http.StatusOK, w.Code)

	f.c.HandleLine("ALARM:1")
	w = f.do("POST", "/api/jog", `{"Axis":"x"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do("DELETE", "/api/jog", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_Settings(t *testing.T) {
	f := newFixture(t)
	f.c.HandleLine("$110=500.000 (x max rate, mm/min)")

	w := f.do("GET", "/api/settings/export", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	f.idle()
	w = f.do("GET", "/api/settings/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "$110=500.000\n", w.Body.String())

	w = f.do("GET", "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []settingJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Contains(t, list, settingJSON{ID: "$110", Value: "500.000", Assigned: true})
}

func TestAPI_Coordinates(t *testing.T) {
	f := newFixture(t)
	f.idle()

	w := f.do("POST", "/api/coordinates/G99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("POST", "/api/coordinates/G55", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"G55", "$G"}, f.rec.Lines())
}

func TestAPI_Files(t *testing.T) {
	f := newFixture(t)

	w := f.do("PUT", "/data/jobs/part.nc", "G0X1\n")
	require.Equal(t, http.StatusOK, w.Code)
	data, err := os.ReadFile(filepath.Join(f.dir, "jobs", "part.nc"))
	require.NoError(t, err)
	assert.Equal(t, "G0X1\n", string(data))

	w = f.do("GET", "/data/jobs/part.nc", "")
	assert.Equal(t, "G0X1\n", w.Body.String())

	w = f.do("DELETE", "/data/jobs/part.nc", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err = os.Stat(filepath.Join(f.dir, "jobs", "part.nc"))
	assert.True(t, os.IsNotExist(err))
}

func TestSafePath(t *testing.T) {
	ok, name := safePath("/data", "../../etc/passwd")
	assert.True(t, ok)
	assert.Equal(t, filepath.FromSlash("/data/etc/passwd"), name)
}

func TestAPI_Level(t *testing.T) {
	f := newFixture(t)
	f.idle()

	w := f.do("POST", "/api/level", "G0X1\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	results := []machine.ProbeResult{
		{Point: coord.Point{X: 0, Y: 0, Z: -5}, Valid: true},
		{Point: coord.Point{X: 10, Y: 0, Z: -4}, Valid: true},
		{Point: coord.Point{X: 0, Y: 10, Z: -5}, Valid: true},
		{Point: coord.Point{X: 10, Y: 10, Z: -4}, Valid: true},
	}
	require.NoError(t, f.a.storeHeightMap(results))
	_, err := os.Stat(filepath.Join(f.dir, gridFile))
	require.NoError(t, err)

	// machine starts at 1,2,3 with no work offset, Z is held at 3
	w = f.do("POST", "/api/level", "G90 G1 X3 F100\n")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "G90G1X2F100Z3.2\nG90G1X3F100Z3.3\n", w.Body.String())

	reloaded := newAPI(f.c, f.q, Config{DataDir: f.dir, Jog: defaultConfig().Jog}, f.a.log)
	assert.NotNil(t, reloaded.height)
}
