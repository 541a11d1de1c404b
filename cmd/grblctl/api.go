package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/heightmap"
	"github.com/mastercactapus/grblctl/machine"
	"github.com/mastercactapus/grblctl/machine/grbl"
	"github.com/mastercactapus/grblctl/stream"
	"github.com/mastercactapus/grblctl/transport"
)

const gridFile = "grid.json"

type api struct {
	http.Handler
	c       *grbl.Controller
	q       *stream.Queue
	dataDir string
	jog     JogDefaults
	log     *slog.Logger
	sse     *sse.Server

	mx     sync.Mutex
	height *heightmap.Map
}

func newAPI(c *grbl.Controller, q *stream.Queue, cfg Config, logger *slog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		c:       c,
		q:       q,
		dataDir: cfg.DataDir,
		jog:     cfg.Jog,
		log:     logger,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}
	a.loadHeightMap()

	fs := http.FileServer(http.Dir(cfg.DataDir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	r.HandleFunc("/api/state", a.state).Methods("GET")
	r.HandleFunc("/api/ports", a.ports).Methods("GET")
	r.HandleFunc("/api/command", a.command).Methods("POST")
	r.HandleFunc("/api/run", a.run).Methods("POST")
	r.HandleFunc("/api/level", a.levelProgram).Methods("POST")
	r.HandleFunc("/api/motion/{action}", a.motion).Methods("POST")
	r.HandleFunc("/api/jog", a.startJog).Methods("POST")
	r.HandleFunc("/api/jog", a.stopJog).Methods("DELETE")
	r.HandleFunc("/api/probe", a.probe).Methods("POST")
	r.HandleFunc("/api/check", a.checkMode).Methods("PUT")
	r.HandleFunc("/api/polling", a.polling).Methods("PUT")
	r.HandleFunc("/api/zero", a.zero).Methods("POST")
	r.HandleFunc("/api/coordinates/{cs}", a.selectCoordinates).Methods("POST")
	r.HandleFunc("/api/coordinates/{cs}", a.updateCoordinates).Methods("PUT")
	r.HandleFunc("/api/settings", a.settings).Methods("GET")
	r.HandleFunc("/api/settings/export", a.exportSettings).Methods("GET")
	r.HandleFunc("/api/settings/import", a.importSettings).Methods("POST")

	r.PathPrefix("/events/").Handler(a.sse)

	return a
}

func (a *api) publish(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		a.log.Error("marshal event", "channel", channel, "err", err)
		return
	}
	a.sse.SendMessage("/events/"+channel, sse.SimpleMessage(string(data)))
}

// forward pushes controller events to browsers until ctx is done. Status
// is pushed every interval since positions change without a state change.
func (a *api) forward(ctx context.Context, interval time.Duration) {
	cancels := []func(){
		a.c.Mirror().StateChanged.Subscribe(func(s machine.StateChange) { a.publish("state", s) }),
		a.c.Diagnostics.Subscribe(func(d machine.Diagnostic) { a.publish("diagnostics", d) }),
		a.c.SettingChanged.Subscribe(func(s grbl.SettingChange) { a.publish("settings", s) }),
		a.c.ProbeResults.Subscribe(func(r machine.ProbeResult) { a.publish("probe", r) }),
		a.c.Traffic.Subscribe(func(t grbl.Traffic) { a.publish("console", t) }),
		a.q.Progress.Subscribe(func(p stream.Progress) { a.publish("progress", p) }),
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.publish("status", a.c.Mirror().Snapshot())
		}
	}
}

func (a *api) httpError(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, machine.ErrNotReady), errors.Is(err, stream.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled):
		code = http.StatusRequestTimeout
	}
	a.log.Error(op, "err", err)
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return false, ""
	}
	dir := string(base)
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

type stateResponse struct {
	machine.Snapshot
	Distance         machine.DistanceMode
	Unit             string
	CoordinateSystem machine.CoordinateSystem
	Offsets          map[machine.CoordinateSystem]coord.Point
	Run              stream.Progress
	Polling          bool
	PendingProbes    int
	BufferUsed       int
	HeightMap        bool
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	snap := a.c.Mirror().Snapshot()
	a.mx.Lock()
	hasMap := a.height != nil
	a.mx.Unlock()
	writeJSON(w, stateResponse{
		Snapshot:         snap,
		Distance:         snap.Context.Distance,
		Unit:             snap.Context.Unit.String(),
		CoordinateSystem: snap.Context.CoordinateSystem,
		Offsets:          snap.Context.Offsets(),
		Run:              a.q.Snapshot(),
		Polling:          a.c.Polling(),
		PendingProbes:    a.c.PendingProbes(),
		BufferUsed:       a.c.Buffer().Used(),
		HeightMap:        hasMap,
	})
}

func (a *api) ports(w http.ResponseWriter, req *http.Request) {
	ports, err := transport.ListPorts()
	if err != nil {
		a.httpError(w, "list ports", err)
		return
	}
	writeJSON(w, ports)
}

func readLines(req *http.Request) ([]string, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(data), "\n")
	p := parts[:0]
	for _, str := range parts {
		str = strings.TrimSpace(str)
		if str == "" {
			continue
		}
		p = append(p, str)
	}
	return p, nil
}

func (a *api) command(w http.ResponseWriter, req *http.Request) {
	lines, err := readLines(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, l := range lines {
		if err := a.c.Command(l); err != nil {
			a.httpError(w, "command", err)
			return
		}
	}
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	if !a.c.ReadyForStreaming() {
		a.httpError(w, "run", &machine.StateError{Op: "run", State: a.c.Mirror().State()})
		return
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blocks, err := gcode.Parse(string(data))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.FormValue("level") == "1" {
		blocks, err = a.level(blocks)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	name := req.FormValue("name")
	if name == "" {
		name = "program"
	}
	if err := a.q.Clear(machine.LaneDefault); err != nil {
		a.httpError(w, "run", err)
		return
	}
	if err := a.q.Add(machine.LaneDefault, machine.Program{Name: name, Blocks: blocks}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.c.StartMotion(); err != nil {
		a.httpError(w, "run", err)
		return
	}
	writeJSON(w, a.q.Snapshot())
}

// leveler wraps blocks in a height map leveler starting from the current
// machine position.
func (a *api) leveler(blocks []gcode.Block) (gcode.Reader, error) {
	a.mx.Lock()
	m := a.height
	a.mx.Unlock()
	if m == nil {
		return nil, errors.New("no height map has been probed")
	}

	snap := a.c.Mirror().Snapshot()
	return heightmap.NewLeveler(heightmap.Config{
		Surface:     m.Relative(m.Points()[0].Z),
		Granularity: 1,
		MPos:        snap.MPos,
		WCO:         snap.WCO,
		Reader:      &gcode.BlocksReader{Blocks: blocks},
	}), nil
}

func (a *api) level(blocks []gcode.Block) ([]gcode.Block, error) {
	r, err := a.leveler(blocks)
	if err != nil {
		return nil, err
	}
	return gcode.ReadAll(r)
}

// levelProgram returns the leveled text of the posted program without
// running it.
func (a *api) levelProgram(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blocks, err := gcode.Parse(string(data))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r, err := a.leveler(blocks)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if _, err := io.Copy(w, gcode.NewBuffer(r)); err != nil && err != io.EOF {
		a.log.Error("level program", "err", err)
	}
}

func (a *api) motion(w http.ResponseWriter, req *http.Request) {
	var err error
	switch mux.Vars(req)["action"] {
	case "start":
		err = a.c.StartMotion()
	case "pause":
		err = a.c.PauseMotion()
	case "resume":
		err = a.c.ResumeMotion()
	case "stop":
		err = a.c.StopMotion()
	case "home":
		err = a.c.Home()
	case "unlock":
		err = a.c.Unlock()
	case "reset":
		err = a.c.Reset()
	default:
		http.NotFound(w, req)
		return
	}
	if err != nil {
		a.httpError(w, "motion", err)
	}
}

func (a *api) startJog(w http.ResponseWriter, req *http.Request) {
	jr := machine.JogRequest{Feed: a.jog.Feed, Step: a.jog.Step, Precise: a.jog.Precise}
	var body struct {
		Axis     string
		Negative bool
		Step     *float64
		Feed     *float64
		Precise  *bool
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body.Axis) != 1 {
		http.Error(w, "axis must be one of X, Y or Z", http.StatusBadRequest)
		return
	}
	jr.Axis = strings.ToUpper(body.Axis)[0]
	jr.Negative = body.Negative
	if body.Step != nil {
		jr.Step = *body.Step
	}
	if body.Feed != nil {
		jr.Feed = *body.Feed
	}
	if body.Precise != nil {
		jr.Precise = *body.Precise
	}
	if err := a.c.Jogger().Enable(jr); err != nil {
		if errors.Is(err, machine.ErrNotReady) {
			a.httpError(w, "jog", err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (a *api) stopJog(w http.ResponseWriter, req *http.Request) {
	a.c.Jogger().Disable()
}

type probeBody struct {
	Requests []machine.ProbeRequest
	Grid     *machine.GridOptions
}

func (a *api) probe(w http.ResponseWriter, req *http.Request) {
	var body probeBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reqs := body.Requests
	if body.Grid != nil {
		var err error
		reqs, err = body.Grid.Requests()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	batch, err := a.c.Probe(reqs)
	if err != nil {
		a.httpError(w, "probe", err)
		return
	}
	res, err := batch.Wait(req.Context())
	if err != nil {
		batch.Cancel()
		a.httpError(w, "probe", err)
		return
	}

	if body.Grid != nil {
		if err := a.storeHeightMap(res); err != nil {
			a.httpError(w, "store height map", err)
			return
		}
	}
	writeJSON(w, res)
}

func (a *api) storeHeightMap(res []machine.ProbeResult) error {
	m, err := heightmap.FromResults(res)
	if err != nil {
		return err
	}
	ok, name := safePath(a.dataDir, gridFile)
	if !ok {
		return errors.New("invalid data directory")
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := m.Save(f); err != nil {
		return err
	}

	a.mx.Lock()
	a.height = m
	a.mx.Unlock()
	return nil
}

func (a *api) loadHeightMap() {
	_, name := safePath(a.dataDir, gridFile)
	f, err := os.Open(name)
	if err != nil {
		return
	}
	defer f.Close()
	m, err := heightmap.Load(f)
	if err != nil {
		a.log.Warn("ignoring stored height map", "file", name, "err", err)
		return
	}
	a.height = m
}

func (a *api) checkMode(w http.ResponseWriter, req *http.Request) {
	if err := a.c.SetCheckMode(req.FormValue("enable") == "1"); err != nil {
		a.httpError(w, "check mode", err)
	}
}

func (a *api) polling(w http.ResponseWriter, req *http.Request) {
	a.c.SetPolling(req.FormValue("enable") == "1")
}

func (a *api) zero(w http.ResponseWriter, req *http.Request) {
	axes := []byte(strings.ToUpper(req.FormValue("axes")))
	if err := a.c.ResetZero(axes...); err != nil {
		a.httpError(w, "zero", err)
	}
}

func (a *api) coordinateSystem(w http.ResponseWriter, req *http.Request) (machine.CoordinateSystem, bool) {
	cs, err := machine.ParseCoordinateSystem(mux.Vars(req)["cs"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return 0, false
	}
	return cs, true
}

func (a *api) selectCoordinates(w http.ResponseWriter, req *http.Request) {
	cs, ok := a.coordinateSystem(w, req)
	if !ok {
		return
	}
	if err := a.c.SetCoordinateSystem(cs); err != nil {
		a.httpError(w, "select coordinate system", err)
	}
}

func (a *api) updateCoordinates(w http.ResponseWriter, req *http.Request) {
	cs, ok := a.coordinateSystem(w, req)
	if !ok {
		return
	}
	var p coord.Point
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.c.UpdateCoordinateSystemOffset(cs, p); err != nil {
		a.httpError(w, "update coordinate system", err)
	}
}

type settingJSON struct {
	ID       string `json:"id"`
	Value    string `json:"value"`
	ReadOnly bool   `json:"readOnly"`
	Assigned bool   `json:"assigned"`
}

func (a *api) settings(w http.ResponseWriter, req *http.Request) {
	var res []settingJSON
	for _, e := range a.c.Settings().All() {
		res = append(res, settingJSON{
			ID:       e.Identifier(),
			Value:    e.Text(),
			ReadOnly: e.IsReadOnly(),
			Assigned: e.IsAssigned(),
		})
	}
	writeJSON(w, res)
}

func (a *api) exportSettings(w http.ResponseWriter, req *http.Request) {
	if !a.c.CanExport() {
		a.httpError(w, "export settings", &machine.StateError{Op: "export configuration", State: a.c.Mirror().State()})
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", `attachment; filename="grbl-settings.txt"`)
	if err := a.c.ExportConfiguration(w); err != nil {
		a.log.Error("export settings", "err", err)
	}
}

func (a *api) importSettings(w http.ResponseWriter, req *http.Request) {
	as, err := a.c.ImportConfiguration(req.Context(), req.Body)
	if err != nil {
		a.httpError(w, "import settings", err)
		return
	}
	writeJSON(w, as)
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		a.httpError(w, "create "+name, err)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		a.httpError(w, "write "+name, err)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		a.httpError(w, "delete "+name, err)
		return
	}
}
