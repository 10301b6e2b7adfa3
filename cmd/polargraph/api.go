package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/polargraph/feedback"
	"github.com/mastercactapus/polargraph/gcode"
	"github.com/mastercactapus/polargraph/machine"
	"github.com/mastercactapus/polargraph/machine/polargraph"
	"github.com/mastercactapus/polargraph/sim"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// MsgSimulated follows every successful simulation.
const MsgSimulated = "Simulation Complete."

type api struct {
	http.Handler
	m       *machine.Machine
	link    *polargraph.Link
	fb      *feedback.Queue
	ws      sim.Workspace
	dataDir string
	sse     *sse.Server

	// busy is held while a program or manual command owns the device.
	busy *semaphore.Weighted

	upgrader websocket.Upgrader
	clientMx sync.Mutex
	clients  map[*websocket.Conn]struct{}

	latestMx sync.Mutex
	latest   string
}

type apiState struct {
	Connected  bool
	Port       string
	Running    bool
	Paused     bool
	PenUp      bool
	Relative   bool
	Speed      int
	Commands   int
	ServoMoves int
	Feedback   string
}

func newAPI(m *machine.Machine, link *polargraph.Link, fb *feedback.Queue, ws sim.Workspace, dir string) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		link:    link,
		fb:      fb,
		ws:      ws,
		dataDir: dir,
		sse: sse.NewServer(&sse.Options{
			Logger: stdlog.New(io.Discard, "", 0),
		}),
		busy: semaphore.NewWeighted(1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}

	fs := http.FileServer(http.Dir(dir))
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

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/ports", a.ports).Methods("GET")
	sub.HandleFunc("/state", a.state).Methods("GET")
	sub.HandleFunc("/feedback", a.feedback).Methods("GET")
	sub.HandleFunc("/connect", a.connect).Methods("POST")
	sub.HandleFunc("/disconnect", a.disconnect).Methods("POST")
	sub.HandleFunc("/run", a.run).Methods("POST")
	sub.HandleFunc("/pause", a.pause).Methods("POST")
	sub.HandleFunc("/resume", a.resume).Methods("POST")
	sub.HandleFunc("/stop", a.stop).Methods("POST")
	sub.HandleFunc("/simulate", a.simulate).Methods("POST")

	sub.HandleFunc("/command", a.manual(func(ctx context.Context, req *http.Request) error {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		return a.m.SendRaw(ctx, strings.TrimSpace(string(data)))
	})).Methods("POST")
	sub.HandleFunc("/home", a.manual(func(ctx context.Context, _ *http.Request) error {
		return a.m.Home(ctx)
	})).Methods("POST")
	sub.HandleFunc("/sethome", a.manual(func(ctx context.Context, _ *http.Request) error {
		return a.m.SetHome(ctx)
	})).Methods("POST")
	sub.HandleFunc("/pen", a.manual(func(ctx context.Context, _ *http.Request) error {
		return a.m.TogglePen(ctx)
	})).Methods("POST")
	sub.HandleFunc("/jog", a.manual(func(ctx context.Context, req *http.Request) error {
		dx, err := intParam(req, "dx")
		if err != nil {
			return err
		}
		dy, err := intParam(req, "dy")
		if err != nil {
			return err
		}
		return a.m.Jog(ctx, dx, dy)
	})).Methods("POST")
	sub.HandleFunc("/speed", a.manual(func(ctx context.Context, req *http.Request) error {
		n, err := strconv.Atoi(req.FormValue("value"))
		if err != nil {
			return badRequest{err}
		}
		err = a.m.SetSpeed(ctx, n)
		if errors.Is(err, machine.ErrBadSpeed) {
			return badRequest{err}
		}
		return err
	})).Methods("POST")
	sub.HandleFunc("/coords", a.manual(func(ctx context.Context, req *http.Request) error {
		return a.m.SetRelative(ctx, req.FormValue("relative") == "1")
	})).Methods("POST")

	r.PathPrefix("/events/").Handler(a.sse)
	r.HandleFunc("/ws/feedback", a.wsFeedback)

	return a
}

type badRequest struct{ error }

func intParam(req *http.Request, name string) (int, error) {
	s := req.FormValue(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest{err}
	}
	return n, nil
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Warn().Str("path", name).Msg("invalid path")
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) snapshot() apiState {
	s := a.m.State()
	c := s.Counters()
	a.latestMx.Lock()
	latest := a.latest
	a.latestMx.Unlock()
	return apiState{
		Connected:  a.link.Connected(),
		Port:       a.link.Port(),
		Running:    a.m.Running(),
		Paused:     s.Paused(),
		PenUp:      s.PenUp(),
		Relative:   s.Relative(),
		Speed:      s.Speed(),
		Commands:   c.Commands,
		ServoMoves: c.ServoMoves,
		Feedback:   latest,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error().Err(err).Msg("encode")
	}
}

func (a *api) ports(w http.ResponseWriter, req *http.Request) {
	ports, err := a.link.Ports()
	if err != nil {
		log.Error().Err(err).Msg("list ports")
		http.Error(w, err.Error(), 500)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, ports)
}

func (a *api) state(w http.ResponseWriter, req *http.Request) { writeJSON(w, a.snapshot()) }

func (a *api) feedback(w http.ResponseWriter, req *http.Request) {
	a.latestMx.Lock()
	msg := a.latest
	a.latestMx.Unlock()
	io.WriteString(w, msg)
}

func (a *api) connect(w http.ResponseWriter, req *http.Request) {
	name := req.FormValue("port")
	if name == "" {
		http.Error(w, "port is required", http.StatusBadRequest)
		return
	}
	if a.m.Running() || !a.busy.TryAcquire(1) {
		http.Error(w, "busy", http.StatusConflict)
		return
	}
	defer a.busy.Release(1)
	err := a.link.Connect(req.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) disconnect(w http.ResponseWriter, req *http.Request) {
	a.m.Stop()
	a.link.Disconnect()
}

func (a *api) readProgram(req *http.Request) (gcode.Program, error) {
	if file := req.FormValue("file"); file != "" {
		ok, name := safePath(a.dataDir, file)
		if !ok {
			return nil, badRequest{gcode.ErrFileNotFound}
		}
		return gcode.ParseFile(name)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return gcode.Parse(string(data))
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	prog, err := a.readProgram(req)
	if err != nil {
		a.fb.Put(err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if a.m.Running() || !a.busy.TryAcquire(1) {
		http.Error(w, "busy", http.StatusConflict)
		return
	}

	log.Info().Int("lines", len(prog)).Msg("run")
	a.m.Start(context.Background(), prog)
	go func() {
		defer a.busy.Release(1)
		err := a.m.Wait()
		if err != nil {
			log.Warn().Err(err).Msg("run ended")
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) pause(w http.ResponseWriter, req *http.Request)  { a.m.Pause() }
func (a *api) resume(w http.ResponseWriter, req *http.Request) { a.m.Resume() }
func (a *api) stop(w http.ResponseWriter, req *http.Request)   { a.m.Stop() }

// manual wraps a command that needs exclusive use of the device.
func (a *api) manual(fn func(context.Context, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if a.m.Running() || !a.busy.TryAcquire(1) {
			http.Error(w, "busy", http.StatusConflict)
			return
		}
		defer a.busy.Release(1)

		err := fn(req.Context(), req)
		var bad badRequest
		switch {
		case errors.As(err, &bad):
			http.Error(w, bad.Error(), http.StatusBadRequest)
		case err != nil:
			log.Error().Err(err).Str("path", req.URL.Path).Msg("manual command")
			http.Error(w, err.Error(), 500)
		}
	}
}

func (a *api) simulate(w http.ResponseWriter, req *http.Request) {
	speed := a.m.State().Speed()

	var est *sim.Estimate
	var err error
	if cmd := req.FormValue("command"); cmd != "" {
		est, err = a.ws.SimulateCommand(req.Context(), cmd, speed)
	} else {
		var prog gcode.Program
		prog, err = a.readProgram(req)
		if err == nil {
			est, err = a.ws.Simulate(req.Context(), prog, speed)
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("simulate")
		if errors.Is(err, sim.ErrSubprocess) {
			err = sim.ErrSubprocess
		}
		a.fb.Put(err.Error())
		http.Error(w, err.Error(), 500)
		return
	}

	a.fb.Put(est.String())
	a.fb.Put(MsgSimulated)
	writeJSON(w, est)
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
		log.Error().Err(err).Str("file", name).Msg("create")
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("write")
		http.Error(w, err.Error(), 500)
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
		log.Error().Err(err).Str("file", name).Msg("delete")
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) wsFeedback(w http.ResponseWriter, req *http.Request) {
	c, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	a.clientMx.Lock()
	a.clients[c] = struct{}{}
	a.clientMx.Unlock()

	defer func() {
		a.clientMx.Lock()
		delete(a.clients, c)
		a.clientMx.Unlock()
		c.Close()
	}()

	// clients only listen; reading detects the close
	for {
		_, _, err := c.ReadMessage()
		if err != nil {
			return
		}
	}
}

func (a *api) broadcast(msg string) {
	a.clientMx.Lock()
	defer a.clientMx.Unlock()
	for c := range a.clients {
		err := c.WriteMessage(websocket.TextMessage, []byte(msg))
		if err != nil {
			log.Debug().Err(err).Msg("websocket write")
			c.Close()
			delete(a.clients, c)
		}
	}
}

func (a *api) publishState() {
	data, err := json.Marshal(a.snapshot())
	if err != nil {
		log.Error().Err(err).Msg("marshal state")
		return
	}
	a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
}

// feed is the single consumer of the feedback queue. Only the newest message
// is shown; earlier ones are dropped.
func (a *api) feed(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.fb.Notify():
		}

		msg, ok := a.fb.Latest()
		if !ok {
			continue
		}
		a.latestMx.Lock()
		a.latest = msg
		a.latestMx.Unlock()

		a.sse.SendMessage("/events/feedback", sse.SimpleMessage(msg))
		a.broadcast(msg)
		a.publishState()
	}
}
