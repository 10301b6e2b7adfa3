package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mastercactapus/polargraph/coord"
	"github.com/mastercactapus/polargraph/feedback"
	"github.com/mastercactapus/polargraph/machine"
	"github.com/mastercactapus/polargraph/machine/polargraph"
	"github.com/mastercactapus/polargraph/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	*api
	sim *polargraph.SimPort
	dir string
}

func newTestEnv(t *testing.T, exe string) *testEnv {
	t.Helper()
	cfg := polargraph.DefaultConfig()
	cfg.BootDelay = 0
	cfg.Timeout = 500 * time.Millisecond
	cfg.PollInterval = 0

	sp := polargraph.NewSimPort(2 * time.Millisecond)
	fb := feedback.NewQueue()
	link := polargraph.NewLink(cfg, polargraph.SimOpener(sp), func() ([]string, error) { return []string{"sim"}, nil }, fb)
	m := machine.NewMachine(polargraph.NewConn(link, cfg, fb), fb)
	t.Cleanup(link.Disconnect)

	dir := t.TempDir()
	return &testEnv{
		api: newAPI(m, link, fb, sim.Workspace{Dir: dir, Exe: exe}, dir),
		sim: sp,
		dir: dir,
	}
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) getState(t *testing.T) apiState {
	t.Helper()
	rec := e.do(t, "GET", "/api/state", "")
	require.Equal(t, 200, rec.Code)
	var s apiState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func TestSafePath(t *testing.T) {
	ok, name := safePath("data", "../../etc/passwd")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("data", "etc", "passwd"), name)

	ok, name = safePath("", "/prog.ngc")
	assert.True(t, ok)
	assert.Equal(t, "prog.ngc", name)
}

func TestAPI_Ports(t *testing.T) {
	e := newTestEnv(t, "")
	rec := e.do(t, "GET", "/api/ports", "")
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `["sim"]`, rec.Body.String())
}

func TestAPI_Controls(t *testing.T) {
	e := newTestEnv(t, "")

	rec := e.do(t, "POST", "/api/home", "")
	assert.Equal(t, 500, rec.Code)
	assert.Contains(t, e.fb.Drain(), polargraph.MsgNotConnected)

	rec = e.do(t, "POST", "/api/connect", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "POST", "/api/connect?port=sim", "")
	require.Equal(t, 200, rec.Code)
	s := e.getState(t)
	assert.True(t, s.Connected)
	assert.Equal(t, "sim", s.Port)
	assert.True(t, s.PenUp)

	rec = e.do(t, "POST", "/api/pen", "")
	assert.Equal(t, 200, rec.Code)
	assert.True(t, e.sim.PenDown())
	assert.False(t, e.getState(t).PenUp)

	rec = e.do(t, "POST", "/api/speed?value=40", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, 40, e.getState(t).Speed)

	rec = e.do(t, "POST", "/api/speed?value=100", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, "POST", "/api/speed?value=fast", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 40, e.getState(t).Speed)

	rec = e.do(t, "POST", "/api/jog?dx=1&dy=-5", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, coord.Point{X: 2, Y: -2}, e.sim.Position())

	rec = e.do(t, "POST", "/api/jog?dx=up", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "POST", "/api/coords?relative=1", "")
	assert.Equal(t, 200, rec.Code)
	assert.True(t, e.sim.Relative())
	assert.True(t, e.getState(t).Relative)

	rec = e.do(t, "POST", "/api/command", "C16,END\n")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, coord.Point{}, e.sim.Position())

	rec = e.do(t, "POST", "/api/home", "")
	assert.Equal(t, 200, rec.Code)
	assert.False(t, e.sim.PenDown())
	assert.Equal(t, machine.DefaultSpeed, e.getState(t).Speed)

	rec = e.do(t, "POST", "/api/disconnect", "")
	assert.Equal(t, 200, rec.Code)
	assert.False(t, e.getState(t).Connected)
}

func TestAPI_Busy(t *testing.T) {
	e := newTestEnv(t, "")
	require.True(t, e.busy.TryAcquire(1))
	defer e.busy.Release(1)

	rec := e.do(t, "POST", "/api/home", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, "POST", "/api/connect?port=sim", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, e.getState(t).Connected)
	rec = e.do(t, "POST", "/api/run", "G00 X1 Y1\n")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, e.sim.Received())
}

func TestAPI_DataAndRun(t *testing.T) {
	e := newTestEnv(t, "")
	require.Equal(t, 200, e.do(t, "POST", "/api/connect?port=sim", "").Code)

	prog := "G90\nG00 X5 Y5\nG01 Z-1\nG01 X10 Y5\nG01 Z1\n"
	rec := e.do(t, "PUT", "/data/progs/line.ngc", prog)
	require.Equal(t, 200, rec.Code)

	rec = e.do(t, "GET", "/data/progs/line.ngc", "")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, prog, rec.Body.String())

	rec = e.do(t, "POST", "/api/run?file=progs/line.ngc", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NoError(t, e.m.Wait())

	assert.Equal(t, []string{
		"C07,15,END",
		"C14,END",
		"C11,END",
		"C90,END",
		"C00,5.000000,5.000000,END",
		"C10,END",
		"C01,10.000000,5.000000,END",
		"C11,END",
		"C13,END",
	}, e.sim.Executed())
	assert.Eventually(t, func() bool { return e.busy.TryAcquire(1) }, time.Second, time.Millisecond)
	e.busy.Release(1)

	s := e.getState(t)
	assert.False(t, s.Running)
	assert.Equal(t, 5, s.Commands)
	assert.Equal(t, 2, s.ServoMoves)

	rec = e.do(t, "DELETE", "/data/progs/line.ngc", "")
	assert.Equal(t, 200, rec.Code)
	_, err := os.Stat(filepath.Join(e.dir, "progs", "line.ngc"))
	assert.True(t, os.IsNotExist(err))
}

func TestAPI_Run_BadProgram(t *testing.T) {
	e := newTestEnv(t, "")

	rec := e.do(t, "POST", "/api/run?file=missing.ngc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"File Does Not Exist."}, e.fb.Drain())

	rec = e.do(t, "POST", "/api/run", "G01 X1 Y1.2.3\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, e.m.Running())
}

func TestAPI_Simulate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	exe := filepath.Join(t.TempDir(), "generate.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nprintf '(0,0),(10,0),(10,10),\\n' > points.txt\n"), 0755))
	e := newTestEnv(t, exe)

	rec := e.do(t, "POST", "/api/simulate", "G00 X10\nG01 Z-1\nG01 X10 Y10\nG01 Z1\n")
	require.Equal(t, 200, rec.Code)

	var est sim.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.Equal(t, 3, est.Points)
	assert.Equal(t, 20.0, est.Length)

	msgs := e.fb.Drain()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "Estimated time:")
	assert.Equal(t, MsgSimulated, msgs[1])

	rec = e.do(t, "POST", "/api/simulate?command=C06", "")
	assert.Equal(t, 200, rec.Code)
	data, err := os.ReadFile(filepath.Join(e.dir, sim.CommandsFile))
	require.NoError(t, err)
	assert.Equal(t, "C06,END\n", string(data))
}

func TestAPI_Simulate_Fails(t *testing.T) {
	e := newTestEnv(t, filepath.Join(t.TempDir(), "missing-generator"))

	rec := e.do(t, "POST", "/api/simulate", "G00 X1 Y1\n")
	assert.Equal(t, 500, rec.Code)
	assert.Equal(t, []string{sim.ErrSubprocess.Error()}, e.fb.Drain())
}

func TestAPI_Feed(t *testing.T) {
	e := newTestEnv(t, "")
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.feed(ctx)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/feedback", nil)
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool {
		e.clientMx.Lock()
		defer e.clientMx.Unlock()
		return len(e.clients) == 1
	}, time.Second, time.Millisecond)

	e.fb.Put("Connected to sim.")

	c.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Connected to sim.", string(msg))

	resp, err := http.Get(srv.URL + "/api/feedback")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Connected to sim.", string(body))
	assert.Equal(t, "Connected to sim.", e.getState(t).Feedback)
}
