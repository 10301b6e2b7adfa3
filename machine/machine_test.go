package machine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/polargraph/coord"
	"github.com/mastercactapus/polargraph/feedback"
	"github.com/mastercactapus/polargraph/gcode"
	"github.com/mastercactapus/polargraph/machine/polargraph"
	"github.com/mastercactapus/polargraph/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mx        sync.Mutex
	connected bool
	sent      []string
	waits     int
	waitErrs  []error
	failOn    string
}

func (d *fakeDevice) Connected() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.connected
}

func (d *fakeDevice) Send(ctx context.Context, cmd string) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.sent = append(d.sent, cmd)
	if d.failOn != "" && strings.HasPrefix(cmd, d.failOn) {
		return polargraph.ErrEchoTimeout
	}
	return nil
}

func (d *fakeDevice) WaitForComplete(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.waits++
	if len(d.waitErrs) == 0 {
		return nil
	}
	err := d.waitErrs[0]
	d.waitErrs = d.waitErrs[1:]
	return err
}

func (d *fakeDevice) SendSingle(ctx context.Context, cmd string) error {
	err := d.Send(ctx, cmd)
	if err != nil {
		return err
	}
	return d.WaitForComplete(ctx)
}

func (d *fakeDevice) Sent() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.sent...)
}

func count(list []string, s string) (n int) {
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

func TestMachine_Run(t *testing.T) {
	dev := &fakeDevice{connected: true}
	m := NewMachine(dev, nil)

	err := m.Run(context.Background(), gcode.MustParse("G90\nG00 X1 Y1\nG01 Z-1\nG01 F10\nG01 X2 Y2\nG91\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"C07,15,END",
		"C14,END",
		"C11,END",
		"C90,END\n",
		"C00,1.000000,1.000000,END\n",
		"C10,END\n",
		"C01,2.000000,2.000000,END\n",
		"C91,END\n",
		"C13,END",
	}, dev.Sent())
	assert.Equal(t, translate.Counters{Commands: 5, ServoMoves: 1}, m.State().Counters())
	assert.False(t, m.State().PenUp())
	assert.True(t, m.State().Relative())
}

func TestMachine_Run_NotConnected(t *testing.T) {
	dev := &fakeDevice{}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	err := m.Run(context.Background(), gcode.MustParse("G90\n"))
	assert.Equal(t, ErrNotConnected, err)
	assert.Empty(t, dev.Sent())
	assert.Equal(t, []string{polargraph.MsgNotConnected}, fb.Drain())
}

func TestMachine_Run_NotReady(t *testing.T) {
	dev := &fakeDevice{connected: true, waitErrs: []error{polargraph.ErrDeviceReset}}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	err := m.Run(context.Background(), gcode.MustParse("G90\n"))
	assert.ErrorIs(t, err, ErrComms)
	assert.Empty(t, dev.Sent())
	assert.Equal(t, []string{"FAILED, Comms Problem"}, fb.Drain())
}

func TestMachine_Run_SendFailure(t *testing.T) {
	dev := &fakeDevice{connected: true, failOn: "C01"}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	err := m.Run(context.Background(), gcode.MustParse("G00 X1\nG01 X2\nG00 X3\n"))
	assert.ErrorIs(t, err, ErrComms)

	sent := dev.Sent()
	assert.Equal(t, []string{
		"C07,15,END",
		"C14,END",
		"C11,END",
		"C00,1.000000,0.000000,END\n",
		"C01,2.000000,0.000000,END\n",
		"C13,END",
	}, sent)
	assert.Equal(t, []string{"FAILED, Comms Problem"}, fb.Drain())
}

func TestMachine_Run_FinalWaitFails(t *testing.T) {
	// the first wait is before the run, then one per SendSingle
	errs := make([]error, 7)
	errs[6] = polargraph.ErrEmergencyStop
	dev := &fakeDevice{connected: true, waitErrs: errs}
	m := NewMachine(dev, nil)

	require.NoError(t, m.Run(context.Background(), gcode.MustParse("G00 X1\nG00 X2\n")))
	assert.Equal(t, []string{
		"C07,15,END",
		"C14,END",
		"C11,END",
		"C00,1.000000,0.000000,END\n",
		"C00,2.000000,0.000000,END\n",
		"C06,END",
		"C13,END",
	}, dev.Sent())
}

func TestMachine_Dwell(t *testing.T) {
	dev := &fakeDevice{connected: true}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	m.Start(context.Background(), gcode.MustParse("G00 X1\nG00 G04 P1\nG00 X2\n"))
	assert.Eventually(t, m.Paused, time.Second, time.Millisecond)
	assert.True(t, m.Running())

	sent := dev.Sent()
	assert.Equal(t, "C00,1.000000,0.000000,END\n", sent[len(sent)-1])

	m.Resume()
	require.NoError(t, m.Wait())
	assert.False(t, m.Running())

	sent = dev.Sent()
	assert.Equal(t, []string{
		"C07,15,END",
		"C14,END",
		"C11,END",
		"C00,1.000000,0.000000,END\n",
		"C00,2.000000,0.000000,END\n",
		"C13,END",
	}, sent)

	msgs := fb.Drain()
	assert.Contains(t, msgs, MsgPaused)
	assert.Equal(t, MsgFinished, msgs[len(msgs)-1])
}

func TestMachine_StopWhilePaused(t *testing.T) {
	dev := &fakeDevice{connected: true}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	m.Start(context.Background(), gcode.MustParse("G00 X1\nG00 G04 P1\nG00 X2\nG00 X3\n"))
	assert.Eventually(t, m.Paused, time.Second, time.Millisecond)

	m.Stop()
	assert.ErrorIs(t, m.Wait(), ErrStopped)
	assert.False(t, m.Paused())

	sent := dev.Sent()
	assert.NotContains(t, sent, "C00,2.000000,0.000000,END\n")
	assert.NotContains(t, sent, "C06,END")
	assert.Equal(t, 1, count(sent, "C13,END"))
	assert.Equal(t, "C13,END", sent[len(sent)-1])

	msgs := fb.Drain()
	assert.Equal(t, MsgFinished, msgs[len(msgs)-1])
}

func TestMachine_Cancel(t *testing.T) {
	dev := &fakeDevice{connected: true}
	m := NewMachine(dev, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, gcode.MustParse("G00 X1\nG00 G04\nG00 X2\n"))
	assert.Eventually(t, m.Paused, time.Second, time.Millisecond)
	cancel()

	assert.True(t, errors.Is(m.Wait(), context.Canceled))
	sent := dev.Sent()
	assert.Equal(t, "C13,END", sent[len(sent)-1])
	assert.NotContains(t, sent, "C06,END")
}

func TestMachine_Controls(t *testing.T) {
	dev := &fakeDevice{connected: true}
	m := NewMachine(dev, nil)
	ctx := context.Background()

	assert.NoError(t, m.Jog(ctx, 1, -5))
	assert.Equal(t, ErrBadSpeed, m.SetSpeed(ctx, 0))
	assert.Equal(t, ErrBadSpeed, m.SetSpeed(ctx, 100))
	assert.NoError(t, m.SetSpeed(ctx, 40))
	assert.NoError(t, m.Jog(ctx, -1, 0))
	assert.NoError(t, m.TogglePen(ctx))
	assert.False(t, m.State().PenUp())
	assert.NoError(t, m.TogglePen(ctx))
	assert.True(t, m.State().PenUp())
	assert.NoError(t, m.SetRelative(ctx, true))
	assert.NoError(t, m.SetRelative(ctx, false))
	assert.NoError(t, m.SetHome(ctx))
	assert.NoError(t, m.TogglePen(ctx))
	assert.NoError(t, m.Home(ctx))
	assert.NoError(t, m.SendRaw(ctx, "C07,20"))

	assert.Equal(t, []string{
		"C05,0.75,-0.75",
		"C07,40",
		"C05,-2,0",
		"C10,END",
		"C11,END",
		"C91,END",
		"C90,END",
		"C16,END",
		"C10,END",
		"C06,END",
		"C07,20",
	}, dev.Sent())
	assert.True(t, m.State().PenUp())
	assert.Equal(t, DefaultSpeed, m.State().Speed())
}

func TestMachine_Sim(t *testing.T) {
	sim := polargraph.NewSimPort(2 * time.Millisecond)
	cfg := polargraph.DefaultConfig()
	cfg.BootDelay = 0
	cfg.Timeout = 200 * time.Millisecond
	cfg.PollInterval = 0
	fb := feedback.NewQueue()
	link := polargraph.NewLink(cfg, polargraph.SimOpener(sim), nil, fb)
	require.NoError(t, link.Connect(context.Background(), "sim"))
	defer link.Disconnect()

	name := filepath.Join(t.TempDir(), "square.ngc")
	require.NoError(t, os.WriteFile(name, []byte(`(square)
G90
G00 X10 Y10
G01 Z-1
G01 X20 Y10
G01 X20 Y20 (corner)
G01 Z1
`), 0644))

	sim.PrematureReady = 1
	m := NewMachine(polargraph.NewConn(link, cfg, fb), fb)
	require.NoError(t, m.RunFile(context.Background(), name))

	assert.Equal(t, []string{
		"C07,15,END",
		"C14,END",
		"C11,END",
		"C90,END",
		"C00,10.000000,10.000000,END",
		"C10,END",
		"C01,20.000000,10.000000,END",
		"C01,20.000000,20.000000,END",
		"C11,END",
		"C13,END",
	}, sim.Executed())
	assert.Equal(t, coord.Point{X: 20, Y: 20}, sim.Position())
	assert.False(t, sim.PenDown())
}

func TestMachine_RunFile_NotConnected(t *testing.T) {
	dev := &fakeDevice{}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	err := m.RunFile(context.Background(), filepath.Join(t.TempDir(), "nope.ngc"))
	assert.Equal(t, ErrNotConnected, err)
	assert.Equal(t, []string{polargraph.MsgNotConnected}, fb.Drain())
	assert.Empty(t, dev.Sent())
}

func TestMachine_RunFile_Missing(t *testing.T) {
	dev := &fakeDevice{connected: true}
	fb := feedback.NewQueue()
	m := NewMachine(dev, fb)

	err := m.RunFile(context.Background(), filepath.Join(t.TempDir(), "nope.ngc"))
	assert.Equal(t, gcode.ErrFileNotFound, err)
	assert.Equal(t, []string{"File Does Not Exist."}, fb.Drain())
	assert.Empty(t, dev.Sent())
}
