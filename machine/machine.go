package machine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mastercactapus/polargraph/feedback"
	"github.com/mastercactapus/polargraph/gcode"
	"github.com/mastercactapus/polargraph/machine/polargraph"
	"github.com/mastercactapus/polargraph/translate"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is returned when a run is started without a device.
	ErrNotConnected = errors.New("device not connected")

	// ErrComms is returned when the device fails during a run.
	ErrComms = errors.New("FAILED, Comms Problem")

	// ErrBadSpeed is returned for speeds outside 1..99.
	ErrBadSpeed = errors.New("speed must be between 1 and 99")

	// ErrStopped is returned by Run when a stop was requested.
	ErrStopped = errors.New("run stopped")
)

// Feedback messages.
const (
	MsgFinished = "GCODE RUN FINISHED"
	MsgPaused   = "Paused.\nAllow Current Command to Finish."
)

// Device commands.
const (
	cmdJog          = "C05"
	cmdHome         = "C06,END"
	cmdSpeed        = "C07"
	cmdPenDown      = "C10,END"
	cmdPenUp        = "C11,END"
	cmdEnableInput  = "C13,END"
	cmdDisableInput = "C14,END"
	cmdSetHome      = "C16,END"
	cmdAbsolute     = "C90,END"
	cmdRelative     = "C91,END"
)

// DefaultSpeed is the speed after startup and after homing.
const DefaultSpeed = 15

// Device is a plotter accepting protocol commands.
type Device interface {
	Connected() bool
	Send(ctx context.Context, cmd string) error
	WaitForComplete(ctx context.Context) error
	SendSingle(ctx context.Context, cmd string) error
}

var _ Device = &polargraph.Conn{}

// Machine runs programs on a plotter and exposes its manual controls.
type Machine struct {
	dev   Device
	fb    feedback.Sink
	state *RunState

	mx   sync.Mutex
	done chan struct{}
	err  error
}

// NewMachine returns a Machine driving dev, reporting progress to fb.
func NewMachine(dev Device, fb feedback.Sink) *Machine {
	if fb == nil {
		fb = feedback.Discard
	}
	return &Machine{
		dev:   dev,
		fb:    fb,
		state: newRunState(DefaultSpeed),
	}
}

// State returns the shared run state.
func (m *Machine) State() *RunState { return m.state }

// Pause pauses the program before its next line.
func (m *Machine) Pause() {
	if m.state.paused.Load() {
		return
	}
	m.state.setPaused(true)
	if m.Running() {
		m.fb.Put(MsgPaused)
	}
}

// Resume continues a paused program.
func (m *Machine) Resume() { m.state.setPaused(false) }

// Stop ends the program before its next line. The command in flight finishes first.
func (m *Machine) Stop() { m.state.requestStop() }

// Paused reports if the program is paused.
func (m *Machine) Paused() bool { return m.state.Paused() }

// Running reports if a program started with Start is still running.
func (m *Machine) Running() bool { return m.state.running.Load() }

// Start runs prog on a new goroutine. Callers must check Running first; only
// one program may run at a time.
func (m *Machine) Start(ctx context.Context, prog gcode.Program) {
	done := make(chan struct{})
	m.mx.Lock()
	m.done = done
	m.err = nil
	m.mx.Unlock()

	m.state.running.Store(true)
	go func() {
		err := m.Run(ctx, prog)
		m.mx.Lock()
		m.err = err
		m.mx.Unlock()
		m.state.running.Store(false)
		m.fb.Put(MsgFinished)
		close(done)
	}()
}

// Wait blocks until the program started last finishes and returns its result.
func (m *Machine) Wait() error {
	m.mx.Lock()
	done := m.done
	m.mx.Unlock()
	if done == nil {
		return nil
	}
	<-done
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.err
}

// RunFile parses the program at name and runs it.
func (m *Machine) RunFile(ctx context.Context, name string) error {
	if !m.dev.Connected() {
		m.fb.Put(polargraph.MsgNotConnected)
		return ErrNotConnected
	}
	prog, err := gcode.ParseFile(name)
	if err != nil {
		m.fb.Put(err.Error())
		return err
	}
	return m.Run(ctx, prog)
}

func (m *Machine) bestEffort(ctx context.Context, cmd string) {
	err := m.dev.SendSingle(ctx, cmd)
	if err != nil {
		log.Warn().Err(err).Str("cmd", cmd).Msg("command failed")
	}
}

// Run executes prog on the calling goroutine.
//
// The device is made ready first: speed set, manual input disabled and pen
// raised. Lines are then sent one at a time. A dwell (G04) pauses the run
// without being sent. Manual input is re-enabled when the run ends.
func (m *Machine) Run(ctx context.Context, prog gcode.Program) error {
	m.state.stop.Store(false)
	m.state.setPaused(false)

	if !m.dev.Connected() {
		m.fb.Put(polargraph.MsgNotConnected)
		return ErrNotConnected
	}

	log.Info().Int("lines", len(prog)).Msg("starting program")
	err := m.dev.WaitForComplete(ctx)
	if err != nil {
		m.fb.Put(ErrComms.Error())
		return fmt.Errorf("%w: %v", ErrComms, err)
	}

	m.bestEffort(ctx, cmdSpeed+","+strconv.Itoa(m.state.Speed())+",END")
	m.bestEffort(ctx, cmdDisableInput)
	m.state.penUp.Store(true)
	m.bestEffort(ctx, cmdPenUp)

	// the run must always restore manual input, even when cancelled
	fin := context.WithoutCancel(ctx)

	tr := translate.NewTranslator(translate.Protocol)
	m.state.setCounters(tr.Counters)

	var stopErr error
	for _, ln := range prog {
		err = m.state.waitWhilePaused(ctx)
		if err != nil {
			stopErr = err
			break
		}
		if m.state.stop.Load() {
			m.state.stop.Store(false)
			m.state.setPaused(false)
			stopErr = ErrStopped
			break
		}
		if err = ctx.Err(); err != nil {
			stopErr = err
			break
		}

		if ln.IsDwell() {
			log.Info().Int("line", ln.Number).Msg("dwell, pausing")
			m.Pause()
			continue
		}

		out, err := tr.Translate(ln)
		m.state.setCounters(tr.Counters)
		if err != nil {
			m.bestEffort(fin, cmdEnableInput)
			m.fb.Put(err.Error())
			return err
		}
		if out == "" {
			continue
		}

		err = m.dev.SendSingle(ctx, out)
		if err != nil {
			log.Error().Err(err).Int("line", ln.Number).Str("text", ln.Text).Msg("send failed")
			m.bestEffort(fin, cmdEnableInput)
			m.fb.Put(ErrComms.Error())
			return fmt.Errorf("%w: line %d: %v", ErrComms, ln.Number, err)
		}
		m.track(out)
	}

	if stopErr == nil {
		err = m.dev.WaitForComplete(fin)
		if err != nil {
			log.Warn().Err(err).Msg("final wait failed, homing")
			m.bestEffort(fin, cmdHome)
		}
	} else {
		log.Info().Err(stopErr).Msg("program stopped")
	}

	m.bestEffort(fin, cmdEnableInput)
	err = m.dev.WaitForComplete(fin)
	if err != nil {
		log.Warn().Err(err).Msg("wait after run")
	}

	return stopErr
}

// track records pen and coordinate mode changes sent by a program.
func (m *Machine) track(out string) {
	switch out {
	case cmdPenDown + "\n":
		m.state.penUp.Store(false)
	case cmdPenUp + "\n":
		m.state.penUp.Store(true)
	case cmdAbsolute + "\n":
		m.state.relative.Store(false)
	case cmdRelative + "\n":
		m.state.relative.Store(true)
	}
}
