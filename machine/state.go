package machine

import (
	"context"
	"sync"

	"github.com/mastercactapus/polargraph/translate"
	"go.uber.org/atomic"
)

// RunState is shared between a running program and its controllers.
type RunState struct {
	paused   atomic.Bool
	stop     atomic.Bool
	running  atomic.Bool
	penUp    atomic.Bool
	relative atomic.Bool
	speed    atomic.Int32

	commands   atomic.Int64
	servoMoves atomic.Int64

	mx   sync.Mutex
	wake chan struct{}
}

func newRunState(speed int) *RunState {
	s := &RunState{}
	s.penUp.Store(true)
	s.speed.Store(int32(speed))
	return s
}

// Paused reports if the program is paused.
func (s *RunState) Paused() bool { return s.paused.Load() }

// PenUp reports the last known pen state.
func (s *RunState) PenUp() bool { return s.penUp.Load() }

// Relative reports if the device is in relative coordinate mode.
func (s *RunState) Relative() bool { return s.relative.Load() }

// Speed returns the current speed setting.
func (s *RunState) Speed() int { return int(s.speed.Load()) }

// Counters returns the translation counters of the current or last run.
func (s *RunState) Counters() translate.Counters {
	return translate.Counters{
		Commands:   int(s.commands.Load()),
		ServoMoves: int(s.servoMoves.Load()),
	}
}

// SetSpeed changes the speed used by the next run without telling the device.
func (s *RunState) SetSpeed(speed int) error {
	if speed < 1 || speed > 99 {
		return ErrBadSpeed
	}
	s.speed.Store(int32(speed))
	return nil
}

func (s *RunState) setCounters(c translate.Counters) {
	s.commands.Store(int64(c.Commands))
	s.servoMoves.Store(int64(c.ServoMoves))
}

func (s *RunState) wakeCh() chan struct{} {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.wake == nil {
		s.wake = make(chan struct{})
	}
	return s.wake
}

func (s *RunState) signal() {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.wake != nil {
		close(s.wake)
		s.wake = nil
	}
}

func (s *RunState) setPaused(v bool) {
	s.paused.Store(v)
	s.signal()
}

func (s *RunState) requestStop() {
	s.stop.Store(true)
	s.signal()
}

// waitWhilePaused blocks until the program is resumed or a stop is requested.
func (s *RunState) waitWhilePaused(ctx context.Context) error {
	for s.paused.Load() && !s.stop.Load() {
		ch := s.wakeCh()
		if !s.paused.Load() || s.stop.Load() {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
	return nil
}
