package polargraph

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/polargraph/coord"
	"github.com/rs/zerolog/log"
)

// SimPort is an in-memory plotter speaking the device protocol. It echoes
// each command, executes it on CHECKED and reports CMD_COMPLETE. While idle
// every read that finds nothing to send returns READY.
//
// The exported fields inject faults and may be changed between commands.
type SimPort struct {
	mx sync.Mutex

	// PrematureReady is the number of commands to answer with READY instead of an echo.
	PrematureReady int

	// ResetOn makes the device reboot when it receives a command with this code.
	ResetOn string

	// EStopOn makes the device report an emergency stop while executing this code.
	EStopOn string

	// Silent makes the device ignore everything.
	Silent bool

	idle    time.Duration
	out     bytes.Buffer
	in      []byte
	notify  chan struct{}
	closed  chan struct{}
	pending string

	received []string
	executed []string

	pos      coord.Point
	penDown  bool
	relative bool
}

var _ Port = &SimPort{}

// NewSimPort returns a simulated device. A read with nothing to send waits up
// to idle before answering.
func NewSimPort(idle time.Duration) *SimPort {
	return &SimPort{
		idle:   idle,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// SimOpener returns an Opener that always opens sim.
func SimOpener(sim *SimPort) Opener {
	return func(string, Config) (Port, error) { return sim, nil }
}

func (s *SimPort) emit(line string) {
	s.out.WriteString(line + "\n")
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Reset makes the device print its startup banner, dropping any pending command.
func (s *SimPort) Reset() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.pending = ""
	s.emit(BannerMarker)
}

// Emit queues raw output, as if the device had printed it.
func (s *SimPort) Emit(data []byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.out.Write(data)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *SimPort) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *SimPort) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, io.ErrClosedPipe
	}

	s.mx.Lock()
	if s.out.Len() > 0 {
		defer s.mx.Unlock()
		return s.out.Read(p)
	}
	s.mx.Unlock()

	t := time.NewTimer(s.idle)
	defer t.Stop()
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	case <-s.notify:
	case <-t.C:
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.out.Len() == 0 && s.pending == "" && !s.Silent {
		s.emit(ReadyMarker)
	}
	return s.out.Read(p)
}

func (s *SimPort) Write(p []byte) (int, error) {
	if s.isClosed() {
		return 0, io.ErrClosedPipe
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, '\n')
		if i < 0 {
			break
		}
		line := string(s.in[:i])
		s.in = s.in[i+1:]
		s.handle(line)
	}
	return len(p), nil
}

func (s *SimPort) handle(line string) {
	s.received = append(s.received, line)
	if s.Silent {
		return
	}

	if line+"\n" == AckToken {
		if s.pending == "" {
			return
		}
		cmd := s.pending
		s.pending = ""
		s.emit("EXECUTING")
		if s.EStopOn != "" && strings.HasPrefix(cmd, s.EStopOn+",") {
			s.emit(EStopMarker)
			return
		}
		s.execute(cmd)
		s.emit(CompleteMarker)
		return
	}

	if s.ResetOn != "" && strings.HasPrefix(line, s.ResetOn+",") {
		s.pending = ""
		s.emit(BannerMarker)
		return
	}
	if s.PrematureReady > 0 {
		s.PrematureReady--
		s.emit(ReadyMarker)
		return
	}

	s.pending = line
	s.emit(line)
}

func (s *SimPort) execute(line string) {
	s.executed = append(s.executed, line)
	cmd, err := ParseCommand(line)
	if err != nil {
		log.Debug().Err(err).Str("cmd", line).Msg("sim: ignoring command")
		return
	}

	switch cmd.Code {
	case "C00", "C01", "C02", "C03":
		p := coord.Point{X: cmd.Args[0], Y: cmd.Args[1]}
		if s.relative {
			p = s.pos.Add(p)
		}
		s.pos = p
	case "C05":
		s.pos = s.pos.Add(coord.Point{X: cmd.Args[0], Y: cmd.Args[1]})
	case "C06":
		s.pos = coord.Point{}
		s.penDown = false
	case "C16":
		s.pos = coord.Point{}
	case "C10":
		s.penDown = true
	case "C11":
		s.penDown = false
	case "C90":
		s.relative = false
	case "C91":
		s.relative = true
	}
	log.Debug().Str("cmd", cmd.Code).Stringer("pos", s.pos).Bool("penDown", s.penDown).Msg("sim: executed")
}

// Close disconnects the device; further reads and writes fail.
func (s *SimPort) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if !s.isClosed() {
		close(s.closed)
	}
	return nil
}

// Received returns every line written to the device, acknowledgements included.
func (s *SimPort) Received() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.received...)
}

// Executed returns the commands the device ran, in order.
func (s *SimPort) Executed() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.executed...)
}

// Position returns the current pen position.
func (s *SimPort) Position() coord.Point {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.pos
}

// PenDown reports if the pen is lowered.
func (s *SimPort) PenDown() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.penDown
}

// Relative reports if the device is in relative coordinate mode.
func (s *SimPort) Relative() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.relative
}
