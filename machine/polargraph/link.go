package polargraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mastercactapus/polargraph/feedback"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is returned when no port is open.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost is returned when a port read or write fails.
	ErrConnectionLost = errors.New("connection lost")
)

// Port is an open serial device.
type Port io.ReadWriteCloser

// An Opener opens the named port. Reads on the returned Port must give up
// after cfg.ReadTimeout, returning no data.
type Opener func(name string, cfg Config) (Port, error)

// Lister returns available port names.
type Lister func() ([]string, error)

type session struct {
	name string
	port Port

	rMx     sync.Mutex
	buf     []byte
	pending []byte
}

// Link owns the single open connection to a device.
type Link struct {
	cfg  Config
	open Opener
	list Lister
	fb   feedback.Sink

	mx   sync.Mutex
	s    *session
	lost bool
}

// NewLink returns a disconnected Link using open for ports and list for discovery.
func NewLink(cfg Config, open Opener, list Lister, fb feedback.Sink) *Link {
	if fb == nil {
		fb = feedback.Discard
	}
	if list == nil {
		list = ListPorts
	}
	return &Link{cfg: cfg, open: open, list: list, fb: fb}
}

// Config returns the protocol settings of the link.
func (l *Link) Config() Config { return l.cfg }

// Ports returns available port names.
func (l *Link) Ports() ([]string, error) { return l.list() }

// Port returns the name of the open port, if any.
func (l *Link) Port() string {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.s == nil {
		return ""
	}
	return l.s.name
}

// Connect opens name, replacing any open connection, then waits for the
// device to boot. The port is closed again if ctx ends during the wait.
func (l *Link) Connect(ctx context.Context, name string) error {
	l.Disconnect()

	p, err := l.open(name, l.cfg)
	if err != nil {
		log.Error().Err(err).Str("port", name).Msg("connect")
		l.fb.Put(fmt.Sprintf("Failed to connect to %s: %v", name, err))
		return err
	}

	l.mx.Lock()
	l.s = &session{name: name, port: p, buf: make([]byte, 256)}
	l.lost = false
	l.mx.Unlock()

	log.Info().Str("port", name).Msg("connected")
	l.fb.Put(fmt.Sprintf("Connected to %s.", name))

	t := time.NewTimer(l.cfg.BootDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		l.Disconnect()
		return ctx.Err()
	case <-t.C:
	}
	return nil
}

// Disconnect closes the open port. It is a no-op when disconnected.
func (l *Link) Disconnect() {
	l.mx.Lock()
	s := l.s
	l.s = nil
	l.lost = false
	l.mx.Unlock()
	if s == nil {
		return
	}

	err := s.port.Close()
	if err != nil {
		log.Warn().Err(err).Str("port", s.name).Msg("close")
	}
	log.Info().Str("port", s.name).Msg("disconnected")
}

// Connected reports if a port is open and has not failed.
func (l *Link) Connected() bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.s != nil && !l.lost
}

func (l *Link) session() (*session, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.s == nil {
		return nil, ErrNotConnected
	}
	if l.lost {
		return nil, ErrConnectionLost
	}
	return l.s, nil
}

func (l *Link) fail(s *session, err error) error {
	l.mx.Lock()
	if l.s == s {
		l.lost = true
	}
	l.mx.Unlock()
	log.Error().Err(err).Str("port", s.name).Msg("connection lost")
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// ReadLine returns the next line including its terminator. If the port read
// times out first, whatever was received so far is returned, possibly nothing.
func (l *Link) ReadLine() ([]byte, error) {
	s, err := l.session()
	if err != nil {
		return nil, err
	}
	s.rMx.Lock()
	defer s.rMx.Unlock()

	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := append([]byte(nil), s.pending[:i+1]...)
			s.pending = s.pending[i+1:]
			return line, nil
		}

		n, err := s.port.Read(s.buf)
		s.pending = append(s.pending, s.buf[:n]...)
		if err != nil && err != io.EOF {
			return nil, l.fail(s, err)
		}
		if n > 0 && err == nil {
			continue
		}
		if bytes.IndexByte(s.pending, '\n') >= 0 {
			continue
		}

		// timed out
		line := s.pending
		s.pending = nil
		return line, nil
	}
}

// WriteLine writes data to the port, then gives the device a moment to
// start processing it.
func (l *Link) WriteLine(data []byte) error {
	s, err := l.session()
	if err != nil {
		return err
	}

	_, err = s.port.Write(data)
	if err != nil {
		return l.fail(s, err)
	}
	time.Sleep(l.cfg.PollInterval)
	return nil
}
