package polargraph

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mastercactapus/polargraph/feedback"
	"github.com/rs/zerolog/log"
)

var (
	// ErrEchoTimeout is returned when the device does not echo a command in time.
	ErrEchoTimeout = errors.New("timed out waiting for echo")

	// ErrDeviceReset is returned when the device reset banner is received.
	ErrDeviceReset = errors.New("device reset")

	// ErrEmergencyStop is returned when the device reports a pressed emergency stop.
	ErrEmergencyStop = errors.New("emergency stop")
)

// Feedback messages.
const (
	MsgNotConnected = "Device Not Connected."
	MsgSendFailed   = "Failed to Send Command.\nInternal Error."
)

// LineReadWriter is the raw line transport a Conn talks over.
type LineReadWriter interface {
	Connected() bool
	ReadLine() ([]byte, error)
	WriteLine([]byte) error
}

// Conn runs the command handshake with a plotter. It is not safe for
// concurrent use; the device handles one command at a time.
type Conn struct {
	rw  LineReadWriter
	cfg Config
	fb  feedback.Sink
}

// NewConn returns a Conn over rw.
func NewConn(rw LineReadWriter, cfg Config, fb feedback.Sink) *Conn {
	if fb == nil {
		fb = feedback.Discard
	}
	return &Conn{rw: rw, cfg: cfg, fb: fb}
}

// Connected reports if the underlying link is up.
func (c *Conn) Connected() bool { return c.rw.Connected() }

// readText returns the next line as text without line terminators.
// Lines that are not valid UTF-8 are dropped.
func (c *Conn) readText() (string, error) {
	data, err := c.rw.ReadLine()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		log.Debug().Bytes("data", data).Msg("dropped undecodable data")
		return "", nil
	}
	s := strings.NewReplacer("\n", "", "\r", "").Replace(string(data))
	if s != "" {
		log.Debug().Str("data", s).Msg("recv")
	}
	return s, nil
}

func (c *Conn) write(s string) error {
	log.Debug().Str("cmd", strings.TrimSpace(s)).Msg("send")
	return c.rw.WriteLine([]byte(s))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Send delivers a single command and waits for the device to echo it back
// before acknowledging it for execution. It does not wait for the command to
// finish; see WaitForComplete.
//
// A READY received before the echo means the device missed the command, it
// is resent once per READY.
func (c *Conn) Send(ctx context.Context, cmd string) error {
	canon, err := Canonicalize(cmd, c.cfg.MaxLength)
	if err != nil {
		log.Warn().Err(err).Str("cmd", cmd).Msg("rejected command")
		c.fb.Put(MsgSendFailed)
		return err
	}

	err = c.write(canon)
	if err != nil {
		c.fb.Put(MsgSendFailed)
		return err
	}
	c.fb.Put(canon)

	check := strings.TrimSuffix(canon, "\n")
	deadline := time.Now().Add(c.cfg.Timeout)
	var data string
	for {
		if time.Now().After(deadline) {
			log.Warn().Str("cmd", check).Msg("no echo")
			return ErrEchoTimeout
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := c.readText()
		if err != nil {
			return err
		}
		if s == "" {
			continue
		}
		data += s

		if strings.Contains(data, BannerMarker) {
			log.Warn().Str("cmd", check).Msg("device reset during send")
			return ErrDeviceReset
		}
		if strings.Contains(data, check) {
			break
		}
		if strings.Contains(data, ReadyMarker) {
			log.Debug().Str("cmd", check).Msg("ready before echo, resending")
			err = c.write(canon)
			if err != nil {
				return err
			}
			data = ""
		}

		err = sleep(ctx, c.cfg.PollInterval)
		if err != nil {
			return err
		}
	}

	err = c.write(AckToken)
	if err != nil {
		return err
	}
	err = sleep(ctx, c.cfg.PollInterval)
	if err != nil {
		return err
	}

	// drain one immediate reply
	_, err = c.rw.ReadLine()
	return err
}

// WaitForComplete blocks until the device reports it is finished or idle.
// There is no timeout; cancel ctx to give up.
func (c *Conn) WaitForComplete(ctx context.Context) error {
	var data string
	for {
		if !c.rw.Connected() {
			return ErrConnectionLost
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := c.readText()
		if err != nil {
			return err
		}
		data += s

		switch {
		case strings.Contains(data, EStopMarker):
			log.Warn().Msg("emergency stop pressed")
			return ErrEmergencyStop
		case strings.Contains(data, BannerMarker):
			log.Warn().Msg("device reset while waiting")
			return ErrDeviceReset
		case strings.Contains(data, CompleteMarker), strings.Contains(data, ReadyMarker):
			return nil
		}

		err = sleep(ctx, c.cfg.PollInterval)
		if err != nil {
			return err
		}
	}
}

// SendSingle checks the connection, sends cmd and waits for it to complete.
func (c *Conn) SendSingle(ctx context.Context, cmd string) error {
	if !c.rw.Connected() {
		c.fb.Put(MsgNotConnected)
		return ErrNotConnected
	}

	err := c.Send(ctx, cmd)
	if err != nil {
		return err
	}
	return c.WaitForComplete(ctx)
}
