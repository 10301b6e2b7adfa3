package polargraph

import (
	"bytes"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mastercactapus/polargraph/spjs"
	"github.com/rs/zerolog/log"
)

// SPJSPort is a Port on a serial-port-json-server host.
type SPJSPort struct {
	sp   *spjs.SPJS
	port string
	cfg  Config

	mx     sync.Mutex
	buf    bytes.Buffer
	notify chan struct{}
	closed chan struct{}
	once   sync.Once
}

var _ Port = &SPJSPort{}

// OpenSPJS returns an Opener for ports on the server at url.
func OpenSPJS(url string) Opener {
	return func(name string, cfg Config) (Port, error) {
		sp := spjs.NewSPJS(url)
		err := sp.Open(name, cfg.Baud)
		if err != nil {
			sp.Close()
			return nil, err
		}
		return NewSPJSPort(sp, name, cfg), nil
	}
}

// NewSPJSPort returns a Port reading and writing port through sp.
func NewSPJSPort(sp *spjs.SPJS, port string, cfg Config) *SPJSPort {
	p := &SPJSPort{
		sp:     sp,
		port:   port,
		cfg:    cfg,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *SPJSPort) loop() {
	for {
		select {
		case <-p.closed:
			return
		case resp := <-p.sp.Messages():
			switch msg := resp.(type) {
			case *spjs.DataFrame:
				if msg.Port != p.port {
					continue
				}
				p.mx.Lock()
				p.buf.WriteString(msg.Data)
				p.mx.Unlock()
				select {
				case p.notify <- struct{}{}:
				default:
				}
			case *spjs.ErrorMessage:
				log.Error().Str("port", p.port).Str("error", msg.Error).Msg("spjs")
			case *spjs.SerialPortList:
				for _, sp := range msg.SerialPorts {
					if sp.Name == p.port && !sp.IsOpen {
						go p.sp.Open(p.port, p.cfg.Baud)
					}
				}
			}
		}
	}
}

// Read returns received data, waiting up to the read timeout for some to arrive.
func (p *SPJSPort) Read(b []byte) (int, error) {
	t := time.NewTimer(p.cfg.ReadTimeout)
	defer t.Stop()
	for {
		p.mx.Lock()
		if p.buf.Len() > 0 {
			defer p.mx.Unlock()
			return p.buf.Read(b)
		}
		p.mx.Unlock()

		select {
		case <-p.closed:
			return 0, io.ErrClosedPipe
		case <-t.C:
			return 0, nil
		case <-p.notify:
		}
	}
}

func (p *SPJSPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	err := p.sp.SendJSON(spjs.JSON{
		Port: p.port,
		Data: []spjs.Data{{Data: string(b), ID: spjs.NextID()}},
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the remote port and stops the client.
func (p *SPJSPort) Close() error {
	p.once.Do(func() {
		close(p.closed)
		done := make(chan error, 1)
		go func() { done <- p.sp.ClosePort(p.port) }()
		select {
		case err := <-done:
			if err != nil {
				log.Warn().Err(err).Str("port", p.port).Msg("spjs close")
			}
		case <-time.After(p.cfg.ReadTimeout):
			log.Warn().Str("port", p.port).Msg("spjs close: timed out")
		}
		p.sp.Close()
	})
	return nil
}

// ListSPJS returns a Lister asking the server at url for its ports.
func ListSPJS(url string, timeout time.Duration) Lister {
	return func() ([]string, error) {
		sp := spjs.NewSPJS(url)
		defer sp.Close()

		t := time.NewTimer(timeout)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				return nil, ErrNotConnected
			case resp := <-sp.Messages():
				list, ok := resp.(*spjs.SerialPortList)
				if !ok {
					continue
				}
				names := make([]string, 0, len(list.SerialPorts))
				for _, p := range list.SerialPorts {
					names = append(names, p.Name)
				}
				sort.Strings(names)
				return names, nil
			}
		}
	}
}
