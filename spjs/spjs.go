// Package spjs is a client for serial-port-json-server, which exposes serial
// ports on another host over a websocket.
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when sending on a closed client.
var ErrClosed = errors.New("spjs: closed")

// SPJS is a reconnecting client. Writes are queued until a connection is up.
type SPJS struct {
	url string

	outgoing  chan message
	incoming chan interface{}
	closeCh   chan struct{}
	closeOnce sync.Once
}

type message struct {
	done    chan struct{}
	payload []byte
}

// DataFrame is data received from a serial port.
type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

// CmdStatus reports the progress of queued writes.
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
}

// ErrorMessage is a server-side failure, e.g. opening a missing port.
type ErrorMessage struct {
	Error string
}

// SerialPortList is the reply to `list`, also sent after ports change.
type SerialPortList struct {
	SerialPorts []SerialPort
}

// SerialPort describes a port on the server host.
type SerialPort struct {
	Name     string
	Friendly string
	IsOpen   bool
	Baud     int
	USBVID   string
	USBPID   string
}

// NewSPJS starts a client for the server at url. The connection is retried
// until Close is called.
func NewSPJS(url string) *SPJS {
	sp := &SPJS{
		url:       url,
		outgoing:  make(chan message, 1000),
		incoming: make(chan interface{}, 1000),
		closeCh:   make(chan struct{}),
	}

	go sp.loop()

	return sp
}

// Messages returns decoded server messages.
func (sp *SPJS) Messages() chan interface{} {
	return sp.incoming
}

// Close stops the client.
func (sp *SPJS) Close() error {
	sp.closeOnce.Do(func() { close(sp.closeCh) })
	return nil
}

func parseSPJSMessage(data []byte, msg map[string]json.RawMessage) (val interface{}, err error) {
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Type", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (sp *SPJS) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Error().Err(err).Str("url", sp.url).Msg("spjs read")
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		var msg map[string]json.RawMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			log.Error().Err(err).Msg("spjs decode")
			continue
		}
		val, err := parseSPJSMessage(data, msg)
		if err != nil {
			log.Debug().Err(err).Msg("spjs parse")
			continue
		}
		select {
		case sp.incoming <- val:
		case <-sp.closeCh:
			return
		}
	}
}

func (sp *SPJS) loop() {
	var nextUp message

reconnect:
	for {
		select {
		case <-sp.closeCh:
			return
		default:
		}

		log.Info().Str("url", sp.url).Msg("spjs connecting")
		ws, _, err := websocket.DefaultDialer.Dial(sp.url, nil)
		if err != nil {
			log.Error().Err(err).Str("url", sp.url).Msg("spjs connect")
			select {
			case <-sp.closeCh:
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		log.Info().Str("url", sp.url).Msg("spjs connected")
		ch := make(chan struct{})
		go sp.readLoop(ws, ch)
		go sp.WriteString("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					log.Error().Err(err).Msg("spjs send")
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-sp.closeCh:
				ws.Close()
				return
			case <-ch:
				ws.Close()
				continue reconnect
			case nextUp = <-sp.outgoing:
			}
		}
	}
}

// JSON is the payload of a `sendjson` command.
type JSON struct {
	Port string `json:"P"`
	Data []Data
}

// Data is a single write with its tracking id.
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

var lastID int64

// NextID returns a unique command id.
func NextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

func (sp *SPJS) send(payload []byte) error {
	ch := make(chan struct{})
	select {
	case sp.outgoing <- message{done: ch, payload: payload}:
	case <-sp.closeCh:
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-sp.closeCh:
		return ErrClosed
	}
}

// SendJSON queues data for writing to a port.
func (sp *SPJS) SendJSON(v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sp.send(append([]byte("sendjson "), data...))
}

// WriteString sends a raw server command.
func (sp *SPJS) WriteString(data string) error {
	return sp.send([]byte(data))
}

// Open asks the server to open port using the default buffer algorithm.
func (sp *SPJS) Open(port string, baud int) error {
	return sp.WriteString(fmt.Sprintf("open %s %d default", port, baud))
}

// ClosePort asks the server to close port.
func (sp *SPJS) ClosePort(port string) error {
	return sp.WriteString("close " + port)
}
