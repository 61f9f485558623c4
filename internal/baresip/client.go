// Package baresip connects to a Baresip user agent over its ctrl_tcp interface and
// exposes its calls as a telecom.Source.
package baresip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType is a Baresip event type.
type EventType string

const (
	EventCallIncoming    EventType = "CALL_INCOMING"
	EventCallOutgoing    EventType = "CALL_OUTGOING"
	EventCallRinging     EventType = "CALL_RINGING"
	EventCallProgress    EventType = "CALL_PROGRESS"
	EventCallAnswered    EventType = "CALL_ANSWERED"
	EventCallEstablished EventType = "CALL_ESTABLISHED"
	EventCallHold        EventType = "CALL_HOLD"
	EventCallResume      EventType = "CALL_RESUME"
	EventCallClosed      EventType = "CALL_CLOSED"
	EventCallDTMFStart   EventType = "CALL_DTMF_START"
	EventCallDTMFEnd     EventType = "CALL_DTMF_END"
	EventRegisterOK      EventType = "REGISTER_OK"
	EventRegisterFail    EventType = "REGISTER_FAIL"
)

// Event is an asynchronous notification from Baresip.
type Event struct {
	Event      bool      `json:"event"`
	Class      string    `json:"class"`
	Type       EventType `json:"type"`
	AccountAOR string    `json:"accountaor"`
	Direction  string    `json:"direction"`
	PeerURI    string    `json:"peeruri"`
	PeerName   string    `json:"peername"`
	ID         string    `json:"id"`
	Param      string    `json:"param"`
}

// Response answers a command.
type Response struct {
	Response bool   `json:"response"`
	OK       bool   `json:"ok"`
	Data     string `json:"data"`
	Token    string `json:"token"`
}

type command struct {
	Command string `json:"command"`
	Params  string `json:"params,omitempty"`
	Token   string `json:"token,omitempty"`
}

// ErrClosed is returned for commands issued after the connection closed.
var ErrClosed = errors.New("baresip: connection closed")

// Client manages the connection to Baresip ctrl_tcp.
type Client struct {
	addr    string
	log     *logrus.Entry
	conn    net.Conn
	encoder *NetstringEncoder
	decoder *NetstringDecoder
	writeMu sync.Mutex

	events chan Event
	errs   chan error

	tokenCounter atomic.Uint64
	pending      map[string]chan Response
	pendingMu    sync.Mutex
	cmdTimeout   time.Duration

	closed   atomic.Bool
	closedCh chan struct{}
}

// NewClient creates a client for the ctrl_tcp listener at addr.
func NewClient(addr string, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		addr:       addr,
		log:        log.WithField("component", "baresip"),
		events:     make(chan Event, 100),
		errs:       make(chan error, 1),
		pending:    make(map[string]chan Response),
		closedCh:   make(chan struct{}),
		cmdTimeout: 2 * time.Second,
	}
}

// Connect dials Baresip and starts reading events.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connecting to baresip at %s: %w", c.addr, err)
	}
	c.attach(conn)
	c.log.WithField("addr", c.addr).Info("connected")
	return nil
}

func (c *Client) attach(conn net.Conn) {
	c.conn = conn
	c.encoder = NewNetstringEncoder(conn)
	c.decoder = NewNetstringDecoder(conn)
	go c.readLoop()
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.closedCh)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Events returns the event channel. It is closed when the read loop exits.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Errors reports at most one read error.
func (c *Client) Errors() <-chan error {
	return c.errs
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.errs)

	for {
		data, err := c.decoder.Decode()
		if err != nil {
			if !c.closed.Load() {
				c.errs <- fmt.Errorf("reading from baresip: %w", err)
			}
			return
		}
		c.log.WithField("data", string(data)).Trace("received")

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			c.log.WithError(err).Warn("invalid json")
			continue
		}

		if _, ok := raw["event"]; ok {
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				c.log.WithError(err).Warn("failed to parse event")
				continue
			}
			select {
			case c.events <- ev:
			case <-c.closedCh:
				return
			}
			continue
		}
		if _, ok := raw["response"]; ok {
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				c.log.WithError(err).Warn("failed to parse response")
				continue
			}
			c.pendingMu.Lock()
			if ch, ok := c.pending[resp.Token]; ok {
				ch <- resp
				delete(c.pending, resp.Token)
			}
			c.pendingMu.Unlock()
		}
	}
}

func (c *Client) forget(token string) {
	c.pendingMu.Lock()
	delete(c.pending, token)
	c.pendingMu.Unlock()
}

// send issues cmd and waits for its response. A response with ok=false is an error.
func (c *Client) send(cmd, params string) (*Response, error) {
	if c.closed.Load() || c.encoder == nil {
		return nil, ErrClosed
	}
	token := "tok" + strconv.FormatUint(c.tokenCounter.Add(1), 10)
	data, err := json.Marshal(command{Command: cmd, Params: params, Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}

	respCh := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[token] = respCh
	c.pendingMu.Unlock()

	c.log.WithField("data", string(data)).Trace("sending")
	c.writeMu.Lock()
	err = c.encoder.Encode(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(token)
		return nil, fmt.Errorf("sending %s: %w", cmd, err)
	}

	timer := time.NewTimer(c.cmdTimeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		if !resp.OK {
			return &resp, fmt.Errorf("baresip %s failed: %s", cmd, resp.Data)
		}
		return &resp, nil
	case <-c.closedCh:
		c.forget(token)
		return nil, ErrClosed
	case <-timer.C:
		c.forget(token)
		return nil, fmt.Errorf("command timeout: %s", cmd)
	}
}

// Dial initiates an outgoing call.
func (c *Client) Dial(uri string) (*Response, error) {
	return c.send("dial", uri)
}

// Accept answers an incoming call.
func (c *Client) Accept(callID string) (*Response, error) {
	return c.send("accept", callID)
}

// Hangup terminates a call, optionally with a SIP status code and reason.
func (c *Client) Hangup(callID string, scode int, reason string) (*Response, error) {
	params := callID
	if scode > 0 {
		params = joinParam(params, "scode="+strconv.Itoa(scode))
	}
	if reason != "" {
		params = joinParam(params, "reason="+reason)
	}
	return c.send("hangup", params)
}

// Hold puts the call on hold.
func (c *Client) Hold(callID string) (*Response, error) {
	if err := c.find(callID); err != nil {
		return nil, err
	}
	return c.send("hold", "")
}

// Resume takes the call off hold.
func (c *Client) Resume(callID string) (*Response, error) {
	if err := c.find(callID); err != nil {
		return nil, err
	}
	return c.send("resume", "")
}

// SendDigit sends a DTMF digit on the call.
func (c *Client) SendDigit(callID string, digit byte) (*Response, error) {
	if err := c.find(callID); err != nil {
		return nil, err
	}
	return c.send("sndcode", string(digit))
}

// ListCalls lists the calls Baresip knows about.
func (c *Client) ListCalls() (*Response, error) {
	return c.send("listcalls", "")
}

// find makes callID the current call for commands that act on it.
func (c *Client) find(callID string) error {
	_, err := c.send("callfind", callID)
	return err
}

func joinParam(params, p string) string {
	if params == "" {
		return p
	}
	return params + " " + p
}
