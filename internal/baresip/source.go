package baresip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/phonenum"
	"github.com/dense-identity/callsync/internal/telecom"
	"github.com/dense-identity/callsync/internal/worker"
)

// ErrUnknownCall is returned for operations on a call Baresip does not report.
var ErrUnknownCall = errors.New("baresip: unknown call")

// Commander issues call commands to Baresip. *Client implements it.
type Commander interface {
	Accept(callID string) (*Response, error)
	Hangup(callID string, scode int, reason string) (*Response, error)
	Hold(callID string) (*Response, error)
	Resume(callID string) (*Response, error)
	SendDigit(callID string, digit byte) (*Response, error)
}

type session struct {
	sipID string
	call  telecom.Call
	// localHangup is set once we asked Baresip to end the call.
	localHangup bool
}

// Source adapts Baresip calls to telecom.Source. Events are delivered on a dedicated
// worker, never on the goroutine that issued a call operation.
type Source struct {
	cmd      Commander
	log      *logrus.Entry
	delivery *worker.Queue

	mu        sync.Mutex
	host      telecom.Listener
	nextID    telecom.CallID
	calls     map[string]*session
	byID      map[telecom.CallID]*session
	listeners map[telecom.CallID]telecom.Listener
}

// NewSource creates a Source issuing commands through cmd.
func NewSource(cmd Commander, log *logrus.Entry) *Source {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Source{
		cmd:       cmd,
		log:       log.WithField("component", "baresip-source"),
		delivery:  worker.New(),
		calls:     make(map[string]*session),
		byID:      make(map[telecom.CallID]*session),
		listeners: make(map[telecom.CallID]telecom.Listener),
	}
}

// Attach sets the host that receives added and removed calls.
func (s *Source) Attach(host telecom.Listener) {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
}

// Run translates events until ctx is done or events is closed.
func (s *Source) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ev)
		}
	}
}

// Flush waits until every event translated so far has been delivered.
func (s *Source) Flush() {
	s.delivery.Flush()
}

// Close stops delivery. Undelivered events are dropped.
func (s *Source) Close() {
	s.delivery.Close()
}

func (s *Source) handle(ev Event) {
	if ev.Class != "" && ev.Class != "call" {
		return
	}
	log := s.log.WithFields(logrus.Fields{"type": ev.Type, "sip_id": ev.ID, "peer": ev.PeerURI})

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.calls[ev.ID]
	switch ev.Type {
	case EventCallIncoming, EventCallOutgoing:
		if sess != nil || ev.ID == "" {
			return
		}
		s.nextID++
		c := telecom.Call{
			ID:                s.nextID,
			State:             telecom.StateRinging,
			Handle:            handleFor(ev.PeerURI),
			CallerDisplayName: ev.PeerName,
			Capabilities:      telecom.CapHold,
			Incoming:          true,
		}
		if ev.Type == EventCallOutgoing {
			c.State = telecom.StateConnecting
			c.Incoming = false
		}
		sess = &session{sipID: ev.ID, call: c}
		s.calls[ev.ID] = sess
		s.byID[c.ID] = sess
		log.WithField("call", c.ID).Info("call added")
		s.deliverLocked(telecom.Event{Kind: telecom.EventAdded, Call: c.Clone()})
		return
	}

	if sess == nil {
		log.Debug("event for unknown call")
		return
	}
	switch ev.Type {
	case EventCallRinging, EventCallProgress:
		if sess.call.State == telecom.StateConnecting {
			s.setStateLocked(sess, telecom.StateDialing)
		}
	case EventCallEstablished, EventCallResume:
		s.setStateLocked(sess, telecom.StateActive)
	case EventCallHold:
		s.setStateLocked(sess, telecom.StateHolding)
	case EventCallClosed:
		sess.call.Disconnect = disconnectCause(ev.Param, sess.localHangup,
			sess.call.Incoming && sess.call.State.IsRinging())
		s.setStateLocked(sess, telecom.StateDisconnected)
		delete(s.calls, sess.sipID)
		delete(s.byID, sess.call.ID)
		log.WithFields(logrus.Fields{"call": sess.call.ID, "cause": sess.call.Disconnect.Code}).
			Info("call closed")
		s.deliverLocked(telecom.Event{Kind: telecom.EventRemoved, Call: sess.call.Clone(), ForceUnregister: true})
	}
}

func (s *Source) setStateLocked(sess *session, state telecom.State) {
	if sess.call.State == state {
		return
	}
	sess.call.State = state
	s.deliverLocked(telecom.Event{Kind: telecom.EventStateChanged, Call: sess.call.Clone()})
}

// deliverLocked queues ev. Added and removed calls go to the host; everything else
// to the call's subscriber, resolved when the event is delivered.
func (s *Source) deliverLocked(ev telecom.Event) {
	s.delivery.Post(func() {
		s.mu.Lock()
		var l telecom.Listener
		switch ev.Kind {
		case telecom.EventAdded, telecom.EventRemoved:
			l = s.host
		default:
			l = s.listeners[ev.Call.ID]
		}
		s.mu.Unlock()
		if l != nil {
			l.OnCallEvent(ev)
		}
	})
}

// Subscribe implements telecom.Source.
func (s *Source) Subscribe(id telecom.CallID, l telecom.Listener) {
	s.mu.Lock()
	s.listeners[id] = l
	s.mu.Unlock()
}

// Unsubscribe implements telecom.Source.
func (s *Source) Unsubscribe(id telecom.CallID) {
	s.mu.Lock()
	delete(s.listeners, id)
	s.mu.Unlock()
}

func (s *Source) lookup(id telecom.CallID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownCall, id)
	}
	return sess.sipID, nil
}

func (s *Source) markLocalHangup(id telecom.CallID) {
	s.mu.Lock()
	if sess, ok := s.byID[id]; ok {
		sess.localHangup = true
	}
	s.mu.Unlock()
}

func (s *Source) moveTo(id telecom.CallID, state telecom.State) {
	s.mu.Lock()
	if sess, ok := s.byID[id]; ok {
		s.setStateLocked(sess, state)
	}
	s.mu.Unlock()
}

// Answer implements telecom.Source.
func (s *Source) Answer(id telecom.CallID) error {
	sipID, err := s.lookup(id)
	if err != nil {
		return err
	}
	_, err = s.cmd.Accept(sipID)
	return err
}

// Reject declines a ringing call with 603.
func (s *Source) Reject(id telecom.CallID) error {
	sipID, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.markLocalHangup(id)
	_, err = s.cmd.Hangup(sipID, 603, "Decline")
	return err
}

// Disconnect implements telecom.Source.
func (s *Source) Disconnect(id telecom.CallID) error {
	sipID, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.markLocalHangup(id)
	_, err = s.cmd.Hangup(sipID, 0, "")
	return err
}

// Hold implements telecom.Source.
func (s *Source) Hold(id telecom.CallID) error {
	sipID, err := s.lookup(id)
	if err != nil {
		return err
	}
	if _, err := s.cmd.Hold(sipID); err != nil {
		return err
	}
	s.moveTo(id, telecom.StateHolding)
	return nil
}

// Unhold implements telecom.Source.
func (s *Source) Unhold(id telecom.CallID) error {
	sipID, err := s.lookup(id)
	if err != nil {
		return err
	}
	if _, err := s.cmd.Resume(sipID); err != nil {
		return err
	}
	s.moveTo(id, telecom.StateActive)
	return nil
}

// PlayTone sends digit as DTMF.
func (s *Source) PlayTone(id telecom.CallID, digit byte) error {
	sipID, err := s.lookup(id)
	if err != nil {
		return err
	}
	_, err = s.cmd.SendDigit(sipID, digit)
	return err
}

// StopTone is a no-op: Baresip sends fixed-length DTMF.
func (s *Source) StopTone(id telecom.CallID) error {
	_, err := s.lookup(id)
	return err
}

// MergeConference is not supported by Baresip.
func (s *Source) MergeConference(telecom.CallID) error {
	return unsupported("merge")
}

// SwapConference is not supported by Baresip.
func (s *Source) SwapConference(telecom.CallID) error {
	return unsupported("swap")
}

// Conference is not supported by Baresip.
func (s *Source) Conference(telecom.CallID, telecom.CallID) error {
	return unsupported("conference")
}

// SendCallEvent is not supported by Baresip.
func (s *Source) SendCallEvent(telecom.CallID, string, map[string]any) error {
	return unsupported("call event")
}

func unsupported(op string) error {
	return fmt.Errorf("baresip %s: %w", op, errors.ErrUnsupported)
}

// handleFor returns a tel: handle when the peer URI carries a phone number.
func handleFor(peerURI string) string {
	if num := phonenum.ExtractPhone(peerURI); strings.Trim(num, "+") != "" {
		return "tel:" + num
	}
	return peerURI
}

// disconnectCause maps the CALL_CLOSED parameter, e.g. "486 Busy Here", to a cause.
func disconnectCause(param string, local, ringing bool) *telecom.DisconnectCause {
	p := strings.ToLower(param)
	code := telecom.DisconnectRemote
	status := sipStatus(p)
	switch {
	case local:
		code = telecom.DisconnectLocal
	case status == 486 || status == 600 || strings.Contains(p, "busy"):
		code = telecom.DisconnectBusy
	case status == 603 || strings.Contains(p, "decline") || strings.Contains(p, "rejected"):
		code = telecom.DisconnectRejected
	case ringing:
		code = telecom.DisconnectMissed
	case status == 487:
		code = telecom.DisconnectCanceled
	case status >= 400:
		code = telecom.DisconnectError
	}
	return &telecom.DisconnectCause{Code: code, Reason: param}
}

func sipStatus(p string) int {
	if len(p) < 3 {
		return 0
	}
	n, err := strconv.Atoi(p[:3])
	if err != nil || n < 100 || n > 699 {
		return 0
	}
	return n
}
