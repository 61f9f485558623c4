package baresip

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/telecom"
)

type sentCommand struct {
	name  string
	sipID string
	scode int
	digit byte
}

type fakeCommander struct {
	mu   sync.Mutex
	sent []sentCommand
	err  error
}

func (f *fakeCommander) record(c sentCommand) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Response: true, OK: true}, nil
}

func (f *fakeCommander) Accept(id string) (*Response, error) {
	return f.record(sentCommand{name: "accept", sipID: id})
}

func (f *fakeCommander) Hangup(id string, scode int, _ string) (*Response, error) {
	return f.record(sentCommand{name: "hangup", sipID: id, scode: scode})
}

func (f *fakeCommander) Hold(id string) (*Response, error) {
	return f.record(sentCommand{name: "hold", sipID: id})
}

func (f *fakeCommander) Resume(id string) (*Response, error) {
	return f.record(sentCommand{name: "resume", sipID: id})
}

func (f *fakeCommander) SendDigit(id string, digit byte) (*Response, error) {
	return f.record(sentCommand{name: "sndcode", sipID: id, digit: digit})
}

type eventRecorder struct {
	mu     sync.Mutex
	events []telecom.Event
}

func (r *eventRecorder) OnCallEvent(ev telecom.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) recorded() []telecom.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telecom.Event(nil), r.events...)
}

func newTestSource(t *testing.T) (*Source, *fakeCommander, *eventRecorder) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cmd := &fakeCommander{}
	s := NewSource(cmd, logrus.NewEntry(log))
	host := &eventRecorder{}
	s.Attach(host)
	t.Cleanup(s.Close)
	return s, cmd, host
}

func callEvent(typ EventType, id, peer, param string) Event {
	return Event{Event: true, Class: "call", Type: typ, ID: id, PeerURI: peer, Param: param}
}

func TestIncomingCallLifecycle(t *testing.T) {
	s, _, host := newTestSource(t)

	ev := callEvent(EventCallIncoming, "sip-1", "sip:+15551230000@example.com", "")
	ev.PeerName = "Alice"
	s.handle(ev)
	s.Flush()

	added := host.recorded()
	if len(added) != 1 || added[0].Kind != telecom.EventAdded {
		t.Fatalf("host events: got %+v", added)
	}
	c := added[0].Call
	if c.ID != 1 || c.State != telecom.StateRinging || !c.Incoming ||
		c.Handle != "tel:+15551230000" || c.CallerDisplayName != "Alice" {
		t.Fatalf("added call: got %+v", c)
	}

	l := &eventRecorder{}
	s.Subscribe(c.ID, l)
	s.handle(callEvent(EventCallEstablished, "sip-1", "", ""))
	s.handle(callEvent(EventCallClosed, "sip-1", "", "Connection reset by peer"))
	s.Flush()

	got := l.recorded()
	if len(got) != 2 || got[0].Call.State != telecom.StateActive || got[1].Call.State != telecom.StateDisconnected {
		t.Fatalf("listener events: got %+v", got)
	}
	host1 := host.recorded()
	removed := host1[len(host1)-1]
	if removed.Kind != telecom.EventRemoved || !removed.ForceUnregister ||
		removed.Call.Disconnect == nil || removed.Call.Disconnect.Code != telecom.DisconnectRemote {
		t.Fatalf("removed event: got %+v", removed)
	}
	if err := s.Answer(c.ID); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("answer after close: got %v", err)
	}
}

func TestOutgoingCallHungUpLocally(t *testing.T) {
	s, cmd, host := newTestSource(t)

	s.handle(callEvent(EventCallOutgoing, "sip-9", "sip:bob@example.com", ""))
	s.Flush()
	c := host.recorded()[0].Call
	if c.State != telecom.StateConnecting || c.Incoming || c.Handle != "sip:bob@example.com" {
		t.Fatalf("outgoing call: got %+v", c)
	}

	l := &eventRecorder{}
	s.Subscribe(c.ID, l)
	s.handle(callEvent(EventCallRinging, "sip-9", "", ""))
	s.handle(callEvent(EventCallProgress, "sip-9", "", ""))
	if err := s.Disconnect(c.ID); err != nil {
		t.Fatal(err)
	}
	s.handle(callEvent(EventCallClosed, "sip-9", "", "Call closed"))
	s.Flush()

	got := l.recorded()
	if len(got) != 2 || got[0].Call.State != telecom.StateDialing {
		t.Fatalf("listener events: got %+v", got)
	}
	if code := got[1].Call.Disconnect.Code; code != telecom.DisconnectLocal {
		t.Fatalf("cause: got %v, want local", code)
	}
	if len(cmd.sent) != 1 || cmd.sent[0] != (sentCommand{name: "hangup", sipID: "sip-9"}) {
		t.Fatalf("commands: got %+v", cmd.sent)
	}
}

func TestHoldAndUnholdReportState(t *testing.T) {
	s, cmd, host := newTestSource(t)

	s.handle(callEvent(EventCallIncoming, "sip-1", "tel:+15551230000", ""))
	s.handle(callEvent(EventCallEstablished, "sip-1", "", ""))
	s.Flush()
	id := host.recorded()[0].Call.ID
	l := &eventRecorder{}
	s.Subscribe(id, l)

	if err := s.Hold(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Unhold(id); err != nil {
		t.Fatal(err)
	}
	if err := s.PlayTone(id, '7'); err != nil {
		t.Fatal(err)
	}
	s.Flush()

	got := l.recorded()
	if len(got) != 2 || got[0].Call.State != telecom.StateHolding || got[1].Call.State != telecom.StateActive {
		t.Fatalf("listener events: got %+v", got)
	}
	want := []sentCommand{
		{name: "hold", sipID: "sip-1"},
		{name: "resume", sipID: "sip-1"},
		{name: "sndcode", sipID: "sip-1", digit: '7'},
	}
	if len(cmd.sent) != len(want) {
		t.Fatalf("commands: got %+v", cmd.sent)
	}
	for i := range want {
		if cmd.sent[i] != want[i] {
			t.Fatalf("command %d: got %+v, want %+v", i, cmd.sent[i], want[i])
		}
	}
}

func TestFailedHoldKeepsState(t *testing.T) {
	s, cmd, host := newTestSource(t)
	s.handle(callEvent(EventCallIncoming, "sip-1", "tel:+15551230000", ""))
	s.Flush()
	id := host.recorded()[0].Call.ID
	l := &eventRecorder{}
	s.Subscribe(id, l)

	cmd.err = errors.New("no such call")
	if err := s.Hold(id); err == nil {
		t.Fatal("expected an error")
	}
	s.Flush()
	if got := l.recorded(); len(got) != 0 {
		t.Fatalf("listener events after failed hold: got %+v", got)
	}
}

func TestRejectSendsDecline(t *testing.T) {
	s, cmd, host := newTestSource(t)
	s.handle(callEvent(EventCallIncoming, "sip-1", "tel:+15551230000", ""))
	s.Flush()

	if err := s.Reject(host.recorded()[0].Call.ID); err != nil {
		t.Fatal(err)
	}
	if len(cmd.sent) != 1 || cmd.sent[0].scode != 603 {
		t.Fatalf("commands: got %+v", cmd.sent)
	}
}

func TestEventsForUnknownCallsIgnored(t *testing.T) {
	s, _, host := newTestSource(t)
	s.handle(callEvent(EventCallEstablished, "nope", "", ""))
	s.handle(callEvent(EventCallClosed, "nope", "", ""))
	s.handle(Event{Event: true, Class: "register", Type: EventRegisterOK})
	s.Flush()
	if got := host.recorded(); len(got) != 0 {
		t.Fatalf("host events: got %+v", got)
	}
}

func TestDuplicateIncomingIgnored(t *testing.T) {
	s, _, host := newTestSource(t)
	s.handle(callEvent(EventCallIncoming, "sip-1", "tel:+15551230000", ""))
	s.handle(callEvent(EventCallIncoming, "sip-1", "tel:+15551230000", ""))
	s.Flush()
	if got := host.recorded(); len(got) != 1 {
		t.Fatalf("host events: got %d, want 1", len(got))
	}
}

func TestUnsupportedOperations(t *testing.T) {
	s, _, _ := newTestSource(t)
	for name, err := range map[string]error{
		"merge":      s.MergeConference(1),
		"swap":       s.SwapConference(1),
		"conference": s.Conference(1, 2),
		"call event": s.SendCallEvent(1, "quality", nil),
	} {
		if !errors.Is(err, errors.ErrUnsupported) {
			t.Errorf("%s: got %v, want ErrUnsupported", name, err)
		}
	}
}

func TestRunStopsWhenEventsClose(t *testing.T) {
	s, _, host := newTestSource(t)
	events := make(chan Event, 1)
	events <- callEvent(EventCallIncoming, "sip-1", "tel:+15551230000", "")
	close(events)

	if err := s.Run(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	s.Flush()
	if got := host.recorded(); len(got) != 1 {
		t.Fatalf("host events: got %d, want 1", len(got))
	}
}

func TestDisconnectCause(t *testing.T) {
	tests := []struct {
		param   string
		local   bool
		ringing bool
		want    telecom.DisconnectCode
	}{
		{"486 Busy Here", false, false, telecom.DisconnectBusy},
		{"600 Busy Everywhere", false, false, telecom.DisconnectBusy},
		{"603 Decline", false, false, telecom.DisconnectRejected},
		{"Rejected by user", false, false, telecom.DisconnectRejected},
		{"487 Request Terminated", false, true, telecom.DisconnectMissed},
		{"487 Request Terminated", false, false, telecom.DisconnectCanceled},
		{"503 Service Unavailable", false, false, telecom.DisconnectError},
		{"Connection reset by peer", false, false, telecom.DisconnectRemote},
		{"486 Busy Here", true, false, telecom.DisconnectLocal},
	}
	for _, tt := range tests {
		got := disconnectCause(tt.param, tt.local, tt.ringing)
		if got.Code != tt.want || got.Reason != tt.param {
			t.Errorf("disconnectCause(%q, %v, %v) = %+v, want %v", tt.param, tt.local, tt.ringing, got, tt.want)
		}
	}
}
