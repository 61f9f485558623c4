package bridge

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/tbs"
	"github.com/dense-identity/callsync/internal/telecom"
)

type sourceOp struct {
	name  string
	id    telecom.CallID
	other telecom.CallID
	digit byte
	event string
	data  map[string]any
}

type fakeSource struct {
	mu         sync.Mutex
	listeners  map[telecom.CallID]telecom.Listener
	subscribes int
	ops        []sourceOp
	err        error
}

func newFakeSource() *fakeSource {
	return &fakeSource{listeners: make(map[telecom.CallID]telecom.Listener)}
}

func (s *fakeSource) Subscribe(id telecom.CallID, l telecom.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	s.listeners[id] = l
}

func (s *fakeSource) Unsubscribe(id telecom.CallID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *fakeSource) subscribed(id telecom.CallID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[id]
	return ok
}

func (s *fakeSource) record(op sourceOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return s.err
}

func (s *fakeSource) recorded() []sourceOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sourceOp(nil), s.ops...)
}

func (s *fakeSource) Answer(id telecom.CallID) error {
	return s.record(sourceOp{name: "answer", id: id})
}

func (s *fakeSource) Reject(id telecom.CallID) error {
	return s.record(sourceOp{name: "reject", id: id})
}

func (s *fakeSource) Disconnect(id telecom.CallID) error {
	return s.record(sourceOp{name: "disconnect", id: id})
}

func (s *fakeSource) Hold(id telecom.CallID) error {
	return s.record(sourceOp{name: "hold", id: id})
}

func (s *fakeSource) Unhold(id telecom.CallID) error {
	return s.record(sourceOp{name: "unhold", id: id})
}

func (s *fakeSource) MergeConference(id telecom.CallID) error {
	return s.record(sourceOp{name: "merge", id: id})
}

func (s *fakeSource) SwapConference(id telecom.CallID) error {
	return s.record(sourceOp{name: "swap", id: id})
}

func (s *fakeSource) Conference(id, other telecom.CallID) error {
	return s.record(sourceOp{name: "conference", id: id, other: other})
}

func (s *fakeSource) PlayTone(id telecom.CallID, digit byte) error {
	return s.record(sourceOp{name: "play_tone", id: id, digit: digit})
}

func (s *fakeSource) StopTone(id telecom.CallID) error {
	return s.record(sourceOp{name: "stop_tone", id: id})
}

func (s *fakeSource) SendCallEvent(id telecom.CallID, name string, payload map[string]any) error {
	return s.record(sourceOp{name: "call_event", id: id, event: name, data: payload})
}

type legacyRecorder struct {
	mu     sync.Mutex
	states []hfp.PhoneState
	rows   []hfp.ClccRow
}

func (r *legacyRecorder) PhoneStateChanged(s hfp.PhoneState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *legacyRecorder) ClccResponse(row hfp.ClccRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func (r *legacyRecorder) phoneStates() []hfp.PhoneState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hfp.PhoneState(nil), r.states...)
}

func (r *legacyRecorder) clccRows() []hfp.ClccRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hfp.ClccRow(nil), r.rows...)
}

func (r *legacyRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = nil
	r.rows = nil
}

type stateChange struct {
	id    uuid.UUID
	state tbs.State
}

type removal struct {
	id     uuid.UUID
	reason tbs.TerminationReason
}

type requestResult struct {
	requestID int
	result    tbs.Result
}

type listRecorder struct {
	mu      sync.Mutex
	added   []tbs.Call
	changed []stateChange
	removed []removal
	lists   [][]tbs.Call
	results []requestResult
}

func (r *listRecorder) OnCallAdded(c tbs.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, c)
}

func (r *listRecorder) OnCallStateChanged(id uuid.UUID, s tbs.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, stateChange{id, s})
}

func (r *listRecorder) OnCallRemoved(id uuid.UUID, reason tbs.TerminationReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, removal{id, reason})
}

func (r *listRecorder) CurrentCallsList(calls []tbs.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, calls)
}

func (r *listRecorder) RequestResult(requestID int, result tbs.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, requestResult{requestID, result})
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeSource) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	src := newFakeSource()
	e := New(src, append([]Option{WithLogger(logrus.NewEntry(logger))}, opts...)...)
	t.Cleanup(func() { e.Close() })
	return e, src
}

// connectLegacy attaches a recorder and discards the resync it triggers.
func connectLegacy(e *Engine) *legacyRecorder {
	rec := &legacyRecorder{}
	e.SetLegacySink(rec)
	settle(e)
	rec.reset()
	return rec
}

// settle waits for every queued reconciliation event to be handled.
func settle(e *Engine) {
	e.Settle()
}

func newCall(id telecom.CallID, state telecom.State, number string, incoming bool) telecom.Call {
	c := telecom.Call{ID: id, State: state, Incoming: incoming}
	if number != "" {
		c.Handle = "tel:" + number
	}
	return c
}

func withCause(c telecom.Call, code telecom.DisconnectCode) telecom.Call {
	c.State = telecom.StateDisconnected
	c.Disconnect = &telecom.DisconnectCause{Code: code}
	return c
}

func changeState(e *Engine, c telecom.Call) {
	e.OnCallEvent(telecom.Event{Kind: telecom.EventStateChanged, Call: c})
}

func notify(e *Engine, kind telecom.EventKind, c telecom.Call) {
	e.OnCallEvent(telecom.Event{Kind: kind, Call: c})
}

func phoneState(numActive, numHeld int, state hfp.CallState, addr string, addrType int) hfp.PhoneState {
	return hfp.PhoneState{NumActive: numActive, NumHeld: numHeld, CallState: state, Address: addr, AddressType: addrType}
}

func assertPhoneStates(t *testing.T, got []hfp.PhoneState, want ...hfp.PhoneState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d phone-state updates %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("update %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
