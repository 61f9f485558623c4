package bridge

import (
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/phonenum"
	"github.com/dense-identity/callsync/internal/telecom"
)

func TestRingingCallIsIncoming(t *testing.T) {
	for _, dual := range []bool{false, true} {
		e, _ := newTestEngine(t, WithDualIdentity(dual), WithClock(&fakeClock{}))
		rec := connectLegacy(e)

		c1 := newCall(1, telecom.StateRinging, "+15551234567", true)
		c1.CallerDisplayName = "Alice"
		e.CallAdded(c1)
		settle(e)

		want := phoneState(0, 0, hfp.CallIncoming, "+15551234567", phonenum.TOAInternational)
		want.Name = "Alice"
		assertPhoneStates(t, rec.phoneStates(), want)
	}
}

func TestUnchangedStateEmitsNothing(t *testing.T) {
	e, src := newTestEngine(t, WithDualIdentity(false))
	rec := connectLegacy(e)

	c1 := newCall(1, telecom.StateRinging, "+15551234567", true)
	e.CallAdded(c1)
	e.CallAdded(c1)
	changeState(e, c1)

	if got := len(rec.phoneStates()); got != 1 {
		t.Fatalf("got %d updates, want 1", got)
	}
	if src.subscribes != 1 {
		t.Fatalf("got %d subscriptions, want 1", src.subscribes)
	}

	// A query always resends.
	if !e.QueryPhoneState() {
		t.Fatal("query failed")
	}
	states := rec.phoneStates()
	if len(states) != 2 || states[0] != states[1] {
		t.Fatalf("query: got %v, want the same update twice", states)
	}
}

func TestDialingSentBeforeAlerting(t *testing.T) {
	e, _ := newTestEngine(t, WithDualIdentity(false))
	rec := connectLegacy(e)

	e.CallAdded(newCall(1, telecom.StateConnecting, "+15550001111", false))

	assertPhoneStates(t, rec.phoneStates(),
		phoneState(0, 0, hfp.CallDialing, "", phonenum.TOANone),
		phoneState(0, 0, hfp.CallAlerting, "", phonenum.TOANone),
	)
}

func TestTwoHeldCallsAreNotSurfaced(t *testing.T) {
	e, _ := newTestEngine(t, WithDualIdentity(false))
	rec := connectLegacy(e)

	e.CallAdded(newCall(1, telecom.StateHolding, "+15550001111", false))
	e.CallAdded(newCall(2, telecom.StateHolding, "+15550002222", false))

	assertPhoneStates(t, rec.phoneStates(), phoneState(0, 1, hfp.CallIdle, "", phonenum.TOANone))
}

func TestConferenceWaitsForSecondChild(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := connectLegacy(e)

	conf := telecom.Call{ID: 10, State: telecom.StateActive, Conference: true}
	e.CallAdded(conf)
	settle(e)
	assertPhoneStates(t, rec.phoneStates(), phoneState(1, 0, hfp.CallIdle, "", phonenum.TOANone))
	rec.reset()

	conf.ChildrenIDs = []telecom.CallID{1}
	notify(e, telecom.EventChildrenChanged, conf)
	settle(e)
	assertPhoneStates(t, rec.phoneStates())

	conf.ChildrenIDs = []telecom.CallID{1, 2}
	notify(e, telecom.EventChildrenChanged, conf)
	settle(e)
	assertPhoneStates(t, rec.phoneStates(), phoneState(1, 0, hfp.CallIdle, "", phonenum.TOANone))
}

func TestParentChangeFromMemberIgnored(t *testing.T) {
	e, _ := newTestEngine(t, WithDualIdentity(false))
	rec := connectLegacy(e)

	c1 := newCall(1, telecom.StateActive, "+15550001111", false)
	e.CallAdded(c1)
	rec.reset()

	c1.ParentID = 10
	notify(e, telecom.EventParentChanged, c1)
	assertPhoneStates(t, rec.phoneStates())

	// The member's snapshot is still recorded: it is no longer a top-level active call.
	e.mu.Lock()
	active := e.activeCall()
	e.mu.Unlock()
	if active != nil {
		t.Fatalf("active call: got %d, want none", active.id())
	}
}

func TestInferenceKeepsLastTwo(t *testing.T) {
	e, _ := newTestEngine(t, WithDualIdentity(false))

	for id := telecom.CallID(1); id <= 3; id++ {
		e.CallAdded(newCall(id, telecom.StateActive, fmt.Sprintf("+15550000%02d", id), false))
	}
	for id := telecom.CallID(1); id <= 3; id++ {
		c := newCall(id, telecom.StateActive, fmt.Sprintf("+15550000%02d", id), false)
		e.CallRemoved(withCause(c, telecom.DisconnectOther), false)
	}

	e.mu.Lock()
	entries := append([]inferredCall(nil), e.inference.entries...)
	e.mu.Unlock()
	if len(entries) != 2 || entries[0].id != 2 || entries[1].id != 3 {
		t.Fatalf("inference: got %+v, want calls 2 and 3", entries)
	}

	// The end of a conference invalidates every inference.
	conf := telecom.Call{ID: 10, State: telecom.StateActive, Conference: true}
	e.CallAdded(conf)
	e.CallRemoved(withCause(conf, telecom.DisconnectLocal), false)
	e.mu.Lock()
	n := e.inference.len()
	e.mu.Unlock()
	if n != 0 {
		t.Fatalf("inference after conference end: got %d, want 0", n)
	}
}

func TestRemovalWithoutOtherCauseNotInferred(t *testing.T) {
	e, _ := newTestEngine(t, WithDualIdentity(false))

	c := newCall(1, telecom.StateActive, "+15550001111", false)
	e.CallAdded(c)
	e.CallRemoved(withCause(c, telecom.DisconnectRemote), false)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inference.len() != 0 {
		t.Fatalf("inference: got %d entries, want 0", e.inference.len())
	}
	if e.dir.len() != 0 {
		t.Fatalf("directory: got %d calls, want 0", e.dir.len())
	}
}

func TestExternalCallToggle(t *testing.T) {
	e, src := newTestEngine(t, WithDualIdentity(false))

	c1 := newCall(1, telecom.StateActive, "+15550001111", false)
	e.CallAdded(c1)

	c1.External = true
	notify(e, telecom.EventDetailsChanged, c1)
	e.mu.Lock()
	n := e.dir.len()
	e.mu.Unlock()
	if n != 0 {
		t.Fatalf("external call still tracked")
	}
	if !src.subscribed(1) {
		t.Fatal("external call lost its subscription")
	}

	c1.External = false
	notify(e, telecom.EventDetailsChanged, c1)
	e.mu.Lock()
	n = e.dir.len()
	e.mu.Unlock()
	if n != 1 {
		t.Fatalf("call not tracked again after turning internal")
	}
	if src.subscribes != 1 {
		t.Fatalf("got %d subscriptions, want the original one reused", src.subscribes)
	}

	c1.External = true
	e.CallRemoved(c1, true)
	if src.subscribed(1) {
		t.Fatal("forced removal kept the subscription")
	}
}

func TestExternalCallIgnoredOnAdd(t *testing.T) {
	e, src := newTestEngine(t, WithDualIdentity(false))
	rec := connectLegacy(e)

	c := newCall(1, telecom.StateRinging, "+15550001111", true)
	c.External = true
	e.CallAdded(c)
	c2 := newCall(2, telecom.StateRinging, "+15550002222", true)
	c2.Invalid = true
	e.CallAdded(c2)

	assertPhoneStates(t, rec.phoneStates())
	if src.subscribes != 0 {
		t.Fatalf("got %d subscriptions, want 0", src.subscribes)
	}
}

func TestCloseDiscardsQueuedEvents(t *testing.T) {
	clock := &fakeClock{}
	e, src := newTestEngine(t, WithClock(clock))
	rec := connectLegacy(e)

	release := make(chan struct{})
	started := make(chan struct{})
	e.queue.Post(func() {
		close(started)
		<-release
	})
	<-started

	// The worker is busy, so this synchronize is queued.
	e.CallAdded(newCall(1, telecom.StateRinging, "+15550001111", true))
	if e.queue.Len() != 1 {
		t.Fatalf("queued events: got %d, want 1", e.queue.Len())
	}

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	for e.queue.Post(func() {}) {
		runtime.Gosched()
	}
	close(release)
	<-closed

	assertPhoneStates(t, rec.phoneStates())
	if src.subscribed(1) {
		t.Fatal("subscription survived close")
	}
	if err := e.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close: got %v, want ErrClosed", err)
	}
	if e.QueryPhoneState() || e.ListCurrentCalls() {
		t.Fatal("queries should fail after close")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestParseVoiceCapability(t *testing.T) {
	tests := []struct {
		in   string
		want VoiceCapability
		err  bool
	}{
		{"", CapabilityDSDS, false},
		{"unknown", CapabilityDSDS, false},
		{"DSDS", CapabilityDSDS, false},
		{"pseudo-dsda", CapabilityPseudoDSDA, false},
		{"dsda", CapabilityDSDA, false},
		{"triple", CapabilityDSDS, true},
	}
	for _, tt := range tests {
		got, err := ParseVoiceCapability(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseVoiceCapability(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestPacingDelayDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	if e.pacing != 60*time.Millisecond {
		t.Fatalf("pacing: got %v, want 60ms", e.pacing)
	}
}
