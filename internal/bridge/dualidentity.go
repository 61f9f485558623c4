package bridge

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/telecom"
)

// reconcileEvent names a reconciliation the worker performs for two subscriber
// identities whose combined state a single legacy update cannot express.
type reconcileEvent int

const (
	eventOutgoingIncoming reconcileEvent = iota
	eventMultiIncoming
	eventMultiHeld
	eventOutgoingIncomingDisconnection
	eventMultiRingingDisconnection
	eventOutgoingDisconnection
	eventMultiHeldActive
	// eventSynchronize re-runs the single-identity dispatcher.
	eventSynchronize
)

func (ev reconcileEvent) String() string {
	switch ev {
	case eventOutgoingIncoming:
		return "OUTGOING_INCOMING"
	case eventMultiIncoming:
		return "MULTI_INCOMING"
	case eventMultiHeld:
		return "MULTI_HELD"
	case eventOutgoingIncomingDisconnection:
		return "OUTGOING_INCOMING_DISCONNECTION"
	case eventMultiRingingDisconnection:
		return "MULTI_RINGING_DISCONNECTION"
	case eventOutgoingDisconnection:
		return "OUTGOING_DISCONNECTION"
	case eventMultiHeldActive:
		return "MULTI_HELD_ACTIVE"
	case eventSynchronize:
		return "SYNCHRONIZE"
	default:
		return "UNKNOWN"
	}
}

// tally is the last acknowledged combined view of both identities, as tracked by the
// reconciliation machine. It moves independently of the directory and is compared
// against it to detect what changed.
type tally struct {
	active   int
	incoming int
	held     int
	outgoing int

	twoIncoming      bool
	firstIncomingID  telecom.CallID
	secondIncomingID telecom.CallID

	selectAccountPending bool
	selectAccountID      telecom.CallID

	swapPending         bool
	delayOutgoingUpdate bool
	conferenceInitiated bool

	lastLegacyState hfp.CallState
}

func newTally() tally {
	return tally{lastLegacyState: hfp.CallIdle}
}

// resetCounts zeroes every tally except the last legacy state.
func (t *tally) resetCounts() {
	last := t.lastLegacyState
	*t = newTally()
	t.lastLegacyState = last
}

func decr(n *int) {
	if *n > 0 {
		*n--
	}
}

// reconcile runs ev. A synchronize runs inline when the worker is idle; everything else
// is queued so its steps never interleave with another event's.
func (e *Engine) reconcile(ev reconcileEvent) {
	if ev == eventSynchronize && !e.queue.Busy() {
		e.updateLegacy(true)
		return
	}
	e.log.WithField("event", ev).Debug("Queueing reconciliation event")
	if !e.queue.Post(func() { e.handle(ev) }) {
		e.log.WithField("event", ev).Debug("Worker stopped, reconciliation event dropped")
	}
}

// handle is the worker side of reconcile. Branches that match no condition are left
// alone; the next event reconciles.
func (e *Engine) handle(ev reconcileEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	c := e.counts()
	_, span := tracer.Start(context.Background(), "bridge.reconcile "+ev.String(),
		trace.WithAttributes(
			attribute.Int("calls.active", c.numActive),
			attribute.Int("calls.held", c.numHeld),
			attribute.Int("calls.ringing", c.numRinging),
			attribute.Int("calls.outgoing", c.numOutgoing),
			attribute.Int("tally.active", e.tally.active),
			attribute.Int("tally.held", e.tally.held),
			attribute.Int("tally.incoming", e.tally.incoming),
			attribute.Int("tally.outgoing", e.tally.outgoing),
		))
	defer span.End()
	e.inst.reconciles.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event", ev.String())))
	e.log.WithField("event", ev).Debug("Handling reconciliation event")

	switch ev {
	case eventOutgoingIncoming:
		e.handleOutgoingIncoming(c)
	case eventMultiIncoming:
		e.handleMultiIncoming(c)
	case eventMultiHeld:
		e.handleMultiHeld(c)
	case eventOutgoingIncomingDisconnection:
		e.handleOutgoingIncomingDisconnection(c)
	case eventMultiRingingDisconnection:
		e.handleMultiRingingDisconnection(c)
	case eventOutgoingDisconnection:
		e.handleOutgoingDisconnection(c)
	case eventMultiHeldActive:
		e.handleMultiHeldActive(c)
	case eventSynchronize:
		e.updateLegacy(false)
	}

	span.SetAttributes(
		attribute.Int("tally.active.after", e.tally.active),
		attribute.Int("tally.held.after", e.tally.held),
		attribute.Int("tally.incoming.after", e.tally.incoming),
		attribute.Int("tally.outgoing.after", e.tally.outgoing),
		attribute.String("legacy.state", e.tally.lastLegacyState.String()),
	)
}

// handleOutgoingIncoming covers an outgoing call answered while another identity's
// call rings, and a ringing call answered while an outgoing call is still shown.
func (e *Engine) handleOutgoingIncoming(c counts) {
	t := &e.tally
	if c.numOutgoing != t.outgoing {
		// Resolve the ringing call before the tally moves.
		r := ringingFields(e.ringingCall())
		if c.numOutgoing == 0 && t.outgoing == 1 && c.numRinging > 0 {
			if e.legacy != nil {
				// Show the active call, then surface the ringing one as waiting.
				e.publish(c.numActive, c.heldFlag, hfp.CallIdle, r)
				decr(&t.outgoing)
				t.active++
				e.pace()
				e.publish(c.numActive, c.heldFlag, hfp.CallIncoming, r)
			}
			t.lastLegacyState = hfp.CallIncoming
		}
		return
	}
	if t.incoming != c.numRinging {
		// The ringing call was answered before the outgoing call's end was seen: end the
		// outgoing setup, replay the incoming setup, then show it active.
		first := e.dir.lookup(t.firstIncomingID)
		if e.legacy == nil {
			return
		}
		e.publish(0, c.heldFlag, hfp.CallIdle, noRinging)
		e.pace()
		e.publish(0, c.heldFlag, hfp.CallIncoming, ringingFields(first))
		e.pace()
		e.publish(c.numActive, c.heldFlag, hfp.CallIdle, noRinging)
		decr(&t.incoming)
		t.lastLegacyState = hfp.CallIdle
	}
}

// handleMultiIncoming covers one of two ringing calls being answered or ending.
func (e *Engine) handleMultiIncoming(c counts) {
	t := &e.tally
	if c.numRinging != 1 || t.incoming != 2 {
		return
	}
	switch {
	case c.numActive == 1 && t.active == 0:
		if e.legacy == nil {
			return
		}
		switch c.active.id() {
		case t.firstIncomingID:
			// First call answered; the second becomes the waiting call.
			second := e.dir.lookup(t.secondIncomingID)
			e.publish(c.numActive, c.heldFlag, hfp.CallIdle, noRinging)
			e.pace()
			t.firstIncomingID = t.secondIncomingID
			t.secondIncomingID = telecom.NoCall
			decr(&t.incoming)
			t.twoIncoming = false
			e.publish(c.numActive, c.heldFlag, hfp.CallIncoming, ringingFields(second))
			t.lastLegacyState = hfp.CallIncoming
		case t.secondIncomingID:
			// Second call answered: end the first setup, show the second ringing then
			// active, and bring the first back as waiting.
			t.twoIncoming = false
			second := e.dir.lookup(t.secondIncomingID)
			e.publish(0, c.heldFlag, hfp.CallIdle, noRinging)
			e.pace()
			e.publish(0, c.heldFlag, hfp.CallIncoming, ringingFields(second))
			e.pace()
			t.active = 1
			e.publish(c.numActive, c.heldFlag, hfp.CallIdle, noRinging)
			e.pace()
			e.publish(c.numActive, c.heldFlag, hfp.CallIncoming, ringingFields(e.dir.lookup(t.firstIncomingID)))
			t.lastLegacyState = hfp.CallIncoming
			decr(&t.incoming)
			t.secondIncomingID = telecom.NoCall
		}
	case e.published.numActive == 0 && t.active == 0:
		// One of the two ringing calls ended. Only the end of the surfaced one matters.
		ringingCall := e.ringingCall()
		if ringingCall == nil || ringingCall.id() != t.secondIncomingID || e.legacy == nil {
			return
		}
		e.publish(0, c.heldFlag, hfp.CallIdle, noRinging)
		e.pace()
		e.publish(0, c.heldFlag, hfp.CallIncoming, ringingFields(ringingCall))
		t.lastLegacyState = hfp.CallIncoming
	}
}

// heldRingingState returns the state and address fields shown alongside held calls:
// incoming with the ringing call's address if one rings, else idle.
func (e *Engine) heldRingingState(c counts) (hfp.CallState, ringing) {
	if c.numRinging > 0 {
		return hfp.CallIncoming, ringingFields(e.ringingCall())
	}
	return hfp.CallIdle, noRinging
}

// handleMultiHeld presents calls held on both identities as one held conference.
func (e *Engine) handleMultiHeld(c counts) {
	t := &e.tally
	if c.numHeld <= t.held || c.numHeld < 2 {
		return
	}
	state, r := e.heldRingingState(c)
	e.publish(1, 0, state, r)
	e.pace()
	e.publish(0, 1, state, r)
	if c.numActive != 0 {
		e.pace()
		e.publish(1, 1, state, r)
	}
	t.held++
	t.active = c.numActive
	t.lastLegacyState = state

	if t.delayOutgoingUpdate {
		// The outgoing call added while a call was active is shown now.
		e.publish(0, 1, hfp.CallDialing, r)
		e.publish(0, 1, hfp.CallAlerting, r)
		t.outgoing++
		t.lastLegacyState = hfp.CallAlerting
		t.delayOutgoingUpdate = false
	}
}

func (e *Engine) handleOutgoingIncomingDisconnection(c counts) {
	t := &e.tally
	if c.numOutgoing != 1 {
		return
	}
	// The outgoing call is still shown, so no update is needed.
	decr(&t.incoming)
	if t.twoIncoming {
		t.firstIncomingID = t.secondIncomingID
		t.secondIncomingID = telecom.NoCall
		t.twoIncoming = false
	} else {
		t.firstIncomingID = telecom.NoCall
	}
}

// handleMultiRingingDisconnection surfaces the second ringing call after the first ended.
func (e *Engine) handleMultiRingingDisconnection(c counts) {
	t := &e.tally
	if e.legacy == nil {
		return
	}
	e.publish(c.numActive, c.heldFlag, hfp.CallIdle, noRinging)
	r := ringingFields(e.dir.lookup(t.secondIncomingID))
	t.firstIncomingID = t.secondIncomingID
	t.secondIncomingID = telecom.NoCall
	t.twoIncoming = false
	decr(&t.incoming)
	e.pace()
	e.publish(c.numActive, c.heldFlag, hfp.CallIncoming, r)
	t.lastLegacyState = hfp.CallIncoming
}

// handleOutgoingDisconnection surfaces a ringing call once the outgoing call ended.
func (e *Engine) handleOutgoingDisconnection(c counts) {
	t := &e.tally
	if c.numRinging == 0 {
		return
	}
	decr(&t.outgoing)
	e.publish(c.numActive, c.heldFlag, hfp.CallIdle, noRinging)
	e.pace()
	e.publish(c.numActive, c.heldFlag, hfp.CallIncoming, ringingFields(e.dir.lookup(t.firstIncomingID)))
	t.lastLegacyState = hfp.CallIncoming
}

// handleMultiHeldActive shows one of several held calls becoming active as a held call
// made active followed by the remaining held call.
func (e *Engine) handleMultiHeldActive(c counts) {
	t := &e.tally
	if e.published.numHeld >= t.held || c.numActive <= t.active {
		return
	}
	state, r := e.heldRingingState(c)
	e.publish(c.numActive, 0, state, r)
	e.pace()
	e.publish(c.numActive, 1, state, r)
	t.held = c.numHeld
	t.active = c.numActive
	t.lastLegacyState = state
}

// processOnCallAdded updates the tally for a new call and schedules the update it needs.
func (e *Engine) processOnCallAdded(en *entry) {
	t := &e.tally
	c := e.counts()
	id := en.call.ID
	log := e.log.WithFields(logrus.Fields{"call": id, "state": en.call.State})

	switch en.call.State {
	case telecom.StateConnecting, telecom.StateDialing:
		t.outgoing++
		if c.active != nil && t.active == 1 {
			// Shown once the active call is held.
			t.delayOutgoingUpdate = true
			return
		}
		e.reconcile(eventSynchronize)

	case telecom.StateRinging, telecom.StateSimulatedRinging:
		switch {
		case t.incoming == 0 && c.numRinging == 1:
			t.firstIncomingID = id
			t.incoming++
			if t.outgoing == 0 {
				e.reconcile(eventSynchronize)
				return
			}
			log.Debug("Incoming call while an outgoing call is shown")
		case t.incoming == 1 && c.numRinging == 2:
			t.twoIncoming = true
			t.incoming++
			t.secondIncomingID = id
		}

	case telecom.StateActive:
		switch {
		case t.active == 0:
			e.reconcile(eventSynchronize)
			t.active = 1
		case t.active == 1:
			if c.active.id() == id {
				return
			}
			t.conferenceInitiated = true
			log.Debug("Conference initiated, not updating")
		case t.conferenceInitiated:
			log.Debug("Conference in progress, not updating")
		}

	case telecom.StateHolding:
		if t.held <= 1 {
			// Counted before the resync, which may clamp several held calls to one.
			t.held++
			e.reconcile(eventSynchronize)
			return
		}
		// Several held calls existed before the sink connected.
		e.reconcile(eventMultiHeld)

	case telecom.StateSelectAccount:
		// Nothing is shown until the call starts dialing.
		t.selectAccountPending = true
		t.selectAccountID = id
	}
}

// processOnCallRemoved updates the tally for a call that left the directory.
func (e *Engine) processOnCallRemoved(removed telecom.Call) {
	t := &e.tally
	c := e.counts()
	id := removed.ID

	switch {
	case c.numOutgoing != t.outgoing:
		// Outgoing call ended before it was answered.
		if e.published.numHeld <= 1 && c.numRinging == 0 {
			decr(&t.outgoing)
			e.reconcile(eventSynchronize)
		} else {
			e.reconcile(eventOutgoingDisconnection)
		}

	case t.incoming != c.numRinging:
		switch {
		case t.secondIncomingID != telecom.NoCall && t.secondIncomingID == id:
			// The second ringing call was never surfaced.
			decr(&t.incoming)
			t.secondIncomingID = telecom.NoCall
			t.twoIncoming = false
		case t.firstIncomingID != telecom.NoCall && t.firstIncomingID == id:
			if !t.twoIncoming && c.numHeld <= 1 && c.numOutgoing == 0 {
				decr(&t.incoming)
				e.reconcile(eventSynchronize)
				return
			}
			if c.numOutgoing == 1 {
				e.reconcile(eventOutgoingIncomingDisconnection)
			} else if t.twoIncoming {
				e.reconcile(eventMultiRingingDisconnection)
			}
		}

	case t.active > 0 || t.held > 0:
		if t.held > c.numHeld {
			if c.numHeld == 0 {
				t.held = 0
				e.reconcile(eventSynchronize)
			} else {
				// Still held calls; only the list changes.
				decr(&t.held)
			}
		}
		if t.active == 1 && c.numActive == 0 {
			t.active = 0
			e.reconcile(eventSynchronize)
		}

	case t.selectAccountPending && t.selectAccountID == id:
		// Removed before an account was selected; it was never shown.
		t.selectAccountPending = false
		t.selectAccountID = telecom.NoCall

	default:
		e.reconcile(eventSynchronize)
	}
}

// processOnStateChanged reconciles a state change against the last legacy state shown.
func (e *Engine) processOnStateChanged(en *entry) {
	t := &e.tally
	c := e.counts()
	state := en.call.State
	bt := classifyLegacy(state, false, en.call.SilentRinging)

	if t.selectAccountPending && t.selectAccountID == en.call.ID {
		if state == telecom.StateConnecting || state == telecom.StateDialing {
			t.selectAccountPending = false
			t.selectAccountID = telecom.NoCall
			t.outgoing++
			e.updateLegacy(false)
		}
		// Otherwise it ends before dialing and is handled on removal.
		return
	}

	switch t.lastLegacyState {
	case hfp.CallAlerting, hfp.CallIncoming:
		switch bt {
		case hfp.CallActive:
			e.onBecameActiveDuringSetup(c)
		case hfp.CallHeld:
			if c.numActive == 0 && t.active == 1 {
				if c.numHeld <= t.held {
					return
				}
				if c.numHeld >= 2 {
					e.reconcile(eventMultiHeld)
					return
				}
				t.held++
				t.active = 0
				e.reconcile(eventSynchronize)
				return
			}
			// Held before any active call was shown.
			t.held++
			e.reconcile(eventSynchronize)
		}

	case hfp.CallIdle:
		switch bt {
		case hfp.CallHeld:
			e.onHeldWhileIdle(c)
		case hfp.CallIdle:
			if state != telecom.StateDisconnected && state != telecom.StateDisconnecting {
				return
			}
			// An ended active call is handled on removal; a single ended held call is not.
			if c.numActive == 0 && t.active == 1 {
				return
			}
			if c.numHeld < t.held && c.numHeld == 0 && t.held == 1 {
				e.reconcile(eventSynchronize)
			}
		case hfp.CallActive:
			e.onBecameActiveWhileIdle(c)
		}
	}
}

func (e *Engine) onBecameActiveDuringSetup(c counts) {
	t := &e.tally
	switch {
	case t.outgoing > c.numOutgoing:
		if t.incoming == 0 {
			t.outgoing = 0
			t.active = 1
			e.reconcile(eventSynchronize)
			return
		}
		e.reconcile(eventOutgoingIncoming)

	case t.incoming > c.numRinging:
		switch {
		case c.numRinging == 0 && t.incoming == 1:
			if c.numOutgoing == 1 {
				e.reconcile(eventOutgoingIncoming)
				return
			}
			decr(&t.incoming)
			t.active = 1
			e.reconcile(eventSynchronize)
		case c.numRinging == 1 && t.incoming == 2:
			e.reconcile(eventMultiIncoming)
		}

	case t.held > c.numHeld:
		switch {
		case t.held == 1 && c.numHeld == 0:
			t.held = 0
			t.active = 1
			e.reconcile(eventSynchronize)
		case t.held > 1 && c.numHeld > 0:
			t.active = 1
			e.reconcile(eventMultiHeld)
		}
	}
}

func (e *Engine) onHeldWhileIdle(c counts) {
	t := &e.tally
	if t.held >= c.numHeld {
		return
	}
	switch {
	case t.held > 0 && c.numHeld > 1:
		if t.held == 1 && c.numHeld == 2 && !e.capability.concurrent() {
			// Only one identity can be in a call: this is a swap in progress.
			e.log.Debug("Call swap in progress")
			t.swapPending = true
			e.updateLegacy(false)
			return
		}
		e.reconcile(eventMultiHeld)
	case t.held == 0 && c.numHeld == 1:
		t.active = 0
		t.held++
		t.delayOutgoingUpdate = false
		e.reconcile(eventSynchronize)
	}
}

func (e *Engine) onBecameActiveWhileIdle(c counts) {
	t := &e.tally
	if t.swapPending {
		e.reconcile(eventSynchronize)
		t.swapPending = false
		return
	}
	if c.numHeld >= t.held {
		// A silently ringing call was answered.
		decr(&t.incoming)
		t.firstIncomingID = telecom.NoCall
		e.reconcile(eventSynchronize)
		return
	}
	if c.numActive != 1 || t.active != 0 {
		// Conference formed from held calls.
		e.reconcile(eventSynchronize)
		return
	}
	if t.held == 1 && c.numHeld == 0 {
		t.active = 1
		decr(&t.held)
		e.reconcile(eventSynchronize)
		return
	}
	e.reconcile(eventMultiHeldActive)
}
