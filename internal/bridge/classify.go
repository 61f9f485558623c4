package bridge

import (
	"slices"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/tbs"
	"github.com/dense-identity/callsync/internal/telecom"
)

// classifyLegacy maps a native call state to the legacy protocol. Every outgoing setup
// state maps to alerting: the legacy protocol has no separate pre-ringback signal.
func classifyLegacy(state telecom.State, foreground, silentRinging bool) hfp.CallState {
	switch state {
	case telecom.StateActive:
		return hfp.CallActive
	case telecom.StateConnecting, telecom.StateSelectAccount, telecom.StateDialing, telecom.StatePulling:
		return hfp.CallAlerting
	case telecom.StateHolding:
		return hfp.CallHeld
	case telecom.StateRinging, telecom.StateSimulatedRinging:
		switch {
		case silentRinging:
			return hfp.CallIdle
		case foreground:
			return hfp.CallIncoming
		default:
			return hfp.CallWaiting
		}
	default:
		return hfp.CallIdle
	}
}

// classifyList maps a call's native state to the list protocol. The second result is
// false for states the list protocol does not show, including silent ringing.
func classifyList(c *telecom.Call) (tbs.State, bool) {
	switch c.State {
	case telecom.StateActive:
		return tbs.StateActive, true
	case telecom.StateConnecting, telecom.StateSelectAccount:
		return tbs.StateDialing, true
	case telecom.StateDialing, telecom.StatePulling:
		return tbs.StateAlerting, true
	case telecom.StateHolding:
		return tbs.StateLocallyHeld, true
	case telecom.StateRinging, telecom.StateSimulatedRinging:
		if c.SilentRinging {
			return 0, false
		}
		return tbs.StateIncoming, true
	default:
		return 0, false
	}
}

// callByStates returns the first tracked call in any of states.
func (e *Engine) callByStates(states ...telecom.State) *entry {
	for _, en := range e.dir.all() {
		if slices.Contains(states, en.call.State) {
			return en
		}
	}
	return nil
}

// topLevelCallByState returns the first call in state that is not a conference member.
func (e *Engine) topLevelCallByState(state telecom.State) *entry {
	for _, en := range e.dir.all() {
		if en.call.State == state && !en.call.HasParent() {
			return en
		}
	}
	return nil
}

// foregroundCall picks the call occupying the legacy protocol's single call slot:
// a connecting call, else an active, dialing or pulling call, else a ringing call.
func (e *Engine) foregroundCall() *entry {
	if en := e.callByStates(telecom.StateConnecting); en != nil {
		return en
	}
	if en := e.callByStates(telecom.StateActive, telecom.StateDialing, telecom.StatePulling); en != nil {
		return en
	}
	return e.callByStates(telecom.StateRinging)
}

func (e *Engine) outgoingCall() *entry {
	return e.callByStates(telecom.StateConnecting, telecom.StateDialing, telecom.StatePulling)
}

func (e *Engine) ringingCall() *entry {
	return e.callByStates(telecom.StateRinging, telecom.StateSimulatedRinging)
}

func (e *Engine) activeCall() *entry {
	return e.topLevelCallByState(telecom.StateActive)
}

func (e *Engine) heldCall() *entry {
	return e.topLevelCallByState(telecom.StateHolding)
}

func (e *Engine) countState(state telecom.State) int {
	n := 0
	for _, en := range e.dir.all() {
		if en.call.State == state {
			n++
		}
	}
	return n
}

func (e *Engine) numHeldCalls() int { return e.countState(telecom.StateHolding) }

// numRingingCalls counts calls in the ringing state. Simulated ringing is not counted.
func (e *Engine) numRingingCalls() int { return e.countState(telecom.StateRinging) }

func (e *Engine) hasOnlyDisconnectedCalls() bool {
	calls := e.dir.all()
	if len(calls) == 0 {
		return false
	}
	for _, en := range calls {
		if en.call.State != telecom.StateDisconnected {
			return false
		}
	}
	return true
}

// legacyUpdateState is the call state carried by a phone-state update. Only incoming,
// alerting, disconnected and idle are used here; the rest appear in list rows only.
func (e *Engine) legacyUpdateState() hfp.CallState {
	if ringing := e.ringingCall(); ringing != nil && !ringing.call.SilentRinging {
		return hfp.CallIncoming
	}
	if e.outgoingCall() != nil {
		return hfp.CallAlerting
	}
	if e.hasOnlyDisconnectedCalls() {
		return hfp.CallDisconnected
	}
	return hfp.CallIdle
}

// counts is a view of the directory taken at the start of a reconciliation step.
type counts struct {
	active      *entry
	outgoing    *entry
	numActive   int
	numOutgoing int
	numHeld     int
	numRinging  int
	// heldFlag is numHeld clamped to 0 or 1, as reported during synthetic sequences.
	heldFlag int
}

func (e *Engine) counts() counts {
	c := counts{
		active:     e.activeCall(),
		outgoing:   e.outgoingCall(),
		numHeld:    e.numHeldCalls(),
		numRinging: e.numRingingCalls(),
	}
	if c.active != nil {
		c.numActive = 1
	}
	if c.outgoing != nil {
		c.numOutgoing = 1
	}
	if c.numHeld > 0 {
		c.heldFlag = 1
	}
	return c
}
