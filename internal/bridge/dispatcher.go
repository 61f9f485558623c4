package bridge

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/phonenum"
	"github.com/dense-identity/callsync/internal/telecom"
)

// legacySnapshot is what the legacy sink was last told.
type legacySnapshot struct {
	numActive           int
	numHeld             int
	numChildrenOfActive int
	state               hfp.CallState
	address             string
	addressType         int
}

func initialSnapshot() legacySnapshot {
	return legacySnapshot{state: hfp.CallIdle, addressType: phonenum.TOANone}
}

// ringing holds the address fields of a phone-state update.
type ringing struct {
	address     string
	addressType int
	name        string
}

var noRinging = ringing{addressType: phonenum.TOANone}

// ringingFields extracts the ringing address fields of en. A null call, a call without
// a handle, or a silently ringing call yields noRinging.
func ringingFields(en *entry) ringing {
	if isNull(en) || en.call.Handle == "" || en.call.SilentRinging {
		return noRinging
	}
	addr := phonenum.SchemeSpecificPart(en.call.Handle)
	return ringing{
		address:     addr,
		addressType: phonenum.TypeOfAddress(addr),
		name:        en.call.DisplayName(),
	}
}

// updateLegacy recomputes the legacy snapshot and emits a phone-state update when
// forced or when it differs from what was last published. A pending swap (exactly two
// held calls) is never surfaced.
func (e *Engine) updateLegacy(force bool) {
	active := e.activeCall()
	held := e.heldCall()
	state := e.legacyUpdateState()
	r := ringingFields(e.ringingCall())

	numActive := 0
	numChildren := 0
	if active != nil {
		numActive = 1
		numChildren = len(active.call.ChildrenIDs)
	}
	numHeld := e.numHeldCalls()
	if e.dualIdentity && e.capability.concurrent() && numHeld > 1 {
		e.tally.held = numHeld
		numHeld = 1
	}

	pendingSwitch := numHeld == 2

	// A conference that can swap or merge at conference level is shown with a held
	// call so the accessory offers those commands.
	ignoreHeldChange := false
	if active != nil && active.call.Conference && !active.call.Can(telecom.CapConferenceHasNoChildren) {
		if active.call.Can(telecom.CapSwapConference) {
			if active.call.PreviouslyMerged {
				numHeld = 0
			} else {
				numHeld = 1
			}
		} else if active.call.Can(telecom.CapMergeConference) {
			numHeld = 1
		}
		// The held call was absorbed by the conference; that is not a held call change.
		for _, id := range active.call.ChildrenIDs {
			if e.oldHeldID != telecom.NoCall && id == e.oldHeldID {
				ignoreHeldChange = true
				break
			}
		}
	}

	heldID := held.id()
	prev := e.published
	changed := numActive != prev.numActive ||
		numChildren != prev.numChildrenOfActive ||
		numHeld != prev.numHeld ||
		state != prev.state ||
		r.address != prev.address ||
		r.addressType != prev.addressType ||
		(heldID != e.oldHeldID && !ignoreHeldChange)
	if !force && (pendingSwitch || !changed) {
		return
	}

	// Accessories must see dialing before alerting.
	sendDialingFirst := prev.state != state && state == hfp.CallAlerting

	e.oldHeldID = heldID
	e.published = legacySnapshot{
		numActive:           numActive,
		numHeld:             numHeld,
		numChildrenOfActive: numChildren,
		state:               state,
		address:             r.address,
		addressType:         r.addressType,
	}

	if e.legacy == nil {
		e.log.WithField("state", state).Debug("No legacy sink, phone state recorded only")
	} else {
		if sendDialingFirst {
			e.publish(prev.numActive, prev.numHeld, hfp.CallDialing, r)
		}
		e.publish(numActive, numHeld, state, r)
		e.headsetUpdatedRecently = true
	}
	e.tally.lastLegacyState = state
	e.tally.active = numActive
}

// publish sends one phone-state update to the legacy sink, if connected.
func (e *Engine) publish(numActive, numHeld int, state hfp.CallState, r ringing) {
	ps := hfp.PhoneState{
		NumActive:   numActive,
		NumHeld:     numHeld,
		CallState:   state,
		Address:     r.address,
		AddressType: r.addressType,
		Name:        r.name,
	}
	e.log.WithFields(logrus.Fields{
		"num_active": ps.NumActive,
		"num_held":   ps.NumHeld,
		"state":      ps.CallState,
		"addr_type":  ps.AddressType,
	}).Info("Phone state changed")
	if e.legacy == nil {
		return
	}
	e.inst.phoneStates.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("state", ps.CallState.String())))
	e.legacy.PhoneStateChanged(ps)
}
