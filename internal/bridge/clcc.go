package bridge

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/phonenum"
	"github.com/dense-identity/callsync/internal/telecom"
)

// ListCurrentCalls answers a list-current-calls query with one row per call followed
// by the terminator. It returns false before Start and after Close.
func (e *Engine) ListCurrentCalls() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.closed {
		e.log.Warn("List current calls requested while the engine is not running")
		return false
	}
	// Accessories poll this every second, so rows are only logged right after an update.
	shouldLog := e.headsetUpdatedRecently
	e.headsetUpdatedRecently = false
	if shouldLog {
		e.log.Info("List current calls")
	}
	e.sendListOfCalls(shouldLog)
	return true
}

func (e *Engine) sendListOfCalls(shouldLog bool) {
	calls := e.dir.all()

	// Until a forming conference reports two children, its members are inferred from
	// the calls that were just merged away.
	var childrenNotReady *entry
	for _, en := range calls {
		if !en.call.Conference || e.inference.len() == 0 {
			continue
		}
		if len(en.call.ChildrenIDs) >= 2 {
			e.inference.flush()
			break
		}
		childrenNotReady = en
	}
	if childrenNotReady != nil {
		e.log.WithFields(logrus.Fields{
			"conference": childrenNotReady.call.ID,
			"inferred":   e.inference.len(),
		}).Debug("Listing inferred conference members")
		e.sendInferredRows()
		return
	}

	for _, en := range calls {
		// Conference parents are not listed, except conferences without children.
		if !en.call.Conference || en.call.IsConferenceWithNoChildren() {
			e.sendRowForCall(en, shouldLog)
		}
	}
	e.sendRow(hfp.Terminator())
}

func (e *Engine) sendInferredRows() {
	rows := make(map[int]hfp.ClccRow)
	for _, inferred := range e.inference.entries {
		if inferred.handle == "" {
			e.log.WithField("call", inferred.id).Warn("Inferred call has no handle")
			continue
		}
		if inferred.index < 1 {
			e.log.WithField("call", inferred.id).Warn("Inferred call has no list index")
			continue
		}

		// A live call with the same number keeps the index once its real membership arrives.
		for _, en := range e.dir.all() {
			if en.call.Handle == "" {
				continue
			}
			if phonenum.SameNumber(en.call.Handle, inferred.handle, e.networkCountry) {
				e.log.WithField("call", en.call.ID).Debug("Found conference member with same handle")
				e.adoptIndex(en, inferred.index)
				break
			}
		}

		addr, addrType := rowAddress(inferred.address)
		rows[inferred.index] = hfp.ClccRow{
			Index:       inferred.index,
			Direction:   direction(inferred.incoming),
			State:       hfp.CallActive,
			Conference:  true,
			Address:     addr,
			AddressType: addrType,
		}
	}

	indexes := make([]int, 0, len(rows))
	for i := range rows {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		row := rows[i]
		e.log.WithFields(logrus.Fields{
			"index":      row.Index,
			"direction":  row.Direction,
			"state":      row.State,
			"conference": row.Conference,
			"addr_type":  row.AddressType,
		}).Info("Sending inferred clcc")
		e.sendRow(row)
	}
	e.sendRow(hfp.Terminator())
}

// sendRowForCall sends the row of a single call, if it has one.
func (e *Engine) sendRowForCall(en *entry, shouldLog bool) {
	state := classifyLegacy(en.call.State, e.foregroundCall() == en, en.call.SilentRinging)
	if state == hfp.CallIdle {
		return
	}

	conference := false
	if parent := e.dir.lookup(en.call.ParentID); parent != nil {
		conference = true
		state = e.memberState(en, parent, state, &conference)
	} else if en.call.IsConferenceWithNoChildren() {
		// IMS conference without event package: a conference with no visible members.
		conference = true
	}

	index := e.indexFor(en)
	addr, addrType := rowAddress(en.call.AddressURI())

	// The host's own leg of an IMS conference is not a call.
	if e.subscriberNumber != "" && addr == e.subscriberNumber {
		e.log.WithField("call", en.call.ID).Warn("Not listing the subscriber's own number")
		return
	}

	// Calls held on both identities are presented as one held conference.
	if e.dualIdentity && !conference && state == hfp.CallHeld &&
		e.numHeldCalls() > 1 && !e.tally.swapPending {
		conference = true
	}

	row := hfp.ClccRow{
		Index:       index,
		Direction:   direction(en.call.Incoming),
		State:       state,
		Conference:  conference,
		Address:     addr,
		AddressType: addrType,
	}
	if shouldLog {
		e.log.WithFields(logrus.Fields{
			"index":      row.Index,
			"direction":  row.Direction,
			"state":      row.State,
			"conference": row.Conference,
			"addr_type":  row.AddressType,
		}).Info("Sending clcc")
	}
	e.sendRow(row)
}

// memberState adjusts the state of a conference member. When a network-managed
// conference can swap or merge, its members are shown as distinct active and held calls
// so the accessory offers those commands. Members of a held, device-managed conference
// are held regardless of their own state.
func (e *Engine) memberState(en, parent *entry, state hfp.CallState, conference *bool) hfp.CallState {
	if parent.call.HasProperty(telecom.PropGenericConference) {
		activeChild := e.dir.lookup(parent.call.ActiveChildID)
		if state == hfp.CallActive && activeChild != nil && reevaluateMembers(&parent.call) {
			*conference = false
			if en == activeChild {
				state = hfp.CallActive
			} else {
				state = hfp.CallHeld
			}
		}
	}
	if parent.call.State == telecom.StateHolding && parent.call.Can(telecom.CapManageConference) {
		state = hfp.CallHeld
	}
	return state
}

// reevaluateMembers reports whether a conference can merge, or swap without having
// been merged before.
func reevaluateMembers(parent *telecom.Call) bool {
	return parent.Can(telecom.CapMergeConference) ||
		(parent.Can(telecom.CapSwapConference) && !parent.PreviouslyMerged)
}

// rowAddress derives the listed address and its type from an address URI. A call
// without an address has type -1.
func rowAddress(uri string) (string, int) {
	if uri == "" {
		return "", -1
	}
	addr := phonenum.StripSeparators(phonenum.SchemeSpecificPart(uri))
	return addr, phonenum.TypeOfAddress(addr)
}

func direction(incoming bool) int {
	if incoming {
		return hfp.DirectionIncoming
	}
	return hfp.DirectionOutgoing
}

func (e *Engine) sendRow(row hfp.ClccRow) {
	if e.legacy == nil {
		e.log.WithField("index", row.Index).Warn("No legacy sink when sending clcc")
		return
	}
	e.inst.clccRows.Add(context.Background(), 1)
	e.legacy.ClccResponse(row)
}
