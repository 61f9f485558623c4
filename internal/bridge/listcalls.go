package bridge

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/tbs"
	"github.com/dense-identity/callsync/internal/telecom"
)

// listCall builds the list-protocol descriptor of en. It returns false for calls the
// list protocol does not show.
func (e *Engine) listCall(en *entry) (tbs.Call, bool) {
	state, ok := classifyList(&en.call)
	if !ok {
		return tbs.Call{}, false
	}

	if parent := e.dir.lookup(en.call.ParentID); parent != nil {
		activeChild := e.dir.lookup(parent.call.ActiveChildID)
		if state == tbs.StateActive && activeChild != nil && reevaluateMembers(&parent.call) {
			if en == activeChild {
				state = tbs.StateActive
			} else {
				state = tbs.StateLocallyHeld
			}
		}
		if parent.call.State == telecom.StateHolding && parent.call.Can(telecom.CapManageConference) {
			state = tbs.StateLocallyHeld
		}
	}

	flags := 0
	if !en.call.Incoming {
		flags |= tbs.FlagOutgoing
	}
	return tbs.Call{
		ID:           en.listID,
		URI:          en.call.AddressURI(),
		FriendlyName: en.call.DisplayName(),
		State:        state,
		Flags:        flags,
	}, true
}

// terminationReason maps the disconnect cause of c to a list-protocol reason.
func (e *Engine) terminationReason(c *telecom.Call) tbs.TerminationReason {
	if c.Disconnect == nil {
		e.log.WithField("call", c.ID).Warn("Termination cause is missing")
		return tbs.ReasonFail
	}
	switch c.Disconnect.Code {
	case telecom.DisconnectBusy:
		return tbs.ReasonLineBusy
	case telecom.DisconnectRemote, telecom.DisconnectRejected:
		return tbs.ReasonRemoteHangup
	case telecom.DisconnectLocal:
		if e.terminatedByClient {
			e.terminatedByClient = false
			return tbs.ReasonClientHangup
		}
		return tbs.ReasonServerHangup
	case telecom.DisconnectError:
		return tbs.ReasonNetworkCongestion
	case telecom.DisconnectConnectionManagerNotSupported:
		return tbs.ReasonInvalidURI
	default:
		return tbs.ReasonFail
	}
}

func (e *Engine) sendCurrentCallsList() {
	if e.list == nil {
		return
	}
	var calls []tbs.Call
	for _, en := range e.dir.all() {
		if lc, ok := e.listCall(en); ok {
			calls = append(calls, lc)
		}
	}
	e.list.CurrentCallsList(calls)
}

// AcceptCall answers the call the list protocol knows as id.
func (e *Engine) AcceptCall(requestID int, id uuid.UUID) {
	e.listRequest("accept", requestID, id, func(en *entry) bool {
		return e.do("answer", en.id(), e.source.Answer)
	})
}

// TerminateCall ends the call the list protocol knows as id.
func (e *Engine) TerminateCall(requestID int, id uuid.UUID) {
	e.listRequest("terminate", requestID, id, func(en *entry) bool {
		e.terminatedByClient = true
		if !e.do("disconnect", en.id(), e.source.Disconnect) {
			e.terminatedByClient = false
			return false
		}
		return true
	})
}

// HoldCall holds the call the list protocol knows as id.
func (e *Engine) HoldCall(requestID int, id uuid.UUID) {
	e.listRequest("hold", requestID, id, func(en *entry) bool {
		return e.do("hold", en.id(), e.source.Hold)
	})
}

// UnholdCall resumes the call the list protocol knows as id.
func (e *Engine) UnholdCall(requestID int, id uuid.UUID) {
	e.listRequest("unhold", requestID, id, func(en *entry) bool {
		return e.do("unhold", en.id(), e.source.Unhold)
	})
}

// PlaceCall is not supported; outgoing calls are placed on the phone.
func (e *Engine) PlaceCall(requestID int, id uuid.UUID, uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.log.WithFields(logrus.Fields{"request": requestID, "call": id}).Info("List protocol place call rejected")
	e.result(requestID, tbs.ResultApplicationError)
}

// JoinCalls conferences the listed calls into the first valid one. Unknown and repeated
// ids are skipped; fewer than two joinable calls is an unknown-call-id error. A call
// the source refuses to conference fails the request with an application error.
func (e *Engine) JoinCalls(requestID int, ids []uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.log.WithFields(logrus.Fields{"request": requestID, "calls": len(ids)}).Info("List protocol join calls")

	var calls []*entry
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		en := e.dir.byListID(id)
		if en == nil || seen[id] {
			continue
		}
		seen[id] = true
		calls = append(calls, en)
	}
	if len(calls) < 2 {
		e.log.WithField("calls", len(calls)).Warn("Join needs at least two known calls")
		e.result(requestID, tbs.ResultUnknownCallID)
		return
	}

	result := tbs.ResultSuccess
	base := calls[0]
	for _, en := range calls[1:] {
		if err := e.source.Conference(base.id(), en.id()); err != nil {
			e.log.WithError(err).WithField("call", en.id()).Warn("Conference failed")
			result = tbs.ResultApplicationError
		}
	}
	e.result(requestID, result)
}

func (e *Engine) listRequest(op string, requestID int, id uuid.UUID, fn func(*entry) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.log.WithFields(logrus.Fields{"op": op, "request": requestID, "call": id}).Info("List protocol request")
	en := e.dir.byListID(id)
	if en == nil {
		e.result(requestID, tbs.ResultUnknownCallID)
		return
	}
	if !fn(en) {
		e.result(requestID, tbs.ResultApplicationError)
		return
	}
	e.result(requestID, tbs.ResultSuccess)
}

func (e *Engine) result(requestID int, r tbs.Result) {
	if e.list == nil {
		return
	}
	e.list.RequestResult(requestID, r)
}
