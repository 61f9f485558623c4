package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/callsync/internal/telecom"
)

// callListener is the per-call subscription registered with the call source. It
// remembers the last native state it saw so transient states can be filtered.
type callListener struct {
	e         *Engine
	id        telecom.CallID
	lastState telecom.State
}

// OnCallEvent implements telecom.Listener.
func (l *callListener) OnCallEvent(ev telecom.Event) {
	switch ev.Kind {
	case telecom.EventAdded, telecom.EventRemoved:
		l.e.OnCallEvent(ev)
		return
	}

	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.listeners[l.id] != l {
		return
	}
	switch ev.Kind {
	case telecom.EventStateChanged:
		e.onStateChanged(l, ev.Call)
	case telecom.EventParentChanged:
		e.onParentChanged(ev.Call)
	case telecom.EventChildrenChanged:
		e.onChildrenChanged(ev.Call)
	case telecom.EventDetailsChanged:
		e.onDetailsChanged(ev.Call)
	}
}

// OnCallEvent accepts a lifecycle notification from the host. Added and removed events
// are handled directly; the rest are routed through the call's subscription.
func (e *Engine) OnCallEvent(ev telecom.Event) {
	switch ev.Kind {
	case telecom.EventAdded:
		e.CallAdded(ev.Call)
	case telecom.EventRemoved:
		e.CallRemoved(ev.Call, ev.ForceUnregister)
	default:
		e.mu.Lock()
		l := e.listeners[ev.Call.ID]
		e.mu.Unlock()
		if l == nil {
			e.log.WithFields(logrus.Fields{"call": ev.Call.ID, "event": ev.Kind}).
				Debug("Ignoring event for unsubscribed call")
			return
		}
		l.OnCallEvent(ev)
	}
}

// CallAdded starts tracking c. It is ignored for external calls and calls already tracked.
func (e *Engine) CallAdded(c telecom.Call) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.addCall(c)
}

// CallRemoved stops tracking c. The subscription is kept for an external call unless
// force is set, so the call can come back once it is no longer external.
func (e *Engine) CallRemoved(c telecom.Call, force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.removeCall(c, force)
}

func (e *Engine) addCall(c telecom.Call) {
	if c.IsNull() || c.External {
		return
	}
	en, ok := e.dir.insert(c)
	if !ok {
		return
	}
	e.subscribe(c)
	if !c.Conference {
		e.maxCalls = max(e.maxCalls, e.dir.simpleCount())
	}
	e.log.WithFields(logrus.Fields{"call": c.ID, "state": c.State, "conference": c.Conference}).
		Debug("Call added")

	if e.dualIdentity {
		e.processOnCallAdded(en)
	} else {
		e.updateLegacy(false)
	}

	if e.list != nil {
		if lc, ok := e.listCall(en); ok {
			e.list.OnCallAdded(lc)
		}
	}
}

func (e *Engine) subscribe(c telecom.Call) {
	if l, ok := e.listeners[c.ID]; ok {
		l.lastState = c.State
		return
	}
	l := &callListener{e: e, id: c.ID, lastState: c.State}
	e.listeners[c.ID] = l
	e.source.Subscribe(c.ID, l)
}

func (e *Engine) unsubscribe(id telecom.CallID) {
	if _, ok := e.listeners[id]; !ok {
		return
	}
	delete(e.listeners, id)
	e.source.Unsubscribe(id)
}

func (e *Engine) removeCall(c telecom.Call, force bool) {
	if force || !c.External {
		e.unsubscribe(c.ID)
	}

	en := e.dir.remove(c.ID)
	if en != nil {
		if c.Disconnect != nil && c.Disconnect.Code == telecom.DisconnectOther {
			e.log.WithFields(logrus.Fields{"call": c.ID, "reason": c.Disconnect.Reason}).
				Debug("Adding call to conference inference")
			e.inference.push(inferredCall{
				id:       c.ID,
				index:    en.index,
				handle:   c.Handle,
				address:  c.AddressURI(),
				incoming: c.Incoming,
			})
		}
		// There is at most one conference, so its end invalidates every inference.
		if c.Conference {
			e.log.Debug("Conference ended, clearing inference")
			e.inference.flush()
		}
	}

	if e.dualIdentity {
		e.processOnCallRemoved(c)
	} else {
		e.updateLegacy(false)
	}

	if e.list != nil && en != nil {
		e.list.OnCallRemoved(en.listID, e.terminationReason(&c))
	}

	if e.dir.len() == 0 {
		e.tally.resetCounts()
	}
}

func (e *Engine) onStateChanged(l *callListener, c telecom.Call) {
	if c.IsNull() || c.External {
		return
	}
	en := e.dir.update(c)
	if en == nil {
		return
	}
	state := c.State
	if state == telecom.StateDisconnecting {
		l.lastState = state
		return
	}

	if e.list != nil {
		if s, ok := classifyList(&en.call); ok {
			e.list.OnCallStateChanged(en.listID, s)
		}
	}

	// An active call put on hold for a new connecting call is reported together with
	// the dialing update that follows.
	if l.lastState == telecom.StateActive && state == telecom.StateHolding {
		for _, other := range e.dir.all() {
			if other.call.State == telecom.StateConnecting {
				l.lastState = state
				return
			}
		}
	}

	// Active plus dialing is not a valid legacy state. The active call is about to be
	// held, and that update will carry the dialing call.
	if e.activeCall() != nil && l.lastState == telecom.StateConnecting &&
		(state == telecom.StateDialing || state == telecom.StatePulling) {
		l.lastState = state
		return
	}

	l.lastState = state
	if e.dualIdentity {
		e.processOnStateChanged(en)
	} else {
		e.updateLegacy(false)
	}
}

func (e *Engine) onParentChanged(c telecom.Call) {
	if c.IsNull() || c.External {
		return
	}
	if e.dir.update(c) == nil {
		return
	}
	if c.HasParent() {
		// Only the notification from the conference itself matters.
		e.log.WithField("call", c.ID).Debug("Ignoring parent change from newly conferenced call")
		return
	}
	e.updateLegacy(false)
}

func (e *Engine) onChildrenChanged(c telecom.Call) {
	if c.IsNull() || c.External {
		return
	}
	if e.dir.update(c) == nil {
		return
	}
	if len(c.ChildrenIDs) == 1 {
		// A conference needs two children; wait for the second.
		e.log.WithField("call", c.ID).Debug("Ignoring children change with a single child")
		return
	}
	e.updateLegacy(false)
}

func (e *Engine) onDetailsChanged(c telecom.Call) {
	if c.IsNull() {
		return
	}
	if c.External {
		if e.dir.contains(c.ID) {
			e.removeCall(c, false)
		}
		return
	}
	if e.dir.update(c) != nil {
		return
	}
	e.addCall(c)
}
