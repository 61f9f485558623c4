package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dense-identity/callsync/internal/hfp"
	"github.com/dense-identity/callsync/internal/telecom"
)

// CallQualityReportEvent is the call event name carrying a link-quality report.
const CallQualityReportEvent = "callsync.CALL_QUALITY_REPORT"

// QualityReport describes the accessory link while audio was choppy.
type QualityReport struct {
	Timestamp                time.Time
	RSSI                     int
	SNR                      int
	RetransmissionCount      int
	PacketsNotReceived       int
	NegativeAcknowledgements int
}

// AnswerCall answers the ringing call. With two ringing calls on different identities,
// the one surfaced first is answered.
func (e *Engine) AnswerCall() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.log.Info("Answering call")
	call := e.ringingCall()
	if e.dualIdentity && e.tally.twoIncoming {
		if first := e.dir.lookup(e.tally.firstIncomingID); first != nil {
			call = first
		}
	}
	if call == nil {
		return false
	}
	return e.do("answer", call.id(), e.source.Answer)
}

// HangupCall ends the foreground call. A member of an active conference ends the whole
// conference; a ringing call is rejected.
func (e *Engine) HangupCall() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.log.Info("Hanging up call")
	call := e.foregroundCall()
	if call == nil {
		return false
	}
	if parent := e.dir.lookup(call.call.ParentID); parent != nil && parent.call.State == telecom.StateActive {
		e.log.Info("Hanging up conference call")
		call = parent
	}
	if call.call.State == telecom.StateRinging {
		if e.dualIdentity && e.tally.twoIncoming {
			if first := e.dir.lookup(e.tally.firstIncomingID); first != nil {
				call = first
			}
		}
		return e.do("reject", call.id(), e.source.Reject)
	}
	return e.do("disconnect", call.id(), e.source.Disconnect)
}

// SendTone plays and immediately stops a DTMF tone on the foreground call.
func (e *Engine) SendTone(digit byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	call := e.foregroundCall()
	if call == nil {
		return false
	}
	e.log.WithField("digit", string(digit)).Info("Sending DTMF")
	if err := e.source.PlayTone(call.id(), digit); err != nil {
		e.log.WithError(err).WithField("call", call.id()).Warn("Play tone failed")
		return false
	}
	if err := e.source.StopTone(call.id()); err != nil {
		e.log.WithError(err).WithField("call", call.id()).Warn("Stop tone failed")
	}
	return true
}

// QueryPhoneState forces a full phone-state update.
func (e *Engine) QueryPhoneState() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.log.Info("Query phone state")
	e.synchronize()
	return true
}

// HighDefCallInProgress reports whether the current call uses a wideband codec. A
// dialing IMS call has no codec yet and counts as high definition.
func (e *Engine) HighDefCallInProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	hd := false
	if ringing := e.ringingCall(); ringing != nil {
		hd = ringing.call.HighDefAudio
	} else if dialing := e.outgoingCall(); dialing != nil {
		switch dialing.call.Technology {
		case telecom.TechGSM, telecom.TechCDMA:
			hd = dialing.call.HighDefAudio
		case telecom.TechIMS, telecom.TechCDMALTE:
			hd = true
		}
	} else if active := e.activeCall(); active != nil {
		hd = active.call.HighDefAudio
	}
	e.log.WithField("high_def", hd).Info("High definition call query")
	return hd
}

// SendCallQualityReport forwards r to the foreground call as a call event.
func (e *Engine) SendCallQualityReport(r QualityReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	call := e.foregroundCall()
	if call == nil {
		e.log.Warn("No foreground call while sending call quality report")
		return
	}
	payload := map[string]any{
		"sent_timestamp_millis":     r.Timestamp.UnixMilli(),
		"choppy_voice":              true,
		"rssi_dbm":                  r.RSSI,
		"snr_db":                    r.SNR,
		"retransmitted_packets":     r.RetransmissionCount,
		"packets_not_received":      r.PacketsNotReceived,
		"negative_acknowledgements": r.NegativeAcknowledgements,
	}
	if err := e.source.SendCallEvent(call.id(), CallQualityReportEvent, payload); err != nil {
		e.log.WithError(err).WithField("call", call.id()).Warn("Sending call quality report failed")
	}
}

// ProcessChld executes a multi-party control request.
func (e *Engine) ProcessChld(chld hfp.Chld) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}

	_, span := tracer.Start(context.Background(), "bridge.chld")
	defer span.End()
	span.SetAttributes(attribute.String("chld", chld.String()))

	ok := e.processChld(chld)
	span.SetAttributes(attribute.Bool("handled", ok))
	if !ok {
		span.SetStatus(codes.Error, "request not applicable")
	}
	return ok
}

func (e *Engine) processChld(chld hfp.Chld) bool {
	active := e.activeCall()
	ringing := e.ringingCall()
	if e.dualIdentity && e.numRingingCalls() > 1 {
		ringing = e.dir.lookup(e.tally.firstIncomingID)
	}
	held := e.heldCall()

	e.log.WithFields(logrus.Fields{
		"chld":    chld,
		"active":  active.id(),
		"ringing": ringing.id(),
		"held":    held.id(),
	}).Info("Processing chld")

	switch chld {
	case hfp.ChldReleaseHeld:
		if ringing != nil {
			e.do("reject", ringing.id(), e.source.Reject)
			return true
		}
		if held != nil {
			e.do("disconnect", held.id(), e.source.Disconnect)
			return true
		}

	case hfp.ChldReleaseActiveAcceptHeld:
		if active == nil && ringing == nil && held == nil {
			return false
		}
		if active != nil {
			if parent := e.dir.lookup(active.call.ParentID); parent != nil && parent.call.State == telecom.StateActive {
				e.log.Info("Disconnecting conference call")
				e.do("disconnect", parent.id(), e.source.Disconnect)
			} else {
				e.do("disconnect", active.id(), e.source.Disconnect)
			}
		}
		if ringing != nil {
			e.do("answer", ringing.id(), e.source.Answer)
		} else if held != nil {
			e.do("unhold", held.id(), e.source.Unhold)
		}
		return true

	case hfp.ChldHoldActiveAcceptHeld:
		switch {
		case active != nil && active.call.Can(telecom.CapSwapConference):
			e.do("swap", active.id(), e.source.SwapConference)
			e.log.Info("Conference calls swapped, updating accessory")
			e.updateLegacy(true)
			return true
		case ringing != nil:
			e.do("answer", ringing.id(), e.source.Answer)
			return true
		case held != nil:
			// Unholding a held call holds the active one.
			e.do("unhold", held.id(), e.source.Unhold)
			return true
		case active != nil && active.call.Can(telecom.CapHold):
			e.do("hold", active.id(), e.source.Hold)
			return true
		}

	case hfp.ChldAddHeldToConference:
		if active == nil {
			return false
		}
		if active.call.Can(telecom.CapMergeConference) {
			e.do("merge", active.id(), e.source.MergeConference)
			return true
		}
		if others := e.dir.lookupMany(active.call.ConferenceableIDs); len(others) > 0 {
			if err := e.source.Conference(active.id(), others[0].id()); err != nil {
				e.log.WithError(err).WithField("call", active.id()).Warn("Conference failed")
			}
			return true
		}
	}
	return false
}

// do runs a call source operation, logging a failure.
func (e *Engine) do(op string, id telecom.CallID, fn func(telecom.CallID) error) bool {
	if err := fn(id); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"op": op, "call": id}).Warn("Call operation failed")
		return false
	}
	return true
}
