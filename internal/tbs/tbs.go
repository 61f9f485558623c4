// Package tbs defines the list-oriented accessory protocol: calls addressed by a
// stable identifier, each with its own state.
package tbs

import (
	"fmt"

	"github.com/google/uuid"
)

// State is a list-protocol call state.
type State int

const (
	StateIncoming State = iota
	StateDialing
	StateAlerting
	StateActive
	StateLocallyHeld
	StateRemotelyHeld
	StateLocallyAndRemotelyHeld
)

func (s State) String() string {
	names := []string{
		"Incoming", "Dialing", "Alerting", "Active", "LocallyHeld", "RemotelyHeld",
		"LocallyAndRemotelyHeld",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Flag bits of a call descriptor.
const (
	FlagOutgoing = 1 << iota
)

// Call describes one call to the list protocol.
type Call struct {
	ID           uuid.UUID
	URI          string
	FriendlyName string
	State        State
	Flags        int
}

func (c Call) String() string {
	return fmt.Sprintf("%s state=%s flags=%d", c.ID, c.State, c.Flags)
}

// TerminationReason explains a call removal to the accessory.
type TerminationReason int

const (
	ReasonInvalidURI TerminationReason = iota
	ReasonFail
	ReasonRemoteHangup
	ReasonServerHangup
	ReasonLineBusy
	ReasonNetworkCongestion
	ReasonClientHangup
	ReasonNoService
	ReasonNoAnswer
)

func (r TerminationReason) String() string {
	names := []string{
		"InvalidURI", "Fail", "RemoteHangup", "ServerHangup", "LineBusy",
		"NetworkCongestion", "ClientHangup", "NoService", "NoAnswer",
	}
	if r >= 0 && int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// Result acknowledges an accessory control request.
type Result int

const (
	ResultSuccess Result = iota
	ResultUnknownCallID
	ResultApplicationError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultUnknownCallID:
		return "UnknownCallID"
	case ResultApplicationError:
		return "ApplicationError"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Sink accepts list-protocol primitives. Implementations must not call back into
// the bridge synchronously.
type Sink interface {
	OnCallAdded(c Call)
	OnCallStateChanged(id uuid.UUID, s State)
	OnCallRemoved(id uuid.UUID, reason TerminationReason)
	CurrentCallsList(calls []Call)
	RequestResult(requestID int, result Result)
}
