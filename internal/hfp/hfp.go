// Package hfp defines the legacy serial accessory protocol as seen by the bridge:
// a single phone-state indicator update and rows of the list-current-calls command.
package hfp

import "fmt"

// CallState is the legacy call state, numbered as the accessory stack expects.
type CallState int

const (
	CallActive CallState = iota
	CallHeld
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
	CallIdle
	CallDisconnected
)

func (s CallState) String() string {
	names := []string{
		"Active", "Held", "Dialing", "Alerting", "Incoming", "Waiting", "Idle", "Disconnected",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Multi-party control codes.
type Chld int

const (
	// ChldReleaseHeld terminates all held calls or rejects a waiting call.
	ChldReleaseHeld Chld = iota
	// ChldReleaseActiveAcceptHeld terminates active calls and accepts the waiting or held call.
	ChldReleaseActiveAcceptHeld
	// ChldHoldActiveAcceptHeld holds active calls and accepts the waiting or held call.
	ChldHoldActiveAcceptHeld
	// ChldAddHeldToConference merges held calls into the conference.
	ChldAddHeldToConference
)

func (c Chld) String() string {
	switch c {
	case ChldReleaseHeld:
		return "ReleaseHeld"
	case ChldReleaseActiveAcceptHeld:
		return "ReleaseActiveAcceptHeld"
	case ChldHoldActiveAcceptHeld:
		return "HoldActiveAcceptHeld"
	case ChldAddHeldToConference:
		return "AddHeldToConference"
	default:
		return fmt.Sprintf("Chld(%d)", int(c))
	}
}

// PhoneState is one phone-state indicator update.
type PhoneState struct {
	NumActive   int
	NumHeld     int
	CallState   CallState
	Address     string
	AddressType int
	Name        string
}

func (p PhoneState) String() string {
	return fmt.Sprintf("numActive=%d numHeld=%d state=%s addrType=%d",
		p.NumActive, p.NumHeld, p.CallState, p.AddressType)
}

// Direction of a listed call.
const (
	DirectionOutgoing = 0
	DirectionIncoming = 1
)

// ClccRow is one row of the list-current-calls response.
type ClccRow struct {
	Index      int
	Direction  int
	State      CallState
	Mode       int
	Conference bool
	// Address is empty when the call has no address.
	Address     string
	AddressType int
}

// Terminator returns the end-of-list marker: index 0, every other field ignored.
func Terminator() ClccRow {
	return ClccRow{}
}

// IsTerminator reports whether r marks the end of the list.
func (r ClccRow) IsTerminator() bool {
	return r.Index == 0
}

// Sink accepts legacy protocol primitives. Implementations must not call back into
// the bridge synchronously.
type Sink interface {
	PhoneStateChanged(s PhoneState)
	ClccResponse(r ClccRow)
}
