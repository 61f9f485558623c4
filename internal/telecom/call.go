// Package telecom describes calls as reported by the platform call source.
package telecom

import "strings"

// CallID is the opaque, stable identity the call source assigns to a call.
type CallID int

// NoCall is the zero CallID. It never names a live call.
const NoCall CallID = 0

// State is the native state of a call.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateSelectAccount
	StateDialing
	StatePulling
	StateRinging
	StateSimulatedRinging
	StateHolding
	StateActive
	StateDisconnecting
	StateDisconnected
	StateAudioProcessing
)

func (s State) String() string {
	names := []string{
		"New", "Connecting", "SelectAccount", "Dialing", "Pulling", "Ringing",
		"SimulatedRinging", "Holding", "Active", "Disconnecting", "Disconnected",
		"AudioProcessing",
	}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// IsRinging reports whether the state is ringing or simulated ringing.
func (s State) IsRinging() bool {
	return s == StateRinging || s == StateSimulatedRinging
}

// IsOutgoing reports whether the state belongs to an outgoing call that is not yet answered.
func (s State) IsOutgoing() bool {
	return s == StateConnecting || s == StateDialing || s == StatePulling
}

// Capability is a bit set of operations a call supports.
type Capability uint32

const (
	CapHold Capability = 1 << iota
	CapMergeConference
	CapSwapConference
	CapConferenceHasNoChildren
	CapManageConference
)

// Property is a bit set of call properties.
type Property uint32

const (
	// PropGenericConference marks a conference whose children are managed by the
	// network (CDMA style) rather than by the device.
	PropGenericConference Property = 1 << iota
)

// Technology is the radio technology carrying a call.
type Technology int

const (
	TechUnknown Technology = iota
	TechGSM
	TechCDMA
	TechIMS
	TechCDMALTE
)

// DisconnectCode classifies why a call ended.
type DisconnectCode int

const (
	DisconnectUnknown DisconnectCode = iota
	DisconnectError
	DisconnectLocal
	DisconnectRemote
	DisconnectCanceled
	DisconnectMissed
	DisconnectRejected
	DisconnectBusy
	DisconnectRestricted
	DisconnectOther
	DisconnectConnectionManagerNotSupported
)

// DisconnectCause is attached to a call once it has ended.
type DisconnectCause struct {
	Code   DisconnectCode
	Reason string
}

// Call is a snapshot of a call's attributes.
type Call struct {
	ID    CallID
	State State

	// Handle is the call's address URI, e.g. "tel:+15551234567".
	Handle string
	// GatewayAddress, when set, is the original address of a call placed through a gateway.
	GatewayAddress string

	CallerDisplayName  string
	ContactDisplayName string

	// Conference membership
	Conference        bool
	ParentID          CallID
	ChildrenIDs       []CallID
	ConferenceableIDs []CallID
	ActiveChildID     CallID
	PreviouslyMerged  bool

	Capabilities Capability
	Properties   Property

	Incoming      bool
	External      bool
	SilentRinging bool
	HighDefAudio  bool
	Technology    Technology

	Disconnect *DisconnectCause

	// Invalid marks a call the source no longer considers valid.
	Invalid bool
}

// IsNull reports whether c is absent or invalid. Such a call is always a no-op.
func (c *Call) IsNull() bool {
	return c == nil || c.Invalid
}

// Can reports whether the call has every capability in capability.
func (c *Call) Can(capability Capability) bool {
	return c.Capabilities&capability == capability
}

// HasProperty reports whether the call has property p.
func (c *Call) HasProperty(p Property) bool {
	return c.Properties&p == p
}

// HasParent reports whether the call is a member of a conference.
func (c *Call) HasParent() bool {
	return c.ParentID != NoCall
}

// IsConferenceWithNoChildren reports whether the call is a conference that exposes
// no child calls, e.g. an IMS conference without event package support.
func (c *Call) IsConferenceWithNoChildren() bool {
	return c.Conference && (c.Can(CapConferenceHasNoChildren) || len(c.ChildrenIDs) == 0)
}

// AddressURI returns the gateway's original address if present, else the handle.
func (c *Call) AddressURI() string {
	if c.GatewayAddress != "" {
		return c.GatewayAddress
	}
	return c.Handle
}

// DisplayName returns the caller display name, falling back to the contact name.
func (c *Call) DisplayName() string {
	if strings.TrimSpace(c.CallerDisplayName) != "" {
		return c.CallerDisplayName
	}
	return c.ContactDisplayName
}

// Clone returns a deep copy of c.
func (c Call) Clone() Call {
	out := c
	out.ChildrenIDs = append([]CallID(nil), c.ChildrenIDs...)
	out.ConferenceableIDs = append([]CallID(nil), c.ConferenceableIDs...)
	if c.Disconnect != nil {
		d := *c.Disconnect
		out.Disconnect = &d
	}
	return out
}
