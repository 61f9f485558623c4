package telecom

// EventKind tags a call lifecycle notification.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventStateChanged
	EventParentChanged
	EventChildrenChanged
	EventDetailsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "Added"
	case EventRemoved:
		return "Removed"
	case EventStateChanged:
		return "StateChanged"
	case EventParentChanged:
		return "ParentChanged"
	case EventChildrenChanged:
		return "ChildrenChanged"
	case EventDetailsChanged:
		return "DetailsChanged"
	default:
		return "Unknown"
	}
}

// Event is a single lifecycle notification carrying the call's latest snapshot.
type Event struct {
	Kind EventKind
	Call Call

	// ForceUnregister applies to EventRemoved: when false, an external call keeps its
	// listener so it can be added back once it stops being external.
	ForceUnregister bool
}

// Listener receives lifecycle notifications for the calls it is subscribed to.
type Listener interface {
	OnCallEvent(ev Event)
}

// Source is the platform call source. It owns call lifecycle and executes call
// operations on behalf of accessories. Operations are invoked while the caller holds
// its own locks, so a Source must deliver the resulting events asynchronously.
type Source interface {
	Subscribe(id CallID, l Listener)
	Unsubscribe(id CallID)

	Answer(id CallID) error
	Reject(id CallID) error
	Disconnect(id CallID) error
	Hold(id CallID) error
	Unhold(id CallID) error
	MergeConference(id CallID) error
	SwapConference(id CallID) error
	Conference(id, other CallID) error
	PlayTone(id CallID, digit byte) error
	StopTone(id CallID) error
	SendCallEvent(id CallID, name string, payload map[string]any) error
}
