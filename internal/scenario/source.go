package scenario

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dense-identity/callsync/internal/telecom"
)

// Source is an in-memory telecom.Source. Operations are recorded, never acted on,
// so it never calls back into the engine.
type Source struct {
	mu          sync.Mutex
	subscribers map[telecom.CallID]telecom.Listener
	record      func(line string)
	// Err, when set, fails every operation.
	Err error
}

// NewSource creates a source that reports each operation through record.
func NewSource(record func(line string)) *Source {
	if record == nil {
		record = func(string) {}
	}
	return &Source{subscribers: make(map[telecom.CallID]telecom.Listener), record: record}
}

// Subscribed lists the subscribed calls in ascending order.
func (s *Source) Subscribed() []telecom.CallID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]telecom.CallID, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Source) Subscribe(id telecom.CallID, l telecom.Listener) {
	s.mu.Lock()
	s.subscribers[id] = l
	s.mu.Unlock()
}

func (s *Source) Unsubscribe(id telecom.CallID) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

func (s *Source) op(name string, args ...any) error {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, "op", name)
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	s.record(strings.Join(parts, " "))
	return s.Err
}

func (s *Source) Answer(id telecom.CallID) error     { return s.op("answer", id) }
func (s *Source) Reject(id telecom.CallID) error     { return s.op("reject", id) }
func (s *Source) Disconnect(id telecom.CallID) error { return s.op("disconnect", id) }
func (s *Source) Hold(id telecom.CallID) error       { return s.op("hold", id) }
func (s *Source) Unhold(id telecom.CallID) error     { return s.op("unhold", id) }

func (s *Source) MergeConference(id telecom.CallID) error { return s.op("merge", id) }
func (s *Source) SwapConference(id telecom.CallID) error  { return s.op("swap", id) }

func (s *Source) Conference(id, other telecom.CallID) error {
	return s.op("conference", id, other)
}

func (s *Source) PlayTone(id telecom.CallID, digit byte) error {
	return s.op("play_tone", id, string(digit))
}

func (s *Source) StopTone(id telecom.CallID) error { return s.op("stop_tone", id) }

func (s *Source) SendCallEvent(id telecom.CallID, name string, _ map[string]any) error {
	return s.op("call_event", id, name)
}
