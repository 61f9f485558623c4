package bridge

import (
	"github.com/google/uuid"

	"github.com/dense-identity/callsync/internal/telecom"
)

// noIndex marks a call whose legacy list index has not been allocated yet.
const noIndex = -1

// entry is a tracked call: its latest snapshot plus the identifiers the bridge assigns.
type entry struct {
	call telecom.Call
	// index is the legacy list index. Once set it never changes.
	index int
	// listID identifies the call to the list protocol.
	listID uuid.UUID
}

func (en *entry) id() telecom.CallID {
	if en == nil {
		return telecom.NoCall
	}
	return en.call.ID
}

// isNull reports whether en is absent or names an invalid call.
func isNull(en *entry) bool {
	return en == nil || en.call.IsNull()
}

// directory maps call identity to call entry, remembering insertion order.
type directory struct {
	entries map[telecom.CallID]*entry
	order   []telecom.CallID
}

func newDirectory() *directory {
	return &directory{entries: make(map[telecom.CallID]*entry)}
}

// insert adds c. It returns false if c is already present.
func (d *directory) insert(c telecom.Call) (*entry, bool) {
	if _, ok := d.entries[c.ID]; ok {
		return nil, false
	}
	en := &entry{call: c.Clone(), index: noIndex, listID: uuid.New()}
	d.entries[c.ID] = en
	d.order = append(d.order, c.ID)
	return en, true
}

// update replaces the stored snapshot of c, keeping assigned identifiers.
func (d *directory) update(c telecom.Call) *entry {
	en, ok := d.entries[c.ID]
	if !ok {
		return nil
	}
	en.call = c.Clone()
	return en
}

func (d *directory) remove(id telecom.CallID) *entry {
	en, ok := d.entries[id]
	if !ok {
		return nil
	}
	delete(d.entries, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return en
}

func (d *directory) contains(id telecom.CallID) bool {
	_, ok := d.entries[id]
	return ok
}

// lookup returns the entry for id, or nil for unknown ids and invalid calls.
func (d *directory) lookup(id telecom.CallID) *entry {
	if id == telecom.NoCall {
		return nil
	}
	en := d.entries[id]
	if isNull(en) {
		return nil
	}
	return en
}

// lookupMany resolves ids in order, dropping unknown and invalid calls.
func (d *directory) lookupMany(ids []telecom.CallID) []*entry {
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if en := d.lookup(id); en != nil {
			out = append(out, en)
		}
	}
	return out
}

// all returns every valid call in insertion order.
func (d *directory) all() []*entry {
	return d.lookupMany(d.order)
}

// byListID finds the call the list protocol knows as id.
func (d *directory) byListID(id uuid.UUID) *entry {
	for _, en := range d.all() {
		if en.listID == id {
			return en
		}
	}
	return nil
}

// simpleCount returns the number of tracked calls that are not conference parents.
func (d *directory) simpleCount() int {
	n := 0
	for _, en := range d.entries {
		if !en.call.Conference {
			n++
		}
	}
	return n
}

func (d *directory) len() int { return len(d.entries) }

func (d *directory) clear() {
	d.entries = make(map[telecom.CallID]*entry)
	d.order = nil
}
