package bridge

// indexFor returns the legacy list index of en, allocating the smallest free one on
// first use. Indexes are 1-based. A conference starts searching above the largest
// number of simple calls seen, so it never takes an index a simple call may need.
func (e *Engine) indexFor(en *entry) int {
	if isNull(en) {
		return noIndex
	}
	if en.index >= 1 {
		return en.index
	}
	start := 1
	if en.call.Conference {
		start = e.maxCalls + 1
	}
	en.index = e.nextFreeIndex(start)
	e.log.WithField("call", en.call.ID).WithField("index", en.index).Debug("Allocated list index")
	return en.index
}

// nextFreeIndex returns the smallest index >= start not held by a live call. Indexes
// are freed only by their call leaving the directory, so the live calls are rescanned
// every time.
func (e *Engine) nextFreeIndex(start int) int {
	held := make(map[int]struct{}, e.dir.len())
	for _, en := range e.dir.entries {
		if en.index >= 1 {
			held[en.index] = struct{}{}
		}
	}
	for i := start; ; i++ {
		if _, taken := held[i]; !taken {
			return i
		}
	}
}

// indexHeld reports whether a live call other than self holds index.
func (e *Engine) indexHeld(index int, self *entry) bool {
	for _, en := range e.dir.entries {
		if en != self && en.index == index {
			return true
		}
	}
	return false
}

// adoptIndex gives en an index inferred for it, unless en already has one or another
// live call holds it.
func (e *Engine) adoptIndex(en *entry, index int) {
	if en.index >= 1 || index < 1 || e.indexHeld(index, en) {
		return
	}
	en.index = index
}
