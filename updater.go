package lockfree

// Updater is a mutating cursor over the entries whose hash matches one
// hash code. All mutations are lock free: an Updater that encounters a
// logically removed entry assists its removal before continuing.
//
// Updaters are pooled and reused; they must be released with Close on all
// exit paths. Close also releases a slot reserved by Alloc that was never
// committed, so abandoned reservations cannot leak table capacity.
type Updater[A any] struct {
	t         *Table[A]
	slot      int
	hash      uint32
	index     int
	prevIndex int
	newIndex  int
	state     uint64
	prevState uint64
}

// Updater returns a cursor to iterate and modify the entries matching
// hashCode. The returned Updater needs to be closed after use.
func (t *Table[A]) Updater(hashCode uint32) *Updater[A] {
	u := t.updaters.Get().(*Updater[A])
	if u.t != nil {
		panic("lockfree: Updater reused without Close")
	}
	mixed := hashCode * phi
	u.t = t
	u.hash = mixed & t.hashmask
	u.slot = t.slot(mixed)
	u.index, u.prevIndex, u.newIndex = 0, 0, 0
	u.state, u.prevState = 0, 0
	return u
}

// Close releases the Updater back to its table's pool, freeing any
// reserved but uncommitted slot.
func (u *Updater[A]) Close() {
	t := u.t
	if t == nil {
		return
	}
	if u.newIndex >= reserved {
		t.free(u.newIndex)
	}
	u.newIndex = 0
	u.t = nil
	t.updaters.Put(u)
}

// Restart resets the cursor to the bucket head.
func (u *Updater[A]) Restart() {
	u.index, u.prevIndex = 0, 0
	u.state, u.prevState = 0, 0
}

// Next advances to the next entry with matching hash. It returns the
// entry's index, None if there are no more entries, or Resize if the
// table needs resizing.
func (u *Updater[A]) Next() int {
	t := u.t
	u.state = t.getState(u.current())
	if isResizing(u.state) {
		return Resize
	}

	for {
		u.prevIndex = u.index
		u.prevState = u.state

		if u.index == 0 {
			u.index = getHead(u.state)
		} else {
			u.index = t.getNext(u.state)
		}
		if u.index < reserved {
			return None
		}

		u.state = t.getState(u.index)
		if isResizing(u.state) {
			return Resize
		}

		if !isUsed(u.state) {
			// Found a removed entry. Assist the removing thread by linking
			// the previous entry to current's next entry. If successful,
			// continue with the previous entry, otherwise start over.
			if u.linkTo(t.getNext(u.state)) {
				u.index = u.prevIndex
			} else {
				u.index = 0
			}
			u.state = t.getState(u.current())
			continue
		}

		h := t.getHash(u.state)
		if h == u.hash {
			return u.index - reserved
		}
		if h > u.hash {
			return None
		}
	}
}

// Alloc reserves a free slot for a subsequent Insert or Replace and
// returns its index, or Resize if the table needs resizing. If the
// cursor sits at an empty home slot the reservation is done in place.
func (u *Updater[A]) Alloc() int {
	t := u.t
	if u.newIndex < reserved {
		if u.prevIndex == 0 && isFree(u.prevState) {
			newState := t.setUsed(u.prevState, u.hash, ptr(u.index))
			if u.setState(u.slot, u.prevState, newState) {
				u.newIndex = u.slot
				return u.newIndex - reserved
			}
		}

		u.newIndex = t.alloc(max(u.prevIndex, u.slot), u.hash, ptr(u.index))
		if u.newIndex < reserved {
			return Resize
		}
	}
	return u.newIndex - reserved
}

// Insert links the allocated entry before the current entry. On failure
// the caller must Restart and retry.
func (u *Updater[A]) Insert() bool {
	u.setNewNext(u.index)
	if !u.linkTo(u.newIndex) {
		return false
	}

	u.newIndex = 0
	u.t.addSizes(u.slot, 1)
	return true
}

// Replace substitutes the allocated entry for the current entry. The
// removed entry's next field forwards readers to the replacement; Finders
// holding the old index must Reload to follow it.
func (u *Updater[A]) Replace() bool {
	u.setNewNext(u.t.getNext(u.state))
	if !u.remove(u.newIndex) {
		return false
	}

	u.newIndex = 0
	u.t.addSizes(u.slot, 1<<32|1)
	return true
}

// Remove logically removes the current entry.
func (u *Updater[A]) Remove() bool {
	if !u.remove(u.t.getNext(u.state)) {
		return false
	}

	u.t.addSizes(u.slot, 1<<32)
	return true
}

// current returns the index the cursor state was loaded from.
func (u *Updater[A]) current() int {
	if u.index == 0 {
		return u.slot
	}
	return u.index
}

// setNewNext sets the next field of the allocated entry.
func (u *Updater[A]) setNewNext(next int) {
	if u.newIndex < reserved {
		panic("lockfree: Alloc must be called before Insert or Replace")
	}
	next = ptr(next)
	for {
		state := u.t.getState(u.newIndex)
		newState := u.t.setNext(state, next)
		if state == newState || u.setState(u.newIndex, state, newState) {
			return
		}
	}
}

// setState CASes a slot word, keeping the cursor's prevState in sync.
func (u *Updater[A]) setState(index int, state, newState uint64) bool {
	if !u.t.setState(index, state, newState) {
		return false
	}
	if index == u.prevIndex || (u.prevIndex == 0 && index == u.slot) {
		u.prevState = newState
	}
	return true
}

// remove clears the current entry's used flag, marks it removed and points
// its next field at next, all in one CAS. A best-effort second CAS fixes
// the previous link; if that one fails, the next Updater traversing the
// chain will assist.
func (u *Updater[A]) remove(next int) bool {
	if u.index < reserved {
		panic("lockfree: no current entry")
	}
	next = ptr(next)
	newState := u.t.setNext(setRemoved(u.state), next)

	// if the current entry is the head entry, also set the head field to
	// next, saving the second CAS below
	head := u.prevIndex == 0 && u.index == u.slot
	if head {
		newState = setHead(newState, next)
	}

	if !u.setState(u.index, u.state, newState) {
		return false
	}

	if !head {
		u.linkTo(next)
	}
	return true
}

// linkTo links the previous entry or the bucket head to index.
func (u *Updater[A]) linkTo(index int) bool {
	return u.t.linkTo(u.slot, u.prevIndex, u.prevState, ptr(index))
}
