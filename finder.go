package lockfree

// Finder is a read-only cursor over the entries whose hash matches one
// hash code. It is wait free and never mutates the table: logically
// removed entries are skipped without assisting their removal.
type Finder[A any] struct {
	t     *Table[A]
	hash  uint32
	index int
	state uint64
}

// Finder returns a cursor over the entries matching hashCode.
func (t *Table[A]) Finder(hashCode uint32) Finder[A] {
	mixed := hashCode * phi
	return Finder[A]{
		t: t,
		// the state field holds the home slot until the first Next
		state: uint64(t.slot(mixed)),
		hash:  mixed & t.hashmask,
	}
}

// Next returns the index of the next entry with matching hash, or None if
// there are no more entries. Equality on the actual key is up to the
// caller; distinct keys may share a hash code.
func (f *Finder[A]) Next() int {
	t := f.t
	last := f.index
	if last == 0 {
		last = int(f.state)
		f.state = t.getState(last)
		f.index = getHead(f.state)
	} else {
		f.index = t.getNext(f.state)
	}

	for f.index >= reserved {
		if f.index != last {
			last = f.index
			f.state = t.getState(last)
		}

		if isUsed(f.state) {
			h := t.getHash(f.state)
			if h == f.hash {
				return f.index - reserved
			}
			if h > f.hash {
				return None
			}
		}
		f.index = t.getNext(f.state)
	}
	return None
}

// Reload re-reads the current slot word in place. This is necessary if the
// current entry has been replaced, so that the cursor follows the
// forwarding pointer left behind by Updater.Replace.
func (f *Finder[A]) Reload() {
	f.state = f.t.getState(f.index)
}
