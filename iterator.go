package lockfree

// Iterator walks all entries of the table, slot by slot. Iteration is
// weakly consistent: it sees a subset of the entries that existed at some
// point between the first and the last call to Next, in no particular
// order.
type Iterator[A any] struct {
	t     *Table[A]
	slot  int
	index int
}

// Iterator returns an iterator over all entries.
func (t *Table[A]) Iterator() Iterator[A] {
	return Iterator[A]{t: t, slot: -1}
}

// Next returns the index of the next live entry, or None if there are no
// more entries.
func (it *Iterator[A]) Next() int {
	t := it.t
	if it.index >= reserved {
		it.index = t.getNext(t.getState(it.index))
	}
	for {
		if it.index < reserved {
			if it.slot >= int(t.slotmask) {
				return None
			}
			it.slot++
			it.index = getHead(t.getState(it.slot))
		} else {
			state := t.getState(it.index)
			if isUsed(state) {
				return it.index - reserved
			}
			it.index = t.getNext(state)
		}
	}
}

// HashCode returns the original hash code of the current entry, restored
// by multiplying the mixed hash with the inverse of the mixing constant.
func (it *Iterator[A]) HashCode() uint32 {
	return it.t.getHashAt(it.t.getState(it.index), it.slot) * invPhi
}
