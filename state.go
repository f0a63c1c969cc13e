package lockfree

// Slot word layout (64 bits):
//
//	63..34  head     index of the first entry of the bucket homed at this slot;
//	                 0 = empty bucket, 1 = logically removed head
//	33      used     the slot holds a live entry
//	32      resizing the slot is frozen for migration
//	31..b   hash     the part of the mixed hash not consumed by the bucket index
//	                 (bit 31 doubles as the removed flag while the slot is unused)
//	b-1..0  next     index of the next entry in the chain; 0 or 1 = end of chain
//
// where b is the number of bits in the slot mask. The head field belongs to
// the bucket homed at the slot; the remaining fields describe the entry body
// that happens to occupy the slot, which may belong to a different bucket.
const (
	usedFlag     uint64 = 0x200000000
	resizingFlag uint64 = 0x100000000
	removedFlag  uint64 = 0x80000000

	headShift = 34
	headMask  = ^(uint64(1)<<headShift - 1)
)

// isFree reports whether the slot can be claimed by the allocator.
// The head field does not count: a slot is free as long as it holds
// no entry body and has never been removed.
func isFree(state uint64) bool {
	return state&^headMask == 0
}

// setFree clears the entry body, keeping only the head field.
func setFree(state uint64) uint64 {
	return state & headMask
}

func isUsed(state uint64) bool {
	return state&usedFlag != 0
}

func isResizing(state uint64) bool {
	return state&resizingFlag != 0
}

func setResizing(state uint64) uint64 {
	return state | resizingFlag
}

// isRemoved reports whether the slot held an entry that has been removed.
// The removed flag shares bit 31 with the hash field and is only
// meaningful while the slot is unused.
func isRemoved(state uint64) bool {
	return !isUsed(state) && state&removedFlag != 0
}

func setRemoved(state uint64) uint64 {
	return state&^usedFlag | removedFlag
}

func getHead(state uint64) int {
	return int(state >> headShift)
}

func setHead(state uint64, head int) uint64 {
	return state&^headMask | uint64(head)<<headShift
}

// state assembles a slot word from the individual fields. The hash is
// truncated to the bits not consumed by the bucket index, so callers may
// pass the full mixed hash.
func (t *Table[A]) state(used bool, head int, hash uint32, next int) uint64 {
	s := uint64(head)<<headShift | uint64(hash<<t.slotbits|uint32(next))
	if used {
		s |= usedFlag
	}
	return s
}

// setUsed stamps the entry body fields in one step, preserving the head field.
func (t *Table[A]) setUsed(state uint64, hash uint32, next int) uint64 {
	return t.state(true, getHead(state), hash, next)
}

// getHash returns the hash field of the slot word.
func (t *Table[A]) getHash(state uint64) uint32 {
	return uint32(state) >> t.slotbits
}

// getHashAt restores the full mixed hash of the entry at the given home slot.
func (t *Table[A]) getHashAt(state uint64, slot int) uint32 {
	return uint32(slot)<<(32-t.slotbits) | t.getHash(state)
}

func (t *Table[A]) getNext(state uint64) int {
	return int(uint32(state) & t.slotmask)
}

func (t *Table[A]) setNext(state uint64, next int) uint64 {
	return state&^uint64(t.slotmask) | uint64(next)
}
