// Package lockfree provides a fast, memory efficient, lock free hash table.
//
// The core Table stores chain topology only; facades such as Set and Map
// layer keys and values on top of it through the Hooks callbacks. All
// operations are at least lock free, lookup and iteration are wait free
// (population oblivious).
package lockfree

import (
	"errors"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
)

const (
	// None is returned by cursors when there are no more entries.
	None = -1

	// Resize is returned by an Updater when the table needs resizing.
	// The caller must obtain the successor table via Resize() and retry.
	Resize = -2
)

const (
	// reserved is the number of reserved slots at the start of the table.
	// Chain pointers of value 0 or 1 mean "none", so slots 0 and 1 can
	// never be entry bodies.
	reserved = 2

	// minCapacity is the minimum size of the backing array.
	minCapacity = 16

	// maxCapacity is the maximum size of the backing array.
	maxCapacity = 1 << 30

	// linearProbes is the number of linear probes before switching to
	// quadratic probing.
	linearProbes = 8

	// phi is the golden ratio, to generate quasi random hash codes.
	phi uint32 = 0x9e3779b9

	// invPhi is the modular multiplicative inverse of phi.
	invPhi uint32 = 0x144cbc89
)

// ErrCapacityExceeded is returned by NewTable when the requested size
// exceeds the maximum capacity of 2^30 slots.
var ErrCapacityExceeded = errors.New("lockfree: maximum capacity of 2^30 entries exceeded")

// Hooks customizes the per-entry side data a facade keeps alongside the
// core table. All callbacks are optional.
type Hooks[A any] struct {
	// New allocates the side data for a table with the given capacity.
	New func(capacity int) A

	// Copy transfers the side data of one entry from the old table to the
	// new table during migration. It is called after the destination slot
	// has been reserved: before it is linked if the entry lands outside its
	// home slot, right after the single CAS that reserves and links the
	// home slot otherwise. It may run concurrently for distinct newIndex
	// values.
	Copy func(oldTable, newTable *Table[A], oldIndex, newIndex int)

	// Reset clears the side data at index, e.g. after a failed update.
	Reset func(t *Table[A], index int)
}

// Table is the core of the hash table: a power-of-two sized array of 64-bit
// slot words updated exclusively through compare-and-swap, plus a striped
// size accumulator and an optional in-progress resizer.
//
// A Table must not be copied after first use.
type Table[A any] struct {
	sizes    []counterStripe
	states   []atomic.Uint64
	slotmask uint32
	slotbits uint32
	hashmask uint32
	resizer  atomic.Pointer[resizer[A]]
	hooks    *Hooks[A]
	updaters sync.Pool

	// Aux holds the facade side data created by Hooks.New. Facades index
	// it with the entry indices handed out by the cursors.
	Aux A
}

// NewTable creates a table with the given size, rounded up to a power of
// two of at least 16. Returns ErrCapacityExceeded if tabSize exceeds 2^30.
func NewTable[A any](tabSize int, hooks *Hooks[A]) (*Table[A], error) {
	if tabSize > maxCapacity {
		return nil, ErrCapacityExceeded
	}
	tabSize = nextPowOf2(max(tabSize, minCapacity))

	t := &Table[A]{
		sizes:    make([]counterStripe, calcSizeLen(tabSize, runtime.GOMAXPROCS(0))),
		states:   make([]atomic.Uint64, tabSize),
		slotmask: uint32(tabSize - 1),
		hooks:    hooks,
	}
	t.slotbits = uint32(bits.Len32(t.slotmask))
	t.hashmask = ^t.slotmask >> t.slotbits
	t.updaters.New = func() any { return new(Updater[A]) }

	// stamp the reserved slots as non-free
	t.states[0].Store(removedFlag)
	t.states[1].Store(removedFlag)

	if hooks != nil && hooks.New != nil {
		t.Aux = hooks.New(t.Capacity())
	}
	return t, nil
}

// mustNewTable is NewTable for callers that cannot fail, i.e. the resizer,
// which never computes a size beyond maxCapacity unless the table already
// holds close to 2^30 entries.
func mustNewTable[A any](tabSize int, hooks *Hooks[A]) *Table[A] {
	t, err := NewTable(tabSize, hooks)
	if err != nil {
		panic(err)
	}
	return t
}

// Size returns the number of entries in the table. The value is eventually
// consistent with concurrent mutations.
func (t *Table[A]) Size() int {
	sz := t.getSizes()
	return int(int32(uint32(sz) - uint32(sz>>32)))
}

// TabSize returns the size of the backing array (always a power of two).
func (t *Table[A]) TabSize() int {
	return len(t.states)
}

// Capacity returns the maximum number of entries the table can hold,
// slightly less than TabSize because some slots are reserved for
// internal use.
func (t *Table[A]) Capacity() int {
	return t.TabSize() - reserved
}

// addSizes records inserts (low word) and removes (high word) on the
// stripe selected by slot.
func (t *Table[A]) addSizes(slot int, v uint64) {
	t.sizes[slot&(len(t.sizes)-1)].c.Add(v)
}

// getSizes returns the accumulated sizes (low word: inserted entries,
// high word: removed entries).
func (t *Table[A]) getSizes() uint64 {
	var sum uint64
	for i := range t.sizes {
		sum += t.sizes[i].c.Load()
	}
	return sum
}

// slot returns the home slot of the mixed hash, i.e. its top slotbits bits.
func (t *Table[A]) slot(hash uint32) int {
	return int(hash >> (32 - t.slotbits))
}

func (t *Table[A]) getState(index int) uint64 {
	return t.states[index].Load()
}

func (t *Table[A]) setState(index int, state, newState uint64) bool {
	return t.states[index].CompareAndSwap(state, newState)
}

// alloc reserves a currently free slot near index, stamping its used, hash
// and next fields in the same CAS. It does not link the slot into any
// chain. Returns 0 if the table needs resizing instead.
//
// The first eight probes are linear to stay on the caller's cache lines,
// the following ones use a quadratic schedule of triangular numbers.
func (t *Table[A]) alloc(index int, hash uint32, next int) int {
	for i := 1 - linearProbes; i <= int(t.slotmask); i++ {
		index = (index + max(1, i)) & int(t.slotmask)
		state := t.getState(index)
		if isFree(state) {
			if t.setState(index, state, t.setUsed(state, hash, next)) {
				return index
			}
		} else if i == 0 {
			sz := t.getSizes()
			if t.shouldResize(int(int32(uint32(sz))), int(int32(uint32(sz>>32)))) {
				return 0
			}
		} else if t.resizer.Load() != nil {
			return 0
		}
	}
	return 0
}

// free releases an entry slot, e.g. an unused reservation.
func (t *Table[A]) free(index int) {
	t.resetAux(index - reserved)

	for {
		state := t.getState(index)
		if t.setState(index, state, setFree(state)) {
			return
		}
	}
}

// linkTo links the previous entry to index. A prevIndex of 0 means the
// previous link is the head field of the bucket's home slot, with
// prevState holding that slot's word.
func (t *Table[A]) linkTo(slot, prevIndex int, prevState uint64, index int) bool {
	if prevIndex == 0 {
		return t.setState(slot, prevState, setHead(prevState, index))
	}
	return t.setState(prevIndex, prevState, t.setNext(prevState, index))
}

// shouldResize reports whether an allocation should trigger a resize.
// The trigger counts consumed slots, not live entries: removed slots are
// only reclaimed by migration.
func (t *Table[A]) shouldResize(used, removed int) bool {
	c := t.Capacity()
	return used >= c-c>>4
}

// newCapacity calculates the capacity of the resized table. The table only
// doubles if removed entries take up at most half of the capacity;
// otherwise migration merely purges the removed entries.
func (t *Table[A]) newCapacity(used, removed int) int {
	c := t.Capacity()
	if (c-removed)<<1 >= c {
		c <<= 1
	}
	return c
}

func (t *Table[A]) copyAux(oldTable *Table[A], oldIndex, newIndex int) {
	if t.hooks != nil && t.hooks.Copy != nil {
		t.hooks.Copy(oldTable, t, oldIndex, newIndex)
	}
}

func (t *Table[A]) resetAux(index int) {
	if t.hooks != nil && t.hooks.Reset != nil {
		t.hooks.Reset(t, index)
	}
}

// ptr converts 0 to 1 so that head / next pointers written by the Updater
// can be distinguished from initial state and pointers written by the
// resizer.
func ptr(index int) int {
	if index == 0 {
		return 1
	}
	return index
}
