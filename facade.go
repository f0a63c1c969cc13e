package lockfree

import (
	"hash/maphash"
	"sync/atomic"
	"unsafe"
)

// Config defines configurable facade options.
type Config struct {
	sizeHint int
}

// WithPresize configures a new Set or Map with capacity enough to hold
// sizeHint entries before the first resize. If sizeHint is zero or
// negative, the value is ignored.
func WithPresize(sizeHint int) func(*Config) {
	return func(c *Config) {
		c.sizeHint = sizeHint
	}
}

// entryArray is the side data both facades keep: one pointer per entry
// index, accessed atomically. The pointee is immutable; updates swap the
// whole pointer.
type entryArray = []unsafe.Pointer

var tombstoneByte byte

// tombstone marks the side data of a removed entry, distinguishing it from
// a cell the owning writer has not published yet.
var tombstone = unsafe.Pointer(&tombstoneByte)

// ptrHooks wires the core table to the pointer-per-entry side data.
var ptrHooks = &Hooks[entryArray]{
	New: func(capacity int) entryArray {
		return make(entryArray, capacity)
	},
	Copy: func(oldTable, newTable *Table[entryArray], oldIndex, newIndex int) {
		atomic.StorePointer(&newTable.Aux[newIndex], atomic.LoadPointer(&oldTable.Aux[oldIndex]))
	},
	Reset: func(t *Table[entryArray], index int) {
		atomic.StorePointer(&t.Aux[index], nil)
	},
}

// newFacadeTable sizes the initial table so that the facade holds sizeHint
// entries before the load factor trips the first resize.
func newFacadeTable(sizeHint int) *Table[entryArray] {
	return mustNewTable(sizeHint+sizeHint/15+reserved+1, ptrHooks)
}

// comparableHash is the default hasher: the built-in hash for comparable
// types, folded to 32 bits.
func comparableHash[E comparable](e E, seed maphash.Seed) uint32 {
	h := maphash.Comparable(seed, e)
	return uint32(h ^ h>>32)
}
