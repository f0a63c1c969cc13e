package lockfree

import (
	"sync/atomic"
	"unsafe"
)

// counterStripe represents a striped counter to reduce contention.
// The low word accumulates inserted entries, the high word removed entries,
// so a single 64-bit add can record an insert, a remove, or both at once.
type counterStripe struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		c atomic.Uint64
	}{})%CacheLineSize) % CacheLineSize]byte

	c atomic.Uint64
}

// calcSizeLen computes the number of counter stripes for a table.
// Return value is a power of 2.
func calcSizeLen(tabSize, cpus int) int {
	return nextPowOf2(min(cpus, tabSize>>10))
}
