package lockfree

import (
	"sync/atomic"
	"time"
)

// allocWait is how long a resize helper works on freezing old slots before
// trying to allocate the new backing array itself, per arrival rank.
const allocWait = 10 * time.Second

// Resize joins the ongoing migration, starting one if necessary, and
// returns the successor table. All callers of the same incarnation receive
// the same successor; each caller helps copying buckets until the
// migration completes.
func (t *Table[A]) Resize() *Table[A] {
	r := t.resizer.Load()
	if r == nil {
		sz := t.getSizes()
		newTabSize := nextPowOf2(max(t.TabSize(),
			t.newCapacity(int(int32(uint32(sz))), int(int32(uint32(sz>>32))))))
		r = newResizer(t, newTabSize)
		if t.resizer.CompareAndSwap(nil, r) {
			r.init()
		} else {
			r = t.resizer.Load()
		}
	}
	return r.resize()
}

// resizer coordinates the cooperative migration of one table into a
// larger one. It is installed on the old table by CAS; the old and the
// new table are both reachable from it until the migration completes.
type resizer[A any] struct {
	oldTable   *Table[A]
	newTabSize int
	factor     int
	start      time.Time
	threads    atomic.Int32
	newTable   atomic.Pointer[Table[A]]
	allocated  chan struct{}
	splitter   *Splitter
	done       atomic.Bool
}

func newResizer[A any](oldTable *Table[A], newTabSize int) *resizer[A] {
	return &resizer[A]{
		oldTable:   oldTable,
		newTabSize: newTabSize,
		factor:     newTabSize / oldTable.TabSize(),
		start:      time.Now(),
		allocated:  make(chan struct{}),
		splitter:   NewSplitter(oldTable.TabSize() >> 4),
	}
}

// init allocates and publishes the new table. Safe to call from multiple
// goroutines; the first successful CAS wins.
func (r *resizer[A]) init() {
	if r.newTable.Load() != nil {
		return
	}
	newTab := mustNewTable(r.newTabSize, r.oldTable.hooks)
	if r.newTable.CompareAndSwap(nil, newTab) {
		close(r.allocated)
	}
}

// waitInit waits until the first resizing goroutine has allocated the new
// table. Waiters burn the time usefully by freezing batches of old table
// slots; a waiter whose rank-scaled timeout elapses assumes the allocating
// goroutine stalled and allocates itself.
func (r *resizer[A]) waitInit() *Table[A] {
	if newTab := r.newTable.Load(); newTab != nil {
		return newTab
	}
	deadline := r.start.Add(time.Duration(r.threads.Add(1)) * allocWait)

	old := r.oldTable
	batches := old.TabSize() >> 4
	for batch := 0; batch < batches; batch++ {
		if r.newTable.Load() != nil || !time.Now().Before(deadline) {
			break
		}
		start := batch << 4
		for slot := start; slot <= start+15; slot++ {
			state := old.getState(slot)
			newState := setResizing(state)
			if state == newState || !old.setState(slot, state, newState) {
				break
			}
		}
	}

	if newTab := r.newTable.Load(); newTab != nil {
		return newTab
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-r.allocated:
	case <-timer.C:
		// the other goroutines are stalled, it's our turn to try
		r.init()
		<-r.allocated
	}
	return r.newTable.Load()
}

// resize drains batches of 16 old slots handed out by the splitter,
// highest slot first within a batch, until all buckets are migrated.
func (r *resizer[A]) resize() *Table[A] {
	newTab := r.waitInit()

	tails := make([]int, r.factor)
	for batch := r.splitter.First(); batch != SplitterNone; batch = r.splitter.Next(batch) {
		start := SplitterValue(batch) << 4
		for slot := start + 15; slot >= start; slot-- {
			if !r.copyBucket(newTab, tails, slot) {
				break
			}
		}
	}
	r.done.Store(true)
	return newTab
}

// markResizing freezes the old table slot.
func (r *resizer[A]) markResizing(slot int) uint64 {
	old := r.oldTable
	for {
		state := old.getState(slot)
		newState := setResizing(state)
		if state == newState || old.setState(slot, state, newState) {
			return newState
		}
	}
}

// copyBucket migrates all live entries of the bucket homed at oldSlot.
// Each entry lands in one of factor child buckets of the new table; tails
// caches the per-child chain tail so appends do not re-walk the chain.
// Returns false to abort resizing.
func (r *resizer[A]) copyBucket(newTab *Table[A], tails []int, oldSlot int) bool {
	for i := range tails {
		tails[i] = 0
	}
	old := r.oldTable
	oldState := r.markResizing(oldSlot)
	for oldIdx := getHead(oldState); oldIdx >= reserved; oldIdx = old.getNext(oldState) {
		oldState = r.markResizing(oldIdx)
		if isUsed(oldState) {
			// restore the full mixed hash and locate the child bucket
			hash := old.getHashAt(oldState, oldSlot)
			slot := newTab.slot(hash)
			facIdx := slot & (r.factor - 1)
			tails[facIdx] = r.copyEntry(newTab, oldIdx, hash, slot, tails[facIdx])
			if tails[facIdx] == None {
				return false
			}
		}
	}
	return true
}

// copyEntry appends one migrated entry to the tail of its child bucket in
// the new table and returns the new tail index, or None to abort resizing.
func (r *resizer[A]) copyEntry(newTab *Table[A], oldIdx int, keyHash uint32, slot, tail int) int {
	head := tail == 0
	if head {
		// fast path for the common case that the entry can be stored in
		// its home slot
		state := newTab.getState(slot)
		newState := newTab.state(true, slot, keyHash, 0)
		if state == 0 {
			if newTab.setState(slot, state, newState) {
				state = newState
				newTab.addSizes(slot, 1)
			} else {
				state = newTab.getState(slot)
			}
		}

		if state == newState {
			newTab.copyAux(r.oldTable, oldIdx-reserved, slot-reserved)
			return slot
		}
	}

	// collision case, the entry has to be stored in some other slot
	for {
		var state uint64
		if head {
			state = newTab.getState(slot)
		} else {
			state = newTab.getState(tail)
		}
		// check if resizing has completed *after* reading the state
		if r.done.Load() {
			return None
		}

		var index int
		if head {
			index = getHead(state)
		} else {
			index = newTab.getNext(state)
		}
		if index != 0 {
			// another helper already appended this entry
			return index
		}

		from := tail
		if head {
			from = slot
		}
		newIndex := newTab.alloc(from, keyHash, 0)
		if newIndex < reserved {
			continue
		}
		newTab.copyAux(r.oldTable, oldIdx-reserved, newIndex-reserved)

		if newTab.linkTo(slot, tail, state, newIndex) {
			newTab.addSizes(slot, 1)
			return newIndex
		}
		newTab.free(newIndex)
	}
}
