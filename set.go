package lockfree

import (
	"hash/maphash"
	"sync/atomic"
	"unsafe"
)

// Set is a lock free hash set. All operations are at least lock free,
// Contains and Range are wait free (population oblivious).
//
// A Set must not be copied after first use.
type Set[E comparable] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		table atomic.Pointer[struct{}]
		seed  maphash.Seed
		hash  func()
	}{})%CacheLineSize) % CacheLineSize]byte

	table atomic.Pointer[Table[entryArray]]
	seed  maphash.Seed
	hash  func(e E, seed maphash.Seed) uint32
}

// NewSet creates a new, empty set.
//
// Parameters:
//   - WithPresize option for initial capacity
func NewSet[E comparable](options ...func(*Config)) *Set[E] {
	return NewSetWithHasher[E](nil, options...)
}

// NewSetWithHasher creates a set with a custom hash function, e.g. a good
// integer hash for numeric element types. A nil hash uses the built-in
// hasher.
func NewSetWithHasher[E comparable](
	hash func(e E, seed maphash.Seed) uint32,
	options ...func(*Config),
) *Set[E] {
	var cfg Config
	for _, o := range options {
		o(&cfg)
	}
	if hash == nil {
		hash = comparableHash[E]
	}
	s := &Set[E]{
		seed: maphash.MakeSeed(),
		hash: hash,
	}
	s.table.Store(newFacadeTable(cfg.sizeHint))
	return s
}

// Size returns the number of elements in the set. The value is eventually
// consistent with concurrent mutations.
func (s *Set[E]) Size() int {
	return s.table.Load().Size()
}

// Contains reports whether e is in the set.
func (s *Set[E]) Contains(e E) bool {
	t := s.table.Load()
	f := t.Finder(s.hash(e, s.seed))
	for index := f.Next(); index != None; index = f.Next() {
		p := atomic.LoadPointer(&t.Aux[index])
		if p == nil || p == tombstone {
			f.Reload()
			continue
		}
		if *(*E)(p) == e {
			return true
		}
	}
	return false
}

// Add adds e to the set. Returns false if e was already present.
func (s *Set[E]) Add(e E) bool {
	h := s.hash(e, s.seed)
	boxed := unsafe.Pointer(&e)
	for {
		t := s.table.Load()
		if added, ok := s.tryAdd(t, h, e, boxed); ok {
			return added
		}
		s.table.CompareAndSwap(t, t.Resize())
	}
}

func (s *Set[E]) tryAdd(t *Table[entryArray], h uint32, e E, boxed unsafe.Pointer) (added, ok bool) {
	u := t.Updater(h)
	defer u.Close()
	for {
		index := u.Next()
		switch index {
		case Resize:
			return false, false
		case None:
			newIndex := u.Alloc()
			if newIndex == Resize {
				return false, false
			}
			atomic.StorePointer(&t.Aux[newIndex], boxed)
			if u.Insert() {
				return true, true
			}
			u.Restart()
		default:
			p := atomic.LoadPointer(&t.Aux[index])
			if p != nil && p != tombstone && *(*E)(p) == e {
				return false, true
			}
		}
	}
}

// Remove removes e from the set. Returns false if e was not present.
func (s *Set[E]) Remove(e E) bool {
	h := s.hash(e, s.seed)
	for {
		t := s.table.Load()
		if removed, ok := s.tryRemove(t, h, e); ok {
			return removed
		}
		s.table.CompareAndSwap(t, t.Resize())
	}
}

func (s *Set[E]) tryRemove(t *Table[entryArray], h uint32, e E) (removed, ok bool) {
	u := t.Updater(h)
	defer u.Close()
	for {
		index := u.Next()
		switch index {
		case Resize:
			return false, false
		case None:
			return false, true
		default:
			p := atomic.LoadPointer(&t.Aux[index])
			if p == nil || p == tombstone || *(*E)(p) != e {
				continue
			}
			if u.Remove() {
				atomic.StorePointer(&t.Aux[index], tombstone)
				return true, true
			}
			u.Restart()
		}
	}
}

// Range calls f for each element of the set until f returns false.
// Enumeration is weakly consistent: it sees a subset of the elements that
// existed at some point between the first and the last call to f.
func (s *Set[E]) Range(f func(e E) bool) {
	t := s.table.Load()
	it := t.Iterator()
	for index := it.Next(); index != None; index = it.Next() {
		p := atomic.LoadPointer(&t.Aux[index])
		if p == nil || p == tombstone {
			continue
		}
		if !f(*(*E)(p)) {
			return
		}
	}
}

// Clear removes all elements from the set.
func (s *Set[E]) Clear() {
	s.table.Store(newFacadeTable(0))
}
