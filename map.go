package lockfree

import (
	"hash/maphash"
	"reflect"
	"sync/atomic"
	"unsafe"
)

// Entry is an immutable map entry.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Map is a lock free hash map. All operations are at least lock free,
// Load and Range are wait free (population oblivious).
//
// A Map must not be copied after first use.
type Map[K comparable, V any] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		table    atomic.Pointer[struct{}]
		seed     maphash.Seed
		keyHash  func()
		valEqual func()
	}{})%CacheLineSize) % CacheLineSize]byte

	table    atomic.Pointer[Table[entryArray]]
	seed     maphash.Seed
	keyHash  func(key K, seed maphash.Seed) uint32
	valEqual func(val, val2 V) bool
}

// NewMap creates a new, empty map.
//
// Parameters:
//   - WithPresize option for initial capacity
func NewMap[K comparable, V any](options ...func(*Config)) *Map[K, V] {
	return NewMapWithHasher[K, V](nil, nil, options...)
}

// NewMapWithHasher creates a map with custom hashing and equality
// functions.
//
// Parameters:
//   - keyHash: nil uses the built-in hasher
//   - valEqual: nil uses the built-in comparison, but if the value type is
//     not comparable, the Compare series of functions will panic
func NewMapWithHasher[K comparable, V any](
	keyHash func(key K, seed maphash.Seed) uint32,
	valEqual func(val, val2 V) bool,
	options ...func(*Config),
) *Map[K, V] {
	var cfg Config
	for _, o := range options {
		o(&cfg)
	}
	if keyHash == nil {
		keyHash = comparableHash[K]
	}
	if valEqual == nil && reflect.TypeFor[V]().Comparable() {
		valEqual = func(val, val2 V) bool { return any(val) == any(val2) }
	}
	m := &Map[K, V]{
		seed:     maphash.MakeSeed(),
		keyHash:  keyHash,
		valEqual: valEqual,
	}
	m.table.Store(newFacadeTable(cfg.sizeHint))
	return m
}

// putMode selects the condition under which put commits.
type putMode int

const (
	putAlways putMode = iota
	putIfAbsent
	putIfPresent
	putIfEquals
)

// Size returns the number of entries in the map. The value is eventually
// consistent with concurrent mutations.
func (m *Map[K, V]) Size() int {
	return m.table.Load().Size()
}

// Load returns the value stored for key, or the zero value if no entry is
// present. The ok result indicates whether the entry was found.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	t := m.table.Load()
	f := t.Finder(m.keyHash(key, m.seed))
	for index := f.Next(); index != None; index = f.Next() {
		p := atomic.LoadPointer(&t.Aux[index])
		if p == nil || p == tombstone {
			f.Reload()
			continue
		}
		e := (*Entry[K, V])(p)
		if e.Key == key {
			return e.Value, true
		}
	}
	return value, false
}

// Contains reports whether an entry for key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Load(key)
	return ok
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	m.put(key, value, putAlways, nil)
}

// Swap stores value for key and returns the previous value, if any.
func (m *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	prev, existed, _ := m.put(key, value, putAlways, nil)
	return prev, existed
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores and returns the given value. The loaded result is true if the
// value was loaded, false if stored.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	prev, existed, wrote := m.put(key, value, putIfAbsent, nil)
	if !wrote && existed {
		return prev, true
	}
	return value, false
}

// Replace stores value for key only if an entry is already present and
// returns the previous value.
func (m *Map[K, V]) Replace(key K, value V) (previous V, loaded bool) {
	prev, existed, wrote := m.put(key, value, putIfPresent, nil)
	return prev, existed && wrote
}

// CompareAndSwap swaps the old and new values for key if the value stored
// for key equals old. The value type must be comparable or a custom
// valEqual must be configured.
func (m *Map[K, V]) CompareAndSwap(key K, old, new V) bool {
	_, _, wrote := m.put(key, new, putIfEquals, &old)
	return wrote
}

// Delete removes the entry for key.
func (m *Map[K, V]) Delete(key K) {
	m.remove(key, nil)
}

// LoadAndDelete removes the entry for key, returning the previous value
// if any.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	return m.remove(key, nil)
}

// CompareAndDelete removes the entry for key if its value equals old. The
// value type must be comparable or a custom valEqual must be configured.
func (m *Map[K, V]) CompareAndDelete(key K, old V) bool {
	_, deleted := m.remove(key, &old)
	return deleted
}

// Range calls f for each entry of the map until f returns false.
// Enumeration is weakly consistent: it sees a subset of the entries that
// existed at some point between the first and the last call to f.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	t := m.table.Load()
	it := t.Iterator()
	for index := it.Next(); index != None; index = it.Next() {
		p := atomic.LoadPointer(&t.Aux[index])
		if p == nil || p == tombstone {
			continue
		}
		e := (*Entry[K, V])(p)
		if !f(e.Key, e.Value) {
			return
		}
	}
}

// Clear removes all entries from the map.
func (m *Map[K, V]) Clear() {
	m.table.Store(newFacadeTable(0))
}

func (m *Map[K, V]) equalValues(a, b V) bool {
	if m.valEqual == nil {
		panic("lockfree: called a Compare function when value is not of comparable type")
	}
	return m.valEqual(a, b)
}

// put implements the conditional store ladder shared by Store, Swap,
// LoadOrStore, Replace and CompareAndSwap. cmp is only read in
// putIfEquals mode.
func (m *Map[K, V]) put(key K, value V, mode putMode, cmp *V) (prev V, existed, wrote bool) {
	h := m.keyHash(key, m.seed)
	for {
		t := m.table.Load()
		if prev, existed, wrote, ok := m.tryPut(t, h, key, value, mode, cmp); ok {
			return prev, existed, wrote
		}
		m.table.CompareAndSwap(t, t.Resize())
	}
}

func (m *Map[K, V]) tryPut(
	t *Table[entryArray],
	h uint32,
	key K,
	value V,
	mode putMode,
	cmp *V,
) (prev V, existed, wrote, ok bool) {
	u := t.Updater(h)
	defer u.Close()
	boxed := unsafe.Pointer(&Entry[K, V]{Key: key, Value: value})
	for {
		index := u.Next()
		if index == Resize {
			return prev, false, false, false
		}

		var old V
		found := false
		if index == None {
			if mode == putIfPresent || mode == putIfEquals {
				return prev, false, false, true
			}
		} else {
			p := atomic.LoadPointer(&t.Aux[index])
			if p == nil || p == tombstone {
				continue
			}
			e := (*Entry[K, V])(p)
			if e.Key != key {
				continue
			}
			old = e.Value
			found = true

			if mode == putIfEquals && !m.equalValues(old, *cmp) {
				return old, true, false, true
			}
			if mode == putIfAbsent {
				return old, true, false, true
			}
		}

		newIndex := u.Alloc()
		if newIndex == Resize {
			return prev, false, false, false
		}
		atomic.StorePointer(&t.Aux[newIndex], boxed)

		committed := false
		if index == None {
			committed = u.Insert()
		} else {
			committed = u.Replace()
		}
		if committed {
			return old, found, true, true
		}
		u.Restart()
	}
}

// remove implements Delete, LoadAndDelete and CompareAndDelete. cmp nil
// removes unconditionally.
func (m *Map[K, V]) remove(key K, cmp *V) (prev V, deleted bool) {
	h := m.keyHash(key, m.seed)
	for {
		t := m.table.Load()
		if prev, deleted, ok := m.tryRemove(t, h, key, cmp); ok {
			return prev, deleted
		}
		m.table.CompareAndSwap(t, t.Resize())
	}
}

func (m *Map[K, V]) tryRemove(
	t *Table[entryArray],
	h uint32,
	key K,
	cmp *V,
) (prev V, deleted, ok bool) {
	u := t.Updater(h)
	defer u.Close()
	for {
		index := u.Next()
		if index == Resize {
			return prev, false, false
		}
		if index == None {
			return prev, false, true
		}

		p := atomic.LoadPointer(&t.Aux[index])
		if p == nil || p == tombstone {
			continue
		}
		e := (*Entry[K, V])(p)
		if e.Key != key {
			continue
		}
		if cmp != nil && !m.equalValues(e.Value, *cmp) {
			return e.Value, false, true
		}

		if u.Remove() {
			atomic.StorePointer(&t.Aux[index], tombstone)
			return e.Value, true, true
		}
		u.Restart()
	}
}
