package lockfree

import (
	"runtime"
	"sync/atomic"
)

// Splitter lets multiple goroutines iterate over a range of integers in
// parallel. The values returned to participating goroutines are as much
// apart from each other as possible: each goroutine drains its own
// sub-range and bisects the largest remaining range when its own runs dry.
//
// At the end of the iteration the same value may be returned to multiple
// goroutines, so that they can assist each other; callers must therefore
// be idempotent on the per-value work.
type Splitter struct {
	len    int
	ranges []atomic.Uint64
	first  atomic.Int32
}

// SplitterNone is the iteration state signalling end of iteration.
const SplitterNone = ^uint64(0)

const (
	splitterParallelBits = 8

	// SplitterMaxParallel is the maximum supported parallelism.
	SplitterMaxParallel = 1 << splitterParallelBits

	splitterParallelMask = SplitterMaxParallel - 1
	splitterAllIntBits   = 64 - splitterParallelBits
	splitterIntBits      = splitterAllIntBits / 2

	// SplitterMaxInt is the exclusive upper bound of iterable values.
	SplitterMaxInt = 1 << splitterIntBits

	splitterIntMask = SplitterMaxInt - 1

	// iteration states returned to callers carry the owning range index
	// and the current value, but never the range end
	splitterResultMask = uint64(splitterParallelMask)<<splitterAllIntBits | splitterIntMask
)

// NewSplitter creates a splitter iterating over 0..size-1.
func NewSplitter(size int) *Splitter {
	return NewSplitterRange(0, size)
}

// NewSplitterRange creates a splitter iterating over start..end-1.
func NewSplitterRange(start, end int) *Splitter {
	return NewSplitterParallel(start, end, max(SplitterMaxParallel, runtime.GOMAXPROCS(0)))
}

// NewSplitterParallel creates a splitter iterating over start..end-1 with
// the given maximum expected parallelism.
func NewSplitterParallel(start, end, maxParallel int) *Splitter {
	if start < 0 || start > end || end >= SplitterMaxInt {
		panic("lockfree: splitter range out of bounds")
	}
	maxParallel = min(max(maxParallel, 1), SplitterMaxParallel)

	s := &Splitter{
		len:    maxParallel,
		ranges: make([]atomic.Uint64, maxParallel),
	}
	if start < end {
		s.ranges[0].Store(splitRange(0, start, end))
	}
	s.first.Store(1)
	return s
}

func splitRange(index, start, end int) uint64 {
	return uint64(index)<<splitterAllIntBits | uint64(end)<<splitterIntBits | uint64(start)
}

func splitStart(r uint64) int {
	return int(r & splitterIntMask)
}

func splitEnd(r uint64) int {
	return int(r>>splitterIntBits) & splitterIntMask
}

func splitIndex(r uint64) int {
	return int(r>>splitterAllIntBits) & splitterParallelMask
}

func splitResult(r uint64) uint64 {
	return r & splitterResultMask
}

// SplitterValue extracts the iteration value from a state returned by
// First or Next.
func SplitterValue(state uint64) int {
	return int(state & splitterIntMask)
}

func (s *Splitter) getRaw(index int) uint64 {
	return s.ranges[index].Load()
}

func (s *Splitter) set(index int, r, newRange uint64) bool {
	return s.ranges[index].CompareAndSwap(r, newRange)
}

// get returns the range at index with all pending splits resolved. A range
// whose index field points elsewhere has been claimed for bisection: the
// upper half moves to the claiming slot, the lower half stays.
func (s *Splitter) get(index int) uint64 {
	for {
		r := s.getRaw(index)
		toIndex := splitIndex(r)
		if r == 0 || index == toIndex {
			return r
		}

		start := splitStart(r)
		end := splitEnd(r)
		mid := (start + end + 1) >> 1
		toRange := s.getRaw(toIndex)
		if toRange == 0 {
			if !s.set(toIndex, 0, splitRange(toIndex, mid, end)) {
				continue
			}
		} else if !(splitStart(toRange) >= mid && splitEnd(toRange) <= end) {
			// some other range has been split into toIndex, mark split failed
			s.set(index, r, splitRange(index, start, end))
			continue
		}

		// split succeeded
		newRange := splitRange(index, start, mid)
		if s.set(index, r, newRange) {
			return newRange
		}
	}
}

// split claims half of the largest remaining range for a previously empty
// slot. Once no empty slot remains, all callers converge on the largest
// remaining range.
func (s *Splitter) split() uint64 {
	for {
		var maxRange uint64
		maxSize := -1
		maxIndex := -1
		freeIndex := -1
		for index := 0; index < s.len; index++ {
			r := s.get(index)
			if r == 0 {
				if freeIndex < 0 {
					freeIndex = index
				}
			} else if size := splitEnd(r) - splitStart(r); size > maxSize {
				maxIndex = index
				maxSize = size
				maxRange = r
			}
		}

		if maxIndex < 0 {
			return SplitterNone
		}
		if freeIndex < 0 || maxSize < 2 {
			return maxRange
		}

		newRange := splitRange(freeIndex, splitStart(maxRange), splitEnd(maxRange))
		if s.set(maxIndex, maxRange, newRange) {
			s.get(maxIndex)
			toRange := s.get(freeIndex)
			if splitStart(toRange) > splitStart(maxRange) && splitEnd(toRange) <= splitEnd(maxRange) {
				return toRange
			}
		}
	}
}

// First starts iteration for a goroutine. Use SplitterValue to extract the
// iteration value; SplitterNone indicates end of iteration.
func (s *Splitter) First() uint64 {
	return s.Next(SplitterNone)
}

// Next continues iteration from the state previously returned by First or
// Next.
func (s *Splitter) Next(previous uint64) uint64 {
	if previous != SplitterNone {
		idx := splitIndex(previous)
		for {
			r := s.get(idx)
			if r == 0 {
				break
			}
			start := splitStart(r)
			if start != splitStart(previous) {
				return splitResult(r)
			}

			start++
			end := splitEnd(r)
			if start < end {
				newRange := splitRange(idx, start, end)
				if s.set(idx, r, newRange) {
					return splitResult(newRange)
				}
			} else if s.set(idx, r, 0) {
				break
			}
		}
	} else if s.first.Load() == 1 {
		r := s.getRaw(0)
		if s.first.CompareAndSwap(1, 0) {
			if r == 0 {
				return SplitterNone
			}
			return splitResult(r)
		}
	}

	r := s.split()
	if r == SplitterNone {
		return SplitterNone
	}
	return splitResult(r)
}
