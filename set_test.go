package lockfree

import (
	"fmt"
	"hash/maphash"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testSize(n int, t *testing.T) int {
	if testing.Short() {
		return n / 10
	}
	return n
}

func TestSetAddContainsRemove(t *testing.T) {
	s := NewSet[string]()

	require.False(t, s.Contains("a"))
	require.True(t, s.Add("a"))
	require.False(t, s.Add("a"))
	require.True(t, s.Contains("a"))
	require.Equal(t, 1, s.Size())

	require.True(t, s.Add("b"))
	require.Equal(t, 2, s.Size())

	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.False(t, s.Contains("a"))
	require.True(t, s.Contains("b"))
	require.Equal(t, 1, s.Size())
}

func TestSetEmptyStringElement(t *testing.T) {
	s := NewSet[string]()
	require.True(t, s.Add(""))
	require.True(t, s.Contains(""))
	require.True(t, s.Remove(""))
	require.False(t, s.Contains(""))
}

func TestSetRangeRoundTrip(t *testing.T) {
	const n = 1000
	s := NewSet[int]()
	for i := 0; i < n; i++ {
		require.True(t, s.Add(i))
	}

	found := make(map[int]bool)
	s.Range(func(e int) bool {
		require.False(t, found[e], "element %d yielded twice", e)
		found[e] = true
		return true
	})
	require.Len(t, found, n)
	for i := 0; i < n; i++ {
		require.True(t, found[i])
	}
}

func TestSetRangeEarlyExit(t *testing.T) {
	s := NewSet[int]()
	for i := 0; i < 100; i++ {
		s.Add(i)
	}
	seen := 0
	s.Range(func(int) bool {
		seen++
		return seen < 3
	})
	require.Equal(t, 3, seen)
}

func TestSetClear(t *testing.T) {
	s := NewSet[int](WithPresize(100))
	for i := 0; i < 100; i++ {
		s.Add(i)
	}
	s.Clear()
	require.Equal(t, 0, s.Size())
	require.False(t, s.Contains(0))
}

// TestSetCollisions forces every element into the same bucket chain.
func TestSetCollisions(t *testing.T) {
	s := NewSetWithHasher[int](func(e int, _ maphash.Seed) uint32 {
		return uint32(e&7) * invPhi
	})
	const n = 500
	for i := 0; i < n; i++ {
		require.True(t, s.Add(i))
	}
	for i := 0; i < n; i++ {
		require.True(t, s.Contains(i))
	}
	for i := 0; i < n; i += 2 {
		require.True(t, s.Remove(i))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, i%2 == 1, s.Contains(i))
	}
	require.Equal(t, n/2, s.Size())
	checkTableInvariants(t, s.table.Load())
}

// TestSetResizeMidInsert populates a minimum-size table to capacity and
// then lets eight writers push it through multiple migrations.
func TestSetResizeMidInsert(t *testing.T) {
	const workers = 8
	const perWorker = 1000

	s := NewSet[int]()
	start := s.table.Load().TabSize()
	require.Equal(t, 16, start)
	for i := 0; i < 14; i++ {
		require.True(t, s.Add(-1-i))
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		base := w * perWorker
		g.Go(func() error {
			for i := base; i < base+perWorker; i++ {
				if !s.Add(i) {
					return fmt.Errorf("Add(%d) != true", i)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, workers*perWorker+14, s.Size())
	require.Greater(t, s.table.Load().TabSize(), start)
	for i := 0; i < workers*perWorker; i++ {
		require.True(t, s.Contains(i), "Contains(%d) != true", i)
	}
	checkTableInvariants(t, s.table.Load())
}

// TestSetConcurrentInsert has eight writers insert disjoint ranges, then
// checks size and membership.
func TestSetConcurrentInsert(t *testing.T) {
	workers := 8
	perWorker := testSize(100_000, t)

	s := NewSet[int]()
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		base := w * perWorker
		g.Go(func() error {
			for i := base; i < base+perWorker; i++ {
				if !s.Add(i) {
					return fmt.Errorf("Add(%d) != true", i)
				}
			}
			for i := base; i < base+perWorker; i++ {
				if !s.Contains(i) {
					return fmt.Errorf("Contains(%d) != true", i)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, workers*perWorker, s.Size())
	count := 0
	s.Range(func(int) bool { count++; return true })
	require.Equal(t, workers*perWorker, count)
	checkTableInvariants(t, s.table.Load())
}

// TestSetConcurrentChurn has eight writers perform insert/remove pairs on
// disjoint element sets; the set must drain back to empty.
func TestSetConcurrentChurn(t *testing.T) {
	workers := 8
	pairs := testSize(100_000, t)

	s := NewSet[int]()
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		base := w * pairs
		g.Go(func() error {
			for i := base; i < base+pairs; i++ {
				if !s.Add(i) {
					return fmt.Errorf("Add(%d) != true", i)
				}
				if !s.Remove(i) {
					return fmt.Errorf("Remove(%d) != true", i)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 0, s.Size())
	for w := 0; w < workers; w++ {
		require.False(t, s.Contains(w*pairs))
	}
	checkTableInvariants(t, s.table.Load())
}

// TestSetReadersDuringChurn preloads elements that stay untouched while
// half the workers look them up and the other half churn a disjoint
// range.
func TestSetReadersDuringChurn(t *testing.T) {
	preload := testSize(100_000, t)
	const readers = 4
	const writers = 4

	s := NewSet[int](WithPresize(preload))
	for i := 0; i < preload; i++ {
		require.True(t, s.Add(i))
	}
	deadline := time.Now().Add(500 * time.Millisecond)

	var g errgroup.Group
	for r := 0; r < readers; r++ {
		g.Go(func() error {
			for time.Now().Before(deadline) {
				for i := 0; i < preload; i += 97 {
					if !s.Contains(i) {
						return fmt.Errorf("preloaded element %d missing", i)
					}
				}
			}
			return nil
		})
	}
	for w := 0; w < writers; w++ {
		base := preload + w*preload
		g.Go(func() error {
			for time.Now().Before(deadline) {
				for i := base; i < base+1000; i++ {
					if !s.Add(i) {
						return fmt.Errorf("Add(%d) != true", i)
					}
				}
				for i := base; i < base+1000; i++ {
					if !s.Remove(i) {
						return fmt.Errorf("Remove(%d) != true", i)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, preload, s.Size())
	for i := 0; i < preload; i++ {
		require.True(t, s.Contains(i))
	}
	checkTableInvariants(t, s.table.Load())
}
