package lockfree

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSplitterSimple(t *testing.T) {
	sizes := []int{0, 1, 2, 131, 1 << 20}
	starts := sizes

	for parallel := 1; parallel < 3; parallel++ {
		for _, size := range sizes {
			for _, start := range starts {
				end := start + size
				if end >= SplitterMaxInt {
					break
				}

				s := NewSplitterParallel(start, end, parallel)
				v := SplitterNone
				for i := start; i < end; i++ {
					v = s.Next(v)
					require.Equal(t, 0, splitIndex(v), "start=%d, end=%d", start, end)
					require.Equal(t, 0, splitEnd(v), "start=%d, end=%d", start, end)
					require.Equal(t, i, SplitterValue(v), "start=%d, end=%d", start, end)
				}
				require.Equal(t, SplitterNone, s.Next(v), "start=%d, end=%d", start, end)
			}
		}
	}
}

// TestSplitterSplit drives three interleaved consumers over [0, 10) with
// max parallelism 2 and checks the exact hand-out order, including the
// shared values of the final phase.
func TestSplitterSplit(t *testing.T) {
	s := NewSplitterParallel(0, 10, 2)
	v1 := SplitterNone
	v2 := SplitterNone
	v3 := SplitterNone

	next := func(v *uint64) int {
		*v = s.Next(*v)
		return SplitterValue(*v)
	}

	require.Equal(t, 0, next(&v1))
	require.Equal(t, 1, next(&v1))
	require.Equal(t, 2, next(&v1))
	require.Equal(t, 3, next(&v1))

	require.Equal(t, 7, next(&v2))
	require.Equal(t, 8, next(&v2))

	require.Equal(t, 3, next(&v3))
	require.Equal(t, 4, next(&v3))
	require.Equal(t, 5, next(&v3))

	require.Equal(t, 5, next(&v1))

	require.Equal(t, 9, next(&v2))
	require.Equal(t, 6, next(&v2))

	require.Equal(t, 6, next(&v1))
	require.Equal(t, 6, next(&v3))

	require.Equal(t, SplitterNone, s.Next(v1))
	require.Equal(t, SplitterNone, s.Next(v2))
	require.Equal(t, SplitterNone, s.Next(v3))
}

// TestSplitterConcurrent checks that parallel consumers jointly cover the
// whole range. Values may be handed to more than one consumer in the
// final phase, but none may be skipped.
func TestSplitterConcurrent(t *testing.T) {
	const size = 1 << 16
	const workers = 8

	counts := make([]atomic.Int32, size)
	s := NewSplitter(size)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for v := s.First(); v != SplitterNone; v = s.Next(v) {
				i := SplitterValue(v)
				if i < 0 || i >= size {
					return fmt.Errorf("value %d out of range", i)
				}
				counts[i].Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := range counts {
		require.GreaterOrEqual(t, counts[i].Load(), int32(1), "value %d never handed out", i)
	}
}
