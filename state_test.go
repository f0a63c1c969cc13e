package lockfree

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhiInverse(t *testing.T) {
	p, ip := phi, invPhi
	require.Equal(t, uint32(1), p*ip)
}

func TestStateFieldIndependence(t *testing.T) {
	tab, err := NewTable[struct{}](64, nil)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		head := int(rand.Uint32() & tab.slotmask)
		next := int(rand.Uint32() & tab.slotmask)
		hash := rand.Uint32()

		s := tab.state(true, head, hash, next)
		require.True(t, isUsed(s))
		require.False(t, isResizing(s))
		require.Equal(t, head, getHead(s))
		require.Equal(t, next, tab.getNext(s))
		require.Equal(t, hash&tab.hashmask, tab.getHash(s))

		// the head field and the entry body are independent regions
		head2 := int(rand.Uint32() & tab.slotmask)
		s2 := setHead(s, head2)
		require.Equal(t, head2, getHead(s2))
		require.Equal(t, tab.getNext(s), tab.getNext(s2))
		require.Equal(t, tab.getHash(s), tab.getHash(s2))
		require.Equal(t, isUsed(s), isUsed(s2))

		s3 := setFree(s)
		require.Equal(t, getHead(s), getHead(s3))
		require.False(t, isUsed(s3))
		require.True(t, isFree(s3))

		s4 := setRemoved(s)
		require.Equal(t, getHead(s), getHead(s4))
		require.False(t, isUsed(s4))
		require.True(t, isRemoved(s4))
		require.False(t, isFree(s4))
		require.Equal(t, tab.getNext(s), tab.getNext(s4))

		s5 := tab.setUsed(s3, hash, next)
		require.Equal(t, getHead(s), getHead(s5))
		require.True(t, isUsed(s5))

		s6 := setResizing(s)
		require.True(t, isResizing(s6))
		require.Equal(t, getHead(s), getHead(s6))
		require.Equal(t, tab.getNext(s), tab.getNext(s6))
		require.True(t, isUsed(s6))
	}
}

func TestStateHashRestore(t *testing.T) {
	for _, tabSize := range []int{16, 64, 1 << 12, 1 << 20} {
		tab, err := NewTable[struct{}](tabSize, nil)
		require.NoError(t, err)

		for i := 0; i < 1000; i++ {
			mixed := rand.Uint32()
			slot := tab.slot(mixed)
			s := tab.state(true, 0, mixed, 0)
			require.Equal(t, mixed, tab.getHashAt(s, slot), "tabSize=%d", tabSize)
		}
	}
}

func TestStateReservedSlotsNotFree(t *testing.T) {
	tab, err := NewTable[struct{}](16, nil)
	require.NoError(t, err)

	require.False(t, isFree(tab.getState(0)))
	require.False(t, isFree(tab.getState(1)))
	require.True(t, isRemoved(tab.getState(0)))
	for i := reserved; i < tab.TabSize(); i++ {
		require.True(t, isFree(tab.getState(i)))
	}
}
