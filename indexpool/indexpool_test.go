package indexpool

import (
	"sync"

	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonsugar-systems/moonsugar/internal/testsupport"
)

func TestNewRejectsNonMultipleOf64(t *testing.T) {
	_, err := New(100)
	require.Error(t, err)
}

func TestAcquireReturnsSequentialIndicesFromEmptyPool(t *testing.T) {
	p, err := New(64)
	require.NoError(t, err)

	seen := make(map[uintptr]bool)
	for i := 0; i < 64; i++ {
		idx := p.Acquire()
		require.NotEqual(t, Sentinel, idx)
		require.Equal(t, uintptr(i), idx)
		require.False(t, seen[idx])
		seen[idx] = true
	}

	require.Equal(t, Sentinel, p.Acquire())
}

func TestReleaseFreesIndexForReuse(t *testing.T) {
	p, err := New(64)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		require.NotEqual(t, Sentinel, p.Acquire())
	}

	require.NoError(t, p.Release(5))

	idx := p.Acquire()
	require.Equal(t, uintptr(5), idx)
}

func TestReleaseOfFreeIndexReportsError(t *testing.T) {
	p, err := New(64)
	require.NoError(t, err)

	err = p.Release(3)
	require.Error(t, err)
}

func TestReleaseOutOfRangeIndexReportsError(t *testing.T) {
	p, err := New(64)
	require.NoError(t, err)

	err = p.Release(64)
	require.Error(t, err)
}

func TestResizeGrowZeroesTail(t *testing.T) {
	p, err := New(64)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		p.Acquire()
	}

	require.NoError(t, p.Resize(128))
	require.Equal(t, uintptr(128), p.ItemCount())

	idx := p.Acquire()
	require.GreaterOrEqual(t, idx, uintptr(64))
}

func TestConcurrentAcquireNeverDoubleAssigns(t *testing.T) {
	const itemCount = 1024

	p, err := New(itemCount)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		results []uintptr
	)

	testsupport.Concurrently(16, func(worker int) {
		local := make([]uintptr, 0, itemCount/16)
		for {
			idx := p.Acquire()
			if idx == Sentinel {
				break
			}

			local = append(local, idx)
		}

		mu.Lock()
		results = append(results, local...)
		mu.Unlock()
	})

	require.Len(t, results, itemCount)

	seen := make(map[uintptr]bool, itemCount)
	for _, idx := range results {
		require.False(t, seen[idx], "index %d acquired twice", idx)
		seen[idx] = true
	}
}
