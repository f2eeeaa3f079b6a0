package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrornet/pagepool/internal/pool"
)

func TestLoadReturnsDefaultSnapshot(t *testing.T) {
	t.Parallel()

	s := New()
	snap, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Pages)
	require.Equal(t, pool.DefaultMinWords, snap.Settings.MinWords)
}

func TestLoadReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	first, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	first.Pages["mutated"] = pool.Page{Slug: "mutated"}

	second, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotContains(t, second.Pages, "mutated")
}

func TestSaveMergesViewsMonotonically(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.IncrementView(ctx, "pool-1001")
		require.NoError(t, err)
	}

	// A save carrying a stale, lower count must not lose views.
	stale := pool.DefaultSnapshot()
	stale.ViewStats["pool-1001"] = 2
	require.NoError(t, s.SaveSnapshot(ctx, stale))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.ViewStats["pool-1001"])
}

func TestUpdateSnapshotIsAtomic(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateSnapshot(ctx, func(snap *pool.Snapshot) {
				snap.Settings.AutoPageCount++
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, pool.DefaultAutoPageCount+20, snap.Settings.AutoPageCount)
}

func TestIncrementView(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	n, err := s.IncrementView(ctx, "home")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.IncrementView(ctx, "home")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
