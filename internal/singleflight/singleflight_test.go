package singleflight_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ash2txt/htreefs/internal/singleflight"
)

func TestDo_CoalescesConcurrentCallsForSameKey(t *testing.T) {
	g := singleflight.New()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		v, shared, err := g.Do(context.Background(), "k", func(ctx context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return "result", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "result", v)
		assert.False(t, shared)
	}()

	<-started

	var wg sync.WaitGroup
	results := make([]any, 4)
	shareds := make([]bool, 4)
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, shared, err := g.Do(context.Background(), "k", func(ctx context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				return "result", nil
			})
			require.NoError(t, err)
			results[i] = v
			shareds[i] = shared
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for i := 0; i < 4; i++ {
		assert.Equal(t, "result", results[i])
		assert.True(t, shareds[i])
	}
}

func TestDo_DifferentKeysRunIndependently(t *testing.T) {
	g := singleflight.New()

	v1, _, err := g.Do(context.Background(), "a", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	v2, _, err := g.Do(context.Background(), "b", func(ctx context.Context) (any, error) {
		return 2, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestForget_NextCallStartsFresh(t *testing.T) {
	g := singleflight.New()
	var calls int32

	_, _, err := g.Do(context.Background(), "k", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	require.NoError(t, err)

	g.Forget("k")

	_, shared, err := g.Do(context.Background(), "k", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	require.NoError(t, err)

	assert.False(t, shared)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDo_PropagatesError(t *testing.T) {
	g := singleflight.New()

	_, _, err := g.Do(context.Background(), "k", func(ctx context.Context) (any, error) {
		return nil, assert.AnError
	})

	assert.ErrorIs(t, err, assert.AnError)
}
