package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ash2txt/htreefs/internal/engine"
	"github.com/ash2txt/htreefs/internal/later"
)

type EngineTest struct {
	suite.Suite
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTest))
}

func (t *EngineTest) TestRunSyncExecutesOnWorkerLoop() {
	lt := later.New()
	e := engine.New(4, lt, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	v, err := e.RunSync(ctx, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t.T(), err)
	assert.Equal(t.T(), 42, v)
}

func (t *EngineTest) TestRunSyncPropagatesError() {
	lt := later.New()
	e := engine.New(4, lt, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	_, err := e.RunSync(ctx, func(ctx context.Context) (any, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t.T(), err, assert.AnError)
}

func (t *EngineTest) TestRunSyncRecoversPanic() {
	lt := later.New()
	e := engine.New(4, lt, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	_, err := e.RunSync(ctx, func(ctx context.Context) (any, error) {
		panic("boom")
	})
	assert.Error(t.T(), err)
}

func (t *EngineTest) TestShutdownForcesLaterFlushAndStopsLoop() {
	lt := later.New()
	fired := false
	lt.Once(func(context.Context) { fired = true }, 1000)

	e := engine.New(4, lt, time.Hour, nil)
	ctx := context.Background()
	go e.Run(ctx)

	e.Shutdown(ctx)
	assert.True(t.T(), fired)
}

func (t *EngineTest) TestSubmitCancelOnQuitCancelsOnShutdown() {
	lt := later.New()
	e := engine.New(4, lt, time.Hour, nil)
	ctx := context.Background()
	go e.Run(ctx)

	started := make(chan struct{})
	observedDone := make(chan error, 1)
	e.SubmitCancelOnQuit(ctx, func(taskCtx context.Context) (any, error) {
		close(started)
		<-taskCtx.Done()
		observedDone <- taskCtx.Err()
		return nil, nil
	})

	<-started
	e.Shutdown(context.Background())

	select {
	case err := <-observedDone:
		assert.ErrorIs(t.T(), err, context.Canceled)
	default:
		t.T().Fatal("cancel-on-quit task's context was never cancelled")
	}
}

func (t *EngineTest) TestSubmitCancelOnQuitAfterShutdownIsCancelledImmediately() {
	lt := later.New()
	e := engine.New(4, lt, time.Hour, nil)
	ctx := context.Background()
	go e.Run(ctx)
	e.Shutdown(ctx)

	taskCtx := context.Background()
	done := make(chan struct{})
	var observed context.Context
	e.SubmitCancelOnQuit(taskCtx, func(c context.Context) (any, error) {
		observed = c
		close(done)
		return nil, nil
	})

	select {
	case <-done:
		t.T().Fatal("task submitted after shutdown should never run")
	case <-time.After(50 * time.Millisecond):
	}
	_ = observed
}

// TestRunSyncDuringShutdownRaceIsStillAwaited exercises the race the drain
// step exists to close: a RunSync call racing Shutdown's close of the stop
// channel must either be served or cleanly rejected, never left blocked
// forever on a result nobody will send.
func (t *EngineTest) TestRunSyncDuringShutdownRaceIsStillAwaited() {
	lt := later.New()
	e := engine.New(64, lt, time.Hour, nil)
	ctx := context.Background()
	go e.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, _ = e.RunSync(callCtx, func(ctx context.Context) (any, error) {
				return nil, nil
			})
		}()
	}

	e.Shutdown(context.Background())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.T().Fatal("a RunSync call racing Shutdown was left blocked forever")
	}
}

func (t *EngineTest) TestConcurrentRunSyncCallsAreSerialized() {
	lt := later.New()
	e := engine.New(16, lt, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	counter := 0
	done := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := e.RunSync(ctx, func(ctx context.Context) (any, error) {
				counter++
				return nil, nil
			})
			assert.NoError(t.T(), err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	assert.Equal(t.T(), 20, counter)
}
