package contracts

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunner(t *testing.T) {
	runner := DefaultRunner(context.Background())
	require.NotNil(t, runner)

	_, ok := runner.(*errGroupRunner)
	assert.True(t, ok, "DefaultRunner should return *errGroupRunner, got %T", runner)
}

func TestErrGroupRunner_RunsAllTasks(t *testing.T) {
	runner := DefaultRunner(context.Background())

	var counter int32
	for range 100 {
		runner.Go(func() error {
			atomic.AddInt32(&counter, 1)
			time.Sleep(time.Millisecond)
			return nil
		})
	}

	require.NoError(t, runner.Wait())
	assert.Equal(t, int32(100), atomic.LoadInt32(&counter))
}

func TestErrGroupRunner_FirstErrorWins(t *testing.T) {
	runner := DefaultRunner(context.Background())
	expectedErr := errors.New("test error")

	runner.Go(func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	runner.Go(func() error { return expectedErr })

	assert.ErrorIs(t, runner.Wait(), expectedErr)
}

func TestErrGroupRunner_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := DefaultRunner(ctx)

	runner.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	cancel()

	assert.ErrorIs(t, runner.Wait(), context.Canceled)
}

func TestErrGroupRunner_EmptyRunner(t *testing.T) {
	assert.NoError(t, DefaultRunner(context.Background()).Wait())
}

func TestLimitedRunner_BoundsConcurrency(t *testing.T) {
	runner := NewLimitedRunner(context.Background(), 2)

	var running, peak int32
	for range 10 {
		runner.Go(func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	require.NoError(t, runner.Wait())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLimitedRunner_NonPositiveMeansSerial(t *testing.T) {
	runner := NewLimitedRunner(context.Background(), 0)
	r, ok := runner.(*errGroupRunner)
	require.True(t, ok)
	assert.Equal(t, 1, cap(r.sem))
}

func TestLimitedRunner_WaitingTaskObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewLimitedRunner(ctx, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	runner.Go(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	var ran atomic.Bool
	runner.Go(func() error {
		ran.Store(true)
		return nil
	})
	cancel()
	close(release)

	err := runner.Wait()
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ran.Load())
	}
}

func BenchmarkErrGroupRunner(b *testing.B) {
	ctx := context.Background()
	b.Run("Sequential", func(b *testing.B) {
		for range b.N {
			runner := DefaultRunner(ctx)
			runner.Go(func() error { return nil })
			_ = runner.Wait()
		}
	})
	b.Run("Concurrent", func(b *testing.B) {
		runner := DefaultRunner(ctx)
		b.ResetTimer()
		for range b.N {
			runner.Go(func() error { return nil })
		}
		_ = runner.Wait()
	})
}
