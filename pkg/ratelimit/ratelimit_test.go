package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
)

func TestAcquireBoundsConcurrency(t *testing.T) {
	l := NewLimiter("mock", Settings{MaxConcurrent: 2})

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			require.NoError(t, err)
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestAcquireRespectsContext(t *testing.T) {
	l := NewLimiter("mock", Settings{MaxConcurrent: 1})

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindCancelled, errdefs.KindOf(err))
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := NewLimiter("mock", Settings{MaxConcurrent: 1})

	release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release() // second call must not free a second slot

	release2, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release2()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx)
	assert.Error(t, err)
}

func TestMinIntervalSpacing(t *testing.T) {
	l := NewLimiter("mock", Settings{MaxConcurrent: 5, MinInterval: 30 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := l.Acquire(context.Background())
		require.NoError(t, err)
		release()
	}
	elapsed := time.Since(start)

	// Three starts with 30ms spacing take at least 60ms.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	l := NewLimiter("mock", Settings{
		MaxConcurrent:    1,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	})

	transient := errdefs.New(errdefs.KindProviderTransient, "503")
	for i := 0; i < 3; i++ {
		err := l.Do(func() error { return transient })
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, l.State())

	called := false
	err := l.Do(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, errdefs.KindProviderUnavailable, errdefs.KindOf(err))
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	l := NewLimiter("mock", Settings{
		MaxConcurrent:    1,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	})

	permanent := errdefs.New(errdefs.KindProviderPermanent, "401")
	for i := 0; i < 10; i++ {
		err := l.Do(func() error { return permanent })
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, l.State())
}

func TestDoPassesThroughErrors(t *testing.T) {
	l := NewLimiter("mock", Settings{MaxConcurrent: 1})

	sentinel := errors.New("boom")
	err := l.Do(func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	assert.NoError(t, l.Do(func() error { return nil }))
}

func TestManagerLookup(t *testing.T) {
	m := NewManager(map[string]Settings{
		"mock": {MaxConcurrent: 2},
	})

	assert.NotNil(t, m.Limiter("mock"))
	assert.Nil(t, m.Limiter("unknown"))
}
