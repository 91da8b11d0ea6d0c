package workspace

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

func TestLocksSerializeSameID(t *testing.T) {
	l := NewLocks()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "w1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.size())
}

func TestLocksIndependentIDs(t *testing.T) {
	l := NewLocks()
	u1, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	defer u1()

	u2, ok := l.TryLock("w2")
	require.True(t, ok)
	u2()
}

func TestTryLockBusy(t *testing.T) {
	l := NewLocks()
	unlock, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)

	_, ok := l.TryLock("w1")
	assert.False(t, ok)

	unlock()
	unlock() // second call is a no-op

	u, ok := l.TryLock("w1")
	require.True(t, ok)
	u()
	assert.Equal(t, 0, l.size())
}

func TestLockHonoursContext(t *testing.T) {
	l := NewLocks()
	unlock, err := l.Lock(context.Background(), "w1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "w1")
	assert.True(t, errdefs.IsTimeout(err))
}
