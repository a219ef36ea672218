package keylock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestSameKeySerializes(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := New()
	var inside, maxInside int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			unlock := l.Lock(ApplicationKey(1, 2))
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
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Held())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlockA := l.Lock(ApplicationKey(1, 1))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock(ApplicationKey(1, 2))
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestLockAllDedupesAndOrders(t *testing.T) {
	l := New()
	unlock := l.LockAll(MilestoneKey(3, 1), BountyKey(1), MilestoneKey(3, 1))
	assert.Equal(t, 2, l.Held())
	unlock()
	assert.Equal(t, 0, l.Held())
}
