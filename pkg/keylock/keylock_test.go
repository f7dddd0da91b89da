package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	k := New()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("r1")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, k.Len())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	k := New()
	unlock := k.Lock("r1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		k.Lock("r2")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on r2 blocked behind r1")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	k := New()
	unlock := k.Lock("r1")
	assert.Equal(t, 1, k.Len())
	unlock()
	unlock()
	assert.Equal(t, 0, k.Len())

	// the key is usable again
	k.Lock("r1")()
}
