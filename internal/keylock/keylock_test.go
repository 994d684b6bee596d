package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLock_SerializesSameKey(t *testing.T) {
	m := New()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.With("0xowner", func() error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, m.Len(), "entries are released after the last unlock")
}

func TestLock_DifferentKeysIndependent(t *testing.T) {
	m := New()

	unlockA := m.Lock("0xa")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("0xb")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestWith_ReturnsError(t *testing.T) {
	m := New()
	err := m.With("k", func() error { return assert.AnError })
	assert.Equal(t, assert.AnError, err)
	assert.Equal(t, 0, m.Len())
}
