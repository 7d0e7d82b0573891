package keyedmutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutualExclusionPerKey(t *testing.T) {
	m := New()

	var active int32
	var maxActive int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("conn-1")
			defer m.Unlock("conn-1")

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive, "at most one holder per key at any time")
}

func TestUnusedKeysReclaimed(t *testing.T) {
	m := New()

	m.Lock("a")
	m.Unlock("a")

	require.Equal(t, 0, m.Len(), "key with no outstanding waiters must be reclaimed")
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	m := New()

	m.Lock("a")
	done := make(chan struct{})
	go func() {
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b should not block on key a")
	}
	m.Unlock("a")
}

func TestUnlockWithoutLockIsNoOp(t *testing.T) {
	m := New()

	require.NotPanics(t, func() {
		m.Unlock("never-locked")
	})
}
