package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardLimiterAcquireRelease(t *testing.T) {
	l := NewForwardLimiter()

	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestForwardLimiterBoundsConcurrency(t *testing.T) {
	l := NewForwardLimiter()

	for i := 0; i < MaxForwards; i++ {
		assert.True(t, l.TryAcquire())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		l.TryAcquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("expected acquire to block once all permits are held")
	default:
	}

	l.Release()
	wg.Wait()
}

func TestForwardLimiterClosedDropsAcquire(t *testing.T) {
	l := NewForwardLimiter()
	l.Close()

	assert.False(t, l.TryAcquire())
}
