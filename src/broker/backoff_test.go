package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffProgression(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second},
		{5, 60 * time.Second},
		{6, 60 * time.Second},
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Backoff(tt.attempt), "attempt=%d", tt.attempt)
	}
}

func TestBackoffMonotonicNonDecreasing(t *testing.T) {
	prev := Backoff(0)
	for attempt := 1; attempt <= 10; attempt++ {
		cur := Backoff(attempt)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 0; attempt <= 50; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}
}

func TestBackoffNegativeAttemptClampsToZero(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(-1))
}
