package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewCallRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "attempt %d should pass", i)
	}
	assert.False(t, rl.Allow("alice"))

	// Other callers have their own window.
	assert.True(t, rl.Allow("bob"))
}

func TestCallRateLimiterWindowSlides(t *testing.T) {
	rl := NewCallRateLimiter(2, 30*time.Millisecond)

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestCallRateLimiterDisabled(t *testing.T) {
	rl := NewCallRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("alice"))
	}
}
