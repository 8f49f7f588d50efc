package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	base := time.Unix(1700000000, 0)
	l := NewLimiter(3, time.Minute)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(42), "attempt %d should pass", i+1)
	}
	assert.False(t, l.Allow(42))
}

func TestLimiterIsPerUser(t *testing.T) {
	base := time.Unix(1700000000, 0)
	l := NewLimiter(1, time.Minute)
	l.now = func() time.Time { return base }

	assert.True(t, l.Allow(1))
	assert.False(t, l.Allow(1))
	assert.True(t, l.Allow(2), "another user has their own window")
}

func TestLimiterWindowSlides(t *testing.T) {
	base := time.Unix(1700000000, 0)
	current := base
	l := NewLimiter(2, time.Minute)
	l.now = func() time.Time { return current }

	assert.True(t, l.Allow(42))
	current = base.Add(30 * time.Second)
	assert.True(t, l.Allow(42))
	assert.False(t, l.Allow(42))

	// The first attempt has aged out, one slot opens
	current = base.Add(61 * time.Second)
	assert.True(t, l.Allow(42))
	assert.False(t, l.Allow(42), "the 30s attempt still counts")
}
