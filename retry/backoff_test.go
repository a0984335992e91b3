package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := New(100*time.Millisecond, 800*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Next())

	b.Failure()
	assert.Equal(t, 200*time.Millisecond, b.Next())

	b.Failure()
	assert.Equal(t, 400*time.Millisecond, b.Next())

	b.Failure()
	assert.Equal(t, 800*time.Millisecond, b.Next())

	b.Failure() // already at max, stays capped
	assert.Equal(t, 800*time.Millisecond, b.Next())
}

func TestBackoffResetsToMin(t *testing.T) {
	b := New(50*time.Millisecond, time.Second)
	b.Failure()
	b.Failure()
	assert.NotEqual(t, 50*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 50*time.Millisecond, b.Next())
}

func TestBackoffMaxBelowMinIsRaised(t *testing.T) {
	b := New(time.Second, 100*time.Millisecond)
	assert.Equal(t, time.Second, b.Next())
	b.Failure()
	assert.Equal(t, time.Second, b.Next())
}
