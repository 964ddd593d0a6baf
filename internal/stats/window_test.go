package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowMeanUnfilled(t *testing.T) {
	w := NewSlidingWindowMean(4)
	w.Push(1)
	w.Push(3)
	assert.Equal(t, 2.0, w.Mean())
}

func TestSlidingWindowMeanEviction(t *testing.T) {
	w := NewSlidingWindowMean(2)
	w.Push(10)
	w.Push(20)
	assert.Equal(t, 15.0, w.Mean())

	w.Push(30)
	assert.Equal(t, 25.0, w.Mean())
}

func TestSlidingWindowMeanEmpty(t *testing.T) {
	w := NewSlidingWindowMean(5)
	assert.Equal(t, 0.0, w.Mean())
}
