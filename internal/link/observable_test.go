package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservableSubscribeReceivesCurrentValue(t *testing.T) {
	o := NewObservable(1)
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()
	assert.Equal(t, 1, (<-ch).(int))
}

func TestObservableSetSkipsUnchangedValue(t *testing.T) {
	o := NewObservable(1)
	ch, unsubscribe := o.Subscribe()
	defer unsubscribe()
	assert.Equal(t, 1, (<-ch).(int))

	o.Set(1)
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery of unchanged value: %v", v)
	default:
	}

	o.Set(2)
	assert.Equal(t, 2, (<-ch).(int))
}

func TestQualityEstimatorSubscribeReportsImprovingQuality(t *testing.T) {
	q := NewQualityEstimator(10)
	ch, unsubscribe := q.Subscribe()
	defer unsubscribe()

	assert.Equal(t, 0.0, <-ch)

	q.Observe(true, 0)
	assert.Greater(t, <-ch, 0.0)
}
