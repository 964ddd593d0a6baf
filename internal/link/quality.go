package link

import "crtplink/internal/stats"

// QualityEstimator derives a normalized 0-1 link quality score from a
// sliding window of recent round trips, using the same formula as the
// original driver: each sample is 9 minus the number of hardware retries
// needed plus 1 if the packet was acknowledged, giving a max per-sample
// score of 10 (no retries, acknowledged) and a min of 0 (9 retries,
// unacknowledged).
type QualityEstimator struct {
	window     *stats.SlidingWindowMean
	observable *Observable
}

// NewQualityEstimator returns an estimator averaging the last n samples.
func NewQualityEstimator(n int) *QualityEstimator {
	return &QualityEstimator{
		window:     stats.NewSlidingWindowMean(n),
		observable: NewObservable(0.0),
	}
}

// Observe records one round trip's outcome.
func (q *QualityEstimator) Observe(ack bool, retryCount int) {
	score := 9 - retryCount
	if ack {
		score++
	}
	if score < 0 {
		score = 0
	}
	q.window.Push(float64(score))
	q.observable.Set(q.Quality())
}

// Quality returns the current normalized link quality in [0, 1].
func (q *QualityEstimator) Quality() float64 {
	return q.window.Mean() / 10.0
}

// Subscribe returns a channel delivering the current link quality
// immediately and every subsequent distinct value after that, plus a
// function to unsubscribe.
func (q *QualityEstimator) Subscribe() (<-chan float64, func()) {
	raw, unsubscribe := q.observable.Subscribe()
	out := make(chan float64, 1)
	go forwardFloat64(raw, out)
	return out, unsubscribe
}

func forwardFloat64(raw <-chan any, out chan<- float64) {
	defer close(out)
	for v := range raw {
		select {
		case out <- v.(float64):
		default:
			select {
			case <-out:
			default:
			}
			select {
			case out <- v.(float64):
			default:
			}
		}
	}
}
