// Package average implements a simple rolling average with a fixed target
// window, used by the audio regulator to smooth the buffered-sample level
// (spec.md §4.4). Lifted from scrcpy's util/average.c.
package average

// Average maintains avg = ((count-1)*avg + value) / count, where count
// saturates at the window size. Until the window fills this is the plain
// mean of every pushed value; after that each new value is weighted
// 1/window against the previous average, so older values decay
// exponentially rather than leaving the window.
type Average struct {
	value float64
	rang  int
	count int
}

// New returns an Average with the given window size.
func New(rang int) *Average {
	return &Average{rang: rang}
}

// Push folds value into the rolling average.
func (a *Average) Push(value float64) {
	if a.count < a.rang {
		a.count++
	}
	a.value = (float64(a.count-1)*a.value + value) / float64(a.count)
}

// Get returns the current average. It is only meaningful after at least
// one Push.
func (a *Average) Get() float64 {
	return a.value
}

// Add folds a delta directly into the raw average value, bypassing the
// smoothing window — used by the audio regulator to apply instantaneous
// corrections (silence insertion, sample drops) that must not be smoothed.
func (a *Average) Add(delta float64) {
	a.value += delta
	if a.value < 0 {
		a.value = 0
	}
}
