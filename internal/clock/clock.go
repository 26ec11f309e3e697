// Package clock implements the split-centroid affine clock estimator from
// spec.md §3/§4.2: it tracks the relation system = slope*stream + offset
// from a rolling window of (system, stream) observations, at O(1) cost per
// update.
package clock

import (
	"math"

	"github.com/zsiec/mirror/internal/tick"
)

// Range is the number of points kept in the rolling window. Must be even:
// the window splits evenly into a left and right half whose centroids
// define the slope.
const Range = 32

type point struct {
	system tick.Tick
	stream tick.Tick
}

type sums struct {
	system tick.Tick
	stream tick.Tick
}

func (s *sums) add(p point)      { s.system += p.system; s.stream += p.stream }
func (s *sums) subtract(p point) { s.system -= p.system; s.stream -= p.stream }

// Clock estimates the affine system/stream relation from the last Range
// (system, stream) points. It is not safe for concurrent use; callers
// (the DelayBuffer) serialize access under their own mutex.
type Clock struct {
	points [Range]point
	head   int // next write index; also the write count modulo Range
	count  int

	leftSum, rightSum   sums
	leftCount, rightCount int

	slope  float64
	offset float64
}

// New returns a zero-valued Clock, ready to Update.
func New() *Clock {
	return &Clock{}
}

// Update inserts a new (system, stream) observation and recomputes the
// slope and offset.
func (c *Clock) Update(system, stream tick.Tick) {
	p := point{system: system, stream: stream}

	if c.count < Range {
		c.growInsert(p)
	} else {
		c.fullInsert(p)
	}

	c.recompute()
}

// growInsert appends p while the window has not yet reached Range points.
func (c *Clock) growInsert(p point) {
	c.points[c.head] = p
	c.head = (c.head + 1) % Range
	c.count++

	c.rightSum.add(p)
	c.rightCount++

	desiredLeft := c.count / 2
	if c.leftCount < desiredLeft {
		moved := c.points[c.leftCount]
		c.leftSum.add(moved)
		c.rightSum.subtract(moved)
		c.leftCount++
		c.rightCount--
	}
}

// fullInsert evicts the globally oldest point (always the head of the
// left half), promotes the oldest point of the right half into the left
// half, and appends p to the right half — all in O(1).
func (c *Clock) fullInsert(p point) {
	evicted := c.points[c.head]
	c.leftSum.subtract(evicted)

	movedIdx := (c.head + Range/2) % Range
	moved := c.points[movedIdx]
	c.leftSum.add(moved)
	c.rightSum.subtract(moved)

	c.points[c.head] = p
	c.rightSum.add(p)

	c.head = (c.head + 1) % Range
}

// recompute derives slope and offset from the current centroids. It is a
// no-op (leaves slope/offset at their previous, still-undefined, values)
// until at least two points have been observed.
func (c *Clock) recompute() {
	if c.count < 2 {
		return
	}

	leftCentroidSystem := float64(c.leftSum.system) / float64(c.leftCount)
	leftCentroidStream := float64(c.leftSum.stream) / float64(c.leftCount)
	rightCentroidSystem := float64(c.rightSum.system) / float64(c.rightCount)
	rightCentroidStream := float64(c.rightSum.stream) / float64(c.rightCount)

	streamSpread := rightCentroidStream - leftCentroidStream
	if streamSpread == 0 {
		// Degenerate: all points share the same stream value. Keep the
		// previous estimate rather than dividing by zero.
		return
	}

	c.slope = (rightCentroidSystem - leftCentroidSystem) / streamSpread

	totalSystem := float64(c.leftSum.system + c.rightSum.system)
	totalStream := float64(c.leftSum.stream + c.rightSum.stream)
	c.offset = (totalSystem - c.slope*totalStream) / float64(c.count)
}

// Estimate returns the system time predicted for stream, and true, once
// at least two points have been observed. Before that, ok is false and
// the caller must not use the returned tick (spec.md §4.2).
func (c *Clock) Estimate(stream tick.Tick) (tick.Tick, bool) {
	if c.count < 2 {
		return 0, false
	}
	estimate := c.slope*float64(stream) + c.offset
	return tick.Tick(math.Round(estimate)), true
}

// Count reports how many points have been observed so far, capped at
// Range.
func (c *Clock) Count() int {
	return c.count
}
