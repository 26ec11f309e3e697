package clock

import (
	"testing"

	"github.com/zsiec/mirror/internal/tick"
)

// TestEstimateS3 is scenario S3 from spec.md §8.
func TestEstimateS3(t *testing.T) {
	c := New()
	c.Update(1000, 500)
	c.Update(2000, 1500)
	c.Update(3000, 2500)

	got, ok := c.Estimate(2000)
	if !ok {
		t.Fatal("Estimate not ok after 3 updates")
	}
	if got != 2500 {
		t.Errorf("Estimate(2000) = %d, want 2500", got)
	}
}

func TestEstimateUndefinedBeforeTwoPoints(t *testing.T) {
	c := New()
	if _, ok := c.Estimate(0); ok {
		t.Error("Estimate should be undefined with zero points")
	}
	c.Update(10, 10)
	if _, ok := c.Estimate(0); ok {
		t.Error("Estimate should be undefined with one point")
	}
}

// TestEstimateExactLinearFitAtFullRange is invariant 2 from spec.md §8:
// after Range updates with system_i = s*stream_i + t for real s>0, t, the
// estimated slope/offset recover s and t.
func TestEstimateExactLinearFitAtFullRange(t *testing.T) {
	const slope = 2.0
	const offset = tick.Tick(1000)

	c := New()
	for i := tick.Tick(0); i < Range; i++ {
		stream := i * 100
		system := tick.Tick(slope*float64(stream)) + offset
		c.Update(system, stream)
	}

	got, ok := c.Estimate(5000)
	if !ok {
		t.Fatal("Estimate not ok at full range")
	}
	want := tick.Tick(slope*5000) + offset
	if diff := got - want; diff < -1 || diff > 1 {
		t.Errorf("Estimate(5000) = %d, want ~%d", got, want)
	}
}

// TestEstimateRemainsStableBeyondFullRange exercises the eviction branch
// (fullInsert) well past Range updates and checks the estimate still
// tracks a perfect line.
func TestEstimateRemainsStableBeyondFullRange(t *testing.T) {
	c := New()
	for i := tick.Tick(0); i < Range*4; i++ {
		stream := i * 100
		system := stream + 7 // slope=1, offset=7
		c.Update(system, stream)
	}

	got, ok := c.Estimate(123456)
	if !ok {
		t.Fatal("Estimate not ok")
	}
	want := tick.Tick(123456 + 7)
	if diff := got - want; diff < -1 || diff > 1 {
		t.Errorf("Estimate(123456) = %d, want ~%d", got, want)
	}
}

func TestCountCapsAtRange(t *testing.T) {
	c := New()
	for i := 0; i < Range*3; i++ {
		c.Update(tick.Tick(i), tick.Tick(i))
	}
	if c.Count() != Range {
		t.Errorf("Count() = %d, want %d", c.Count(), Range)
	}
}
