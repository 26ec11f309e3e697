package delaybuffer

import (
	"sync"
	"testing"
	"time"

	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/tick"
)

type fakeFrameSink struct {
	mu      sync.Mutex
	opened  bool
	pushed  []tick.Tick
	pushT   []time.Time
	session media.Session
	gotSess bool
	sessAt  int // frames pushed before the session arrived
	closed  bool
	rejectAfter int // reject the Nth push onward, 0 = never
}

func (f *fakeFrameSink) Open(session media.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	f.session = session
	return true
}

func (f *fakeFrameSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeFrameSink) Push(frame *media.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAfter != 0 && len(f.pushed)+1 >= f.rejectAfter {
		return false
	}
	f.pushed = append(f.pushed, frame.PTS)
	f.pushT = append(f.pushT, time.Now())
	return true
}

func (f *fakeFrameSink) PushSession(session media.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotSess = true
	f.sessAt = len(f.pushed)
	f.session = session
	return true
}

func (f *fakeFrameSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func TestFirstFrameASAPReleasesImmediately(t *testing.T) {
	db := New(tick.FromDuration(100*time.Millisecond), true, nil)
	downstream := &fakeFrameSink{}
	db.AddSink(downstream)

	if !db.Open(media.Session{Kind: media.Video}) {
		t.Fatal("Open failed")
	}
	defer db.Close()

	start := time.Now()
	if !db.Push(&media.Frame{Kind: media.Video, PTS: 0}) {
		t.Fatal("Push failed")
	}

	deadline := time.Now().Add(20 * time.Millisecond)
	for downstream.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if downstream.count() != 1 {
		t.Fatalf("first frame not released promptly, got %d pushes", downstream.count())
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first frame took %v, want near-immediate (first_frame_asap)", elapsed)
	}
}

func TestNonFirstFrameWaitsForDelay(t *testing.T) {
	delay := 60 * time.Millisecond
	db := New(tick.FromDuration(delay), false, nil)
	downstream := &fakeFrameSink{}
	db.AddSink(downstream)

	if !db.Open(media.Session{Kind: media.Video}) {
		t.Fatal("Open failed")
	}
	defer db.Close()

	now := tick.Now()
	db.Push(&media.Frame{Kind: media.Video, PTS: now})

	// Before a second point, Clock.Estimate is undefined, so release is
	// capped at now+delay — it must not appear before that.
	time.Sleep(delay / 2)
	if downstream.count() != 0 {
		t.Fatalf("frame released early: %d pushes after half the delay", downstream.count())
	}

	deadline := time.Now().Add(2 * delay)
	for downstream.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if downstream.count() != 1 {
		t.Fatal("frame never released")
	}
}

func TestSessionPreservesQueueOrder(t *testing.T) {
	db := New(tick.FromDuration(5*time.Millisecond), false, nil)
	downstream := &fakeFrameSink{}
	db.AddSink(downstream)

	if !db.Open(media.Session{Kind: media.Audio}) {
		t.Fatal("Open failed")
	}
	defer db.Close()

	now := tick.Now()
	db.Push(&media.Frame{Kind: media.Audio, PTS: now})
	db.PushSession(media.Session{Kind: media.Audio, CodecID: 7})
	db.Push(&media.Frame{Kind: media.Audio, PTS: now + 20000})

	deadline := time.Now().Add(100 * time.Millisecond)
	for downstream.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if downstream.count() != 2 {
		t.Fatalf("want 2 frames pushed, got %d", downstream.count())
	}
	downstream.mu.Lock()
	gotSess := downstream.gotSess
	sessAt := downstream.sessAt
	pushed := append([]tick.Tick(nil), downstream.pushed...)
	downstream.mu.Unlock()
	if !gotSess {
		t.Error("session descriptor never reached downstream")
	}
	if sessAt != 1 {
		t.Errorf("session arrived after %d frames, want 1 (between the two frames)", sessAt)
	}
	if pushed[0] != now || pushed[1] != now+20000 {
		t.Errorf("frames pushed in order %v, want [%d %d]", pushed, now, now+20000)
	}
}

func TestDownstreamPushFailureStopsBuffer(t *testing.T) {
	db := New(tick.FromDuration(5*time.Millisecond), false, nil)
	downstream := &fakeFrameSink{rejectAfter: 1}
	db.AddSink(downstream)

	if !db.Open(media.Session{Kind: media.Video}) {
		t.Fatal("Open failed")
	}

	now := tick.Now()
	db.Push(&media.Frame{Kind: media.Video, PTS: now})

	deadline := time.Now().Add(100 * time.Millisecond)
	for {
		db.mu.Lock()
		stopped := db.stopped
		db.mu.Unlock()
		if stopped || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !db.Push(&media.Frame{Kind: media.Video, PTS: now + 20000}) {
		// expected: stopped buffer rejects further pushes
	} else {
		t.Error("Push after downstream failure should return false")
	}

	db.Close()
}

func TestCloseDrainsQueueWithoutPanicking(t *testing.T) {
	db := New(tick.FromDuration(time.Second), false, nil)
	downstream := &fakeFrameSink{}
	db.AddSink(downstream)

	if !db.Open(media.Session{Kind: media.Video}) {
		t.Fatal("Open failed")
	}

	now := tick.Now()
	for i := 0; i < 5; i++ {
		db.Push(&media.Frame{Kind: media.Video, PTS: now + tick.Tick(i)*1000})
	}

	db.Close()

	downstream.mu.Lock()
	closed := downstream.closed
	downstream.mu.Unlock()
	if !closed {
		t.Error("downstream sink was never closed")
	}
}
