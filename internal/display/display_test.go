package display

import (
	"testing"
	"time"

	"github.com/zsiec/mirror/internal/media"
	"github.com/zsiec/mirror/internal/tick"
)

func TestPushReplacesUndrawnPendingFrame(t *testing.T) {
	s := New(nil)
	s.Open(media.Session{Kind: media.Video, Width: 1920, Height: 1080})

	s.Push(&media.Frame{Kind: media.Video, PTS: tick.Tick(1)})
	s.Push(&media.Frame{Kind: media.Video, PTS: tick.Tick(2)})

	frame, session, ok := s.Wait()
	if !ok {
		t.Fatal("Wait() ok = false, want true")
	}
	if frame.PTS != tick.Tick(2) {
		t.Fatalf("Wait() delivered PTS %d, want the latest frame (2), the older one should have been dropped", frame.PTS)
	}
	if session.Width != 1920 || session.Height != 1080 {
		t.Fatalf("Wait() session = %+v, want the session from Open", session)
	}
}

func TestWaitBlocksUntilAFrameArrives(t *testing.T) {
	s := New(nil)
	s.Open(media.Session{})

	done := make(chan *media.Frame, 1)
	go func() {
		frame, _, _ := s.Wait()
		done <- frame
	}()

	select {
	case <-done:
		t.Fatal("Wait() returned before any frame was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	s.Push(&media.Frame{PTS: tick.Tick(7)})

	select {
	case frame := <-done:
		if frame.PTS != tick.Tick(7) {
			t.Fatalf("Wait() delivered PTS %d, want 7", frame.PTS)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Push")
	}
}

func TestWaitReturnsFalseAfterCloseWithNoPendingFrame(t *testing.T) {
	s := New(nil)
	s.Open(media.Session{})

	done := make(chan bool, 1)
	go func() {
		_, _, ok := s.Wait()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Wait() ok = true after Close with no pending frame, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Close")
	}
}

func TestCloseDoesNotDiscardAnAlreadyPendingFrame(t *testing.T) {
	s := New(nil)
	s.Open(media.Session{})

	s.Push(&media.Frame{PTS: tick.Tick(3)})
	s.Close()

	frame, _, ok := s.Wait()
	if !ok {
		t.Fatal("Wait() ok = false, want the pending frame to be delivered before close takes effect")
	}
	if frame.PTS != tick.Tick(3) {
		t.Fatalf("Wait() delivered PTS %d, want 3", frame.PTS)
	}
}
