package simulator

import (
	"sync"
	"testing"
	"time"

	"octopus/internal/ptl"
)

type fakeWriter struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakeWriter) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestSimulatorWritesFramesEachTick(t *testing.T) {
	w := &fakeWriter{}
	sim := NewSimulator(w, 5*time.Millisecond, ptl.DefaultSOF)

	go sim.Start()
	time.Sleep(30 * time.Millisecond)
	sim.Stop()

	if w.count() == 0 {
		t.Fatal("expected at least one frame written")
	}
	if !w.closed {
		t.Error("expected Stop to close the writer")
	}
}

func TestBuildFramesProducesValidPTL(t *testing.T) {
	w := &fakeWriter{}
	sim := NewSimulator(w, time.Second, ptl.DefaultSOF)
	sim.updateData()
	frames := sim.buildFrames()

	if len(frames) != 4 {
		t.Fatalf("expected 4 frames (meter x2, indicator, drivetrain), got %d", len(frames))
	}
	for _, raw := range frames {
		decoded, remainder := ptl.Parse(ptl.DefaultSOF, raw)
		if len(decoded) != 1 || len(remainder) != 0 {
			t.Errorf("frame did not parse cleanly: %v", raw)
		}
	}
}
