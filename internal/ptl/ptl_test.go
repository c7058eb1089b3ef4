package ptl

import (
	"bytes"
	"sync"
	"testing"
)

type fakeTx struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeTx) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

func (f *fakeTx) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func TestBuildParseRoundTrip(t *testing.T) {
	data := []byte{0x00, 0x64, 0x00, 0x0A}
	ft := Make(DirM2A, ModMeter)
	frame, err := Build(DefaultSOF, ft, 0x01, data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	frames, rest := Parse(DefaultSOF, frame)
	if len(rest) != 0 {
		t.Errorf("expected no remainder, got %d bytes", len(rest))
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	got := frames[0]
	if got.Type != ft || got.Cmd != 0x01 || !bytes.Equal(got.Data, data) {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestChecksumFlipInvalidatesFrame(t *testing.T) {
	frame, err := Build(DefaultSOF, Make(DirM2A, ModMeter), 0x01, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i := range frame {
		corrupt := append([]byte(nil), frame...)
		corrupt[i] ^= 0x01
		frames, _ := Parse(DefaultSOF, corrupt)
		if len(frames) != 0 {
			t.Errorf("expected no valid frame after flipping byte %d", i)
		}
	}
}

func TestParseResynchronizesAcrossJunk(t *testing.T) {
	frame, _ := Build(DefaultSOF, Make(DirM2A, ModMeter), 0x01, []byte{1, 2, 3, 4})
	junk := bytes.Repeat([]byte{0x00}, 10)
	stream := append(append([]byte(nil), junk...), frame...)

	frames, rest := Parse(DefaultSOF, stream)
	if len(frames) != 1 {
		t.Fatalf("expected to recover 1 frame past junk, got %d (rest=%v)", len(frames), rest)
	}
}

func TestParseRejectsLengthOutOfRange(t *testing.T) {
	tooShort := []byte{DefaultSOF, 0x02, 0x00, 0x00, 0x00}
	frames, _ := Parse(DefaultSOF, tooShort)
	if len(frames) != 0 {
		t.Errorf("expected LEN<4 to be rejected, got %d frames", len(frames))
	}
}

func TestRegisterLaterWins(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	ft := Make(DirM2A, ModMeter)

	p.Register(ft, func(uint8) ([]byte, bool) { return []byte{1}, true }, nil)
	p.Register(ft, func(uint8) ([]byte, bool) { return []byte{2}, true }, nil)
	p.RequestRunning(ft)

	p.PollOnce()
	last := tx.last()
	if len(last) == 0 {
		t.Fatal("expected a poll frame to be written")
	}
	frames, _ := Parse(DefaultSOF, last)
	if len(frames) != 1 || len(frames[0].Data) != 1 || frames[0].Data[0] != 2 {
		t.Errorf("expected second registration's data, got %+v", frames)
	}
}

func TestReleaseRunningStopsPolling(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	ft := Make(DirM2A, ModMeter)

	calls := 0
	p.Register(ft, func(uint8) ([]byte, bool) { calls++; return []byte{1}, true }, nil)
	p.RequestRunning(ft)
	p.PollOnce()
	p.ReleaseRunning(ft)
	p.PollOnce()

	if calls != 1 {
		t.Errorf("expected send handler invoked once before release, got %d", calls)
	}
}

func TestSendNowTransmitsWithRequestedCommand(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	ft := Make(DirM2A, ModMeter)

	p.Register(ft, func(cmd uint8) ([]byte, bool) { return []byte{cmd}, true }, nil)

	if !p.SendNow(ft, 0x07) {
		t.Fatal("expected SendNow to transmit")
	}
	frames, _ := Parse(DefaultSOF, tx.last())
	if len(frames) != 1 || frames[0].Cmd != 0x07 || frames[0].Data[0] != 0x07 {
		t.Errorf("expected the handler's frame for cmd 0x07, got %+v", frames)
	}
}

func TestSendNowDeclinedOrUnregistered(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	ft := Make(DirM2A, ModMeter)

	if p.SendNow(ft, 0x01) {
		t.Error("expected SendNow to fail for an unregistered type")
	}

	p.Register(ft, func(uint8) ([]byte, bool) { return nil, false }, nil)
	if p.SendNow(ft, 0x01) {
		t.Error("expected SendNow to fail when the handler declines")
	}
	if len(tx.writes) != 0 {
		t.Errorf("expected no frames written, got %d", len(tx.writes))
	}
}

func TestFeedDispatchesToRecvHandler(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	ft := Make(DirM2A, ModIndicator)

	var gotPayload []byte
	p.Register(ft, nil, func(payload []byte, ackOut *[]byte) bool {
		gotPayload = append([]byte(nil), payload...)
		return true
	})

	frame, _ := Build(DefaultSOF, ft, 0x05, []byte{0xAA, 0xBB})
	p.Feed(frame)

	if !bytes.Equal(gotPayload, []byte{0xAA, 0xBB}) {
		t.Errorf("expected payload to reach recv handler, got %v", gotPayload)
	}
}

func TestFeedUnknownTypeDropped(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	frame, _ := Build(DefaultSOF, Make(DirM2A, ModSystem), 0x00, nil)
	p.Feed(frame)

	_, unknown := p.Counters()
	if unknown != 1 {
		t.Errorf("expected 1 unknown-handler count, got %d", unknown)
	}
}

func TestFeedCountsInvalidFrames(t *testing.T) {
	tx := &fakeTx{}
	p := New(tx, nil)
	ft := Make(DirM2A, ModMeter)
	p.Register(ft, nil, func(payload []byte, ackOut *[]byte) bool { return true })

	frame, _ := Build(DefaultSOF, ft, 0x01, []byte{1, 2, 3, 4})
	junk := bytes.Repeat([]byte{0xFF, 0x00, 0x01, 0x02}, 1)
	p.Feed(append(append([]byte(nil), junk...), frame...))

	invalid, _ := p.Counters()
	if invalid != uint64(len(junk)) {
		t.Errorf("expected %d invalid-frame bytes counted, got %d", len(junk), invalid)
	}
}

func TestFeedAcrossMultipleChunks(t *testing.T) {
	ft := Make(DirM2A, ModMeter)
	frame, _ := Build(DefaultSOF, ft, 0x01, []byte{1, 2, 3, 4})

	// every split point must reassemble, including splits landing inside
	// the data bytes after the header is already visible
	for split := 1; split < len(frame); split++ {
		tx := &fakeTx{}
		p := New(tx, nil)

		received := 0
		p.Register(ft, nil, func(payload []byte, ackOut *[]byte) bool {
			received++
			return true
		})

		p.Feed(frame[:split])
		p.Feed(frame[split:])

		if received != 1 {
			t.Errorf("split at %d: expected 1 dispatch, got %d", split, received)
		}
		if invalid, _ := p.Counters(); invalid != 0 {
			t.Errorf("split at %d: expected no invalid-frame count, got %d", split, invalid)
		}
	}
}

func TestParseFindsFrameAfterTwentyJunkBytes(t *testing.T) {
	frame, _ := Build(DefaultSOF, Make(DirM2A, ModMeter), 0x01, []byte{1, 2, 3, 4})
	stream := append(bytes.Repeat([]byte{0x00}, 20), frame...)

	frames, rest := Parse(DefaultSOF, stream)
	if len(frames) != 1 {
		t.Fatalf("expected the frame after exactly 20 junk bytes to be found, got %d frames", len(frames))
	}
	if len(rest) != 0 {
		t.Errorf("expected no remainder, got %d bytes", len(rest))
	}
}

func TestParseTrimsLongJunkRunWithoutFalseFrame(t *testing.T) {
	junk := bytes.Repeat([]byte{0x00}, 30)

	frames, rest := Parse(DefaultSOF, junk)
	if len(frames) != 0 {
		t.Fatalf("expected no frames from pure junk, got %d", len(frames))
	}
	if len(rest) >= len(junk) {
		t.Errorf("expected the scanned junk to be trimmed, remainder still %d bytes", len(rest))
	}
}
