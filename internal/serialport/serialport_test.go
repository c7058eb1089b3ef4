package serialport

import "testing"

func TestOpenRejectsEmptyName(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Error("expected error opening with empty port name")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	// Port.Write's closed-guard is exercised without a real device: a
	// zero-value Port with closed set by hand behaves identically to one
	// that went through a real Close.
	p := &Port{closed: true}
	if _, err := p.Write([]byte("x")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
