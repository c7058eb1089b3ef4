// Package clock provides the monotonic millisecond tick counter used
// throughout Octopus to time task callbacks without relying on calendar
// time: a counter is started, and later queried for elapsed milliseconds,
// tolerating 32-bit wraparound.
package clock

import (
	"sync/atomic"
	"time"
)

// Counter marks the tick at which some timing window began. The zero value
// is not started; call Start before the first Elapsed.
type Counter struct {
	startMs uint32
}

// epoch is the process-start reference the monotonic tick counts from.
var epoch = time.Now()

// nowMs returns the current monotonic tick in milliseconds, truncated to
// 32 bits. Wraparound happens every ~49.7 days; Elapsed subtracts modulo
// 2^32 so short windows remain correct across a wrap.
func nowMs() uint32 {
	return uint32(time.Since(epoch).Milliseconds())
}

// Start records the current tick as the beginning of a timing window.
func (c *Counter) Start() {
	atomic.StoreUint32(&c.startMs, nowMs())
}

// Restart resets the timing window. It is an alias for Start kept so
// call sites that restart an already-running window read as such.
func (c *Counter) Restart() {
	c.Start()
}

// Elapsed returns the number of milliseconds since Start/Restart was last
// called, correct even if the underlying clock has wrapped since then
// (as long as the elapsed window is shorter than roughly half the 32-bit
// range, i.e. under ~24 days).
func (c *Counter) Elapsed() uint32 {
	start := atomic.LoadUint32(&c.startMs)
	return nowMs() - start
}

// ElapsedAtLeast reports whether at least ms milliseconds have passed since
// the window began. It is the common call shape tasks use to gate periodic
// work inside a Run callback.
func (c *Counter) ElapsedAtLeast(ms uint32) bool {
	return c.Elapsed() >= ms
}

// Source is a millisecond tick provider, the seam that lets tasks and
// tests substitute a fake clock instead of wall time.
type Source interface {
	NowMs() uint32
}

// System is the default Source backed by the real monotonic clock.
type System struct{}

// NowMs implements Source.
func (System) NowMs() uint32 { return nowMs() }
