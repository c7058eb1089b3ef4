// Package ptl implements the vehicle protocol layer: a framed,
// module-addressed request/response protocol between the MCU and the SoC.
// Modules register send/receive handlers keyed by frame type; a running
// set selects which modules the outbound poll visits each tick, and
// inbound frames are dispatched to their registered receive handler.
package ptl

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// DefaultSOF is the start-of-frame marker used by build/parse. It is an
// implementation constant, not part of the external contract: only the
// field order, length-prefix semantics, and checksum algorithm matter for
// wire compatibility.
const DefaultSOF = 0xF5

// FrameType packs direction and module into a single byte.
type FrameType uint8

// The direction bit occupies the high bit of a FrameType.
const (
	DirM2A  FrameType = 0x00 // MCU -> App
	DirA2M  FrameType = 0x80 // App -> MCU
	dirMask FrameType = 0x80
	modMask FrameType = 0x7F
)

// Module identifiers occupy the low 7 bits of a FrameType.
const (
	ModMeter     FrameType = 0x01
	ModIndicator FrameType = 0x02
	ModDrivInfo  FrameType = 0x03
	ModSystem    FrameType = 0x04
)

// Make combines a direction and module into one FrameType byte.
func Make(dir, mod FrameType) FrameType { return (dir & dirMask) | (mod & modMask) }

// Direction extracts the direction bit from a FrameType.
func (ft FrameType) Direction() FrameType { return ft & dirMask }

// Module extracts the module bits from a FrameType.
func (ft FrameType) Module() FrameType { return ft & modMask }

// Frame is a decoded protocol frame (the payload between FRAME_TYPE/CMD and
// CHECKSUM, plus its envelope fields).
type Frame struct {
	Type FrameType
	Cmd  uint8
	Data []byte
}

// ErrFrameInvalid reports a frame that violates the wire contract (length
// out of range, bad checksum). Parse never returns it, since a malformed
// frame makes it resynchronize instead; Build wraps it so callers can
// errors.Is a rejected construction.
var ErrFrameInvalid = errors.New("ptl: invalid frame")

// Build assembles a wire frame: SOF | LEN | FRAME_TYPE | CMD | DATA | CHECKSUM.
// LEN counts every byte after SOF, checksum included: LEN = len(data)+4,
// so its valid range [4,255] allows zero-length data (bare polls/acks) and
// a full frame occupies LEN+1 bytes.
func Build(sof byte, ft FrameType, cmd uint8, data []byte) ([]byte, error) {
	length := len(data) + 4
	if length < 4 || length > 255 {
		return nil, fmt.Errorf("%w: data length %d out of range", ErrFrameInvalid, len(data))
	}

	out := make([]byte, 0, length+2)
	out = append(out, sof, byte(length), byte(ft), cmd)
	out = append(out, data...)

	var sum byte
	for _, b := range out {
		sum += b
	}
	out = append(out, sum)
	return out, nil
}

// decodeResult distinguishes the three outcomes of a decode attempt: a
// complete frame, a prefix that is valid so far but whose tail has not
// arrived yet, and structural junk. The distinction matters to the
// streaming parser: incomplete means wait for more bytes, invalid means
// advance one byte and rescan. Collapsing the two would drop any frame a
// read boundary happens to split.
type decodeResult int

const (
	decodeOK decodeResult = iota
	decodeIncomplete
	decodeInvalid
)

// decodeOne attempts to decode exactly one frame starting at buf[0]. It
// returns the frame, the number of bytes it consumed, and the decode
// outcome. It never partially consumes a frame.
func decodeOne(sof byte, buf []byte) (Frame, int, decodeResult) {
	if len(buf) == 0 {
		return Frame{}, 0, decodeIncomplete
	}
	if buf[0] != sof {
		return Frame{}, 0, decodeInvalid
	}
	if len(buf) < 2 {
		return Frame{}, 0, decodeIncomplete
	}
	length := int(buf[1])
	if length < 4 {
		return Frame{}, 0, decodeInvalid
	}
	total := length + 1 // SOF+LEN+FRAME_TYPE+CMD+DATA+CHECKSUM
	if len(buf) < total {
		return Frame{}, 0, decodeIncomplete
	}

	var sum byte
	for _, b := range buf[:total-1] {
		sum += b
	}
	if sum != buf[total-1] {
		return Frame{}, 0, decodeInvalid
	}

	ft := FrameType(buf[2])
	cmd := buf[3]
	data := append([]byte(nil), buf[4:total-1]...)
	return Frame{Type: ft, Cmd: cmd, Data: data}, total, decodeOK
}

// maxScanWindow bounds the work Parse will do resynchronizing across junk
// before trimming the scanned bytes and waiting for more input.
const maxScanWindow = 20

// Parse scans buf for complete frames. It returns every frame it found, in
// order, and the unconsumed remainder of buf (frames consumed plus any
// leading junk are stripped). On a checksum or structural mismatch at the
// current position it advances one byte and rescans; up to maxScanWindow
// consecutive junk bytes are consumed this way before a frame, beyond
// which it trims the scanned junk and stops, leaving the rest of buf for
// the next call. A frame whose tail has not arrived yet is left intact in
// the remainder, never consumed as junk.
func Parse(sof byte, buf []byte) (frames []Frame, remainder []byte) {
	frames, remainder, _ = parse(sof, buf)
	return frames, remainder
}

// parse is Parse plus the count of positions where a frame was attempted
// and rejected as malformed (bad SOF, bad length, or bad checksum) rather
// than simply awaiting more bytes. PTL.Feed folds that count into
// p.invalidFrames; Parse itself stays a pure two-value function since
// that is the shape the rest of the package (and its tests) call it with.
func parse(sof byte, buf []byte) (frames []Frame, remainder []byte, invalid int) {
	pos := 0
	junkRun := 0
	for pos < len(buf) {
		f, n, res := decodeOne(sof, buf[pos:])
		switch res {
		case decodeOK:
			frames = append(frames, f)
			pos += n
			junkRun = 0
			continue
		case decodeIncomplete:
			return frames, buf[pos:], invalid // need more bytes, not junk
		}
		pos++
		junkRun++
		invalid++
		if junkRun > maxScanWindow {
			break
		}
	}
	return frames, buf[pos:], invalid
}

// SendFunc builds an outbound frame's data for a module poll. It returns
// (data, ok); ok=false means the handler has nothing to send this tick.
type SendFunc func(cmd uint8) (data []byte, ok bool)

// RecvFunc consumes an inbound frame's payload. ackOut, if non-nil and
// filled by the handler, is transmitted back as an ack frame (subject to
// the ack policy switch). It returns whether the frame was handled.
type RecvFunc func(payload []byte, ackOut *[]byte) (handled bool)

type registration struct {
	send SendFunc
	recv RecvFunc
}

// Transmitter is the one-way outbound link the PTL writes frames to; it is
// satisfied by serialport.Port.
type Transmitter interface {
	Write([]byte) (int, error)
}

// PTL owns the module registry, running set, and frame codec state for one
// serial link.
type PTL struct {
	SOF         byte
	Logger      *log.Logger
	AcksEnabled bool

	tx Transmitter

	mu       sync.Mutex
	registry map[FrameType]registration
	running  map[FrameType]bool
	rxBuf    []byte

	invalidFrames   uint64
	unknownHandlers uint64
}

// New creates a PTL bound to tx for outbound writes.
func New(tx Transmitter, logger *log.Logger) *PTL {
	if logger == nil {
		logger = log.Default()
	}
	return &PTL{
		SOF:         DefaultSOF,
		Logger:      logger,
		AcksEnabled: true,
		tx:          tx,
		registry:    make(map[FrameType]registration),
		running:     make(map[FrameType]bool),
	}
}

// Register installs send/recv handlers for frame type ft. Re-registration
// replaces any prior entry for the same key; the later registration wins.
func (p *PTL) Register(ft FrameType, send SendFunc, recv RecvFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[ft] = registration{send: send, recv: recv}
}

// RequestRunning adds ft to the polling set.
func (p *PTL) RequestRunning(ft FrameType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[ft] = true
}

// ReleaseRunning removes ft from the polling set.
func (p *PTL) ReleaseRunning(ft FrameType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, ft)
}

// PollOnce is the PTL's outbound tick: for every key in the running set
// it invokes that module's SendFunc with CMD 0 (a bare poll) and transmits
// the resulting frame if the handler produced one.
// Send failures are not retried within this call; the PTL does not buffer
// outbound frames beyond one tick, so the next PollOnce simply tries again.
func (p *PTL) PollOnce() {
	p.mu.Lock()
	keys := make([]FrameType, 0, len(p.running))
	for ft := range p.running {
		keys = append(keys, ft)
	}
	regs := make(map[FrameType]registration, len(keys))
	for _, ft := range keys {
		regs[ft] = p.registry[ft]
	}
	p.mu.Unlock()

	for _, ft := range keys {
		reg, ok := regs[ft]
		if !ok || reg.send == nil {
			continue
		}
		data, ok := reg.send(0)
		if !ok {
			continue
		}
		frame, err := Build(p.SOF, ft, 0, data)
		if err != nil {
			p.Logger.Printf("ptl: build poll frame for %#x: %v", ft, err)
			continue
		}
		if _, err := p.tx.Write(frame); err != nil {
			p.Logger.Printf("ptl: write poll frame for %#x: %v", ft, err)
		}
	}
}

// SendNow invokes ft's registered send handler with cmd and transmits the
// resulting frame immediately, outside the periodic running-set poll. It is
// the path change-driven emissions take: CarInfo posts a task message, the
// PTL task drains it and calls SendNow. Returns false if no handler is
// registered, the handler declined the command, or the write failed.
func (p *PTL) SendNow(ft FrameType, cmd uint8) bool {
	p.mu.Lock()
	reg, ok := p.registry[ft]
	p.mu.Unlock()
	if !ok || reg.send == nil {
		return false
	}
	data, ok := reg.send(cmd)
	if !ok {
		return false
	}
	frame, err := Build(p.SOF, ft, cmd, data)
	if err != nil {
		p.Logger.Printf("ptl: build frame for %#x: %v", ft, err)
		return false
	}
	if _, err := p.tx.Write(frame); err != nil {
		p.Logger.Printf("ptl: write frame for %#x: %v", ft, err)
		return false
	}
	return true
}

// Feed hands the PTL a chunk of bytes read from the transport. It maintains
// an internal reassembly buffer across calls, parses complete frames, and
// dispatches each to its registered handler. Feed is meant to be called
// directly from serialport's receive callback or from a lock-protected
// hand-off buffer.
func (p *PTL) Feed(chunk []byte) {
	p.mu.Lock()
	p.rxBuf = append(p.rxBuf, chunk...)
	frames, rest, invalid := parse(p.SOF, p.rxBuf)
	p.rxBuf = append(p.rxBuf[:0], rest...)
	p.invalidFrames += uint64(invalid)
	p.mu.Unlock()

	for _, f := range frames {
		p.dispatch(f)
	}
}

func (p *PTL) dispatch(f Frame) {
	p.mu.Lock()
	reg, ok := p.registry[f.Type]
	p.mu.Unlock()

	if !ok {
		p.mu.Lock()
		p.unknownHandlers++
		p.mu.Unlock()
		p.Logger.Printf("ptl: frame for unregistered type %#x dropped", f.Type)
		return
	}
	if reg.recv == nil {
		return
	}

	var ack []byte
	var ackPtr *[]byte
	if p.AcksEnabled {
		ackPtr = &ack
	}
	reg.recv(f.Data, ackPtr)

	if p.AcksEnabled && len(ack) > 0 {
		frame, err := Build(p.SOF, f.Type, f.Cmd, ack)
		if err != nil {
			p.Logger.Printf("ptl: build ack frame for %#x: %v", f.Type, err)
			return
		}
		if _, err := p.tx.Write(frame); err != nil {
			p.Logger.Printf("ptl: write ack frame for %#x: %v", f.Type, err)
		}
	}
}

// Counters returns the running invalid-frame and unknown-handler counts,
// for diagnostics and tests.
func (p *PTL) Counters() (invalidFrames, unknownHandlers uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidFrames, p.unknownHandlers
}
