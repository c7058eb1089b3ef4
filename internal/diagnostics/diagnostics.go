// Package diagnostics is an optional CAN/OBD-II bridge: when a CAN
// interface is present it requests ECU identity info and polls DTCs,
// republishing both on the message bus under the "diagnostics" group. It
// is additive and never blocks CarInfo or the PTL link.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"octopus/internal/bus"

	"github.com/brutella/can"
	"github.com/rzetterberg/elmobd"
)

// BusGroup is the message-bus group diagnostics snapshots publish under.
const BusGroup bus.Group = "diagnostics"

// ECUInfo holds the identity fields read over CAN: VIN, software
// version, calibration id.
type ECUInfo struct {
	VIN         string
	Version     string
	Calibration string
}

// Snapshot is one published diagnostics update.
type Snapshot struct {
	ECU    *ECUInfo
	DTCs   []string
	Legacy *LegacyTelemetry // nil unless an ELM327 device answered this tick
}

// LegacyTelemetry is a redundant OBD-II PID read taken through an ELM327
// device, independent of the PTL link; useful when diagnosing a PTL/MCU
// discrepancy against the vehicle's own OBD-II bus.
type LegacyTelemetry struct {
	RPM         float64
	Speed       float64
	CoolantTemp float64
}

// Bridge owns the CAN bus connection and ELM327 device, polling both on a
// timer and publishing merged snapshots to the bus.
type Bridge struct {
	Logger *log.Logger
	Bus    *bus.Bus

	canBus    *can.Bus
	device    *elmobd.Device
	frameChan chan can.Frame

	stopCh chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	latest  []byte
	hasData bool
}

// NewBridge connects to canIface and, if addr is non-empty, an ELM327
// device at addr. A nil *Bridge with a non-nil error means CAN was
// unavailable; callers should treat that as "diagnostics disabled", not
// a fatal error.
func NewBridge(canIface, elmAddr string, b *bus.Bus, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}

	canBus, err := can.NewBusForInterfaceWithName(canIface)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: CAN bus not available: %w", err)
	}

	br := &Bridge{
		Logger:    logger,
		Bus:       b,
		canBus:    canBus,
		frameChan: make(chan can.Frame, 100),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	canBus.Subscribe(br)

	if elmAddr != "" {
		dev, err := elmobd.NewDevice(elmAddr, false)
		if err != nil {
			logger.Printf("diagnostics: ELM327 device unavailable: %v", err)
		} else {
			br.device = dev
		}
	}

	go canBus.ConnectAndPublish()
	return br, nil
}

// Handle implements can.Handler, fed every frame received on the bus.
func (b *Bridge) Handle(frame can.Frame) {
	select {
	case b.frameChan <- frame:
	default:
	}
}

// Run polls ECU info once and DTCs on every tick of interval until Stop is
// called. It blocks; run it in its own goroutine.
func (b *Bridge) Run(interval time.Duration) {
	defer close(b.done)

	info, err := b.getECUInfo()
	if err != nil {
		b.Logger.Printf("diagnostics: ECU info unavailable: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			dtcs := b.pollDTCs()
			legacy := b.readLegacyTelemetry()
			snap := Snapshot{ECU: info, DTCs: dtcs, Legacy: legacy}
			b.cacheSnapshot(snap)
			if b.Bus != nil {
				b.Bus.Publish(bus.Message{Group: BusGroup, Payload: snap})
			}
		}
	}
}

// Stop halts Run and disconnects the CAN bus.
func (b *Bridge) Stop() {
	close(b.stopCh)
	<-b.done
	b.canBus.Disconnect()
}

func (b *Bridge) cacheSnapshot(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		b.Logger.Printf("diagnostics: marshal snapshot: %v", err)
		return
	}
	b.mu.Lock()
	b.latest = data
	b.hasData = true
	b.mu.Unlock()
}

// LatestDiagnostics implements ipcserver.DiagProvider, returning the most
// recently polled snapshot JSON-encoded, or ok=false before the first tick.
func (b *Bridge) LatestDiagnostics() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasData {
		return nil, false
	}
	return b.latest, true
}

func (b *Bridge) sendRequest(mode, pid byte) error {
	frame := can.Frame{
		ID:   0x7DF,
		Data: [8]byte{0x02, mode, pid, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	return b.canBus.Publish(frame)
}

func (b *Bridge) waitResponse(timeout time.Duration) (can.Frame, bool) {
	select {
	case frame := <-b.frameChan:
		return frame, true
	case <-time.After(timeout):
		return can.Frame{}, false
	}
}

func (b *Bridge) getInfo(mode, pid byte) (string, error) {
	if err := b.sendRequest(mode, pid); err != nil {
		return "", err
	}
	frame, ok := b.waitResponse(100 * time.Millisecond)
	if !ok {
		return "", fmt.Errorf("timeout waiting for response")
	}
	return decodeInfoResponse(frame, mode)
}

func decodeInfoResponse(frame can.Frame, mode byte) (string, error) {
	if frame.ID != 0x7E8 {
		return "", fmt.Errorf("unexpected response ID: %X", frame.ID)
	}
	numBytes := frame.Data[0]
	if numBytes < 2 || frame.Data[1] != (0x40|mode) {
		return "", fmt.Errorf("invalid response format")
	}
	data := make([]byte, 0, numBytes-2)
	for i := 2; i < int(numBytes); i++ {
		if frame.Data[i] != 0 {
			data = append(data, frame.Data[i])
		}
	}
	return string(data), nil
}

func (b *Bridge) getECUInfo() (*ECUInfo, error) {
	info := &ECUInfo{}
	if vin, err := b.getInfo(0x09, 0x02); err == nil {
		info.VIN = strings.TrimSpace(vin)
	}
	if ver, err := b.getInfo(0x09, 0x0A); err == nil {
		info.Version = strings.TrimSpace(ver)
	}
	if cal, err := b.getInfo(0x09, 0x04); err == nil {
		info.Calibration = strings.TrimSpace(cal)
	}
	return info, nil
}

func (b *Bridge) sendDTCRequest() error {
	frame := can.Frame{
		ID:   0x7DF,
		Data: [8]byte{0x02, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	return b.canBus.Publish(frame)
}

func (b *Bridge) pollDTCs() []string {
	if err := b.sendDTCRequest(); err != nil {
		b.Logger.Printf("diagnostics: DTC request failed: %v", err)
		return nil
	}

	var dtcs []string
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case frame := <-b.frameChan:
			dtcs = append(dtcs, decodeDTCResponse(frame)...)
		case <-deadline:
			return dtcs
		}
	}
}

func decodeDTCResponse(frame can.Frame) []string {
	if frame.ID != 0x7E8 {
		return nil
	}
	numBytes := frame.Data[0]
	if numBytes < 2 || frame.Data[1] != 0x43 {
		return nil
	}

	var dtcs []string
	for i := 2; i < int(numBytes) && i+1 < 8; i += 2 {
		if frame.Data[i] == 0 && frame.Data[i+1] == 0 {
			continue
		}
		if dtc := decodeDTC(frame.Data[i], frame.Data[i+1]); dtc != "" {
			dtcs = append(dtcs, dtc)
		}
	}
	return dtcs
}

// readLegacyTelemetry queries the ELM327 device for RPM, speed, and
// coolant temperature. Returns nil if no device is attached or every
// command fails.
func (b *Bridge) readLegacyTelemetry() *LegacyTelemetry {
	if b.device == nil {
		return nil
	}

	var t LegacyTelemetry
	got := false

	if cmd, err := b.device.RunOBDCommand(elmobd.NewEngineRPM()); err == nil {
		if rpm, ok := cmd.(*elmobd.EngineRPM); ok {
			t.RPM = float64(rpm.Value)
			got = true
		}
	}
	if cmd, err := b.device.RunOBDCommand(elmobd.NewVehicleSpeed()); err == nil {
		if speed, ok := cmd.(*elmobd.VehicleSpeed); ok {
			t.Speed = float64(speed.Value)
			got = true
		}
	}
	if cmd, err := b.device.RunOBDCommand(elmobd.NewCoolantTemperature()); err == nil {
		if temp, ok := cmd.(*elmobd.CoolantTemperature); ok {
			t.CoolantTemp = float64(temp.Value)
			got = true
		}
	}

	if !got {
		return nil
	}
	return &t
}

func decodeDTC(b1, b2 byte) string {
	if b1 == 0 && b2 == 0 {
		return ""
	}
	var dtcType string
	switch b1 >> 6 {
	case 0:
		dtcType = "P"
	case 1:
		dtcType = "C"
	case 2:
		dtcType = "B"
	case 3:
		dtcType = "U"
	}
	code := uint16(b1&0x3F)<<8 | uint16(b2)
	return fmt.Sprintf("%s%04X", dtcType, code)
}
