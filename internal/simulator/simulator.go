// Package simulator generates synthetic PTL traffic for exercising
// octopusd without real MCU hardware attached: a ticker-driven loop
// evolves a synthetic vehicle and writes framed meter/indicator/drivetrain
// updates to a DataWriter.
package simulator

import (
	"math/rand"
	"time"

	"octopus/internal/carinfo"
	"octopus/internal/ptl"
	"octopus/internal/vehicle"
)

// DataWriter is the one-way sink a Simulator pushes framed bytes into.
// serialport.Port satisfies it, as does any net.Conn.
type DataWriter interface {
	Write([]byte) (int, error)
	Close() error
}

// SimulatedData is the current synthetic vehicle state a Simulator evolves
// one tick at a time.
type SimulatedData struct {
	SpeedReal     uint16 // 0.1 km/h
	RPM           uint16 // real RPM, not offset
	SoC           uint8
	Voltage       uint16
	Current       int16
	VoltageSystem uint8
	Drivetrain    vehicle.Drivetrain
	Indicator     vehicle.Indicator
}

// Simulator drives a synthetic vehicle forward and periodically writes its
// state as PTL frames to writer.
type Simulator struct {
	data     SimulatedData
	writer   DataWriter
	interval time.Duration
	sof      byte
	done     chan struct{}
}

// NewSimulator creates a simulator that writes framed updates to writer
// every interval, using sof as the PTL start-of-frame byte (ptl.DefaultSOF
// if the caller has no reason to diverge).
func NewSimulator(writer DataWriter, interval time.Duration, sof byte) *Simulator {
	return &Simulator{
		data: SimulatedData{
			SpeedReal:     0,
			RPM:           800 + vehicle.RPMOffset,
			SoC:           80,
			Voltage:       480,
			VoltageSystem: 0x02,
			Drivetrain:    vehicle.Drivetrain{Gear: vehicle.GearPark},
		},
		writer:   writer,
		interval: interval,
		sof:      sof,
		done:     make(chan struct{}),
	}
}

// Start runs the simulation loop until Stop is called. It blocks; callers
// typically run it in its own goroutine.
func (s *Simulator) Start() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateData()
			for _, frame := range s.buildFrames() {
				if _, err := s.writer.Write(frame); err != nil {
					return
				}
			}
		case <-s.done:
			return
		}
	}
}

// Stop halts the simulation and closes the underlying writer.
func (s *Simulator) Stop() {
	close(s.done)
	s.writer.Close()
}

func (s *Simulator) updateData() {
	s.data.SpeedReal = uint16(rand.Float64() * 1200)             // 0-120 km/h in 0.1 km/h units
	s.data.RPM = uint16(800+rand.Float64()*2200) + vehicle.RPMOffset // 800-3000 real RPM

	if rand.Float64() < 0.1 {
		delta := int16(rand.Intn(3) - 1)
		s.data.SoC = clampPercent(int16(s.data.SoC) + delta)
	}
	s.data.Voltage = 440 + uint16(rand.Float64()*80)
	s.data.Current = int16(rand.Float64()*200) - 100

	if rand.Float64() < 0.05 {
		s.data.Drivetrain.Gear = vehicle.Gear(rand.Intn(int(vehicle.GearDrive5) + 1))
	}
	s.data.Indicator.LeftTurn = rand.Float64() < 0.1
	s.data.Indicator.RightTurn = !s.data.Indicator.LeftTurn && rand.Float64() < 0.1
	s.data.Indicator.Ready = true
}

func clampPercent(v int16) uint8 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return uint8(v)
}

func (s *Simulator) buildFrames() [][]byte {
	var frames [][]byte

	rpmSpeed, err := ptl.Build(s.sof, ptl.Make(ptl.DirM2A, ptl.ModMeter), carinfo.CmdMeterRPMSpeed,
		[]byte{byte(s.data.SpeedReal >> 8), byte(s.data.SpeedReal), byte(s.data.RPM >> 8), byte(s.data.RPM)})
	if err == nil {
		frames = append(frames, rpmSpeed)
	}

	soc, err := ptl.Build(s.sof, ptl.Make(ptl.DirM2A, ptl.ModMeter), carinfo.CmdMeterSoC,
		[]byte{s.data.SoC, byte(s.data.Voltage >> 8), byte(s.data.Voltage),
			byte(uint16(s.data.Current) >> 8), byte(uint16(s.data.Current)), s.data.VoltageSystem})
	if err == nil {
		frames = append(frames, soc)
	}

	indicator, err := ptl.Build(s.sof, ptl.Make(ptl.DirM2A, ptl.ModIndicator), carinfo.CmdIndicatorLamps,
		vehicle.EncodeIndicator(s.data.Indicator))
	if err == nil {
		frames = append(frames, indicator)
	}

	drivetrain, err := ptl.Build(s.sof, ptl.Make(ptl.DirM2A, ptl.ModDrivInfo), carinfo.CmdDrivetrainGearMode,
		vehicle.EncodeDrivetrain(s.data.Drivetrain))
	if err == nil {
		frames = append(frames, drivetrain)
	}

	return frames
}
