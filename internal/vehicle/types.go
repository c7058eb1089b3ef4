// Package vehicle implements the four vehicle data-model records: Meter,
// Indicator, Drivetrain, and SIF snapshot. Records are pure value types
// with no behavior beyond validated mutation by the CarInfo task; Model
// guards them with an RWMutex and hands out value-copy snapshots.
package vehicle

// Meter holds the instrument-cluster readings. RPM is stored with a fixed
// offset to keep it representable as an unsigned value on the wire;
// consumers must subtract RPMOffset before display.
type Meter struct {
	SpeedReal     uint16 // 0.1 km/h
	Speed         uint16 // displayed speed = SpeedReal * 11 / 10
	RPM           uint16 // stored with +RPMOffset
	SoC           uint8  // percent
	Voltage       uint16 // 0.1 V
	Current       int16  // 0.1 A
	VoltageSystem uint8  // system-voltage code, selects the SoC curve
}

// RPMOffset is added to the real RPM value before storage so the field can
// be carried as an unsigned quantity end to end.
const RPMOffset = 20000

// DisplaySpeed returns SpeedReal scaled by 11/10.
func (m Meter) DisplaySpeed() uint16 {
	return uint16(uint32(m.SpeedReal) * 11 / 10)
}

// DisplayRPM returns the RPM with RPMOffset removed.
func (m Meter) DisplayRPM() int32 {
	return int32(m.RPM) - RPMOffset
}

// Indicator holds the 13 named boolean lamp states.
type Indicator struct {
	HighBeam    bool
	LowBeam     bool
	Position    bool
	FrontFog    bool
	RearFog     bool
	LeftTurn    bool
	RightTurn   bool
	Ready       bool
	Charge      bool
	Parking     bool
	ECUFault    bool
	SensorFault bool
	MotorFault  bool
}

// Gear values range over 0..7.
type Gear uint8

const (
	GearPark Gear = iota
	GearReverse
	GearNeutral
	GearDrive1
	GearDrive2
	GearDrive3
	GearDrive4
	GearDrive5
)

// Drivetrain holds gear and drive-mode state.
type Drivetrain struct {
	Gear      Gear
	DriveMode uint8
}

// SIF is the raw decoded bit-field snapshot from the sensor/MCU side. The
// specific bit assignments are a hardware-abstraction detail; this carries
// the decoded fields CarInfo actually acts on.
type SIF struct {
	Raw       uint32
	GearBits  uint8
	SpeedBits uint16
}
