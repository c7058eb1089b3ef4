package vehicle

import "encoding/binary"

// EncodeMeter/DecodeMeter, EncodeIndicator/DecodeIndicator, and
// EncodeDrivetrain/DecodeDrivetrain produce and parse the byte-for-byte
// record layout CAR-group IPC replies carry: each model struct's fields
// in declaration order, big-endian. Both the IPC server (building
// snapshot replies) and the IPC client (decoding them) share this codec.

// EncodeMeter serializes a Meter record.
func EncodeMeter(m Meter) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], m.SpeedReal)
	binary.BigEndian.PutUint16(buf[2:4], m.Speed)
	binary.BigEndian.PutUint16(buf[4:6], m.RPM)
	buf[6] = m.SoC
	binary.BigEndian.PutUint16(buf[7:9], m.Voltage)
	binary.BigEndian.PutUint16(buf[9:11], uint16(m.Current))
	buf[11] = m.VoltageSystem
	return buf
}

// DecodeMeter parses a Meter record; it returns the zero value if buf is
// too short.
func DecodeMeter(buf []byte) Meter {
	if len(buf) < 12 {
		return Meter{}
	}
	return Meter{
		SpeedReal:     binary.BigEndian.Uint16(buf[0:2]),
		Speed:         binary.BigEndian.Uint16(buf[2:4]),
		RPM:           binary.BigEndian.Uint16(buf[4:6]),
		SoC:           buf[6],
		Voltage:       binary.BigEndian.Uint16(buf[7:9]),
		Current:       int16(binary.BigEndian.Uint16(buf[9:11])),
		VoltageSystem: buf[11],
	}
}

// EncodeIndicator packs the 13 lamp booleans into 2 bytes, low bit first.
func EncodeIndicator(i Indicator) []byte {
	bits := []bool{
		i.HighBeam, i.LowBeam, i.Position, i.FrontFog, i.RearFog,
		i.LeftTurn, i.RightTurn, i.Ready, i.Charge, i.Parking,
		i.ECUFault, i.SensorFault, i.MotorFault,
	}
	out := make([]byte, 2)
	for idx, set := range bits {
		if !set {
			continue
		}
		if idx < 8 {
			out[0] |= 1 << uint(idx)
		} else {
			out[1] |= 1 << uint(idx-8)
		}
	}
	return out
}

// DecodeIndicator unpacks the 13 lamp booleans from 2 bytes.
func DecodeIndicator(buf []byte) Indicator {
	if len(buf) < 2 {
		return Indicator{}
	}
	bit := func(idx int) bool {
		if idx < 8 {
			return buf[0]&(1<<uint(idx)) != 0
		}
		return buf[1]&(1<<uint(idx-8)) != 0
	}
	return Indicator{
		HighBeam:    bit(0),
		LowBeam:     bit(1),
		Position:    bit(2),
		FrontFog:    bit(3),
		RearFog:     bit(4),
		LeftTurn:    bit(5),
		RightTurn:   bit(6),
		Ready:       bit(7),
		Charge:      bit(8),
		Parking:     bit(9),
		ECUFault:    bit(10),
		SensorFault: bit(11),
		MotorFault:  bit(12),
	}
}

// EncodeDrivetrain serializes a Drivetrain record.
func EncodeDrivetrain(d Drivetrain) []byte {
	return []byte{byte(d.Gear), d.DriveMode}
}

// DecodeDrivetrain parses a Drivetrain record.
func DecodeDrivetrain(buf []byte) Drivetrain {
	if len(buf) < 2 {
		return Drivetrain{}
	}
	return Drivetrain{Gear: Gear(buf[0]), DriveMode: buf[1]}
}
