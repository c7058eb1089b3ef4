package carinfo

// State of charge estimation is voltage-based with hysteresis: rising and
// falling readings use different threshold tables so a battery hovering
// at a boundary doesn't oscillate the displayed percentage. Each known
// voltage-system code carries one rise table and one fall table; systems
// without a table fall back to a generic per-cell-voltage formula.

// socThresholds holds the four breakpoints (100/80/40/20, else 10) a
// voltage reading is compared against, in descending order.
type socThresholds [4]uint16

type socCurve struct {
	rise socThresholds
	fall socThresholds
}

// knownSystems maps a voltage-system code to its rise/fall threshold
// tables, in 0.1V units.
var knownSystems = map[uint8]socCurve{
	0x00: {rise: socThresholds{480, 465, 445, 415}, fall: socThresholds{470, 455, 435, 405}}, // 48V
	0x02: {rise: socThresholds{480, 465, 445, 415}, fall: socThresholds{470, 455, 435, 405}}, // 48V
	0x04: {rise: socThresholds{600, 574, 550, 526}, fall: socThresholds{590, 564, 540, 516}}, // 60V
	0x10: {rise: socThresholds{719, 690, 660, 630}, fall: socThresholds{709, 680, 650, 620}}, // 72V
}

// cellCounts maps voltage-system code to the series cell count used by the
// generic per-cell-voltage fallback formula.
var cellCounts = map[uint8]uint8{
	0x01: 3, // 36V
	0x02: 4, // 48V
	0x04: 5, // 60V
	0x08: 5, // 64V, 12V-cell pack
	0x10: 6, // 72V
	0x20: 6, // 80V, 12V-cell pack
	0x40: 7, // 84V
	0x80: 8, // 96V
}

// Generic per-cell voltage breakpoints (0.01V units per 12V cell), scaled
// by cellcount/10 into a pack threshold in 0.1V units for systems absent
// from knownSystems.
const (
	cellVol90 = 1206
	cellVol80 = 1184
	cellVol70 = 1164
	cellVol60 = 1142
	cellVol50 = 1120
	cellVol40 = 1100
	cellVol30 = 1076
	cellVol20 = 1058
)

func lookupThresholds(t socThresholds, voltage uint16) uint8 {
	switch {
	case voltage >= t[0]:
		return 100
	case voltage >= t[1]:
		return 80
	case voltage >= t[2]:
		return 40
	case voltage >= t[3]:
		return 20
	default:
		return 10
	}
}

func genericSoC(voltageSystem uint8, voltage uint16) uint8 {
	cellcount := uint16(4)
	if cc, ok := cellCounts[voltageSystem]; ok {
		cellcount = uint16(cc)
	}
	scaled := func(cellVol uint16) uint16 { return cellVol * cellcount / 10 }

	switch {
	case voltage > scaled(cellVol90):
		return 90
	case voltage > scaled(cellVol80):
		return 80
	case voltage > scaled(cellVol70):
		return 70
	case voltage > scaled(cellVol60):
		return 60
	case voltage > scaled(cellVol50):
		return 50
	case voltage > scaled(cellVol40):
		return 40
	case voltage > scaled(cellVol30):
		return 30
	case voltage > scaled(cellVol20):
		return 20
	default:
		return 10
	}
}

// SoCEstimator tracks the last voltage reading to apply rise/fall
// hysteresis across successive estimates.
type SoCEstimator struct {
	lastVoltage uint16
	hasReading  bool
}

// Estimate returns a state-of-charge percentage for voltage (0.1V units)
// under voltageSystem, applying hysteresis against the previous reading.
func (e *SoCEstimator) Estimate(voltageSystem uint8, voltage uint16) uint8 {
	rising := !e.hasReading || voltage > e.lastVoltage
	e.lastVoltage = voltage
	e.hasReading = true

	if curve, ok := knownSystems[voltageSystem]; ok {
		if rising {
			return lookupThresholds(curve.rise, voltage)
		}
		return lookupThresholds(curve.fall, voltage)
	}
	return genericSoC(voltageSystem, voltage)
}
