package vehicle

import "sync"

// Model owns the four vehicle data records. It is exclusively written by
// the CarInfo task; all other readers call the snapshot methods, which
// return value copies under a short critical section so a reader never
// observes a half-updated record.
type Model struct {
	mu         sync.RWMutex
	meter      Meter
	indicator  Indicator
	drivetrain Drivetrain
	sif        SIF
}

// NewModel creates an empty vehicle model.
func NewModel() *Model {
	return &Model{}
}

// Meter returns a value-copy snapshot of the meter record.
func (m *Model) Meter() Meter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meter
}

// SetMeter replaces the meter record. Called only from CarInfo.
func (m *Model) SetMeter(v Meter) {
	m.mu.Lock()
	m.meter = v
	m.mu.Unlock()
}

// Indicator returns a value-copy snapshot of the indicator record.
func (m *Model) Indicator() Indicator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indicator
}

// SetIndicator replaces the indicator record.
func (m *Model) SetIndicator(v Indicator) {
	m.mu.Lock()
	m.indicator = v
	m.mu.Unlock()
}

// Drivetrain returns a value-copy snapshot of the drivetrain record.
func (m *Model) Drivetrain() Drivetrain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drivetrain
}

// SetDrivetrain replaces the drivetrain record.
func (m *Model) SetDrivetrain(v Drivetrain) {
	m.mu.Lock()
	m.drivetrain = v
	m.mu.Unlock()
}

// SIF returns a value-copy snapshot of the raw sensor bit-field record.
func (m *Model) SIF() SIF {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sif
}

// SetSIF replaces the SIF record.
func (m *Model) SetSIF(v SIF) {
	m.mu.Lock()
	m.sif = v
	m.mu.Unlock()
}
