// Package datastore persists vehicle history (meter/indicator/drivetrain
// snapshots, alerts, service records) behind a single Store interface,
// split across a SQLite backend for durable records and an InfluxDB
// backend for the snapshot time series.
package datastore

import (
	"time"

	"octopus/internal/vehicle"
)

// Store is the persistence boundary the runtime writes snapshots through.
type Store interface {
	SaveSnapshot(s Snapshot) error
	GetSnapshots(start, end time.Time) ([]Snapshot, error)
	GetLatestSnapshot() (Snapshot, error)

	SaveAlert(a Alert) error
	GetAlerts(start, end time.Time) ([]Alert, error)

	SaveServiceRecord(r ServiceRecord) error
	GetServiceHistory() ([]ServiceRecord, error)

	Close() error
}

// Snapshot is a point-in-time copy of the full vehicle model, the unit the
// time-series store (InfluxDB) and the latest-snapshot row (SQLite) both record.
type Snapshot struct {
	Timestamp  time.Time         `json:"timestamp"`
	Meter      vehicle.Meter     `json:"meter"`
	Indicator  vehicle.Indicator `json:"indicator"`
	Drivetrain vehicle.Drivetrain `json:"drivetrain"`
}

// Alert records a threshold crossing worth remembering past the tick it
// happened on (e.g. low SoC, a fault lamp latching on).
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// ServiceRecord is an out-of-band maintenance entry, unrelated to live
// telemetry, kept alongside it for a single combined history view.
type ServiceRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"service_type"`
	Description string    `json:"description"`
	Mileage     float64   `json:"mileage"`
	Technician  string    `json:"technician"`
	Cost        float64   `json:"cost"`
}
