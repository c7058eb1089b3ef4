package datastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the low-frequency, durable side of vehicle history:
// the latest snapshot (for fast restart), alerts, and service records.
// High-frequency snapshot time series go to InfluxDBStore instead.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store, creating its schema if
// dbPath does not already have one.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS latest_snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			timestamp TIMESTAMP NOT NULL,
			meter JSON NOT NULL,
			indicator JSON NOT NULL,
			drivetrain JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS service_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			service_type TEXT NOT NULL,
			description TEXT,
			mileage REAL,
			technician TEXT,
			cost REAL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			value REAL,
			threshold REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_service_time ON service_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(timestamp)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// SaveSnapshot upserts the single latest-known vehicle state, used to seed
// the model on restart before the first live frame arrives.
func (s *SQLiteStore) SaveSnapshot(snap Snapshot) error {
	meterJSON, err := json.Marshal(snap.Meter)
	if err != nil {
		return fmt.Errorf("failed to marshal meter: %w", err)
	}
	indicatorJSON, err := json.Marshal(snap.Indicator)
	if err != nil {
		return fmt.Errorf("failed to marshal indicator: %w", err)
	}
	drivetrainJSON, err := json.Marshal(snap.Drivetrain)
	if err != nil {
		return fmt.Errorf("failed to marshal drivetrain: %w", err)
	}

	query := `INSERT INTO latest_snapshot (id, timestamp, meter, indicator, drivetrain)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			meter = excluded.meter,
			indicator = excluded.indicator,
			drivetrain = excluded.drivetrain`

	if _, err := s.db.Exec(query, snap.Timestamp, meterJSON, indicatorJSON, drivetrainJSON); err != nil {
		return fmt.Errorf("failed to save latest snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the last snapshot saved via SaveSnapshot, for
// restart recovery. Distinct from Store.GetLatestSnapshot, which reads the
// InfluxDB time series instead.
func (s *SQLiteStore) LatestSnapshot() (Snapshot, error) {
	var snap Snapshot
	var meterJSON, indicatorJSON, drivetrainJSON []byte

	err := s.db.QueryRow(`SELECT timestamp, meter, indicator, drivetrain FROM latest_snapshot WHERE id = 1`).
		Scan(&snap.Timestamp, &meterJSON, &indicatorJSON, &drivetrainJSON)
	if err == sql.ErrNoRows {
		return Snapshot{}, fmt.Errorf("no snapshot recorded yet")
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	if err := json.Unmarshal(meterJSON, &snap.Meter); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal meter: %w", err)
	}
	if err := json.Unmarshal(indicatorJSON, &snap.Indicator); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal indicator: %w", err)
	}
	if err := json.Unmarshal(drivetrainJSON, &snap.Drivetrain); err != nil {
		return Snapshot{}, fmt.Errorf("failed to unmarshal drivetrain: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) SaveAlert(a Alert) error {
	query := `INSERT INTO alerts (
		timestamp, alert_type, severity, message, value, threshold
	) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, a.Timestamp, a.Type, a.Severity, a.Message, a.Value, a.Threshold)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAlerts(start, end time.Time) ([]Alert, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, alert_type, severity, message, value, threshold
		FROM alerts
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.Timestamp, &a.Type, &a.Severity, &a.Message, &a.Value, &a.Threshold); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) SaveServiceRecord(r ServiceRecord) error {
	query := `INSERT INTO service_records (
		timestamp, service_type, description, mileage, technician, cost
	) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, r.Timestamp, r.Type, r.Description, r.Mileage, r.Technician, r.Cost)
	if err != nil {
		return fmt.Errorf("failed to save service record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetServiceHistory() ([]ServiceRecord, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, service_type, description, mileage, technician, cost
		FROM service_records
		ORDER BY timestamp DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query service history: %w", err)
	}
	defer rows.Close()

	var records []ServiceRecord
	for rows.Next() {
		var r ServiceRecord
		if err := rows.Scan(&r.Timestamp, &r.Type, &r.Description, &r.Mileage, &r.Technician, &r.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan service record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
