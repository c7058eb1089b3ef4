package datastore

import (
	"fmt"
	"time"
)

// Config holds datastore configuration.
type Config struct {
	SQLitePath     string
	InfluxDBURL    string
	InfluxDBOrg    string
	InfluxDBToken  string
	InfluxDBBucket string
}

// CombinedStore implements Store using SQLite for alerts and service
// records and InfluxDB for the high-frequency snapshot time series.
type CombinedStore struct {
	sqlite *SQLiteStore
	influx *InfluxDBStore
}

// NewStore creates a combined datastore from config.
func NewStore(config *Config) (Store, error) {
	sqlite, err := NewSQLiteStore(config.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite store: %w", err)
	}

	influx, err := NewInfluxDBStore(
		config.InfluxDBURL,
		config.InfluxDBToken,
		config.InfluxDBOrg,
		config.InfluxDBBucket,
	)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to create InfluxDB store: %w", err)
	}

	return &CombinedStore{sqlite: sqlite, influx: influx}, nil
}

func (s *CombinedStore) SaveSnapshot(snap Snapshot) error {
	if err := s.sqlite.SaveSnapshot(snap); err != nil {
		return err
	}
	return s.influx.SaveSnapshot(snap)
}

func (s *CombinedStore) GetSnapshots(start, end time.Time) ([]Snapshot, error) {
	return s.influx.GetSnapshots(start, end)
}

func (s *CombinedStore) GetLatestSnapshot() (Snapshot, error) {
	return s.influx.GetLatestSnapshot()
}

func (s *CombinedStore) SaveAlert(a Alert) error {
	return s.sqlite.SaveAlert(a)
}

func (s *CombinedStore) GetAlerts(start, end time.Time) ([]Alert, error) {
	return s.sqlite.GetAlerts(start, end)
}

func (s *CombinedStore) SaveServiceRecord(r ServiceRecord) error {
	return s.sqlite.SaveServiceRecord(r)
}

func (s *CombinedStore) GetServiceHistory() ([]ServiceRecord, error) {
	return s.sqlite.GetServiceHistory()
}

func (s *CombinedStore) Close() error {
	sqliteErr := s.sqlite.Close()
	influxErr := s.influx.Close()
	if sqliteErr != nil {
		return sqliteErr
	}
	return influxErr
}
