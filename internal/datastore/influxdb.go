package datastore

import (
	"context"
	"fmt"
	"time"

	"octopus/internal/vehicle"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxDBStore implements the high-frequency snapshot time series using
// InfluxDB: a single vehicle_snapshot measurement keyed by nothing but
// time, since this runtime drives one vehicle.
type InfluxDBStore struct {
	client   influxdb2.Client
	org      string
	bucket   string
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
}

// NewInfluxDBStore creates a new InfluxDB-backed store and verifies
// connectivity with a Ping.
func NewInfluxDBStore(url, token, org, bucket string) (*InfluxDBStore, error) {
	client := influxdb2.NewClient(url, token)

	store := &InfluxDBStore{
		client:   client,
		org:      org,
		bucket:   bucket,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		queryAPI: client.QueryAPI(org),
	}

	if _, err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	return store, nil
}

// SaveSnapshot writes one point to the vehicle_snapshot measurement.
func (s *InfluxDBStore) SaveSnapshot(snap Snapshot) error {
	point := influxdb2.NewPoint(
		"vehicle_snapshot",
		map[string]string{},
		map[string]interface{}{
			"speed_real":     int64(snap.Meter.SpeedReal),
			"speed":          int64(snap.Meter.Speed),
			"rpm":            int64(snap.Meter.RPM),
			"soc":            int64(snap.Meter.SoC),
			"voltage":        int64(snap.Meter.Voltage),
			"current":        int64(snap.Meter.Current),
			"voltage_system": int64(snap.Meter.VoltageSystem),
			"gear":           int64(snap.Drivetrain.Gear),
			"drive_mode":     int64(snap.Drivetrain.DriveMode),
			"high_beam":      snap.Indicator.HighBeam,
			"low_beam":       snap.Indicator.LowBeam,
			"left_turn":      snap.Indicator.LeftTurn,
			"right_turn":     snap.Indicator.RightTurn,
			"ready":          snap.Indicator.Ready,
			"charge":         snap.Indicator.Charge,
		},
		snap.Timestamp,
	)

	if err := s.writeAPI.WritePoint(context.Background(), point); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *InfluxDBStore) GetSnapshots(start, end time.Time) ([]Snapshot, error) {
	query := fmt.Sprintf(`
		from(bucket:"%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r["_measurement"] == "vehicle_snapshot")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, s.bucket, start.Format(time.RFC3339), end.Format(time.RFC3339))

	result, err := s.queryAPI.Query(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer result.Close()

	var snapshots []Snapshot
	for result.Next() {
		snapshots = append(snapshots, snapshotFromRecord(result.Record()))
	}
	return snapshots, result.Err()
}

func (s *InfluxDBStore) GetLatestSnapshot() (Snapshot, error) {
	query := fmt.Sprintf(`
		from(bucket:"%s")
			|> range(start: -1h)
			|> filter(fn: (r) => r["_measurement"] == "vehicle_snapshot")
			|> last()
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, s.bucket)

	result, err := s.queryAPI.Query(context.Background(), query)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	defer result.Close()

	if !result.Next() {
		return Snapshot{}, fmt.Errorf("no snapshot data found")
	}
	return snapshotFromRecord(result.Record()), nil
}

// Close shuts down the underlying InfluxDB client.
func (s *InfluxDBStore) Close() error {
	s.client.Close()
	return nil
}

// influxRecord is the subset of *query.FluxRecord this store reads from,
// narrowed to an interface so snapshotFromRecord can be exercised by a
// fake in tests without a live InfluxDB server.
type influxRecord interface {
	Time() time.Time
	ValueByKey(key string) interface{}
}

func snapshotFromRecord(r influxRecord) Snapshot {
	asInt64 := func(key string) int64 {
		v, _ := r.ValueByKey(key).(int64)
		return v
	}
	asBool := func(key string) bool {
		v, _ := r.ValueByKey(key).(bool)
		return v
	}

	return Snapshot{
		Timestamp: r.Time(),
		Meter: vehicleMeterFromFields(
			asInt64("speed_real"), asInt64("speed"), asInt64("rpm"),
			asInt64("soc"), asInt64("voltage"), asInt64("current"), asInt64("voltage_system"),
		),
		Indicator: vehicleIndicatorFromFields(
			asBool("high_beam"), asBool("low_beam"), asBool("left_turn"),
			asBool("right_turn"), asBool("ready"), asBool("charge"),
		),
		Drivetrain: vehicleDrivetrainFromFields(asInt64("gear"), asInt64("drive_mode")),
	}
}

func vehicleMeterFromFields(speedReal, speed, rpm, soc, voltage, current, voltageSystem int64) vehicle.Meter {
	return vehicle.Meter{
		SpeedReal:     uint16(speedReal),
		Speed:         uint16(speed),
		RPM:           uint16(rpm),
		SoC:           uint8(soc),
		Voltage:       uint16(voltage),
		Current:       int16(current),
		VoltageSystem: uint8(voltageSystem),
	}
}

func vehicleIndicatorFromFields(highBeam, lowBeam, leftTurn, rightTurn, ready, charge bool) vehicle.Indicator {
	return vehicle.Indicator{
		HighBeam:  highBeam,
		LowBeam:   lowBeam,
		LeftTurn:  leftTurn,
		RightTurn: rightTurn,
		Ready:     ready,
		Charge:    charge,
	}
}

func vehicleDrivetrainFromFields(gear, driveMode int64) vehicle.Drivetrain {
	return vehicle.Drivetrain{
		Gear:      vehicle.Gear(gear),
		DriveMode: uint8(driveMode),
	}
}
