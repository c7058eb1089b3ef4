package datastore

import (
	"testing"
	"time"
)

type fakeRecord struct {
	t      time.Time
	values map[string]interface{}
}

func (f fakeRecord) Time() time.Time                   { return f.t }
func (f fakeRecord) ValueByKey(key string) interface{} { return f.values[key] }

func TestSnapshotFromRecordDecodesFields(t *testing.T) {
	now := time.Now()
	rec := fakeRecord{
		t: now,
		values: map[string]interface{}{
			"speed_real":     int64(300),
			"speed":          int64(330),
			"rpm":            int64(21000),
			"soc":            int64(72),
			"voltage":        int64(480),
			"current":        int64(-50),
			"voltage_system": int64(2),
			"gear":           int64(3),
			"drive_mode":     int64(1),
			"high_beam":      true,
			"low_beam":       false,
			"left_turn":      true,
			"right_turn":     false,
			"ready":          true,
			"charge":         false,
		},
	}

	snap := snapshotFromRecord(rec)
	if !snap.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, snap.Timestamp)
	}
	if snap.Meter.SpeedReal != 300 || snap.Meter.SoC != 72 || snap.Meter.Current != -50 {
		t.Errorf("unexpected meter decode: %+v", snap.Meter)
	}
	if !snap.Indicator.HighBeam || !snap.Indicator.LeftTurn || snap.Indicator.LowBeam {
		t.Errorf("unexpected indicator decode: %+v", snap.Indicator)
	}
	if snap.Drivetrain.Gear != 3 || snap.Drivetrain.DriveMode != 1 {
		t.Errorf("unexpected drivetrain decode: %+v", snap.Drivetrain)
	}
}

func TestSnapshotFromRecordMissingFieldsDefaultZero(t *testing.T) {
	rec := fakeRecord{t: time.Now(), values: map[string]interface{}{}}
	snap := snapshotFromRecord(rec)
	if snap.Meter.SoC != 0 || snap.Indicator.HighBeam {
		t.Errorf("expected zero values for missing fields, got %+v / %+v", snap.Meter, snap.Indicator)
	}
}
