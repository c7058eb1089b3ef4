package carinfo

import "testing"

func TestSoCRisingUsesRiseTable(t *testing.T) {
	var e SoCEstimator
	e.Estimate(0x02, 400) // establish a baseline below every breakpoint
	got := e.Estimate(0x02, 480)
	if got != 100 {
		t.Errorf("expected 100%% on rise to 480, got %d", got)
	}
}

func TestSoCFallingUsesFallTable(t *testing.T) {
	var e SoCEstimator
	e.Estimate(0x02, 500)
	got := e.Estimate(0x02, 460) // between fall's 455 and 470 breakpoints
	if got != 80 {
		t.Errorf("expected 80%% on fall to 460, got %d", got)
	}
}

func TestSoCUnknownSystemUsesGenericFormula(t *testing.T) {
	var e SoCEstimator
	// 36V/3 cells: the generic formula's ceiling tier is 90%, unlike the
	// rise/fall tables which top out at 100%.
	got := e.Estimate(0x01, 400)
	if got != 90 {
		t.Errorf("expected 90%% for a high reading on an unknown-table system, got %d", got)
	}
}

func TestSoCFirstReadingTreatedAsRising(t *testing.T) {
	var e SoCEstimator
	got := e.Estimate(0x04, 600)
	if got != 100 {
		t.Errorf("expected first reading to use the rise table, got %d", got)
	}
}
