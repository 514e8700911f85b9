package sensor

import (
	"errors"
	"os"
	"testing"
	"time"

	"courier/pkg/timeutil"
)

func TestDiskAlertHysteresis(t *testing.T) {
	clock := timeutil.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewSensor(MonitorConfig{DiskHighPct: 90, DiskLowPct: 80, RecoveryWindow: time.Minute}, clock)
	var pct float64
	s.usage = func(string) (float64, error) { return pct, nil }

	pct = 50
	s.Check()
	if s.DiskAlert() {
		t.Fatalf("no alert expected at 50%%")
	}

	pct = 95
	s.Check()
	if !s.DiskAlert() {
		t.Fatalf("alert expected at 95%%")
	}

	// between the thresholds the alert holds
	pct = 85
	clock.Advance(2 * time.Minute)
	s.Check()
	if !s.DiskAlert() {
		t.Fatalf("alert should hold between thresholds")
	}

	pct = 70
	s.Check()
	if s.DiskAlert() {
		t.Fatalf("alert should clear below low once the window has passed")
	}

	pct = 96
	s.Check()
	pct = 70
	clock.Advance(30 * time.Second)
	s.Check()
	if !s.DiskAlert() {
		t.Fatalf("alert should hold inside the recovery window")
	}
	clock.Advance(time.Minute)
	s.Check()
	if s.DiskAlert() {
		t.Fatalf("alert should clear after the recovery window")
	}
	if s.UsedPct() != 70 {
		t.Fatalf("expected used 70, got %v", s.UsedPct())
	}
}

func TestStatErrorKeepsState(t *testing.T) {
	s := NewSensor(MonitorConfig{DiskHighPct: 90, DiskLowPct: 80}, nil)
	s.usage = func(string) (float64, error) { return 99, nil }
	s.Check()
	s.usage = func(string) (float64, error) { return 0, errors.New("boom") }
	s.Check()
	if !s.DiskAlert() {
		t.Fatalf("failed sample must not clear the alert")
	}
}

func TestDiskUsedPctRealPath(t *testing.T) {
	pct, err := diskUsedPct(os.TempDir())
	if err != nil {
		t.Fatalf("statfs: %v", err)
	}
	if pct < 0 || pct > 100 {
		t.Fatalf("usage out of range: %v", pct)
	}
}
