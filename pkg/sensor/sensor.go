package sensor

import (
	"sync"
	"time"

	"courier/pkg/logger"
	"courier/pkg/metrics"
	"courier/pkg/timeutil"

	"golang.org/x/sys/unix"
)

// Sensor polls disk usage of the store volume and raises an alert above
// DiskHighPct. The alert clears once usage is below DiskLowPct and the
// recovery window has passed.
type Sensor struct {
	config   MonitorConfig
	clock    timeutil.Clock
	usage    func(path string) (float64, error)
	stopCh   chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	diskAlert     bool
	usedPct       float64
	lastDiskAlert time.Time
}

// MonitorConfig configures the sensor.
type MonitorConfig struct {
	Path           string
	PollInterval   time.Duration
	DiskHighPct    int
	DiskLowPct     int
	RecoveryWindow time.Duration
}

// NewSensor builds a sensor. A nil clock uses the wall clock.
func NewSensor(config MonitorConfig, clock timeutil.Clock) *Sensor {
	if clock == nil {
		clock = timeutil.Real()
	}
	if config.Path == "" {
		config.Path = "/"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	return &Sensor{
		config: config,
		clock:  clock,
		usage:  diskUsedPct,
		stopCh: make(chan struct{}),
	}
}

// Start runs an immediate check and then polls in the background.
func (s *Sensor) Start() {
	s.Check()
	go s.run()
}

// Stop ends polling. It is safe to call more than once.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// DiskAlert reports whether disk usage is currently alerting.
func (s *Sensor) DiskAlert() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskAlert
}

// UsedPct is the last observed disk usage percentage.
func (s *Sensor) UsedPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedPct
}

func (s *Sensor) run() {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check()
		case <-s.stopCh:
			return
		}
	}
}

// Check samples disk usage once and updates the alert state.
func (s *Sensor) Check() {
	usedPct, err := s.usage(s.config.Path)
	if err != nil {
		logger.Warn("disk_stat_failed", "path", s.config.Path, "error", err)
		return
	}
	metrics.DiskUsedPct.Set(usedPct)

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usedPct = usedPct

	if usedPct > float64(s.config.DiskHighPct) {
		if !s.diskAlert {
			logger.Warn("disk_usage_high", "used_pct", usedPct, "threshold", s.config.DiskHighPct)
			s.diskAlert = true
		}
		s.lastDiskAlert = now
		return
	}
	if s.diskAlert && usedPct < float64(s.config.DiskLowPct) && now.Sub(s.lastDiskAlert) >= s.config.RecoveryWindow {
		logger.Info("disk_usage_recovered", "used_pct", usedPct, "threshold", s.config.DiskLowPct, "window", s.config.RecoveryWindow)
		s.diskAlert = false
	}
}

func diskUsedPct(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	available := stat.Bavail * uint64(stat.Bsize)
	return float64(total-available) / float64(total) * 100, nil
}
