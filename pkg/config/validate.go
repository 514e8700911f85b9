package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// ValidateConfig fills defaults and rejects inconsistent values.
func ValidateConfig(c *Config) error {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.DBPath) == "" {
		c.Server.DBPath = defaultDBPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error: got %q", c.Logging.Level)
	}

	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}

	if c.Chat.HistoryPageSize <= 0 {
		c.Chat.HistoryPageSize = defaultHistoryPageSize
	}
	if c.Chat.SearchPageSize <= 0 {
		c.Chat.SearchPageSize = defaultSearchPageSize
	}
	if c.Chat.HistoryPageSize > maxPageSize || c.Chat.SearchPageSize > maxPageSize {
		return fmt.Errorf("chat page sizes must not exceed %d", maxPageSize)
	}

	rt := &c.Realtime
	if rt.SendBuffer <= 0 {
		rt.SendBuffer = defaultSendBuffer
	}
	if rt.ReadDeadline <= 0 {
		rt.ReadDeadline = Duration(defaultReadDeadline)
	}
	if rt.WriteTimeout <= 0 {
		rt.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if rt.PingInterval <= 0 {
		rt.PingInterval = Duration(defaultPingInterval)
	}
	if rt.PingInterval.Duration() >= rt.ReadDeadline.Duration() {
		return fmt.Errorf("realtime.ping_interval (%s) must be shorter than realtime.read_deadline (%s)",
			rt.PingInterval.Duration(), rt.ReadDeadline.Duration())
	}
	if rt.MaxMessageSize <= 0 {
		rt.MaxMessageSize = SizeBytes(defaultMaxMessageSize)
	}
	if rt.InboundRPS <= 0 {
		rt.InboundRPS = defaultInboundRPS
	}
	if rt.InboundBurst <= 0 {
		rt.InboundBurst = defaultInboundBurst
	}

	if c.Backlog.Cron == "" {
		c.Backlog.Cron = defaultBacklogCron
	}
	if c.Backlog.Enabled && !gronx.New().IsValid(c.Backlog.Cron) {
		return fmt.Errorf("backlog.cron is not a valid cron expression: %q", c.Backlog.Cron)
	}

	s := &c.Sensor
	if s.PollInterval <= 0 {
		s.PollInterval = Duration(defaultSensorPollInterval)
	}
	if s.PollInterval.Duration() < 100*time.Millisecond {
		return fmt.Errorf("sensor.poll_interval must be at least 100ms")
	}
	if s.DiskHighPct == 0 {
		s.DiskHighPct = defaultSensorDiskHighPct
	}
	if s.DiskLowPct == 0 {
		s.DiskLowPct = defaultSensorDiskLowPct
	}
	if s.DiskLowPct >= s.DiskHighPct || s.DiskHighPct > 100 || s.DiskLowPct < 0 {
		return fmt.Errorf("sensor disk thresholds invalid: low=%d high=%d", s.DiskLowPct, s.DiskHighPct)
	}
	if s.RecoveryWindow <= 0 {
		s.RecoveryWindow = Duration(defaultSensorRecoveryWindow)
	}
	return nil
}
