package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Chat     ChatConfig     `yaml:"chat"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Backlog  BacklogConfig  `yaml:"backlog"`
	Sensor   SensorConfig   `yaml:"sensor"`
}

// ServerConfig holds http listener and storage location settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
	// DisableWAL turns off the pebble write-ahead log. Sweeps and sends are
	// then only durable after the next flush.
	DisableWAL bool `yaml:"disable_wal"`
}

// SecurityConfig holds api keys, cors and rate limit settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	APIKeys     struct {
		Backend  []string `yaml:"backend"`
		Frontend []string `yaml:"frontend"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ChatConfig holds page sizes for history and partner search.
type ChatConfig struct {
	HistoryPageSize int `yaml:"history_page_size"`
	SearchPageSize  int `yaml:"search_page_size"`
}

// RealtimeConfig tunes websocket connections.
type RealtimeConfig struct {
	SendBuffer     int       `yaml:"send_buffer"`
	ReadDeadline   Duration  `yaml:"read_deadline"`
	WriteTimeout   Duration  `yaml:"write_timeout"`
	PingInterval   Duration  `yaml:"ping_interval"`
	MaxMessageSize SizeBytes `yaml:"max_message_size"`
	InboundRPS     float64   `yaml:"inbound_rps"`
	InboundBurst   int       `yaml:"inbound_burst"`
}

// BacklogConfig controls the scheduled pending-delivery gauge refresh.
type BacklogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// SensorConfig holds storage sensor tuning knobs.
type SensorConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	DiskHighPct    int      `yaml:"disk_high_pct"`
	DiskLowPct     int      `yaml:"disk_low_pct"`
	RecoveryWindow Duration `yaml:"recovery_window"`
}

// SizeBytes is a byte count parsed from strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSizeBytes(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSizeBytes(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration parses from strings like "100ms" or plain numbers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
