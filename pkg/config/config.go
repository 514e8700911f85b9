package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddress = "0.0.0.0"
	defaultPort    = 8080
	defaultDBPath  = "./.database"

	defaultLogLevel = "info"

	defaultHistoryPageSize = 20
	defaultSearchPageSize  = 10
	maxPageSize            = 200

	defaultRateRPS   = 50
	defaultRateBurst = 100

	// realtime defaults
	defaultSendBuffer     = 64
	defaultReadDeadline   = 60 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultPingInterval   = 25 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultInboundRPS     = 20
	defaultInboundBurst   = 40

	defaultBacklogCron = "*/5 * * * *"

	// sensor defaults
	defaultSensorPollInterval   = 5 * time.Second
	defaultSensorDiskHighPct    = 80
	defaultSensorDiskLowPct     = 60
	defaultSensorRecoveryWindow = 30 * time.Second
)

var (
	cfgMu     sync.RWMutex
	globalCfg *Config
)

// SetConfig installs the process-wide config.
func SetConfig(c *Config) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	globalCfg = c
}

// GetConfig returns the process-wide config, or nil before SetConfig.
func GetConfig() *Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return globalCfg
}

// LoadConfigFile reads and parses a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &c, nil
}

// Addr returns host:port for the http listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// ResolveConfigPath returns the config path to load.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet && flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("COURIER_CONFIG"); p != "" {
		return p
	}
	if flagPath != "" {
		return flagPath
	}
	return "./config.yaml"
}
