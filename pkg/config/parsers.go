package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged config with the source that won.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseConfigFlags parses the three supported flags from args.
func ParseConfigFlags(args []string) (Flags, error) {
	fs := pflag.NewFlagSet("courier", pflag.ContinueOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	db := fs.String("db", defaultDBPath, "Pebble DB path")
	cfgPath := fs.StringP("config", "c", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DB: *db, Config: *cfgPath, Set: set}, nil
}

// ParseConfigFile loads the config file, reporting whether it was found.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs overlays COURIER_* variables onto base and reports
// whether any were present. base is modified in place.
func ParseConfigEnvs(base *Config) (bool, error) {
	used := false
	get := func(name string) (string, bool) {
		v, ok := os.LookupEnv("COURIER_" + name)
		v = strings.TrimSpace(v)
		if ok && v != "" {
			used = true
			return v, true
		}
		return "", false
	}
	var errs []string
	fail := func(name string, err error) {
		errs = append(errs, fmt.Sprintf("COURIER_%s: %v", name, err))
	}

	if v, ok := get("ADDR"); ok {
		host, port, err := splitAddr(v)
		if err != nil {
			fail("ADDR", err)
		} else {
			base.Server.Address, base.Server.Port = host, port
		}
	}
	if v, ok := get("SERVER_ADDRESS"); ok {
		base.Server.Address = v
	}
	if v, ok := get("SERVER_PORT"); ok {
		if p, err := strconv.Atoi(v); err != nil {
			fail("SERVER_PORT", err)
		} else {
			base.Server.Port = p
		}
	}
	if v, ok := get("DB_PATH"); ok {
		base.Server.DBPath = v
	}
	if v, ok := get("DISABLE_WAL"); ok {
		base.Server.DisableWAL = parseBool(v)
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		base.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v, ok := get("RATE_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			fail("RATE_RPS", err)
		} else {
			base.Security.RateLimit.RPS = f
		}
	}
	if v, ok := get("RATE_BURST"); ok {
		if i, err := strconv.Atoi(v); err != nil {
			fail("RATE_BURST", err)
		} else {
			base.Security.RateLimit.Burst = i
		}
	}
	if v, ok := get("IP_WHITELIST"); ok {
		base.Security.IPWhitelist = parseList(v)
	}
	if v, ok := get("API_BACKEND_KEYS"); ok {
		base.Security.APIKeys.Backend = parseList(v)
	}
	if v, ok := get("API_FRONTEND_KEYS"); ok {
		base.Security.APIKeys.Frontend = parseList(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		base.Logging.Level = v
	}
	if v, ok := get("HISTORY_PAGE_SIZE"); ok {
		if i, err := strconv.Atoi(v); err != nil {
			fail("HISTORY_PAGE_SIZE", err)
		} else {
			base.Chat.HistoryPageSize = i
		}
	}
	if v, ok := get("SEARCH_PAGE_SIZE"); ok {
		if i, err := strconv.Atoi(v); err != nil {
			fail("SEARCH_PAGE_SIZE", err)
		} else {
			base.Chat.SearchPageSize = i
		}
	}
	if v, ok := get("REALTIME_SEND_BUFFER"); ok {
		if i, err := strconv.Atoi(v); err != nil {
			fail("REALTIME_SEND_BUFFER", err)
		} else {
			base.Realtime.SendBuffer = i
		}
	}
	if v, ok := get("REALTIME_READ_DEADLINE"); ok {
		if d, err := parseDuration(v); err != nil {
			fail("REALTIME_READ_DEADLINE", err)
		} else {
			base.Realtime.ReadDeadline = d
		}
	}
	if v, ok := get("REALTIME_WRITE_TIMEOUT"); ok {
		if d, err := parseDuration(v); err != nil {
			fail("REALTIME_WRITE_TIMEOUT", err)
		} else {
			base.Realtime.WriteTimeout = d
		}
	}
	if v, ok := get("REALTIME_MAX_MESSAGE_SIZE"); ok {
		if s, err := parseSizeBytes(v); err != nil {
			fail("REALTIME_MAX_MESSAGE_SIZE", err)
		} else {
			base.Realtime.MaxMessageSize = s
		}
	}
	if v, ok := get("BACKLOG_ENABLED"); ok {
		base.Backlog.Enabled = parseBool(v)
	}
	if v, ok := get("BACKLOG_CRON"); ok {
		base.Backlog.Cron = v
	}
	if v, ok := get("SENSOR_POLL_INTERVAL"); ok {
		if d, err := parseDuration(v); err != nil {
			fail("SENSOR_POLL_INTERVAL", err)
		} else {
			base.Sensor.PollInterval = d
		}
	}
	if v, ok := get("SENSOR_DISK_HIGH_PCT"); ok {
		if i, err := strconv.Atoi(v); err != nil {
			fail("SENSOR_DISK_HIGH_PCT", err)
		} else {
			base.Sensor.DiskHighPct = i
		}
	}
	if v, ok := get("SENSOR_DISK_LOW_PCT"); ok {
		if i, err := strconv.Atoi(v); err != nil {
			fail("SENSOR_DISK_LOW_PCT", err)
		} else {
			base.Sensor.DiskLowPct = i
		}
	}

	if len(errs) > 0 {
		return used, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return used, nil
}

// LoadEffectiveConfig merges file, environment and flags. The file is the
// base, env overrides it, explicit --addr/--db flags override both.
func LoadEffectiveConfig(flags Flags) (EffectiveConfigResult, error) {
	fileCfg, found, err := ParseConfigFile(flags)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	if flags.Set["config"] && !found {
		return EffectiveConfigResult{}, fmt.Errorf("config file %q not found", flags.Config)
	}

	source := "env"
	if found {
		source = "config"
	}

	envUsed, err := ParseConfigEnvs(fileCfg)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	if !found && !envUsed {
		source = "defaults"
	}

	if flags.Set["addr"] {
		host, port, err := splitAddr(flags.Addr)
		if err != nil {
			return EffectiveConfigResult{}, fmt.Errorf("--addr: %w", err)
		}
		fileCfg.Server.Address, fileCfg.Server.Port = host, port
		source = "flags"
	}
	if flags.Set["db"] {
		fileCfg.Server.DBPath = flags.DB
		source = "flags"
	}

	if err := ValidateConfig(fileCfg); err != nil {
		return EffectiveConfigResult{}, err
	}
	return EffectiveConfigResult{
		Config: fileCfg,
		Addr:   fileCfg.Addr(),
		DBPath: fileCfg.Server.DBPath,
		Source: source,
	}, nil
}

// splitAddr accepts ":8080", "host:8080" or "host".
func splitAddr(addr string) (string, int, error) {
	if !strings.Contains(addr, ":") {
		return addr, 0, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	if portStr == "" {
		return host, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func parseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
