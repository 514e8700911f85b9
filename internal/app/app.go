package app

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"courier/internal/backlog"
	"courier/pkg/api/auth"
	"courier/pkg/config"
	"courier/pkg/delivery"
	"courier/pkg/inbox"
	"courier/pkg/logger"
	"courier/pkg/presence"
	"courier/pkg/realtime"
	"courier/pkg/sensor"
	"courier/pkg/store"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	db       *store.DB
	engine   *delivery.Engine
	inbox    *inbox.Inbox
	signer   *auth.Signer
	gateway  *auth.Gateway
	realtime *realtime.Server
	hwSensor *sensor.Sensor
	backlog  *backlog.Manager

	backlogCancel context.CancelFunc
	srvFast       *fasthttp.Server
	state         string
}

// New opens the store and wires every component. It does not start the
// http server or background loops; Run does.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config
	if cfg == nil {
		return nil, fmt.Errorf("effective config missing")
	}
	if len(cfg.Security.APIKeys.Backend) == 0 {
		logger.Warn("no_backend_keys", "msg", "signed identities cannot be issued or verified")
	}

	if err := os.MkdirAll(eff.DBPath, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir %s: %w", eff.DBPath, err)
	}
	db, err := store.Open(eff.DBPath, store.Options{DisableWAL: cfg.Server.DisableWAL})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	dir, chats := presence.NewDirectory(), presence.NewOpenChats()
	engine := delivery.New(db, dir, chats, nil)
	ib := inbox.New(db, chats, inbox.Options{
		HistoryPageSize: cfg.Chat.HistoryPageSize,
		SearchPageSize:  cfg.Chat.SearchPageSize,
	})
	signer := auth.NewSigner(cfg.Security.APIKeys.Backend)

	rt := cfg.Realtime
	ws := realtime.NewServer(realtime.NewDispatcher(engine, ib, signer), realtime.Options{
		SendBuffer:     rt.SendBuffer,
		ReadDeadline:   rt.ReadDeadline.Duration(),
		WriteTimeout:   rt.WriteTimeout.Duration(),
		PingInterval:   rt.PingInterval.Duration(),
		MaxMessageSize: rt.MaxMessageSize.Int64(),
		InboundRPS:     rt.InboundRPS,
		InboundBurst:   rt.InboundBurst,
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
	})

	sc := cfg.Sensor
	hw := sensor.NewSensor(sensor.MonitorConfig{
		Path:           eff.DBPath,
		PollInterval:   sc.PollInterval.Duration(),
		DiskHighPct:    sc.DiskHighPct,
		DiskLowPct:     sc.DiskLowPct,
		RecoveryWindow: sc.RecoveryWindow.Duration(),
	}, nil)

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		db:        db,
		engine:    engine,
		inbox:     ib,
		signer:    signer,
		gateway:   auth.NewGateway(secConfig(cfg)),
		realtime:  ws,
		hwSensor:  hw,
		state:     "initialized",
	}
	if cfg.Backlog.Enabled {
		a.backlog = backlog.New(cfg.Backlog.Cron, db, nil)
	}
	return a, nil
}

func secConfig(cfg *config.Config) auth.SecConfig {
	sec := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Security.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		sec.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		sec.FrontendKeys[k] = struct{}{}
	}
	return sec
}

// Run starts background loops and the http server and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printSummary()

	a.hwSensor.Start()

	if a.backlog != nil {
		cancel, err := a.backlog.Start(ctx)
		if err != nil {
			return err
		}
		a.backlogCancel = cancel
	} else {
		logger.Info("backlog_disabled")
	}

	errCh := a.startHTTP(ctx)
	a.state = "running"
	logger.Info("server_started", "addr", a.eff.Addr, "version", a.version)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// printSummary logs the effective configuration at startup.
func (a *App) printSummary() {
	cfg := a.eff.Config
	ver := a.version
	if a.commit != "none" && a.commit != "" {
		ver += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		ver += " @ " + a.buildDate
	}
	logger.LogConfigSummary("courier", []string{
		fmt.Sprintf("version: %s", ver),
		fmt.Sprintf("listen: %s", a.eff.Addr),
		fmt.Sprintf("db_path: %s", a.eff.DBPath),
		fmt.Sprintf("config_source: %s", a.eff.Source),
		fmt.Sprintf("backend_keys: %d", len(cfg.Security.APIKeys.Backend)),
		fmt.Sprintf("frontend_keys: %d", len(cfg.Security.APIKeys.Frontend)),
	})
	logger.LogConfigSummary("realtime", []string{
		fmt.Sprintf("send_buffer: %s frames", humanize.Comma(int64(cfg.Realtime.SendBuffer))),
		fmt.Sprintf("max_message_size: %s", humanize.IBytes(uint64(cfg.Realtime.MaxMessageSize.Int64()))),
		fmt.Sprintf("read_deadline: %s", cfg.Realtime.ReadDeadline.Duration()),
		fmt.Sprintf("ping_interval: %s", cfg.Realtime.PingInterval.Duration()),
		fmt.Sprintf("inbound_rate: %.1f/s burst %d", cfg.Realtime.InboundRPS, cfg.Realtime.InboundBurst),
	})
	if cfg.Server.DisableWAL {
		logger.LogConfigSummary("config_durability_summary", []string{
			"pebble_wal: disabled",
			"loss_window: writes since the last memtable flush",
		})
	}
}
