package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/apprunner/internal/config"
	"github.com/morezero/apprunner/pkg/apprunner"
	"github.com/morezero/apprunner/pkg/commsutil"
	"github.com/morezero/apprunner/pkg/db"
	"github.com/morezero/apprunner/pkg/dispatcher"
	"github.com/morezero/apprunner/pkg/events"
	"github.com/morezero/apprunner/pkg/manifest"
	"github.com/morezero/apprunner/pkg/script"
	"github.com/morezero/apprunner/pkg/view"
)

const hostLogPrefix = "server:host"

// Bindings every script receives from the host.
const (
	BindingRequest  = "request"
	BindingResolve  = "resolve"
	BindingTemplate = "template"
	BindingDB       = "db"
)

// HostOptions selects which connections NewHost opens.
type HostOptions struct {
	// Comms connects to NATS when COMMS_ENABLED is set.
	Comms bool
	// Database opens DATABASE_URL when it is set.
	Database bool
}

// Host owns the script registry, the dispatcher and the connections scripts use.
// Serve and the one-shot CLI commands share it.
type Host struct {
	cfg     *config.Config
	started time.Time

	Scripts    *script.Registry
	Finders    *apprunner.Finders
	Dispatcher *dispatcher.Dispatcher
	Templates  *view.Template
	Records    *db.Records

	pool *pgxpool.Pool
	nc   *comms.Conn
}

// NewHost loads the manifest, registers the built-in scripts and opens the
// connections selected by opts.
func NewHost(ctx context.Context, cfg *config.Config, opts HostOptions) (*Host, error) {
	h := &Host{
		cfg:     cfg,
		started: time.Now(),
		Scripts: script.NewRegistry(),
		Finders: apprunner.NewFinders(),
	}
	apprunner.RegisterFinder(h.Finders, h.Scripts.Find)

	// Step 1: Scripts from the manifest, then the built-in system app
	m, err := manifest.Load(cfg.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load manifest: %w", hostLogPrefix, err)
	}
	n, err := m.Register(h.Scripts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to register scripts: %w", hostLogPrefix, err)
	}
	if err := registerSystemApp(h); err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Registered %d scripts from %s", hostLogPrefix, n, m.Name))

	// Step 2: Templates
	if cfg.TemplateGlob != "" {
		tpl, err := view.ParseGlob(cfg.TemplateGlob)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to parse templates: %w", hostLogPrefix, err)
		}
		h.Templates = tpl
		slog.Info(fmt.Sprintf("%s - Parsed templates %v", hostLogPrefix, tpl.Names()))
	}

	// Step 3: Database
	if opts.Database && cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to database: %w", hostLogPrefix, err)
		}
		h.pool = pool
		h.Records = db.NewRecords(pool)

		if cfg.RunMigrations {
			applied, err := db.Migrate(ctx, pool, cfg.MigrationPath)
			if err != nil {
				h.Close()
				return nil, fmt.Errorf("%s - failed to run migrations: %w", hostLogPrefix, err)
			}
			slog.Info(fmt.Sprintf("%s - Applied %d migrations", hostLogPrefix, len(applied)))
		}
	}

	// Step 4: COMMS
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if opts.Comms && cfg.COMMSEnabled {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", hostLogPrefix, err)
		}
		h.nc = nc
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{
			Subject:   cfg.DispatchedEventSubject,
			PerScript: cfg.PerScriptEvents,
		})
	}

	// Step 5: Dispatcher
	bindings := map[string]interface{}{BindingResolve: h.Scripts}
	if h.Templates != nil {
		bindings[BindingTemplate] = h.Templates
	}
	if h.Records != nil {
		bindings[BindingDB] = h.Records
	}
	h.Dispatcher = dispatcher.NewDispatcher(h.Scripts, dispatcher.Options{
		Finders:      h.Finders,
		Publisher:    publisher,
		Logger:       slog.Default(),
		Bindings:     bindings,
		Reserved:     []string{BindingRequest, BindingDB},
		CaptureLimit: cfg.CaptureLimit,
		Timeout:      cfg.RequestTimeout,
	})
	return h, nil
}

// Pool returns the database pool, or nil when no database is configured.
func (h *Host) Pool() *pgxpool.Pool {
	return h.pool
}

// Comms returns the NATS connection, or nil when COMMS is disabled.
func (h *Host) Comms() *comms.Conn {
	return h.nc
}

// Health is the host health report.
type Health struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Scripts   int             `json:"scripts"`
	Uptime    string          `json:"uptime"`
	Timestamp string          `json:"timestamp"`
}

// Health checks the connections the host opened.
func (h *Host) Health(ctx context.Context) *Health {
	checks := map[string]bool{}
	if h.pool != nil {
		checks["database"] = h.pool.Ping(ctx) == nil
	}
	if h.nc != nil {
		checks["comms"] = h.nc.IsConnected()
	}

	status := "healthy"
	for _, ok := range checks {
		if !ok {
			status = "unhealthy"
		}
	}
	return &Health{
		Status:    status,
		Checks:    checks,
		Scripts:   h.Scripts.Len(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Close drains COMMS and closes the database pool.
func (h *Host) Close() {
	if h.nc != nil {
		if err := h.nc.Drain(); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", hostLogPrefix, err))
		}
	}
	if h.pool != nil {
		h.pool.Close()
	}
}

// SetupLogging installs the default slog logger at level, writing to w.
func SetupLogging(level string, w io.Writer) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}
