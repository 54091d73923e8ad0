// Package app wires mikoproxy's long-lived components together and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mikoworkspace/mikoproxy/api"
	"github.com/mikoworkspace/mikoproxy/config"
	"github.com/mikoworkspace/mikoproxy/download"
	"github.com/mikoworkspace/mikoproxy/events"
	"github.com/mikoworkspace/mikoproxy/httpclient"
	"github.com/mikoworkspace/mikoproxy/ipc"
	"github.com/mikoworkspace/mikoproxy/platform"
	"github.com/mikoworkspace/mikoproxy/session"
	"github.com/mikoworkspace/mikoproxy/storage"
	bboltstorage "github.com/mikoworkspace/mikoproxy/storage/bbolt"
	"github.com/mikoworkspace/mikoproxy/storage/jsonfile"
	"github.com/mikoworkspace/mikoproxy/storage/memory"
	redisstorage "github.com/mikoworkspace/mikoproxy/storage/redis"
)

const (
	// DefaultBoltFilename is the bolt session database used when
	// sessions.bolt_file is empty.
	DefaultBoltFilename = "mikoproxy_sessions.db"

	probeTimeout = 5 * time.Second
)

// App holds every process-scoped component.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Backend   storage.Backend
	Sessions  *session.Store
	Client    *http.Client
	Targets   *api.Targets
	Bus       *events.Bus
	Desktop   platform.Capabilities
	Downloads *download.Supervisor
	Commands  *ipc.Dispatcher
	Bridge    *ipc.Bridge
	API       *api.API

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures New.
type Option func(*options)

type options struct {
	backend storage.Backend
	desktop platform.Capabilities
	clock   func() time.Time
}

// WithBackend uses b instead of the backend named in the config.
func WithBackend(b storage.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithDesktop replaces the OS desktop integration.
func WithDesktop(d platform.Capabilities) Option {
	return func(o *options) { o.desktop = d }
}

// WithClock sets the session store's clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New builds an App from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		var err error
		if backend, err = OpenBackend(ctx, cfg.Sessions); err != nil {
			return nil, err
		}
	}

	storeOpts := []session.Option{session.WithTTL(cfg.Sessions.TTL), session.WithLogger(logger)}
	if o.clock != nil {
		storeOpts = append(storeOpts, session.WithClock(o.clock))
	}
	sessions := session.New(backend, storeOpts...)

	desktop := o.desktop
	if desktop == nil {
		desktop = platform.NewDesktop(logger)
	}

	client := httpclient.New(cfg.HTTP)
	targets := api.NewTargets(cfg.Targets)
	bus := events.NewBus(events.DefaultCapacity)
	downloads := download.NewSupervisor(cfg.Downloads.Downloader, cfg.Downloads.Dir, bus,
		download.WithLogger(logger), download.WithNotifier(desktop))
	commands := ipc.NewDispatcher(downloads, desktop, bus, logger)
	var bridgeOpts []ipc.BridgeOption
	if len(cfg.IPC.AllowedOrigins) > 0 {
		bridgeOpts = append(bridgeOpts, ipc.WithAllowedOrigins(cfg.IPC.AllowedOrigins...))
	}
	bridge := ipc.NewBridge(bus, commands, logger, bridgeOpts...)

	a := api.New(sessions, targets, cfg.UpstreamURL(),
		api.WithLogger(logger),
		api.WithClient(client),
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
		api.WithIPC(bridge),
	)

	return &App{
		Config:    cfg,
		Logger:    logger.With("component", "app"),
		Backend:   backend,
		Sessions:  sessions,
		Client:    client,
		Targets:   targets,
		Bus:       bus,
		Desktop:   desktop,
		Downloads: downloads,
		Commands:  commands,
		Bridge:    bridge,
		API:       a,
	}, nil
}

// OpenBackend opens the session backend selected by cfg.
func OpenBackend(ctx context.Context, cfg config.SessionsConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		path := cfg.File
		if path == "" {
			path = jsonfile.DefaultPath()
		}
		return jsonfile.New(path), nil
	case config.BackendBolt:
		path := cfg.BoltFile
		if path == "" {
			path = filepath.Join(filepath.Dir(jsonfile.DefaultPath()), DefaultBoltFilename)
		}
		b, err := bboltstorage.NewBackendFromFile(path, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("opening session database: %w", err)
		}
		return b, nil
	case config.BackendRedis:
		b, err := redisstorage.New(ctx, redisstorage.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return b, nil
	case config.BackendMemory:
		return memory.NewBackend(), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
}

// Handler returns the HTTP handler to serve.
func (a *App) Handler() http.Handler {
	return a.API.Router()
}

// Start loads persisted sessions, drops expired ones, probes the upstream
// and starts the periodic sweep. A failed probe is logged, not returned.
func (a *App) Start(ctx context.Context) error {
	if err := a.Sessions.Load(ctx); err != nil {
		return err
	}
	if n := a.Sessions.CleanupExpired(); n > 0 {
		a.Logger.Info("expired sessions removed at startup", "count", n)
	}
	if err := a.Probe(ctx); err != nil {
		a.Logger.Warn("upstream not reachable", "upstream", a.Config.UpstreamURL(), "error", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Sessions.Run(runCtx, a.Config.Sessions.SweepInterval)
	}()
	return nil
}

// Probe checks that {upstream}/api/health answers with a 2xx status.
func (a *App) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Config.UpstreamURL()+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return fmt.Errorf("health check timed out after %s", probeTimeout)
		}
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	a.Logger.Info("upstream reachable", "upstream", a.Config.UpstreamURL())
	return nil
}

// Shutdown stops the sweep, terminates running downloads, drops the UI
// connection and closes the session backend.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	if err := a.Bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing ui connection: %w", err))
	}
	if err := a.Downloads.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping downloads: %w", err))
	}
	if err := a.Backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing session backend: %w", err))
	}
	return errors.Join(errs...)
}
