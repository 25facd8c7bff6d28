package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/api"
	"github.com/nerrad567/houseflow-core/internal/auth"
	"github.com/nerrad567/houseflow-core/internal/controller"
	"github.com/nerrad567/houseflow-core/internal/controller/status"
	"github.com/nerrad567/houseflow-core/internal/discovery"
	"github.com/nerrad567/houseflow-core/internal/frame"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/houseflow-core/internal/mcp"
	"github.com/nerrad567/houseflow-core/internal/provider"
	"github.com/nerrad567/houseflow-core/internal/session"
)

// Build identifies the running binary.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Run loads the configuration at path for role and runs the daemon until
// ctx is cancelled. It returns nil on a clean shutdown.
func Run(ctx context.Context, path string, role config.Role, build Build) error {
	log := logging.Default()
	log.Info("starting houseflow",
		"role", string(role),
		"version", build.Version,
		"commit", build.Commit,
		"build_date", build.Date,
	)

	cfg, err := config.Load(path, role)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, "houseflow-"+string(role), build.Version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	d := &daemon{
		cfg:    cfg,
		log:    log,
		build:  build,
		checks: make(map[string]api.HealthChecker),
	}
	defer d.close()
	return d.run(ctx)
}

// runner is a component whose Run blocks until ctx is cancelled.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

type closer struct {
	name  string
	close func() error
}

// checkFunc adapts a function to api.HealthChecker.
type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// lateProvider forwards to a provider assigned once the provider graph is
// built. Controllers that issue calls hold it, since the provider itself
// needs the finished controller list. It is assigned before any runner
// starts.
type lateProvider struct {
	provider.Provider
}

type daemon struct {
	cfg   *config.Config
	log   *logging.Logger
	build Build

	controllers []controller.Controller
	runners     []runner
	closers     []closer
	checks      map[string]api.HealthChecker

	database api.DBStatsSource
	history  api.HistorySource
}

func (d *daemon) addRunner(name string, run func(ctx context.Context) error) {
	d.runners = append(d.runners, runner{name: name, run: run})
}

func (d *daemon) addCloser(name string, close func() error) {
	d.closers = append(d.closers, closer{name: name, close: close})
}

// close releases resources in reverse order of acquisition.
func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		d.log.Info("closing " + c.name)
		if err := c.close(); err != nil {
			d.log.Error("error closing "+c.name, "error", err)
		}
	}
}

func (d *daemon) run(ctx context.Context) error {
	late := &lateProvider{}

	st := status.New(d.log)
	d.controllers = append(d.controllers, st)
	d.addRunner(status.Name, st.Run)

	if err := d.connectSinks(ctx, late); err != nil {
		return err
	}

	if d.cfg.Role == config.RoleHub && d.cfg.Uplink.Enabled {
		if err := d.startUplink(late); err != nil {
			return err
		}
	}

	events := api.NewHub(d.cfg.WebSocket, d.log)
	d.controllers = append(d.controllers, events)
	d.addRunner(api.EventsName, func(ctx context.Context) error {
		events.Run(ctx)
		return nil
	})

	master := controller.NewMaster(d.log, d.controllers...)
	d.log.Info("controllers ready", "controllers", master.Slaves())

	ws, err := d.newProvider(master)
	if err != nil {
		return err
	}
	d.addRunner(ws.Name(), ws.Run)
	late.Provider = provider.NewMaster(d.log, ws)

	srv, err := api.New(api.Deps{
		Config:   d.cfg.API,
		WS:       d.cfg.WebSocket,
		Logger:   d.log,
		Provider: late.Provider,
		Upgrade:  ws,
		Status:   st,
		History:  d.history,
		Events:   events,
		Checks:   d.checks,
		Stats:    []api.StatsSource{ws},
		Database: d.database,
		Version:  d.build.Version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if d.cfg.MCP.Enabled {
		tools, mcpErr := mcp.New(mcp.Options{
			Config:   d.cfg.MCP,
			Provider: late.Provider,
			Status:   st,
			Version:  d.build.Version,
			Logger:   d.log,
		})
		if mcpErr != nil {
			return fmt.Errorf("creating MCP server: %w", mcpErr)
		}
		d.addRunner("mcp", tools.Run)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg := d.start(runCtx)

	if err := srv.Start(runCtx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("starting API server: %w", err)
	}
	d.log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", d.cfg.API.Host, d.cfg.API.Port),
		"provider", ws.Name(),
	)

	if d.cfg.Role == config.RoleHub && d.cfg.Discovery.Enabled {
		adv := discovery.NewAdvertiser(d.cfg.Discovery, d.log)
		info := discovery.Info{
			HubID:   d.cfg.Hub.ID,
			Port:    d.cfg.API.Port,
			Path:    d.cfg.WebSocket.Path,
			TLS:     d.cfg.API.TLS.Enabled,
			Version: d.build.Version,
		}
		if advErr := adv.Advertise(info); advErr != nil {
			d.log.Warn("mDNS advertisement failed", "error", advErr)
		} else {
			defer adv.Stop()
		}
	}

	d.log.Info("houseflow started", "role", string(d.cfg.Role))

	<-ctx.Done()
	d.log.Info("shutdown signal received")

	if err := srv.Close(); err != nil {
		d.log.Error("error stopping API server", "error", err)
	}
	cancel()
	wg.Wait()

	d.log.Info("houseflow stopped")
	return nil
}

// start launches every runner under ctx. Runner failures are logged and do
// not stop the others.
func (d *daemon) start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("component stopped with error", "component", r.name, "error", err)
			}
		}()
	}
	return &wg
}

// newProvider builds the tier's WebSocket provider: accessories at the
// hub, hubs at the server.
func (d *daemon) newProvider(ctrl controller.Controller) (*provider.WebSocket, error) {
	opts := provider.Options{
		Session:    sessionConfig(d.cfg.WebSocket),
		Controller: ctrl,
		Logger:     d.log,
	}

	var peers []auth.Peer
	switch d.cfg.Role {
	case config.RoleHub:
		opts.Name = provider.NameHive
		opts.Codec = frame.Codec{Tier: frame.TierAccessory, RequireAccessoryID: d.cfg.WebSocket.RequireAccessoryID}
		for _, a := range d.cfg.Accessories {
			acc, err := a.Accessory()
			if err != nil {
				return nil, fmt.Errorf("accessory %q: %w", a.Name, err)
			}
			opts.Accessories = append(opts.Accessories, acc)
			peers = append(peers, auth.Peer{ID: acc.ID, Name: acc.Name, PasswordHash: a.PasswordHash})
		}
	default:
		opts.Name = provider.NameLighthouse
		opts.Codec = frame.Codec{Tier: frame.TierHub}
		for _, h := range d.cfg.Hubs {
			id, err := uuid.Parse(h.ID)
			if err != nil {
				return nil, fmt.Errorf("hub %q: %w", h.Name, err)
			}
			peers = append(peers, auth.Peer{ID: id, Name: h.Name, PasswordHash: h.PasswordHash})
		}
	}

	dir, err := auth.NewDirectory(peers...)
	if err != nil {
		return nil, fmt.Errorf("building peer directory: %w", err)
	}
	opts.Peers = dir

	d.log.Info("provider configured",
		"provider", opts.Name,
		"tier", opts.Codec.Tier.String(),
		"peers", len(dir),
		"accessories", len(opts.Accessories),
	)
	return provider.NewWebSocket(opts), nil
}

func sessionConfig(ws config.WebSocketConfig) session.Config {
	return session.Config{
		PingInterval:   ws.GetPingInterval(),
		PingTimeout:    ws.GetPongTimeout(),
		CallTimeout:    ws.GetCallTimeout(),
		WriteTimeout:   ws.GetWriteTimeout(),
		MaxMessageSize: int64(ws.MaxMessageSize),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
