// Package host assembles the tool invocation host: configuration,
// logging, audit, pools, the plugin catalog, and the call surface.
// Construction is strictly phased: build everything, load plugins,
// seal the catalog, then serve.
package host

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/audit"
	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/logger"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/dispatch"
	"github.com/datamancy/toolhost/pkg/plugin"
	"github.com/datamancy/toolhost/pkg/pool"
	"github.com/datamancy/toolhost/pkg/server"
	"github.com/datamancy/toolhost/pkg/sqlguard"

	"github.com/datamancy/toolhost/plugins/browser"
	"github.com/datamancy/toolhost/plugins/clickhouse"
	"github.com/datamancy/toolhost/plugins/containers"
	"github.com/datamancy/toolhost/plugins/directory"
	"github.com/datamancy/toolhost/plugins/mariadb"
	"github.com/datamancy/toolhost/plugins/postgres"
	"github.com/datamancy/toolhost/plugins/vectors"
)

const shutdownTimeout = 10 * time.Second

// Host is the assembled process.
type Host struct {
	cfg    *config.Config
	log    *logger.Logger
	zlog   zerolog.Logger
	sink   *audit.Sink
	pools  *pool.Manager
	server *server.Server
}

// New builds the host from configuration. Plugins whose backend is not
// configured are skipped with a log line; a plugin that is configured
// but fails to load aborts startup.
func New(cfg *config.Config) (*Host, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	zlog := log.GetZerolog()

	m := metrics.New()

	sink, err := audit.NewSink(cfg.Audit)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open audit sink: %w", err)
	}

	pools, err := pool.NewManager(cfg.DataSources, m, zlog)
	if err != nil {
		sink.Close()
		log.Close()
		return nil, fmt.Errorf("failed to build connection pools: %w", err)
	}

	var resolverOpts []credentials.Option
	if cfg.Secrets.LegacySharedAccount != "" {
		resolverOpts = append(resolverOpts,
			credentials.WithLegacyFallback(cfg.Secrets.LegacySharedAccount, cfg.Secrets.LegacySharedSecret))
	}

	hostCtx := &plugin.HostContext{
		Config:    cfg,
		Logger:    zlog,
		Validator: sqlguard.NewValidator(),
		Resolver:  credentials.NewResolver(cfg.Secrets.Dir, zlog, resolverOpts...),
		Pools:     pools,
		Audit:     sink,
		Metrics:   m,
	}

	cat := catalog.New(zlog)
	loader, err := plugin.NewLoader(cfg.Host.APIVersion, cfg.Host.GrantedCapabilities, cat, hostCtx, zlog)
	if err != nil {
		pools.Close()
		sink.Close()
		log.Close()
		return nil, err
	}

	if err := loader.LoadAll(context.Background(), enabledPlugins(cfg)); err != nil {
		pools.Close()
		sink.Close()
		log.Close()
		return nil, err
	}
	cat.Seal()

	dispatcher := dispatch.New(cat, sink, m, cfg.Server.CallTimeout, zlog)
	srv := server.New(cfg.Server, dispatcher, cat, m, zlog)

	return &Host{
		cfg:    cfg,
		log:    log,
		zlog:   zlog,
		sink:   sink,
		pools:  pools,
		server: srv,
	}, nil
}

// enabledPlugins returns the plugins whose backends are configured.
// Load order is fixed so startup logs are comparable across runs.
func enabledPlugins(cfg *config.Config) []plugin.Plugin {
	var plugins []plugin.Plugin

	if _, ok := cfg.DataSources[postgres.Source]; ok {
		plugins = append(plugins, postgres.New())
	}
	if _, ok := cfg.DataSources[clickhouse.Source]; ok {
		plugins = append(plugins, clickhouse.New())
	}
	if _, ok := cfg.DataSources[mariadb.Source]; ok {
		plugins = append(plugins, mariadb.New())
	}
	if cfg.Vectors.URL != "" {
		plugins = append(plugins, vectors.New())
	}
	if cfg.Directory.URL != "" {
		plugins = append(plugins, directory.New())
	}
	if cfg.Containers.DefaultImage != "" {
		plugins = append(plugins, containers.New())
	}
	if cfg.Browser.ControlURL != "" {
		plugins = append(plugins, browser.New())
	}

	return plugins
}

// Run serves until SIGINT or SIGTERM, then shuts down in order:
// listener, pools, audit sink, log writers.
func (h *Host) Run() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		h.zlog.Info().Str("signal", sig.String()).Msg("Received signal")
	case err := <-errCh:
		if err != nil {
			h.shutdown()
			return err
		}
	}

	h.shutdown()
	return nil
}

func (h *Host) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := h.server.Stop(ctx); err != nil {
		h.zlog.Warn().Err(err).Msg("Call surface shutdown failed")
	}
	h.pools.Close()
	if err := h.sink.Close(); err != nil {
		h.zlog.Warn().Err(err).Msg("Audit sink close failed")
	}
	h.zlog.Info().Msg("Host stopped")
	h.log.Close()
}
