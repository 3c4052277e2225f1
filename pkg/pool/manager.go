package pool

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// Manager holds one pool per configured data source. Built once at
// startup; the pool map is immutable during serving.
type Manager struct {
	pools  map[string]Pool
	logger zerolog.Logger
}

// NewManager constructs a pool for every configured source.
func NewManager(sources map[string]config.DataSourceConfig, m *metrics.Metrics, logger zerolog.Logger) (*Manager, error) {
	mgr := &Manager{
		pools:  make(map[string]Pool, len(sources)),
		logger: logger.With().Str("component", "pool-manager").Logger(),
	}

	for name, ds := range sources {
		var (
			p   Pool
			err error
		)
		switch ds.Driver {
		case "postgres":
			p, err = NewPostgresPool(name, ds, m, logger)
		case "clickhouse":
			p, err = NewClickHousePool(name, ds, m, logger)
		case "mariadb":
			p, err = NewMariaDBPool(name, ds, m, logger)
		default:
			err = fmt.Errorf("unknown driver %q", ds.Driver)
		}
		if err != nil {
			mgr.Close()
			return nil, fmt.Errorf("data source %s: %w", name, err)
		}

		mgr.pools[name] = p
		mgr.logger.Info().
			Str("source", name).
			Str("driver", ds.Driver).
			Int("max_conns", ds.MaxConns).
			Msg("Data source pool created")
	}

	return mgr, nil
}

// NewManagerWithPools wraps pre-built pools (for tests).
func NewManagerWithPools(pools map[string]Pool, logger zerolog.Logger) *Manager {
	return &Manager{pools: pools, logger: logger}
}

// Get returns the pool for a source name.
func (m *Manager) Get(source string) (Pool, error) {
	p, ok := m.pools[source]
	if !ok {
		return nil, hosterror.Backendf("unknown data source: %s", source)
	}
	return p, nil
}

// Sources lists the configured source names.
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Close closes every pool.
func (m *Manager) Close() {
	for name, p := range m.pools {
		if err := p.Close(); err != nil {
			m.logger.Warn().Err(err).Str("source", name).Msg("Failed to close pool")
		}
	}
}
