package mariadb

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/plugin"
	"github.com/datamancy/toolhost/pkg/pool"
	"github.com/datamancy/toolhost/pkg/sqlguard"
)

type nopPool struct{}

func (nopPool) Name() string { return Source }
func (nopPool) Query(ctx context.Context, shadow credentials.Shadow, statement string) (*pool.Rows, error) {
	return &pool.Rows{}, nil
}
func (nopPool) Stats() pool.Stats { return pool.Stats{} }
func (nopPool) Close() error      { return nil }

func newHost(t *testing.T, withSource bool) *plugin.HostContext {
	t.Helper()

	cfg := config.DefaultConfig()
	pools := map[string]pool.Pool{}
	if withSource {
		cfg.DataSources = map[string]config.DataSourceConfig{
			Source: {
				Driver:         "mariadb",
				Host:           "maria.internal",
				Port:           3306,
				Database:       "pipeline",
				PoolAccount:    "toolhost_pool",
				MaxConns:       4,
				AcquireTimeout: time.Second,
			},
		}
		pools[Source] = nopPool{}
	}

	return &plugin.HostContext{
		Config:    cfg,
		Logger:    zerolog.Nop(),
		Validator: sqlguard.NewValidator(),
		Resolver:  credentials.NewResolver(t.TempDir(), zerolog.Nop()),
		Pools:     pool.NewManagerWithPools(pools, zerolog.Nop()),
		Metrics:   metrics.New(),
	}
}

func TestManifest(t *testing.T) {
	m := New().Manifest()
	assert.Equal(t, "mariadb-tools", m.ID)
	assert.Equal(t, []plugin.Capability{plugin.CapabilityDatabaseRead}, m.Capabilities)
}

func TestRegisterTools(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(context.Background(), newHost(t, true)))

	cat := catalog.New(zerolog.Nop())
	require.NoError(t, p.RegisterTools(cat))
	cat.Seal()

	entry, err := cat.Lookup("query_mariadb")
	require.NoError(t, err)
	assert.Equal(t, "mariadb-tools", entry.Definition.PluginID)
}

func TestInit_FailsWithoutConfiguredSource(t *testing.T) {
	assert.Error(t, New().Init(context.Background(), newHost(t, false)))
}
