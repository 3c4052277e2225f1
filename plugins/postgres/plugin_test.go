package postgres

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamancy/toolhost/internal/audit"
	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/dispatch"
	"github.com/datamancy/toolhost/pkg/hosterror"
	"github.com/datamancy/toolhost/pkg/plugin"
	"github.com/datamancy/toolhost/pkg/pool"
	"github.com/datamancy/toolhost/pkg/sqlguard"
)

// fakePool records queries so tests can assert what reached the
// backend, and as which shadow account.
type fakePool struct {
	queries  []string
	accounts []string
}

func (f *fakePool) Name() string { return Source }

func (f *fakePool) Query(ctx context.Context, shadow credentials.Shadow, statement string) (*pool.Rows, error) {
	f.queries = append(f.queries, statement)
	f.accounts = append(f.accounts, shadow.Account)
	return &pool.Rows{
		Columns: []string{"id"},
		Values:  [][]any{{int64(1)}, {int64(2)}},
	}, nil
}

func (f *fakePool) Stats() pool.Stats { return pool.Stats{Max: 4} }
func (f *fakePool) Close() error      { return nil }

type fixture struct {
	plugin     *Plugin
	dispatcher *dispatch.Dispatcher
	pool       *fakePool
	secretsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	secretsDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Secrets.Dir = secretsDir
	cfg.DataSources = map[string]config.DataSourceConfig{
		Source: {
			Driver:         "postgres",
			Host:           "db.internal",
			Port:           5432,
			Database:       "lakehouse",
			PoolAccount:    "toolhost_pool",
			MaxConns:       4,
			AcquireTimeout: time.Second,
			RequiredSchema: "agent_observer",
		},
	}

	fake := &fakePool{}
	m := metrics.New()
	host := &plugin.HostContext{
		Config:    cfg,
		Logger:    zerolog.Nop(),
		Validator: sqlguard.NewValidator(),
		Resolver:  credentials.NewResolver(secretsDir, zerolog.Nop()),
		Pools:     pool.NewManagerWithPools(map[string]pool.Pool{Source: fake}, zerolog.Nop()),
		Metrics:   m,
	}

	p := New()
	cat := catalog.New(zerolog.Nop())
	require.NoError(t, p.Init(context.Background(), host))
	require.NoError(t, p.RegisterTools(cat))
	cat.Seal()

	sink := audit.NewSinkWithLogger(zerolog.Nop(), 512)
	return &fixture{
		plugin:     p,
		dispatcher: dispatch.New(cat, sink, m, time.Second, zerolog.Nop()),
		pool:       fake,
		secretsDir: secretsDir,
	}
}

func (f *fixture) provision(t *testing.T, identity, secret string) {
	t.Helper()
	path := filepath.Join(f.secretsDir, "shadow-agent-"+identity+".pwd")
	require.NoError(t, os.WriteFile(path, []byte(secret), 0o600))
}

func TestQueryPostgres_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice", "pw")

	result, err := f.dispatcher.Dispatch(context.Background(), "query_postgres",
		json.RawMessage(`{"sql":"SELECT id FROM agent_observer.sightings"}`), "alice")
	require.NoError(t, err)

	var rows pool.Rows
	require.NoError(t, json.Unmarshal(result, &rows))
	assert.Equal(t, []string{"id"}, rows.Columns)
	assert.Len(t, rows.Values, 2)

	require.Len(t, f.pool.queries, 1)
	assert.Equal(t, "SELECT id FROM agent_observer.sightings", f.pool.queries[0])
	assert.Equal(t, []string{"shadow_agent_alice"}, f.pool.accounts)
}

func TestQueryPostgres_UnprovisionedCallerNeverReachesPool(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), "query_postgres",
		json.RawMessage(`{"sql":"SELECT id FROM agent_observer.sightings"}`), "alice")
	require.Error(t, err)

	assert.Equal(t, hosterror.CodeUnprovisioned, hosterror.CodeOf(err))
	assert.Contains(t, err.Error(), credentials.ProvisionCommand)
	assert.Empty(t, f.pool.queries, "no query may execute for an unprovisioned caller")
}

func TestQueryPostgres_RejectedStatementNeverReachesPool(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice", "pw")

	tests := []struct {
		name string
		sql  string
	}{
		{"wrong schema", "SELECT * FROM public.users"},
		{"not a select", "DELETE FROM agent_observer.sightings"},
		{"denied function", "SELECT pg_sleep(10) FROM agent_observer.t"},
		{"stacked", "SELECT 1; DROP TABLE agent_observer.sightings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, _ := json.Marshal(map[string]string{"sql": tt.sql})
			_, err := f.dispatcher.Dispatch(context.Background(), "query_postgres",
				json.RawMessage(args), "alice")
			require.Error(t, err)
			assert.Equal(t, hosterror.CodeQueryRejected, hosterror.CodeOf(err))
		})
	}

	assert.Empty(t, f.pool.queries, "rejected statements must never reach the pool")
}

func TestQueryPostgres_PerSourceDeniedFunctionOverride(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice", "pw")

	cfg := f.plugin.host.Config
	ds := cfg.DataSources[Source]
	ds.DeniedFunctions = []string{"forbidden_fn"}
	cfg.DataSources[Source] = ds
	require.NoError(t, f.plugin.Init(context.Background(), f.plugin.host))

	_, err := f.dispatcher.Dispatch(context.Background(), "query_postgres",
		json.RawMessage(`{"sql":"SELECT forbidden_fn(x) FROM agent_observer.t"}`), "alice")
	require.Error(t, err)
	assert.Equal(t, hosterror.CodeQueryRejected, hosterror.CodeOf(err))
	assert.Empty(t, f.pool.queries)
}

func TestQueryPostgres_MissingArgumentFailsValidation(t *testing.T) {
	f := newFixture(t)
	f.provision(t, "alice", "pw")

	_, err := f.dispatcher.Dispatch(context.Background(), "query_postgres",
		json.RawMessage(`{}`), "alice")
	require.Error(t, err)
	assert.Equal(t, hosterror.CodeValidationError, hosterror.CodeOf(err))
	assert.Empty(t, f.pool.queries)
}

func TestInit_FailsWithoutConfiguredSource(t *testing.T) {
	host := &plugin.HostContext{
		Config: config.DefaultConfig(),
		Pools:  pool.NewManagerWithPools(map[string]pool.Pool{}, zerolog.Nop()),
	}
	assert.Error(t, New().Init(context.Background(), host))
}
