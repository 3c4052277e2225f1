package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// fakeConnector counts live backend connections so tests can observe
// the pool's bound from the backend's point of view.
type fakeConnector struct {
	queryDelay time.Duration
	live       atomic.Int32
	peak       atomic.Int32
	roles      sync.Map // role name -> struct{}
}

func (c *fakeConnector) Connect(ctx context.Context) (driver.Conn, error) {
	live := c.live.Add(1)
	for {
		peak := c.peak.Load()
		if live <= peak || c.peak.CompareAndSwap(peak, live) {
			break
		}
	}
	return &fakeConn{connector: c}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return nil }

type fakeConn struct {
	connector *fakeConnector
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error {
	c.connector.live.Add(-1)
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.connector.roles.Store(query, struct{}{})
	return driver.RowsAffected(0), nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	select {
	case <-time.After(c.connector.queryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &fakeRows{}, nil
}

type fakeRows struct {
	served int
}

func (r *fakeRows) Columns() []string { return []string{"id", "name"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.served >= 2 {
		return io.EOF
	}
	dest[0] = int64(r.served + 1)
	dest[1] = "row"
	r.served++
	return nil
}

func newTestPool(t *testing.T, connector *fakeConnector, maxConns int, acquireTimeout time.Duration) (*SQLPool, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	cfg := config.DataSourceConfig{
		Driver:         "clickhouse",
		MaxConns:       maxConns,
		AcquireTimeout: acquireTimeout,
	}
	p := NewSQLPool("events", sql.OpenDB(connector), cfg, true, m, zerolog.Nop())
	t.Cleanup(func() { p.Close() })
	return p, m
}

func TestSQLPool_QueryReturnsRows(t *testing.T) {
	p, _ := newTestPool(t, &fakeConnector{}, 2, time.Second)

	rows, err := p.Query(context.Background(), credentials.Shadow{Account: "shadow_agent_alice"},
		"SELECT id, name FROM events.t")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, rows.Columns)
	assert.Equal(t, 2, rows.Count())
}

func TestSQLPool_SetsShadowRole(t *testing.T) {
	connector := &fakeConnector{}
	p, _ := newTestPool(t, connector, 2, time.Second)

	_, err := p.Query(context.Background(), credentials.Shadow{Account: "shadow_agent_alice"}, "SELECT 1")
	require.NoError(t, err)

	_, ok := connector.roles.Load(`SET ROLE "shadow_agent_alice"`)
	assert.True(t, ok, "shadow role must be asserted on the pinned connection")
}

func TestSQLPool_LegacyShadowSkipsRole(t *testing.T) {
	connector := &fakeConnector{}
	p, _ := newTestPool(t, connector, 2, time.Second)

	_, err := p.Query(context.Background(),
		credentials.Shadow{Account: "agent_shared", Legacy: true}, "SELECT 1")
	require.NoError(t, err)

	count := 0
	connector.roles.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count)
}

func TestSQLPool_ConcurrencyNeverExceedsBound(t *testing.T) {
	const (
		maxConns = 3
		callers  = 20
	)
	connector := &fakeConnector{queryDelay: 20 * time.Millisecond}
	p, _ := newTestPool(t, connector, maxConns, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Query(context.Background(), credentials.Shadow{Account: "shadow_agent_alice"}, "SELECT 1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(connector.peak.Load()), maxConns,
		"backend must never see more than max_conns live connections")
}

func TestSQLPool_ExhaustionIsBoundedAndRetryable(t *testing.T) {
	connector := &fakeConnector{queryDelay: 300 * time.Millisecond}
	p, _ := newTestPool(t, connector, 1, 30*time.Millisecond)

	started := make(chan struct{})
	go func() {
		close(started)
		p.Query(context.Background(), credentials.Shadow{}, "SELECT 1") //nolint:errcheck
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first call hold the connection

	_, err := p.Query(context.Background(), credentials.Shadow{}, "SELECT 1")
	require.Error(t, err)

	var he *hosterror.Error
	require.True(t, errors.As(err, &he))
	assert.Equal(t, hosterror.CodePoolExhausted, he.Code)
	assert.True(t, he.Retryable)
}

func TestSQLPool_CallerDeadlineDuringAcquireIsTimeout(t *testing.T) {
	connector := &fakeConnector{queryDelay: time.Second}
	p, _ := newTestPool(t, connector, 1, 5*time.Second)

	started := make(chan struct{})
	go func() {
		close(started)
		p.Query(context.Background(), credentials.Shadow{}, "SELECT 1") //nolint:errcheck
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first call hold the connection

	// The caller's own deadline expires while the call is queued for a
	// connection. That is a timeout, not pool exhaustion and not a
	// backend fault: retrying it would not help.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Query(ctx, credentials.Shadow{}, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, hosterror.CodeTimeout, hosterror.CodeOf(err))
}

func TestSQLPool_CancellationReleasesConnection(t *testing.T) {
	connector := &fakeConnector{queryDelay: time.Second}
	p, _ := newTestPool(t, connector, 1, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Query(ctx, credentials.Shadow{}, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, hosterror.CodeTimeout, hosterror.CodeOf(err))

	// The connection must be back in the pool; a fresh call succeeds.
	connector.queryDelay = 0
	_, err = p.Query(context.Background(), credentials.Shadow{}, "SELECT 1")
	assert.NoError(t, err)
}

func TestSQLPool_StatsReflectBound(t *testing.T) {
	p, _ := newTestPool(t, &fakeConnector{}, 4, time.Second)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Acquired)
	assert.Equal(t, 4, stats.Max)
}

func TestManager_GetAndSources(t *testing.T) {
	p, _ := newTestPool(t, &fakeConnector{}, 1, time.Second)
	mgr := NewManagerWithPools(map[string]Pool{"events": p}, zerolog.Nop())

	got, err := mgr.Get("events")
	require.NoError(t, err)
	assert.Equal(t, "events", got.Name())

	_, err = mgr.Get("absent")
	require.Error(t, err)

	assert.Equal(t, []string{"events"}, mgr.Sources())
}

func TestManager_BuildsMariaDBPool(t *testing.T) {
	sources := map[string]config.DataSourceConfig{
		"pipeline": {
			Driver:         "mariadb",
			Host:           "127.0.0.1",
			Port:           3306,
			Database:       "pipeline",
			PoolAccount:    "toolhost_pool",
			PoolSecret:     "secret",
			MaxConns:       2,
			AcquireTimeout: time.Second,
		},
	}

	// database/sql dials lazily, so construction needs no server.
	mgr, err := NewManager(sources, metrics.New(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	p, err := mgr.Get("pipeline")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", p.Name())

	sp, ok := p.(*SQLPool)
	require.True(t, ok)
	assert.Equal(t, 2, sp.Stats().Max)
}

func TestManager_UnknownDriverFails(t *testing.T) {
	sources := map[string]config.DataSourceConfig{
		"odd": {Driver: "sqlite", MaxConns: 1, AcquireTimeout: time.Second},
	}

	_, err := NewManager(sources, metrics.New(), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
