package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// PostgresPool is a bounded read-only pool over pgxpool.
type PostgresPool struct {
	name    string
	pool    *pgxpool.Pool
	cfg     config.DataSourceConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewPostgresPool builds a pool for one Postgres source. Connections
// are created on demand; the pool account authenticates them and
// default_transaction_read_only is pinned at the session level as a
// second line of defense beyond query validation.
func NewPostgresPool(name string, cfg config.DataSourceConfig, m *metrics.Metrics, logger zerolog.Logger) (*PostgresPool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.PoolAccount, cfg.PoolSecret, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config for source %s: %w", name, err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "toolhost"

	pgPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for source %s: %w", name, err)
	}

	if m != nil {
		m.PoolMax.WithLabelValues(name).Set(float64(cfg.MaxConns))
	}

	return &PostgresPool{
		name:    name,
		pool:    pgPool,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "pool").Str("source", name).Logger(),
	}, nil
}

func (p *PostgresPool) Name() string { return p.name }

// Query acquires a connection under the configured bounded wait, opens
// a read-only transaction, scopes it to the shadow account with SET
// LOCAL ROLE so the backend enforces that account's grants, and runs
// the statement. The connection is released on every exit path.
func (p *PostgresPool) Query(ctx context.Context, shadow credentials.Shadow, statement string) (*Rows, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if stat := p.pool.Stat(); stat.AcquiredConns() >= stat.MaxConns() && p.metrics != nil {
		p.metrics.PoolWaitTotal.WithLabelValues(p.name).Inc()
	}

	conn, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		if ctx.Err() != nil {
			// the caller's deadline expired while waiting, not ours
			return nil, hosterror.Timeout("query cancelled: %v", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, hosterror.PoolExhausted(p.name)
		}
		return nil, hosterror.Backend(err)
	}
	defer func() {
		conn.Release()
		p.observe()
	}()
	p.observe()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, hosterror.Backend(err)
	}
	defer tx.Rollback(context.Background())

	if !shadow.Legacy && shadow.Account != "" {
		role := pgx.Identifier{shadow.Account}.Sanitize()
		if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+role); err != nil {
			return nil, hosterror.Backend(err)
		}
	}

	rows, err := tx.Query(ctx, statement)
	if err != nil {
		return nil, queryError(ctx, err)
	}
	defer rows.Close()

	result := &Rows{}
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, string(fd.Name))
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, hosterror.Backend(err)
		}
		result.Values = append(result.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, err)
	}

	return result, nil
}

// Stats reports the live checkout state from pgxpool.
func (p *PostgresPool) Stats() Stats {
	stat := p.pool.Stat()
	return Stats{
		Acquired: int(stat.AcquiredConns()),
		Max:      int(stat.MaxConns()),
	}
}

// Close closes the underlying pool.
func (p *PostgresPool) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresPool) observe() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolAcquired.WithLabelValues(p.name).Set(float64(p.pool.Stat().AcquiredConns()))
}

func queryError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return hosterror.Timeout("query cancelled: %v", ctx.Err())
	}
	return hosterror.Backend(err)
}
