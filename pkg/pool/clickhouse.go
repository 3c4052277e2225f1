package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// SQLPool is a bounded read-only pool over database/sql. ClickHouse
// and MariaDB sources use it through their sql drivers; tests exercise
// it with an in-memory driver.
type SQLPool struct {
	name    string
	db      *sql.DB
	cfg     config.DataSourceConfig
	setRole bool
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClickHousePool builds a pool for one ClickHouse source.
func NewClickHousePool(name string, cfg config.DataSourceConfig, m *metrics.Metrics, logger zerolog.Logger) (*SQLPool, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.PoolAccount,
			Password: cfg.PoolSecret,
		},
		Settings: clickhouse.Settings{
			// driver-level read-only, second line of defense
			"readonly": 1,
		},
		DialTimeout: 5 * time.Second,
	})
	return NewSQLPool(name, db, cfg, true, m, logger), nil
}

// NewSQLPool wraps an existing *sql.DB with the pool contract. The
// database/sql layer enforces the connection cap.
func NewSQLPool(name string, db *sql.DB, cfg config.DataSourceConfig, setRole bool, m *metrics.Metrics, logger zerolog.Logger) *SQLPool {
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if m != nil {
		m.PoolMax.WithLabelValues(name).Set(float64(cfg.MaxConns))
	}

	return &SQLPool{
		name:    name,
		db:      db,
		cfg:     cfg,
		setRole: setRole,
		metrics: m,
		logger:  logger.With().Str("component", "pool").Str("source", name).Logger(),
	}
}

func (p *SQLPool) Name() string { return p.name }

// Query pins one pooled connection for the call, scopes it to the
// shadow role, runs the statement, and returns the connection on
// every exit path. Acquisition waits at most the configured bound.
func (p *SQLPool) Query(ctx context.Context, shadow credentials.Shadow, statement string) (*Rows, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if p.db.Stats().InUse >= p.cfg.MaxConns && p.metrics != nil {
		p.metrics.PoolWaitTotal.WithLabelValues(p.name).Inc()
	}

	conn, err := p.db.Conn(acquireCtx)
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
		conn.Close()
		p.observe()
	}()
	p.observe()

	if p.setRole && !shadow.Legacy && shadow.Account != "" {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET ROLE %q", shadow.Account)); err != nil {
			return nil, hosterror.Backend(err)
		}
	}

	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, queryError(ctx, err)
	}
	defer rows.Close()

	result, err := scanAll(rows)
	if err != nil {
		return nil, queryError(ctx, err)
	}
	return result, nil
}

// Stats reports the live checkout state from database/sql.
func (p *SQLPool) Stats() Stats {
	return Stats{
		Acquired: p.db.Stats().InUse,
		Max:      p.cfg.MaxConns,
	}
}

// Close closes the underlying database handle.
func (p *SQLPool) Close() error {
	return p.db.Close()
}

func (p *SQLPool) observe() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolAcquired.WithLabelValues(p.name).Set(float64(p.db.Stats().InUse))
}

// scanAll materializes a sql.Rows into driver-neutral Rows using the
// driver's reported scan types.
func scanAll(rows *sql.Rows) (*Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	result := &Rows{Columns: columns}
	for rows.Next() {
		dest := make([]any, len(columns))
		for i, ct := range types {
			st := ct.ScanType()
			if st == nil {
				st = reflect.TypeOf(new(any)).Elem()
			}
			dest[i] = reflect.New(st).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		values := make([]any, len(dest))
		for i, d := range dest {
			values[i] = reflect.ValueOf(d).Elem().Interface()
		}
		result.Values = append(result.Values, values)
	}
	return result, rows.Err()
}
