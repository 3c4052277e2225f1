package pool

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
)

// NewMariaDBPool builds a pool for one MariaDB source. Connections are
// opened lazily by database/sql; per-call role scoping runs SET ROLE on
// the pinned connection, same as ClickHouse.
func NewMariaDBPool(name string, cfg config.DataSourceConfig, m *metrics.Metrics, logger zerolog.Logger) (*SQLPool, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.PoolAccount
	mc.Passwd = cfg.PoolSecret
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.Timeout = 5 * time.Second
	mc.Params = map[string]string{
		// session-level read-only, second line of defense
		"tx_read_only": "1",
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mariadb connector: %w", err)
	}
	return NewSQLPool(name, sql.OpenDB(connector), cfg, true, m, logger), nil
}
