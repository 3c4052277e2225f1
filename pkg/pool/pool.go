// Package pool manages one bounded, read-only connection pool per
// configured data source. Connections are scoped to a single Query
// call and released on every exit path; callers never see a raw
// connection.
package pool

import (
	"context"

	"github.com/datamancy/toolhost/pkg/credentials"
)

// Rows is a fully materialized, driver-neutral result set.
type Rows struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"values"`
}

// Count returns the number of rows.
func (r *Rows) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Stats is a point-in-time view of a pool's checkout state. Acquired
// never exceeds Max; the metrics gauges expose both so the bound is
// externally observable.
type Stats struct {
	Acquired int
	Max      int
}

// Pool executes read-only statements against one data source.
//
// Query runs the statement as the given shadow identity inside a
// read-only scope. Implementations must bound the wait for a free
// connection and fail with a retryable pool-exhausted error when the
// bound elapses.
type Pool interface {
	Name() string
	Query(ctx context.Context, shadow credentials.Shadow, statement string) (*Rows, error)
	Stats() Stats
	Close() error
}
