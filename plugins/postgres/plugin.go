// Package postgres exposes read-only SQL access to a Postgres data
// source. Every call resolves the caller's shadow credential and runs
// the statement through the query validator before any connection is
// touched.
package postgres

import (
	"context"
	"fmt"

	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/dispatch"
	"github.com/datamancy/toolhost/pkg/hosterror"
	"github.com/datamancy/toolhost/pkg/plugin"
	"github.com/datamancy/toolhost/pkg/sqlguard"
)

// Source is the data source name this plugin queries.
const Source = "postgres"

// Plugin provides the query_postgres tool.
type Plugin struct {
	host      *plugin.HostContext
	validator *sqlguard.Validator
}

// New creates the plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "postgres-tools",
		Name:        "Postgres Tools",
		Version:     "1.1.0",
		Description: "Read-only SQL access to the relational lakehouse",
		Requires:    plugin.Requires{APIVersion: ">=1.0.0"},
		Capabilities: []plugin.Capability{
			plugin.CapabilityDatabaseRead,
		},
	}
}

func (p *Plugin) Init(ctx context.Context, host *plugin.HostContext) error {
	ds, ok := host.Config.DataSources[Source]
	if !ok {
		return fmt.Errorf("data source %q is not configured", Source)
	}
	if _, err := host.Pools.Get(Source); err != nil {
		return err
	}
	p.host = host
	p.validator = host.Validator
	if len(ds.DeniedFunctions) > 0 {
		p.validator = sqlguard.NewValidator(sqlguard.WithDeniedFunctions(ds.DeniedFunctions))
	}
	return nil
}

func (p *Plugin) RegisterTools(cat *catalog.Catalog) error {
	return cat.Register(catalog.Definition{
		Name:        "query_postgres",
		Description: "Run a read-only SQL query against the Postgres lakehouse. Only single SELECT statements are accepted.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql": map[string]any{
					"type":        "string",
					"description": "A single SELECT statement",
				},
			},
			"required":             []string{"sql"},
			"additionalProperties": false,
		},
	}, p.handleQuery)
}

func (p *Plugin) handleQuery(ctx context.Context, args map[string]any, caller string) (any, error) {
	statement, _ := args["sql"].(string)
	meta := dispatch.MetaFromContext(ctx)

	shadow, err := p.host.Resolver.Resolve(caller)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		meta.ShadowIdentity = shadow.Account
	}

	ds := p.host.Config.DataSources[Source]
	verdict := p.validator.Validate(statement, ds.RequiredSchema)
	if !verdict.Approved() {
		p.host.Metrics.QueriesRejected.WithLabelValues(Source).Inc()
		return nil, hosterror.QueryRejected(verdict.Reason())
	}
	if meta != nil {
		meta.Statement = verdict.Statement()
	}

	pl, err := p.host.Pools.Get(Source)
	if err != nil {
		return nil, err
	}

	rows, err := pl.Query(ctx, shadow, verdict.Statement())
	if err != nil {
		return nil, err
	}

	if meta != nil {
		meta.RowCount = rows.Count()
	}
	p.host.Metrics.RowsReturned.WithLabelValues(Source).Add(float64(rows.Count()))

	return rows, nil
}
