package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/audit"
	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/credentials"
	"github.com/datamancy/toolhost/pkg/pool"
	"github.com/datamancy/toolhost/pkg/sqlguard"
)

// HostContext carries the collaborators a plugin may use. It is the
// whole surface the host exposes; plugins never reach for globals.
type HostContext struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Validator *sqlguard.Validator
	Resolver  *credentials.Resolver
	Pools     *pool.Manager
	Audit     *audit.Sink
	Metrics   *metrics.Metrics
}

// Plugin is the contract every plugin implements. The host never
// inspects plugin internals beyond it.
//
// Init is called exactly once, before RegisterTools. If Init fails,
// RegisterTools is never called and no tool from the plugin becomes
// reachable.
type Plugin interface {
	Manifest() Manifest
	Init(ctx context.Context, host *HostContext) error
	RegisterTools(cat *catalog.Catalog) error
}
