// Package vectors exposes similarity search over a Qdrant instance.
// The host talks to Qdrant with a service API key; callers never see
// it.
package vectors

import (
	"context"
	"fmt"

	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/dispatch"
	"github.com/datamancy/toolhost/pkg/hosterror"
	"github.com/datamancy/toolhost/pkg/plugin"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Plugin provides the search_vectors and list_collections tools.
type Plugin struct {
	host   *plugin.HostContext
	client *Client
}

// New creates the plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "vector-tools",
		Name:        "Vector Tools",
		Version:     "1.0.0",
		Description: "Similarity search over the vector store",
		Requires:    plugin.Requires{APIVersion: ">=1.0.0"},
		Capabilities: []plugin.Capability{
			plugin.CapabilityNetworkHTTP,
		},
	}
}

func (p *Plugin) Init(ctx context.Context, host *plugin.HostContext) error {
	if host.Config.Vectors.URL == "" {
		return fmt.Errorf("vector store URL is not configured")
	}
	p.host = host
	p.client = NewClient(host.Config.Vectors.URL, host.Config.Vectors.APIKey, host.Config.Vectors.Timeout)
	return nil
}

func (p *Plugin) RegisterTools(cat *catalog.Catalog) error {
	if err := cat.Register(catalog.Definition{
		Name:        "search_vectors",
		Description: "Find the points nearest to a query vector in a named collection.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"collection": map[string]any{
					"type":        "string",
					"description": "Collection to search",
				},
				"vector": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "number"},
					"minItems":    1,
					"description": "Query embedding",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxLimit,
					"description": "Maximum number of hits",
				},
			},
			"required":             []string{"collection", "vector"},
			"additionalProperties": false,
		},
	}, p.handleSearch); err != nil {
		return err
	}

	return cat.Register(catalog.Definition{
		Name:        "list_collections",
		Description: "List the collections available in the vector store.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
		},
	}, p.handleListCollections)
}

func (p *Plugin) handleSearch(ctx context.Context, args map[string]any, caller string) (any, error) {
	collection, _ := args["collection"].(string)

	raw, _ := args["vector"].([]any)
	vector := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, hosterror.ValidationError("vector element %d is not a number", i)
		}
		vector[i] = f
	}

	limit := defaultLimit
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	points, err := p.client.Search(ctx, collection, vector, limit)
	if err != nil {
		return nil, err
	}

	if meta := dispatch.MetaFromContext(ctx); meta != nil {
		meta.RowCount = len(points)
	}
	return map[string]any{"points": points}, nil
}

func (p *Plugin) handleListCollections(ctx context.Context, args map[string]any, caller string) (any, error) {
	names, err := p.client.Collections(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"collections": names}, nil
}
