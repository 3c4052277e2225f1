// Package directory exposes read-only people lookups against an LDAP
// directory. The host binds with a read-only service account; caller
// input is only ever used as an escaped filter value.
package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/dispatch"
	"github.com/datamancy/toolhost/pkg/hosterror"
	"github.com/datamancy/toolhost/pkg/plugin"
)

const (
	defaultLimit = 25
	maxLimit     = 200
)

var defaultAttributes = []string{"cn", "mail", "uid", "title", "departmentNumber"}

// Entry is one directory search hit.
type Entry struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

// Plugin provides the search_directory tool.
type Plugin struct {
	host *plugin.HostContext
	dial func(ctx context.Context, url string) (ldapConn, error)
}

// ldapConn is the slice of *ldap.Conn the plugin uses, extracted so
// tests can run without a directory server.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// New creates the plugin.
func New() *Plugin {
	return &Plugin{
		dial: func(ctx context.Context, url string) (ldapConn, error) {
			return ldap.DialURL(url)
		},
	}
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "directory-tools",
		Name:        "Directory Tools",
		Version:     "1.0.0",
		Description: "Read-only people search against the corporate directory",
		Requires:    plugin.Requires{APIVersion: ">=1.0.0"},
		Capabilities: []plugin.Capability{
			plugin.CapabilityDirectoryRead,
		},
	}
}

func (p *Plugin) Init(ctx context.Context, host *plugin.HostContext) error {
	cfg := host.Config.Directory
	if cfg.URL == "" {
		return fmt.Errorf("directory URL is not configured")
	}
	if cfg.BaseDN == "" {
		return fmt.Errorf("directory base DN is not configured")
	}
	p.host = host
	return nil
}

func (p *Plugin) RegisterTools(cat *catalog.Catalog) error {
	return cat.Register(catalog.Definition{
		Name:        "search_directory",
		Description: "Search the corporate directory for people by name, mail, or login.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Name, mail address, or login to look for",
				},
				"attributes": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Attributes to return; a small default set otherwise",
				},
				"limit": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": maxLimit,
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}, p.handleSearch)
}

func (p *Plugin) handleSearch(ctx context.Context, args map[string]any, caller string) (any, error) {
	query, _ := args["query"].(string)

	attributes := defaultAttributes
	if raw, ok := args["attributes"].([]any); ok && len(raw) > 0 {
		attributes = make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, hosterror.ValidationError("attributes must be strings")
			}
			attributes = append(attributes, s)
		}
	}

	limit := defaultLimit
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	cfg := p.host.Config.Directory
	conn, err := p.dial(ctx, cfg.URL)
	if err != nil {
		return nil, hosterror.Backendf("directory unreachable: %v", err)
	}
	defer conn.Close()

	if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		return nil, hosterror.Backendf("directory bind failed: %v", err)
	}

	// Escaping the query is the entire injection defence: the filter
	// template is fixed, the value is inert.
	escaped := ldap.EscapeFilter(query)
	filter := fmt.Sprintf("(|(cn=*%[1]s*)(mail=%[1]s)(uid=%[1]s))", escaped)

	req := ldap.NewSearchRequest(
		cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		limit,
		int(cfg.Timeout.Seconds()),
		false,
		filter,
		attributes,
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		// A size-limit overrun still carries the entries up to the
		// limit; anything else is a real failure.
		if result == nil || !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
			return nil, hosterror.Backendf("directory search failed: %v", err)
		}
	}

	entries := make([]Entry, 0, len(result.Entries))
	for _, e := range result.Entries {
		attrs := make(map[string][]string, len(e.Attributes))
		for _, a := range e.Attributes {
			attrs[a.Name] = a.Values
		}
		entries = append(entries, Entry{DN: e.DN, Attributes: attrs})
	}

	if meta := dispatch.MetaFromContext(ctx); meta != nil {
		meta.RowCount = len(entries)
	}
	return map[string]any{"entries": entries}, nil
}
