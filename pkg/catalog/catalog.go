// Package catalog holds the in-memory registry of callable tools.
// Registration and serving are strictly phase-separated: the catalog
// is built once at startup, sealed, and read without locking
// thereafter.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/datamancy/toolhost/pkg/hosterror"
)

// Handler executes a tool against validated arguments. The caller
// identity is empty for anonymous calls.
type Handler func(ctx context.Context, args map[string]any, caller string) (any, error)

// Definition describes a registered tool. Immutable once registered.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
	PluginID    string         `json:"plugin_id,omitempty"`
}

// Entry pairs a definition with its handler and compiled schema.
type Entry struct {
	Definition Definition
	Handler    Handler
	Schema     *gojsonschema.Schema
}

// Catalog maps tool names to entries. mu guards entries during the
// registration phase; sealed is atomic so the serving hot path never
// touches the mutex.
type Catalog struct {
	entries map[string]*Entry
	sealed  atomic.Bool
	mu      sync.Mutex
	logger  zerolog.Logger
}

// New creates an empty, unsealed catalog.
func New(logger zerolog.Logger) *Catalog {
	return &Catalog{
		entries: make(map[string]*Entry),
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Register adds a tool. Duplicate names and registration after Seal
// are startup-time fatal errors surfaced as load errors.
func (c *Catalog) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return hosterror.LoadError("tool name cannot be empty")
	}
	if def.Description == "" {
		return hosterror.LoadError("tool %s: description cannot be empty", def.Name)
	}
	if handler == nil {
		return hosterror.LoadError("tool %s: handler cannot be nil", def.Name)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return hosterror.LoadError("tool %s: invalid parameter schema: %v", def.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed.Load() {
		return hosterror.LoadError("tool %s: catalog is sealed, registration is closed", def.Name)
	}
	if _, exists := c.entries[def.Name]; exists {
		return hosterror.LoadError("duplicate tool name: %s", def.Name)
	}

	c.entries[def.Name] = &Entry{
		Definition: def,
		Handler:    handler,
		Schema:     schema,
	}

	c.logger.Info().
		Str("tool", def.Name).
		Str("plugin", def.PluginID).
		Msg("Tool registered")

	return nil
}

// Seal closes the registration phase. After Seal the catalog is
// immutable and lookups take no lock.
func (c *Catalog) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed.Store(true)
	c.logger.Info().Int("tools", len(c.entries)).Msg("Catalog sealed")
}

// Sealed reports whether registration has closed.
func (c *Catalog) Sealed() bool {
	return c.sealed.Load()
}

// Lookup returns the entry for a tool name. Lock-free: the sealed
// check is an atomic load and the map is read-only during serving.
func (c *Catalog) Lookup(name string) (*Entry, error) {
	if !c.sealed.Load() {
		return nil, fmt.Errorf("catalog lookup before seal")
	}
	entry, ok := c.entries[name]
	if !ok {
		return nil, hosterror.NotFound(name)
	}
	return entry, nil
}

// List returns all definitions sorted by name. The lock matters only
// pre-seal, when registrations may still be mutating the map.
func (c *Catalog) List() []Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	defs := make([]Definition, 0, len(c.entries))
	for _, entry := range c.entries {
		defs = append(defs, entry.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RemovePlugin drops every tool registered by a plugin. Only legal
// before Seal; the loader uses it to roll back a plugin whose
// registration failed part-way.
func (c *Catalog) RemovePlugin(pluginID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed.Load() {
		return
	}
	for name, entry := range c.entries {
		if entry.Definition.PluginID == pluginID {
			delete(c.entries, name)
		}
	}
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	params := def.Parameters
	if params == nil {
		params = map[string]any{
			"type":                 "object",
			"additionalProperties": false,
		}
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
}
