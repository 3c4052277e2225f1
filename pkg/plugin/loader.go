package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// Loader loads plugins into a catalog, enforcing the capability grant
// and API version compatibility. Load failures are fatal at startup.
type Loader struct {
	apiVersion *semver.Version
	granted    map[Capability]bool
	catalog    *catalog.Catalog
	host       *HostContext
	logger     zerolog.Logger
}

// NewLoader creates a Loader for a host API version and granted
// capability set.
func NewLoader(apiVersion string, granted []string, cat *catalog.Catalog, host *HostContext, logger zerolog.Logger) (*Loader, error) {
	version, err := semver.NewVersion(apiVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid host API version %q: %w", apiVersion, err)
	}

	grantedSet := make(map[Capability]bool, len(granted))
	for _, tag := range granted {
		capability := Capability(tag)
		if !ValidCapabilities[capability] {
			return nil, fmt.Errorf("unknown granted capability: %s", tag)
		}
		grantedSet[capability] = true
	}

	return &Loader{
		apiVersion: version,
		granted:    grantedSet,
		catalog:    cat,
		host:       host,
		logger:     logger.With().Str("component", "plugin-loader").Logger(),
	}, nil
}

// Load validates a plugin's manifest against the host, initializes it,
// and registers its tools. On any failure the plugin contributes zero
// tools to the catalog.
func (l *Loader) Load(ctx context.Context, p Plugin) error {
	manifest := p.Manifest()

	if err := ValidateManifest(&manifest); err != nil {
		return hosterror.LoadError("plugin %s: %v", manifest.ID, err)
	}

	if missing := l.missingCapabilities(manifest.Capabilities); len(missing) > 0 {
		return hosterror.LoadError(
			"plugin %s requires capabilities not granted by the host: %v", manifest.ID, missing)
	}

	constraint, err := semver.NewConstraint(manifest.Requires.APIVersion)
	if err != nil {
		return hosterror.LoadError(
			"plugin %s: invalid requires.apiVersion %q: %v", manifest.ID, manifest.Requires.APIVersion, err)
	}
	if !constraint.Check(l.apiVersion) {
		return hosterror.LoadError(
			"plugin %s requires host API %s, host provides %s",
			manifest.ID, manifest.Requires.APIVersion, l.apiVersion)
	}

	if err := p.Init(ctx, l.host); err != nil {
		return hosterror.LoadError("plugin %s: init failed: %v", manifest.ID, err)
	}

	if err := p.RegisterTools(l.catalog); err != nil {
		// A partial registration must not leave tools behind.
		l.catalog.RemovePlugin(manifest.ID)
		return hosterror.LoadError("plugin %s: tool registration failed: %v", manifest.ID, err)
	}

	l.logger.Info().
		Str("plugin", manifest.ID).
		Str("version", manifest.Version).
		Msg("Plugin loaded")

	return nil
}

// LoadAll loads every plugin, stopping at the first failure.
func (l *Loader) LoadAll(ctx context.Context, plugins []Plugin) error {
	for _, p := range plugins {
		if err := l.Load(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) missingCapabilities(requested []Capability) []Capability {
	var missing []Capability
	for _, capability := range requested {
		if !l.granted[capability] {
			missing = append(missing, capability)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}
