package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"
)

var manifestSchemaLoader = gojsonschema.NewStringLoader(ManifestSchema)

var (
	// pluginIDRegex validates plugin ID format (lowercase alphanumeric with hyphens)
	pluginIDRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

	// versionRegex validates semver version format
	versionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// ParseManifest parses and validates a manifest document. The JSON
// schema runs first, then field-level checks the schema cannot
// express.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := validateManifestSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if err := ValidateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	return &manifest, nil
}

// ValidateManifest performs field-level validation of a manifest.
func ValidateManifest(manifest *Manifest) error {
	if !pluginIDRegex.MatchString(manifest.ID) {
		return fmt.Errorf("invalid plugin ID format: %s (must be lowercase alphanumeric with hyphens)", manifest.ID)
	}

	if !versionRegex.MatchString(manifest.Version) {
		return fmt.Errorf("invalid version format: %s (must be semver: X.Y.Z)", manifest.Version)
	}

	if _, err := semver.NewConstraint(manifest.Requires.APIVersion); err != nil {
		return fmt.Errorf("invalid requires.apiVersion constraint %q: %w", manifest.Requires.APIVersion, err)
	}

	for i, capability := range manifest.Capabilities {
		if !ValidCapabilities[capability] {
			return fmt.Errorf("capability %d: unrecognized capability: %s", i, capability)
		}
	}

	return nil
}

// validateManifestSchema validates the raw document against the
// manifest JSON schema.
func validateManifestSchema(data []byte) error {
	result, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for i, verr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += verr.String()
		}
		return fmt.Errorf("schema validation errors: %s", errMsg)
	}

	return nil
}
