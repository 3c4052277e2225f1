package plugin

// Capability is a coarse permission tag a plugin must request and the
// host must grant before the plugin's tools become reachable.
type Capability string

const (
	CapabilityDatabaseRead   Capability = "database:read"
	CapabilityNetworkHTTP    Capability = "network:http"
	CapabilityDirectoryRead  Capability = "directory:read"
	CapabilityProcessSpawn   Capability = "process:spawn"
	CapabilityBrowserControl Capability = "browser:control"
)

// ValidCapabilities is the set of capability tags the host knows.
var ValidCapabilities = map[Capability]bool{
	CapabilityDatabaseRead:   true,
	CapabilityNetworkHTTP:    true,
	CapabilityDirectoryRead:  true,
	CapabilityProcessSpawn:   true,
	CapabilityBrowserControl: true,
}

// Requires declares the host versions a plugin is compatible with.
type Requires struct {
	// APIVersion is a semver range constraint, e.g. ">=1.2.0".
	APIVersion string `json:"apiVersion"`
}

// Manifest declares what a plugin is and what it needs.
type Manifest struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	Requires     Requires     `json:"requires"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}
