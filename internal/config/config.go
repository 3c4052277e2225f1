package config

import (
	"fmt"
	"time"
)

// Config is the host configuration. It is constructed once at startup
// and passed by reference into each component's constructor; nothing
// reads the process environment after Load returns.
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Host identity and granted plugin capabilities
	Host HostConfig `json:"host" mapstructure:"host"`

	// Shadow credential resolution
	Secrets SecretsConfig `json:"secrets" mapstructure:"secrets"`

	// Backing data sources, keyed by source name
	DataSources map[string]DataSourceConfig `json:"data_sources" mapstructure:"data_sources"`

	// Vector search engine
	Vectors VectorsConfig `json:"vectors" mapstructure:"vectors"`

	// Directory service
	Directory DirectoryConfig `json:"directory" mapstructure:"directory"`

	// Container runtime
	Containers ContainersConfig `json:"containers" mapstructure:"containers"`

	// Headless browser endpoint
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Audit sink
	Audit AuditConfig `json:"audit" mapstructure:"audit"`
}

// ServerConfig holds the HTTP call surface configuration.
type ServerConfig struct {
	Host        string        `json:"host" mapstructure:"host"`
	Port        int           `json:"port" mapstructure:"port"`
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
}

// HostConfig identifies the host to plugins.
type HostConfig struct {
	APIVersion string `json:"api_version" mapstructure:"api_version"`
	// GrantedCapabilities is the set of capability tags the host
	// grants; a plugin requesting anything outside it is rejected.
	GrantedCapabilities []string `json:"granted_capabilities" mapstructure:"granted_capabilities"`
}

// SecretsConfig locates shadow credential files.
type SecretsConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
	// LegacySharedAccount and LegacySharedSecret back the deprecated
	// identity-less fallback. Empty disables the fallback entirely.
	LegacySharedAccount string `json:"legacy_shared_account" mapstructure:"legacy_shared_account"`
	LegacySharedSecret  string `json:"legacy_shared_secret" mapstructure:"legacy_shared_secret"`
}

// DataSourceConfig holds per-backend connection coordinates.
type DataSourceConfig struct {
	Driver         string        `json:"driver" mapstructure:"driver"` // postgres, clickhouse, mariadb
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	Database       string        `json:"database" mapstructure:"database"`
	PoolAccount    string        `json:"pool_account" mapstructure:"pool_account"`
	PoolSecret     string        `json:"pool_secret" mapstructure:"pool_secret"`
	MaxConns       int           `json:"max_conns" mapstructure:"max_conns"`
	AcquireTimeout time.Duration `json:"acquire_timeout" mapstructure:"acquire_timeout"`
	// RequiredSchema, when set, must be referenced by every statement
	// executed against this source.
	RequiredSchema string `json:"required_schema" mapstructure:"required_schema"`
	// DeniedFunctions overrides the validator's default blacklist for
	// this source when non-empty.
	DeniedFunctions []string `json:"denied_functions" mapstructure:"denied_functions"`
}

// VectorsConfig holds vector-search engine coordinates.
type VectorsConfig struct {
	URL     string        `json:"url" mapstructure:"url"`
	APIKey  string        `json:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DirectoryConfig holds LDAP coordinates with a read-only bind.
type DirectoryConfig struct {
	URL          string        `json:"url" mapstructure:"url"`
	BindDN       string        `json:"bind_dn" mapstructure:"bind_dn"`
	BindPassword string        `json:"bind_password" mapstructure:"bind_password"`
	BaseDN       string        `json:"base_dn" mapstructure:"base_dn"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ContainersConfig holds container runtime settings. Container tools
// are enabled by setting DefaultImage.
type ContainersConfig struct {
	Binary       string        `json:"binary" mapstructure:"binary"`
	DefaultImage string        `json:"default_image" mapstructure:"default_image"`
	RunTimeout   time.Duration `json:"run_timeout" mapstructure:"run_timeout"`
	CPULimit     string        `json:"cpu_limit" mapstructure:"cpu_limit"`
	MemoryLimit  string        `json:"memory_limit" mapstructure:"memory_limit"`
	PidsLimit    int           `json:"pids_limit" mapstructure:"pids_limit"`
}

// BrowserConfig holds the remote devtools endpoint.
type BrowserConfig struct {
	ControlURL  string        `json:"control_url" mapstructure:"control_url"`
	PageTimeout time.Duration `json:"page_timeout" mapstructure:"page_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AuditConfig holds the audit sink destination.
type AuditConfig struct {
	// File is the append-only audit log path; empty writes to stdout.
	File string `json:"file" mapstructure:"file"`
	// StatementLimit truncates statement text in audit records.
	StatementLimit int `json:"statement_limit" mapstructure:"statement_limit"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8741,
			CallTimeout: 60 * time.Second,
		},
		Host: HostConfig{
			APIVersion: "1.2.0",
			GrantedCapabilities: []string{
				"database:read",
				"network:http",
				"directory:read",
				"process:spawn",
				"browser:control",
			},
		},
		Secrets: SecretsConfig{
			Dir: "/run/secrets/agents",
		},
		DataSources: map[string]DataSourceConfig{},
		Vectors: VectorsConfig{
			Timeout: 15 * time.Second,
		},
		Directory: DirectoryConfig{
			Timeout: 10 * time.Second,
		},
		Containers: ContainersConfig{
			Binary:      "docker",
			RunTimeout:  120 * time.Second,
			CPULimit:    "1.0",
			MemoryLimit: "512m",
			PidsLimit:   128,
		},
		Browser: BrowserConfig{
			PageTimeout: 45 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Audit: AuditConfig{
			StatementLimit: 512,
		},
	}
}

// String returns a redacted summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{server=%s:%d sources=%d capabilities=%d}",
		c.Server.Host, c.Server.Port, len(c.DataSources), len(c.Host.GrantedCapabilities))
}
