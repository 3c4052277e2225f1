package config

import (
	"fmt"
	"strings"
)

var validDrivers = map[string]bool{
	"postgres":   true,
	"clickhouse": true,
	"mariadb":    true,
}

// Validate checks a Config for problems that would otherwise surface
// as confusing runtime failures. Messages name the offending field.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port: %d is not a valid port", cfg.Server.Port))
	}
	if cfg.Server.CallTimeout <= 0 {
		problems = append(problems, "server.call_timeout: must be positive")
	}
	if cfg.Host.APIVersion == "" {
		problems = append(problems, "host.api_version: required")
	}
	if cfg.Secrets.Dir == "" {
		problems = append(problems, "secrets.dir: required")
	}
	if (cfg.Secrets.LegacySharedAccount == "") != (cfg.Secrets.LegacySharedSecret == "") {
		problems = append(problems, "secrets: legacy_shared_account and legacy_shared_secret must be set together")
	}

	for name, ds := range cfg.DataSources {
		prefix := fmt.Sprintf("data_sources.%s", name)
		if !validDrivers[ds.Driver] {
			problems = append(problems, fmt.Sprintf("%s.driver: unknown driver %q", prefix, ds.Driver))
		}
		if ds.Host == "" {
			problems = append(problems, prefix+".host: required")
		}
		if ds.Port <= 0 || ds.Port > 65535 {
			problems = append(problems, fmt.Sprintf("%s.port: %d is not a valid port", prefix, ds.Port))
		}
		if ds.PoolAccount == "" {
			problems = append(problems, prefix+".pool_account: required")
		}
		if ds.MaxConns <= 0 {
			problems = append(problems, prefix+".max_conns: must be positive")
		}
		if ds.AcquireTimeout <= 0 {
			problems = append(problems, prefix+".acquire_timeout: must be positive")
		}
	}

	if cfg.Audit.StatementLimit <= 0 {
		problems = append(problems, "audit.statement_limit: must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
