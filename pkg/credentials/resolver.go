// Package credentials maps calling identities to least-privilege
// shadow database accounts provisioned out-of-band. The resolver fails
// closed: a caller with no provisioned credential gets an error, never
// a more privileged account.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/pkg/hosterror"
)

// ProvisionCommand is named in unprovisioned errors so operators know
// exactly what to run.
const ProvisionCommand = "provision-shadow-agent.sh"

// identityPattern bounds identities to filename-safe characters. Also
// the path-traversal guard for the secrets directory.
var identityPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Shadow is a per-identity backend credential. Read fresh on every
// call and never cached, so out-of-band rotation takes effect on the
// next request without a restart.
type Shadow struct {
	Account string
	Secret  string
	// Legacy marks the deprecated shared-account fallback.
	Legacy bool
}

// Resolver resolves caller identities to shadow credentials.
type Resolver struct {
	secretsDir string
	fallback   *Shadow
	logger     zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLegacyFallback enables the deprecated shared-account path used
// when a call arrives without an identity. Scheduled for removal;
// every use is logged as a deprecation warning.
func WithLegacyFallback(account, secret string) Option {
	return func(r *Resolver) {
		r.fallback = &Shadow{Account: account, Secret: secret, Legacy: true}
	}
}

// NewResolver creates a Resolver over a secrets directory.
func NewResolver(secretsDir string, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		secretsDir: secretsDir,
		logger:     logger.With().Str("component", "credential-resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps an identity to its shadow credential.
//
// An empty identity takes the legacy shared-account fallback if one is
// configured. A non-empty identity reads
// {secretsDir}/shadow-agent-{identity}.pwd and never falls back: a
// missing file is an unprovisioned error naming the provisioning step.
func (r *Resolver) Resolve(identity string) (Shadow, error) {
	if identity == "" {
		if r.fallback == nil {
			return Shadow{}, hosterror.Unprovisioned(
				"no caller identity supplied and no shared fallback configured")
		}
		r.logger.Warn().
			Str("account", r.fallback.Account).
			Msg("DEPRECATED: call without caller identity resolved to shared account")
		return *r.fallback, nil
	}

	if !identityPattern.MatchString(identity) {
		return Shadow{}, hosterror.ValidationError(
			"invalid caller identity %q: must match %s", identity, identityPattern.String())
	}

	path := filepath.Join(r.secretsDir, fmt.Sprintf("shadow-agent-%s.pwd", identity))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Shadow{}, hosterror.Unprovisioned(
				"no shadow credential for identity %q: run '%s %s' to provision one",
				identity, ProvisionCommand, identity)
		}
		return Shadow{}, fmt.Errorf("failed to read shadow credential for %q: %w", identity, err)
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return Shadow{}, hosterror.Unprovisioned(
			"shadow credential file for identity %q is empty: run '%s %s' to reprovision",
			identity, ProvisionCommand, identity)
	}

	return Shadow{
		Account: AccountFor(identity),
		Secret:  secret,
	}, nil
}

// AccountFor derives the shadow account name for an identity.
func AccountFor(identity string) string {
	return "shadow_agent_" + strings.ReplaceAll(identity, "-", "_")
}
