// ABOUTME: Credential resolution for OAuth-backed servers from environment-sourced secrets
// ABOUTME: Merges catalog OAuth templates with client id/secret values at call time

package credentials

import (
	"os"

	"dockhand/internal/catalog"
)

// Source supplies secret values by name. The second return reports whether
// the name is set at all; implementations must treat an empty value as unset
// so a blank export never counts as a configured credential.
type Source interface {
	Get(name string) (string, bool)
}

// OSEnv resolves secrets from process environment variables
type OSEnv struct{}

func (OSEnv) Get(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Static is a fixed in-memory source, used in tests and for sealed
// deployment environments where secrets arrive pre-loaded
type Static map[string]string

func (s Static) Get(name string) (string, bool) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ResolvedOAuth is an OAuth template with client credentials filled in.
// It is produced fresh on every resolution and never persisted or cached:
// secrets may rotate between calls, and a stale copy would mask that.
type ResolvedOAuth struct {
	catalog.OAuthTemplate
	ClientID     string
	ClientSecret string
}

// Usable reports whether both client credentials resolved
func (r *ResolvedOAuth) Usable() bool {
	return r != nil && r.ClientID != "" && r.ClientSecret != ""
}

// Definitions is the catalog surface the resolver needs
type Definitions interface {
	Get(id string) (catalog.ServerDefinition, error)
}

// Resolver merges static OAuth templates with secrets from a Source.
// Only environment-variable names live in the catalog; values are read
// here, at call time, so rotating a secret needs no redeploy.
type Resolver struct {
	defs   Definitions
	source Source
}

// NewResolver builds a resolver over the given definitions and secret source
func NewResolver(defs Definitions, source Source) *Resolver {
	return &Resolver{defs: defs, source: source}
}

// ResolveOAuth returns the server's OAuth template with credentials filled
// from the source. Servers without an OAuth template (process transport,
// unauthenticated stream) resolve to nil with no error. A credential whose
// environment variable is missing or empty is left blank; that is not an
// error at this layer, it just makes the result unusable.
func (r *Resolver) ResolveOAuth(serverID string) (*ResolvedOAuth, error) {
	def, err := r.defs.Get(serverID)
	if err != nil {
		return nil, err
	}
	if def.OAuth == nil {
		return nil, nil
	}

	resolved := &ResolvedOAuth{OAuthTemplate: *def.OAuth}
	resolved.Scopes = append([]string(nil), def.OAuth.Scopes...)
	if v, ok := r.source.Get(def.OAuth.ClientIDEnv); ok {
		resolved.ClientID = v
	}
	if v, ok := r.source.Get(def.OAuth.ClientSecretEnv); ok {
		resolved.ClientSecret = v
	}
	return resolved, nil
}

// HasUsableCredentials reports whether the server resolves to a config with
// both client id and secret present. This is the canonical "is this
// integration configured" check; callers run it before starting an
// authorization flow so a missing secret fails fast with a clear message
// instead of deep inside a redirect chain. Unknown servers and servers
// without an OAuth template report false.
func (r *Resolver) HasUsableCredentials(serverID string) bool {
	resolved, err := r.ResolveOAuth(serverID)
	if err != nil {
		return false
	}
	return resolved.Usable()
}
