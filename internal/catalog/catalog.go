// ABOUTME: Server catalog types and read-only registry for MCP server definitions
// ABOUTME: Defines Transport, ServerDefinition, OAuthTemplate, ParamSpec and lookup/listing

package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested server id is not in the catalog
var ErrNotFound = errors.New("server not found")

// Transport identifies how a server is reached
type Transport string

const (
	// TransportProcess servers are spawned as local subprocesses speaking stdio
	TransportProcess Transport = "process"
	// TransportStream servers are remote streamable-HTTP endpoints
	TransportStream Transport = "stream"
)

// ParseTransport converts a string to a Transport, rejecting unknown values
func ParseTransport(s string) (Transport, error) {
	switch Transport(s) {
	case TransportProcess, TransportStream:
		return Transport(s), nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// OAuthTemplate is the static description of a provider's authorization flow.
// It names the environment variables that hold the client credentials; it
// never holds resolved secret values itself, so definitions are safe to log.
type OAuthTemplate struct {
	Provider        string   `toml:"provider" json:"provider"`
	AuthorizeURL    string   `toml:"authorize_url" json:"authorize_url"`
	TokenURL        string   `toml:"token_url" json:"token_url"`
	Scopes          []string `toml:"scopes" json:"scopes,omitempty"`
	ClientIDEnv     string   `toml:"client_id_env" json:"client_id_env"`
	ClientSecretEnv string   `toml:"client_secret_env" json:"client_secret_env"`
}

// ParamSpec describes one user-supplied configuration parameter for a
// process-transport server
type ParamSpec struct {
	Type        string `toml:"type" json:"type"`
	Description string `toml:"description" json:"description"`
	Required    bool   `toml:"required" json:"required"`
	Example     string `toml:"example" json:"example,omitempty"`
	EnvVar      string `toml:"env_var" json:"env_var,omitempty"`
}

// ServerDefinition is one catalog entry. Stream servers carry URL and
// (when RequiresAuth) an OAuth template; process servers carry Command
// and ArgsTemplate. Definitions are immutable after catalog load.
type ServerDefinition struct {
	ID           string    `toml:"id" json:"id"`
	Name         string    `toml:"name" json:"name"`
	Description  string    `toml:"description" json:"description"`
	Transport    Transport `toml:"transport" json:"transport"`
	RequiresAuth bool      `toml:"requires_auth" json:"requires_auth"`
	Enabled      bool      `toml:"enabled" json:"enabled"`

	// Stream transport only
	URL   string         `toml:"url" json:"url,omitempty"`
	OAuth *OAuthTemplate `toml:"oauth" json:"oauth,omitempty"`

	// Process transport only
	Command      []string `toml:"command" json:"command,omitempty"`
	ArgsTemplate []string `toml:"args_template" json:"args_template,omitempty"`

	ConfigTemplate map[string]ParamSpec `toml:"config_template" json:"config_template,omitempty"`
}

// clone returns a deep copy so callers can never mutate catalog state
func (d ServerDefinition) clone() ServerDefinition {
	out := d
	if d.OAuth != nil {
		oa := *d.OAuth
		oa.Scopes = append([]string(nil), d.OAuth.Scopes...)
		out.OAuth = &oa
	}
	out.Command = append([]string(nil), d.Command...)
	out.ArgsTemplate = append([]string(nil), d.ArgsTemplate...)
	if d.ConfigTemplate != nil {
		ct := make(map[string]ParamSpec, len(d.ConfigTemplate))
		for k, v := range d.ConfigTemplate {
			ct[k] = v
		}
		out.ConfigTemplate = ct
	}
	return out
}

// Catalog is a read-only registry of server definitions. There is no
// mutation API: changing the set of launchable servers requires a new
// deployment with an updated definition file.
type Catalog struct {
	defs []ServerDefinition
	byID map[string]int
}

// ListOptions filters List results. The zero value lists all enabled
// servers regardless of transport or auth requirement.
type ListOptions struct {
	Transport       Transport // empty matches any transport
	RequiresAuth    *bool     // nil matches any
	IncludeDisabled bool      // disabled entries are hidden by default
}

// Get returns the definition for the given id, or ErrNotFound. Disabled
// servers are still returned; callers that care check Enabled themselves.
func (c *Catalog) Get(id string) (ServerDefinition, error) {
	idx, ok := c.byID[id]
	if !ok {
		return ServerDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.defs[idx].clone(), nil
}

// List returns definitions matching all supplied filters, in catalog
// insertion order. The order is curated by the definition file, not sorted.
func (c *Catalog) List(opts ListOptions) []ServerDefinition {
	out := make([]ServerDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		if !opts.IncludeDisabled && !d.Enabled {
			continue
		}
		if opts.Transport != "" && d.Transport != opts.Transport {
			continue
		}
		if opts.RequiresAuth != nil && d.RequiresAuth != *opts.RequiresAuth {
			continue
		}
		out = append(out, d.clone())
	}
	return out
}

// Len reports the total number of definitions, including disabled ones
func (c *Catalog) Len() int {
	return len(c.defs)
}
