// ABOUTME: Catalog loading from TOML definition files with structural validation
// ABOUTME: Provides the embedded default definition set used at process start

package catalog

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed servers.toml
var defaultServers []byte

type definitionFile struct {
	Servers []ServerDefinition `toml:"servers"`
}

// Default builds the catalog from the embedded definition set
func Default() (*Catalog, error) {
	return Parse(defaultServers)
}

// LoadFile builds a catalog from a TOML definition file on disk
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server definitions: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML definition set
func Parse(data []byte) (*Catalog, error) {
	var file definitionFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, fmt.Errorf("parsing server definitions: %w", err)
	}
	if len(file.Servers) == 0 {
		return nil, fmt.Errorf("server definitions: no servers defined")
	}

	c := &Catalog{
		defs: file.Servers,
		byID: make(map[string]int, len(file.Servers)),
	}
	for i, d := range c.defs {
		if err := validateDefinition(d); err != nil {
			return nil, fmt.Errorf("server %q: %w", d.ID, err)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("server %q: duplicate id", d.ID)
		}
		c.byID[d.ID] = i
	}
	return c, nil
}

func validateDefinition(d ServerDefinition) error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := ParseTransport(string(d.Transport)); err != nil {
		return err
	}

	switch d.Transport {
	case TransportStream:
		if d.URL == "" {
			return fmt.Errorf("stream servers require a url")
		}
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("url %q is not a valid http(s) URL", d.URL)
		}
		if len(d.Command) > 0 || len(d.ArgsTemplate) > 0 {
			return fmt.Errorf("stream servers cannot carry command or args_template")
		}
		if d.RequiresAuth && d.OAuth == nil {
			return fmt.Errorf("requires_auth is set but no oauth template is defined")
		}
		if !d.RequiresAuth && d.OAuth != nil {
			return fmt.Errorf("oauth template is defined but requires_auth is not set")
		}
		if d.OAuth != nil {
			if err := validateOAuth(d.OAuth); err != nil {
				return err
			}
		}

	case TransportProcess:
		if len(d.Command) == 0 {
			return fmt.Errorf("process servers require a command")
		}
		if d.URL != "" {
			return fmt.Errorf("process servers cannot carry a url")
		}
		if d.OAuth != nil {
			return fmt.Errorf("process servers cannot carry an oauth template")
		}
		if d.RequiresAuth {
			return fmt.Errorf("process servers cannot require authorization")
		}
	}

	for name, spec := range d.ConfigTemplate {
		if name == "" {
			return fmt.Errorf("config_template parameter with empty name")
		}
		switch spec.Type {
		case "string", "number", "boolean":
		default:
			return fmt.Errorf("config_template parameter %q: unknown type %q", name, spec.Type)
		}
	}
	return nil
}

func validateOAuth(oa *OAuthTemplate) error {
	if oa.AuthorizeURL == "" || oa.TokenURL == "" {
		return fmt.Errorf("oauth template requires authorize_url and token_url")
	}
	for _, raw := range []string{oa.AuthorizeURL, oa.TokenURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("oauth url %q is not a valid http(s) URL", raw)
		}
	}
	if oa.ClientIDEnv == "" || oa.ClientSecretEnv == "" {
		return fmt.Errorf("oauth template requires client_id_env and client_secret_env")
	}
	return nil
}
