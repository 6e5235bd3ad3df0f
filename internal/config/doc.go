// Package config handles configuration loading for dockhand.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DOCKHAND_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/dockhand/dockhand.yaml
//  3. ~/.config/dockhand/dockhand.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  api_secret: "${DOCKHAND_API_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string, which
// validation then catches for required fields.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "localhost:8080"
//	  base_url: "https://dockhand.example.com"  # external URL for OAuth callbacks
//
// Database:
//
//	database:
//	  path: "/var/lib/dockhand/dockhand.db"  # DOCKHAND_DB overrides
//
// Authentication and token vault:
//
//	auth:
//	  api_secret: "${DOCKHAND_API_SECRET}"
//	  token_ttl: "720h"
//
//	vault:
//	  key: "${DOCKHAND_VAULT_KEY}"  # base64, 32 bytes decoded
//
// Catalog and probing:
//
//	catalog:
//	  path: ""          # empty = embedded default definition set
//
//	probe:
//	  timeout: "10s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
