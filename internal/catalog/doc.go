// Package catalog holds the read-only registry of MCP server definitions.
//
// # Architecture
//
// The catalog is loaded exactly once at process start, either from the
// embedded definition set (Default) or from an operator-supplied TOML file
// (LoadFile). After that it is immutable: there is no registration API, and
// every Get/List call returns defensive copies. Since catalog entries gate
// which external processes the service will spawn and which remote
// endpoints it will talk to, runtime mutation is deliberately impossible.
//
// # Definition shapes
//
// A ServerDefinition is reached over one of two transports:
//
//   - process: spawned as a local subprocess. Carries Command (executable
//     plus fixed arguments) and ArgsTemplate (arguments with {name}
//     placeholders filled from user configuration at launch time).
//   - stream: a remote streamable-HTTP endpoint. Carries URL and, when
//     RequiresAuth is set, an OAuthTemplate.
//
// OAuthTemplate names the environment variables that hold client
// credentials; it never contains secret values, so definitions can be
// logged and served verbatim.
//
// # Validation
//
// Parse rejects definition sets that mix transport fields (a stream server
// with a command, a process server with a url or oauth block), repeat an
// id, or reference an unknown transport or parameter type. A set that
// loads is structurally sound everywhere downstream.
package catalog
