// ABOUTME: Capability probe for MCP servers over stdio and streamable HTTP
// ABOUTME: Spawns or dials the server, runs the MCP handshake, and lists its tools

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"dockhand/internal/catalog"
	"dockhand/internal/launch"
	"dockhand/internal/lifecycle"
)

// DefaultTimeout bounds a probe when the caller's context carries no
// deadline. It covers subprocess start plus the MCP handshake.
const DefaultTimeout = 10 * time.Second

// protocolVersion is the MCP protocol revision we present during the
// initialize handshake
const protocolVersion = "2024-11-05"

// Client probes MCP servers for liveness. A probe is a full protocol
// handshake followed by a tools listing, so a passing probe means the
// server is not just reachable but actually serving tools.
type Client struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a probe client. A zero timeout selects DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		timeout: timeout,
		logger:  slog.Default().With("component", "probe"),
	}
}

// Probe implements lifecycle.Prober: it dispatches on the definition's
// transport and runs the capability check
func (c *Client) Probe(ctx context.Context, req lifecycle.ProbeRequest) error {
	switch req.Def.Transport {
	case catalog.TransportProcess:
		argv, err := launch.Command(req.Def, req.Config)
		if err != nil {
			return err
		}
		return c.ProbeProcess(ctx, argv, launch.Env(req.Def, req.Config))
	case catalog.TransportStream:
		bearer, err := bearerFromToken(req.Token)
		if err != nil {
			return err
		}
		return c.ProbeStream(ctx, req.Def.URL, bearer)
	default:
		return fmt.Errorf("unknown transport %q", req.Def.Transport)
	}
}

// ProbeProcess spawns the argv as a subprocess speaking MCP over stdio,
// completes the handshake, and lists tools. The subprocess is torn down
// before returning; the probe never leaves a process behind. extraEnv
// entries ("KEY=value") are appended to the inherited environment.
func (c *Client) ProbeProcess(ctx context.Context, argv, extraEnv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	mcpClient, err := client.NewStdioMCPClient(argv[0], extraEnv, argv[1:]...)
	if err != nil {
		return fmt.Errorf("starting server process: %w", err)
	}
	defer mcpClient.Close()

	return c.handshake(ctx, mcpClient, argv[0])
}

// ProbeStream dials a streamable-HTTP MCP endpoint, optionally with a
// bearer token, completes the handshake, and lists tools
func (c *Client) ProbeStream(ctx context.Context, url, bearer string) error {
	var opts []transport.StreamableHTTPCOption
	if bearer != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + bearer,
		}))
	}

	mcpClient, err := client.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return fmt.Errorf("creating stream client: %w", err)
	}
	defer mcpClient.Close()

	return c.handshake(ctx, mcpClient, url)
}

// handshake runs initialize + tools/list against an MCP client
func (c *Client) handshake(ctx context.Context, mcpClient *client.Client, target string) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	initResult, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "dockhand",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("initializing MCP session: %w", err)
	}

	tools, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}

	c.logger.Info("probe succeeded",
		"target", target,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"tools", len(tools.Tools))
	return nil
}

// bearerFromToken extracts the access token from stored token material.
// The vault stores the full oauth2.Token as JSON; only the access token
// travels on the wire. Empty material means an unauthenticated endpoint.
func bearerFromToken(material []byte) (string, error) {
	if len(material) == 0 {
		return "", nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(material, &tok); err != nil {
		return "", fmt.Errorf("decoding stored token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("stored token has no access token")
	}
	return tok.AccessToken, nil
}
