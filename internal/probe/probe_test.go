// ABOUTME: Tests for the capability probe against an in-process streamable HTTP MCP server
// ABOUTME: Covers handshake success, auth headers, transport dispatch, and token decoding

package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"dockhand/internal/catalog"
	"dockhand/internal/lifecycle"
)

// startMCPServer serves a minimal MCP server with one tool over streamable
// HTTP. When requireBearer is set, requests without that bearer token get 401.
func startMCPServer(t *testing.T, requireBearer string) *httptest.Server {
	t.Helper()

	mcpServer := server.NewMCPServer("probe-test", "1.0.0",
		server.WithToolCapabilities(false),
	)
	mcpServer.AddTool(
		mcp.NewTool("echo", mcp.WithDescription("echoes input")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("ok"), nil
		},
	)

	var handler http.Handler = server.NewStreamableHTTPServer(mcpServer)
	if requireBearer != "" {
		inner := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+requireBearer {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			inner.ServeHTTP(w, r)
		})
	}

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestProbeStream(t *testing.T) {
	ts := startMCPServer(t, "")
	c := New(5 * time.Second)

	err := c.ProbeStream(context.Background(), ts.URL, "")
	require.NoError(t, err)
}

func TestProbeStream_WithBearer(t *testing.T) {
	ts := startMCPServer(t, "tok-123")
	c := New(5 * time.Second)

	require.NoError(t, c.ProbeStream(context.Background(), ts.URL, "tok-123"))
	assert.Error(t, c.ProbeStream(context.Background(), ts.URL, "wrong-token"))
}

func TestProbe_DispatchesStream(t *testing.T) {
	ts := startMCPServer(t, "tok-123")
	c := New(5 * time.Second)

	material, err := json.Marshal(&oauth2.Token{AccessToken: "tok-123", TokenType: "bearer"})
	require.NoError(t, err)

	err = c.Probe(context.Background(), lifecycle.ProbeRequest{
		Def: catalog.ServerDefinition{
			ID:           "github",
			Transport:    catalog.TransportStream,
			RequiresAuth: true,
			URL:          ts.URL,
		},
		Token: material,
	})
	require.NoError(t, err)
}

func TestProbe_ProcessWrongArgv(t *testing.T) {
	c := New(time.Second)

	err := c.ProbeProcess(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestProbe_ProcessTransportBuildsArgv(t *testing.T) {
	c := New(2 * time.Second)

	// A definition whose command does not exist fails at spawn or handshake,
	// proving dispatch went down the process path.
	err := c.Probe(context.Background(), lifecycle.ProbeRequest{
		Def: catalog.ServerDefinition{
			ID:        "bogus",
			Transport: catalog.TransportProcess,
			Command:   []string{"/nonexistent/mcp-server"},
		},
	})
	assert.Error(t, err)
}

func TestBearerFromToken(t *testing.T) {
	material, err := json.Marshal(&oauth2.Token{AccessToken: "tok-xyz"})
	require.NoError(t, err)

	bearer, err := bearerFromToken(material)
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", bearer)

	// No material at all means an unauthenticated endpoint
	bearer, err = bearerFromToken(nil)
	require.NoError(t, err)
	assert.Empty(t, bearer)

	_, err = bearerFromToken([]byte("not-json"))
	assert.Error(t, err)

	empty, err := json.Marshal(&oauth2.Token{})
	require.NoError(t, err)
	_, err = bearerFromToken(empty)
	assert.Error(t, err)
}
