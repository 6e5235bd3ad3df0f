// ABOUTME: Admin CLI for the dockhand catalog and connection lifecycle API
// ABOUTME: Talks JSON over HTTP with bearer-token authentication

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
     _            _    _                     _
  __| | ___   ___| | _| |__   __ _ _ __   __| |
 / _' |/ _ \ / __| |/ / '_ \ / _' | '_ \ / _' |
| (_| | (_) | (__|   <| | | | (_| | | | | (_| |
 \__,_|\___/ \___|_|\_\_| |_|\__,_|_| |_|\__,_| admin
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("DOCKHAND_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &client{baseURL: baseURL, token: getToken()}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "servers":
		err = cmdServers(c, args)
	case "server", "info":
		err = cmdServer(c, args)
	case "connect":
		err = cmdConnect(c, args)
	case "verify":
		err = cmdVerify(c, args)
	case "disconnect":
		err = cmdDisconnect(c, args)
	case "connections", "status":
		err = cmdConnections(c, args)
	case "health":
		err = cmdHealth(c)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: dockhand-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  servers                    List catalog servers")
	fmt.Println("  servers --transport <t>    Filter by transport (process/stream)")
	fmt.Println("  servers --all              Include disabled servers")
	fmt.Println("  server <id>                Show one server definition")
	fmt.Println("  connect <id>               Connect to a server")
	fmt.Println("  connect <id> --param k=v   Connect with configuration parameters")
	fmt.Println("  verify <id>                Capability-probe an established connection")
	fmt.Println("  disconnect <id>            Disconnect from a server")
	fmt.Println("  connections                List your connections")
	fmt.Println("  connections --state <s>    Filter by state")
	fmt.Println("  health                     Check server health")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  DOCKHAND_URL       Server base URL (default: http://localhost:8080)")
	fmt.Println("  DOCKHAND_TOKEN     API bearer token (falls back to the bootstrap token file)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export DOCKHAND_TOKEN=\"eyJhbG...\"")
	fmt.Println("  dockhand-admin servers")
	fmt.Println("  dockhand-admin connect filesystem --param root=/home/alice/docs")
	fmt.Println("  dockhand-admin connect github   # prints the authorize URL to open")
	fmt.Println()
}

// getToken reads the API token from the environment, falling back to the
// file dockhand bootstrap writes next to the config
func getToken() string {
	if token := os.Getenv("DOCKHAND_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	data, err := os.ReadFile(filepath.Join(configDir, "dockhand", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// client is a thin JSON-over-HTTP client for the dockhand API
type client struct {
	baseURL string
	token   string
}

// do sends one request and decodes the JSON response. API errors come back
// as a formatted error carrying the server's code and message.
func (c *client) do(method, path string, body any) (map[string]any, error) {
	if c.token == "" {
		return nil, fmt.Errorf("DOCKHAND_TOKEN environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reaching %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var decoded map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, truncate(string(data), 120))
		}
	}

	if resp.StatusCode >= 400 {
		msg, _ := decoded["error"].(string)
		code, _ := decoded["code"].(string)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if code != "" {
			return decoded, fmt.Errorf("%s (%s)", msg, code)
		}
		return decoded, fmt.Errorf("%s", msg)
	}
	return decoded, nil
}

func cmdServers(c *client, args []string) error {
	query := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--transport", "-t":
			if i+1 < len(args) {
				query = addQuery(query, "transport="+args[i+1])
				i++
			}
		case "--all", "-a":
			query = addQuery(query, "all=true")
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	resp, err := c.do(http.MethodGet, "/api/servers"+query, nil)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Catalog Servers")
	cyan.Println("  ---------------")

	servers, _ := resp["servers"].([]any)
	if len(servers) == 0 {
		fmt.Println("  (no servers)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tTRANSPORT\tAUTH\tCONFIGURED\tENABLED")
	fmt.Fprintln(w, "  --\t----\t---------\t----\t----------\t-------")

	for _, s := range servers {
		srv, _ := s.(map[string]any)
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			str(srv["id"]),
			truncate(str(srv["name"]), 24),
			str(srv["transport"]),
			yesNo(srv["requires_auth"] == true),
			yesNo(srv["configured"] == true),
			yesNo(srv["enabled"] == true),
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdServer(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: server <id>")
	}

	resp, err := c.do(http.MethodGet, "/api/servers/"+args[0], nil)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s\n", str(resp["name"]))
	cyan.Println("  " + strings.Repeat("-", len(str(resp["name"]))))
	fmt.Printf("  ID:          %s\n", str(resp["id"]))
	fmt.Printf("  Description: %s\n", str(resp["description"]))
	fmt.Printf("  Transport:   %s\n", str(resp["transport"]))
	fmt.Printf("  Enabled:     %s\n", yesNo(resp["enabled"] == true))
	fmt.Printf("  Configured:  %s\n", yesNo(resp["configured"] == true))

	if url := str(resp["url"]); url != "" {
		fmt.Printf("  URL:         %s\n", url)
	}
	if oauth, ok := resp["oauth"].(map[string]any); ok {
		fmt.Printf("  Provider:    %s\n", str(oauth["provider"]))
		fmt.Printf("  Credentials: %s / %s\n", str(oauth["client_id_env"]), str(oauth["client_secret_env"]))
	}

	if params, ok := resp["config_template"].(map[string]any); ok && len(params) > 0 {
		fmt.Println()
		cyan.Println("  Parameters")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tTYPE\tREQUIRED\tDESCRIPTION")
		for name, p := range params {
			spec, _ := p.(map[string]any)
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
				name, str(spec["type"]), yesNo(spec["required"] == true),
				truncate(str(spec["description"]), 48))
		}
		w.Flush()
	}
	fmt.Println()

	return nil
}

// parseParams reads repeated --param k=v flags into a config map
func parseParams(args []string) (map[string]string, error) {
	params := map[string]string{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--param", "-p":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--param requires a value (k=v)")
			}
			k, v, ok := strings.Cut(args[i+1], "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("invalid parameter %q (expected k=v)", args[i+1])
			}
			params[k] = v
			i++
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return params, nil
}

func cmdConnect(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: connect <id> [--param k=v ...]")
	}
	serverID := args[0]

	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	var body any
	if len(params) > 0 {
		body = map[string]any{"config": params}
	}

	resp, err := c.do(http.MethodPost, "/api/servers/"+serverID+"/connect", body)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	// OAuth servers hand back an authorize URL instead of a finished connection
	if authorizeURL := str(resp["authorize_url"]); authorizeURL != "" {
		yellow.Printf("⧗ Authorization required for %s\n", serverID)
		fmt.Println()
		fmt.Println("  Open this URL in your browser to continue:")
		fmt.Printf("  %s\n", authorizeURL)
		fmt.Println()
		fmt.Println("  The connection completes when the provider redirects back.")
		return nil
	}

	conn, _ := resp["connection"].(map[string]any)
	green.Printf("✓ Connected to %s\n", serverID)
	fmt.Printf("  State:   %s\n", str(conn["state"]))
	fmt.Printf("  Attempt: %s\n", str(resp["attempt_id"]))

	return nil
}

func cmdVerify(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: verify <id> [--param k=v ...]")
	}
	serverID := args[0]

	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	var body any
	if len(params) > 0 {
		body = map[string]any{"config": params}
	}

	resp, err := c.do(http.MethodPost, "/api/servers/"+serverID+"/verify", body)
	if err != nil {
		return err
	}

	conn, _ := resp["connection"].(map[string]any)
	green := color.New(color.FgGreen)
	green.Printf("✓ Verified %s\n", serverID)
	fmt.Printf("  State: %s\n", str(conn["state"]))

	return nil
}

func cmdDisconnect(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: disconnect <id>")
	}
	serverID := args[0]

	if _, err := c.do(http.MethodDelete, "/api/servers/"+serverID+"/connection", nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Disconnected from %s\n", serverID)

	return nil
}

func cmdConnections(c *client, args []string) error {
	query := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--state", "-s":
			if i+1 < len(args) {
				query = addQuery(query, "state="+args[i+1])
				i++
			}
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	resp, err := c.do(http.MethodGet, "/api/connections"+query, nil)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Connections")
	cyan.Println("  -----------")

	conns, _ := resp["connections"].([]any)
	if len(conns) == 0 {
		fmt.Println("  (no connections)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SERVER\tSTATE\tCONNECTED\tUPDATED\tLAST ERROR")
	fmt.Fprintln(w, "  ------\t-----\t---------\t-------\t----------")

	for _, item := range conns {
		conn, _ := item.(map[string]any)
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			str(conn["server_id"]),
			colorState(str(conn["state"])),
			shortTime(str(conn["connected_at"])),
			shortTime(str(conn["updated_at"])),
			truncate(str(conn["last_error"]), 40),
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdHealth(c *client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

func colorState(state string) string {
	switch state {
	case "verified":
		return color.GreenString(state)
	case "connected":
		return color.CyanString(state)
	case "authorizing":
		return color.YellowString(state)
	case "failed":
		return color.RedString(state)
	default:
		return state
	}
}

func addQuery(query, param string) string {
	if query == "" {
		return "?" + param
	}
	return query + "&" + param
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func shortTime(raw string) string {
	if raw == "" {
		return "-"
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Local().Format("Jan 02 15:04")
	}
	return raw
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
