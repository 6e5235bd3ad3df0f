// ABOUTME: Request handlers for servers, connections, verification, and the OAuth callback
// ABOUTME: OAuth servers answer connect with an authorize URL; others complete in-line

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dockhand/internal/auth"
	"dockhand/internal/catalog"
	"dockhand/internal/launch"
	"dockhand/internal/lifecycle"
	"dockhand/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListServers lists catalog entries. Query parameters: transport
// (process|stream), requires_auth (true|false), all (include disabled).
func (a *API) handleListServers(w http.ResponseWriter, r *http.Request) {
	opts := catalog.ListOptions{}
	q := r.URL.Query()

	if v := q.Get("transport"); v != "" {
		transport, err := catalog.ParseTransport(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Error: err.Error(), Code: "invalid_filter", Kind: "configuration"})
			return
		}
		opts.Transport = transport
	}
	if v := q.Get("requires_auth"); v != "" {
		requiresAuth, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{
				Error: "requires_auth must be true or false", Code: "invalid_filter", Kind: "configuration"})
			return
		}
		opts.RequiresAuth = &requiresAuth
	}
	if v := q.Get("all"); v != "" {
		opts.IncludeDisabled, _ = strconv.ParseBool(v)
	}

	defs := a.catalog.List(opts)
	servers := make([]serverInfo, len(defs))
	for i, def := range defs {
		servers[i] = newServerInfo(def, a.resolver.HasUsableCredentials(def.ID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (a *API) handleGetServer(w http.ResponseWriter, r *http.Request) {
	def, err := a.catalog.Get(r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newServerInfo(def, a.resolver.HasUsableCredentials(def.ID)))
}

// serverInfo is a catalog entry plus the dynamic configured flag. The OAuth
// template inside carries only environment-variable names, so the whole
// structure is safe to serialize.
type serverInfo struct {
	catalog.ServerDefinition
	Configured bool `json:"configured"`
}

func newServerInfo(def catalog.ServerDefinition, usable bool) serverInfo {
	// Servers without OAuth have nothing to configure ahead of connect
	return serverInfo{ServerDefinition: def, Configured: !def.RequiresAuth || usable}
}

// connectRequest carries optional user configuration for process servers
type connectRequest struct {
	Config map[string]string `json:"config"`
}

// handleConnect begins a connection attempt. OAuth servers answer with the
// provider authorize URL and stay in authorizing until the callback lands;
// process and unauthenticated stream servers are probed and completed
// in-line, so the response already carries the final state.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	serverID := r.PathValue("id")
	ctx := r.Context()

	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "malformed request body", Code: "bad_request", Kind: "configuration"})
		return
	}

	def, err := a.catalog.Get(serverID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// Process servers validate configuration up front, before any state
	// changes, so a missing required parameter rejects cleanly.
	userConfig := req.Config
	if def.Transport == catalog.TransportProcess {
		userConfig = launch.EnvDefaults(def, userConfig, a.source)
		if err := a.builder.ValidateConfig(serverID, userConfig); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	attempt, err := a.tracker.BeginConnect(ctx, userID, serverID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if def.OAuth != nil {
		resolved, err := a.resolver.ResolveOAuth(serverID)
		if err != nil {
			a.failAttempt(r, userID, serverID, attempt.ID, err.Error())
			a.writeError(w, r, err)
			return
		}
		authorizeURL, err := a.flow.Begin(ctx, resolved, userID, serverID, attempt.ID)
		if err != nil {
			a.failAttempt(r, userID, serverID, attempt.ID, err.Error())
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"attempt_id":    attempt.ID,
			"state":         store.StateAuthorizing,
			"authorize_url": authorizeURL,
		})
		return
	}

	// No authorization flow: probe now and complete the attempt in-line
	if err := a.prober.Probe(ctx, lifecycle.ProbeRequest{Def: def, Config: userConfig}); err != nil {
		a.failAttempt(r, userID, serverID, attempt.ID, err.Error())
		a.writeError(w, r, fmt.Errorf("%w: %v", lifecycle.ErrProbeFailed, err))
		return
	}

	result := lifecycle.Succeeded(nil)
	result.AttemptID = attempt.ID
	if err := a.tracker.CompleteConnect(ctx, userID, serverID, result); err != nil {
		a.writeError(w, r, err)
		return
	}

	conn, err := a.tracker.Get(ctx, userID, serverID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempt_id": attempt.ID,
		"connection": newConnectionInfo(conn),
	})
}

// failAttempt rolls an authorizing record to failed after a local error.
// Best effort: a conflict here means something else already moved the record.
func (a *API) failAttempt(r *http.Request, userID, serverID, attemptID, reason string) {
	result := lifecycle.Failed(reason)
	result.AttemptID = attemptID
	if err := a.tracker.CompleteConnect(r.Context(), userID, serverID, result); err != nil {
		a.logger.Warn("recording attempt failure",
			"user", userID, "server", serverID, "error", err)
	}
}

// handleCallback receives the provider redirect. The signed state parameter
// identifies the flow; a state that fails verification or a flow already
// claimed never touches a connection record.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	cb, err := a.flow.ConsumeCallback(ctx, q.Get("state"))
	if err != nil {
		a.metrics.RecordCallbackProcessed(ctx, "unknown", false)
		a.writeError(w, r, err)
		return
	}

	// Provider-reported denial (user declined consent, bad scopes)
	if provErr := q.Get("error"); provErr != "" {
		reason := provErr
		if desc := q.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		a.failAttempt(r, cb.UserID, cb.ServerID, cb.AttemptID, reason)
		a.metrics.RecordCallbackProcessed(ctx, cb.ServerID, false)
		writeCallbackPage(w, fmt.Sprintf("Authorization failed: %s", reason))
		return
	}

	resolved, err := a.resolver.ResolveOAuth(cb.ServerID)
	if err != nil || !resolved.Usable() {
		a.failAttempt(r, cb.UserID, cb.ServerID, cb.AttemptID, "credentials no longer configured")
		a.metrics.RecordCallbackProcessed(ctx, cb.ServerID, false)
		a.writeError(w, r, lifecycle.ErrCredentialsUnavailable)
		return
	}

	token, err := a.flow.Exchange(ctx, resolved, q.Get("code"), cb.Verifier)
	if err != nil {
		a.failAttempt(r, cb.UserID, cb.ServerID, cb.AttemptID, err.Error())
		a.metrics.RecordCallbackProcessed(ctx, cb.ServerID, false)
		a.writeError(w, r, fmt.Errorf("%w: %v", lifecycle.ErrProbeFailed, err))
		return
	}

	material, err := json.Marshal(token)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result := lifecycle.Succeeded(material)
	result.AttemptID = cb.AttemptID
	if err := a.tracker.CompleteConnect(ctx, cb.UserID, cb.ServerID, result); err != nil {
		a.metrics.RecordCallbackProcessed(ctx, cb.ServerID, false)
		a.writeError(w, r, err)
		return
	}

	a.metrics.RecordCallbackProcessed(ctx, cb.ServerID, true)
	a.logger.Info("authorization completed", "user", cb.UserID, "server", cb.ServerID)
	writeCallbackPage(w, fmt.Sprintf("Connected to %s. You can close this window.", cb.ServerID))
}

// writeCallbackPage answers the user's browser after the provider redirect
func writeCallbackPage(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, msg)
}

// verifyRequest carries optional config overrides for process servers
type verifyRequest struct {
	Config map[string]string `json:"config"`
}

// handleVerify runs a live capability probe against an established
// connection and promotes it to verified on success
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	serverID := r.PathValue("id")

	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "malformed request body", Code: "bad_request", Kind: "configuration"})
		return
	}

	userConfig := req.Config
	if def, err := a.catalog.Get(serverID); err == nil && def.Transport == catalog.TransportProcess {
		userConfig = launch.EnvDefaults(def, userConfig, a.source)
	}

	if err := a.tracker.Verify(r.Context(), userID, serverID, userConfig); err != nil {
		a.writeError(w, r, err)
		return
	}

	conn, err := a.tracker.Get(r.Context(), userID, serverID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": newConnectionInfo(conn)})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	serverID := r.PathValue("id")

	if err := a.tracker.Disconnect(r.Context(), userID, serverID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": serverID,
		"state":     store.StateDisconnected,
	})
}

// handleConnections lists the caller's connection records, optionally
// filtered by one or more state query parameters
func (a *API) handleConnections(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())

	states := r.URL.Query()["state"]
	conns, err := a.tracker.List(r.Context(), userID, states...)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: err.Error(), Code: "invalid_filter", Kind: "configuration"})
		return
	}

	out := make([]connectionInfo, len(conns))
	for i, conn := range conns {
		out[i] = newConnectionInfo(conn)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": out})
}

// connectionInfo is the wire shape of one connection record
type connectionInfo struct {
	ServerID    string     `json:"server_id"`
	State       string     `json:"state"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newConnectionInfo(conn *store.Connection) connectionInfo {
	return connectionInfo{
		ServerID:    conn.ServerID,
		State:       conn.State,
		ConnectedAt: conn.ConnectedAt,
		LastError:   conn.LastError,
		UpdatedAt:   conn.UpdatedAt,
	}
}
