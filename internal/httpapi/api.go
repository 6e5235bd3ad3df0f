// ABOUTME: JSON HTTP API for the server catalog and connection lifecycle
// ABOUTME: Routes, auth wiring, and the error-to-status taxonomy mapping

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dockhand/internal/auth"
	"dockhand/internal/catalog"
	"dockhand/internal/credentials"
	"dockhand/internal/launch"
	"dockhand/internal/lifecycle"
	"dockhand/internal/metrics"
	"dockhand/internal/oauth"
	"dockhand/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB)
const MaxRequestBodySize = 1 << 20

// Config wires the API's collaborators
type Config struct {
	Catalog  *catalog.Catalog
	Resolver *credentials.Resolver
	Builder  *launch.Builder
	Tracker  *lifecycle.Tracker
	Flow     *oauth.Flow
	Prober   lifecycle.Prober
	Verifier auth.TokenVerifier
	Source   credentials.Source
	Metrics  *metrics.Metrics
}

// API serves the dockhand HTTP surface: the authenticated /api routes, the
// unauthenticated OAuth callback, and the health endpoint
type API struct {
	catalog  *catalog.Catalog
	resolver *credentials.Resolver
	builder  *launch.Builder
	tracker  *lifecycle.Tracker
	flow     *oauth.Flow
	prober   lifecycle.Prober
	verifier auth.TokenVerifier
	source   credentials.Source
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds the API from its collaborators
func New(cfg Config) *API {
	return &API{
		catalog:  cfg.Catalog,
		resolver: cfg.Resolver,
		builder:  cfg.Builder,
		tracker:  cfg.Tracker,
		flow:     cfg.Flow,
		prober:   cfg.Prober,
		verifier: cfg.Verifier,
		source:   cfg.Source,
		metrics:  cfg.Metrics,
		logger:   slog.Default().With("component", "httpapi"),
	}
}

// Handler returns the full route table. Every /api route sits behind the
// bearer-token middleware; /oauth/callback stays open because the browser
// redirect from the provider carries no Authorization header (identity
// arrives inside the signed state parameter instead).
func (a *API) Handler() http.Handler {
	withAuth := auth.Middleware(a.verifier)
	authed := func(h http.HandlerFunc) http.Handler {
		return withAuth(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /oauth/callback", a.handleCallback)

	mux.Handle("GET /api/servers", authed(a.handleListServers))
	mux.Handle("GET /api/servers/{id}", authed(a.handleGetServer))
	mux.Handle("POST /api/servers/{id}/connect", authed(a.handleConnect))
	mux.Handle("POST /api/servers/{id}/verify", authed(a.handleVerify))
	mux.Handle("DELETE /api/servers/{id}/connection", authed(a.handleDisconnect))
	mux.Handle("GET /api/connections", authed(a.handleConnections))

	return a.instrument(mux)
}

// instrument records request counts and latency per route pattern
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		a.metrics.RecordHTTPRequest(r.Context(), r.Method, route, sw.status,
			float64(time.Since(start).Milliseconds()))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// errorBody is the JSON shape of every API error. Kind tells callers how to
// react: "configuration" means fix your setup, "transient" means try again,
// "conflict" means an expected race or out-of-order request.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind"`
}

// writeError maps the error taxonomy onto HTTP statuses
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *launch.MissingParamsError

	status := http.StatusServiceUnavailable
	body := errorBody{Error: err.Error(), Code: "store_unavailable", Kind: "transient"}

	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status, body.Code, body.Kind = http.StatusNotFound, "not_found", "configuration"
	case errors.Is(err, launch.ErrWrongTransport):
		status, body.Code, body.Kind = http.StatusBadRequest, "invalid_server", "configuration"
	case errors.As(err, &missing):
		status, body.Code, body.Kind = http.StatusBadRequest, "missing_parameters", "configuration"
	case errors.Is(err, lifecycle.ErrCredentialsUnavailable):
		status, body.Code, body.Kind = http.StatusBadRequest, "credentials_unavailable", "configuration"
	case errors.Is(err, lifecycle.ErrServerDisabled):
		status, body.Code, body.Kind = http.StatusForbidden, "server_disabled", "configuration"
	case errors.Is(err, lifecycle.ErrAlreadyConnected):
		status, body.Code, body.Kind = http.StatusConflict, "already_connected", "conflict"
	case errors.Is(err, lifecycle.ErrNotConnected):
		status, body.Code, body.Kind = http.StatusConflict, "not_connected", "conflict"
	case errors.Is(err, lifecycle.ErrStaleTransition), errors.Is(err, oauth.ErrFlowConsumed):
		status, body.Code, body.Kind = http.StatusGone, "stale_transition", "conflict"
	case errors.Is(err, oauth.ErrInvalidState):
		status, body.Code, body.Kind = http.StatusBadRequest, "invalid_state", "configuration"
	case errors.Is(err, lifecycle.ErrProbeFailed):
		status, body.Code, body.Kind = http.StatusBadGateway, "probe_failed", "transient"
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}

// decodeBody decodes an optional JSON request body into v. An empty body is
// fine; malformed JSON is not.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxRequestBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
