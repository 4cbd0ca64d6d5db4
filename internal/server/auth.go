package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jamgate/internal/auth"
	"github.com/desertthunder/jamgate/internal/services"
	"github.com/desertthunder/jamgate/internal/shared"
)

// AuthHandler serves the gateway's authentication routes.
type AuthHandler struct {
	provider    services.Provider
	reconciler  *auth.Reconciler
	credentials *auth.CredentialStore
	sessions    *SessionManager
	frontend    shared.FrontendConfig
	logger      *log.Logger
	collector   *Collector
}

// NewAuthHandler creates an AuthHandler with the given collaborators.
func NewAuthHandler(
	provider services.Provider,
	reconciler *auth.Reconciler,
	credentials *auth.CredentialStore,
	sessions *SessionManager,
	frontend shared.FrontendConfig,
	logger *log.Logger,
	collector *Collector,
) *AuthHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &AuthHandler{
		provider:    provider,
		reconciler:  reconciler,
		credentials: credentials,
		sessions:    sessions,
		frontend:    frontend,
		logger:      logger,
		collector:   collector,
	}
}

// Login reports authentication status. Session-gated, so reaching it at all
// means the caller is authenticated.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "You are logged in"})
}

// Logout destroys the session and its credentials, then redirects to the
// front-end root. The user record itself is untouched; identities persist
// across logins.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sid, err := h.sessions.Clear(w, r)
	if err != nil {
		h.logger.Warn("failed to clear session", "error", err)
	}
	if sid != "" {
		h.credentials.Delete(sid)
	}

	h.logger.Info("user logged out")
	http.Redirect(w, r, h.frontend.Origin, http.StatusFound)
}

// Begin starts the authorization-code handshake: it plants a CSRF state in
// the session and redirects the browser to the provider's authorization
// endpoint with the configured scope set, forcing re-consent.
func (h *AuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	state := shared.GenerateID()
	if err := h.sessions.SetState(w, r, state); err != nil {
		h.logger.Error("failed to persist state", "error", err)
		http.Redirect(w, r, h.frontend.FailureURL, http.StatusFound)
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the handshake. On success it reconciles the external
// profile, establishes a session, stores the token pair under the new
// session ID, and redirects to the configured success location. Every
// failure path redirects to the failure location with nothing established;
// provider and store errors are logged, never surfaced to the browser.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("authorization denied", "error", errParam)
		h.fail(w, r)
		return
	}

	state, ok := h.sessions.ConsumeState(w, r)
	if !ok || state != query.Get("state") {
		h.logger.Warn("state mismatch on callback")
		h.fail(w, r)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.logger.Warn("callback missing authorization code")
		h.fail(w, r)
		return
	}

	token, profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		h.fail(w, r)
		return
	}

	user, err := h.reconciler.Reconcile(profile.ID, profile.DisplayName)
	if err != nil {
		h.logger.Error("reconciliation failed", "error", err)
		h.fail(w, r)
		return
	}

	sid, err := h.sessions.Establish(w, r, user.ExternalID())
	if err != nil {
		h.logger.Error("failed to establish session", "error", err)
		h.fail(w, r)
		return
	}

	h.credentials.Set(sid, auth.PairFromToken(token))

	if h.collector != nil {
		h.collector.RecordLogin("success")
	}
	h.logger.Info("session established", "external_id", user.ExternalID())

	http.Redirect(w, r, h.frontend.SuccessURL, http.StatusFound)
}

// Tokens hands the caller their own credential pair. Session-gated.
func (h *AuthHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	principal, err := PrincipalFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": deniedBody})
		return
	}

	pair, ok := h.credentials.Get(principal.SessionID)
	if !ok {
		// Session outlived its credentials (e.g. process restart).
		writeJSON(w, http.StatusNotFound, map[string]string{"error": deniedBody})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// RefreshToken exchanges a caller-supplied refresh token for a new access
// token. Capability-based: any holder of a valid refresh token may call it,
// no session required and no ownership check linking token to caller.
//
// A rejected refresh surfaces as an explicit error and leaves stored pairs
// untouched.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.URL.Query().Get("refresh_token")
	if refreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "refresh_token query parameter is required"})
		return
	}

	token, err := h.provider.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.logger.Error("token refresh failed", "error", err)
		if h.collector != nil {
			h.collector.RecordRefresh("failure")
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "token refresh failed"})
		return
	}

	// When the caller holds a session, keep its stored pair current,
	// including a rotated refresh token.
	if _, sid, ok := h.sessions.Subject(r); ok {
		h.credentials.Set(sid, auth.PairFromToken(token))
	}

	if h.collector != nil {
		h.collector.RecordRefresh("success")
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": token.AccessToken})
}

// Health reports liveness and whether the caller holds a session.
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	_, _, authenticated := h.sessions.Subject(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"authenticated": authenticated,
	})
}

// fail redirects the browser to the configured failure location.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request) {
	if h.collector != nil {
		h.collector.RecordLogin("failure")
	}
	http.Redirect(w, r, h.frontend.FailureURL, http.StatusFound)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
