package server

import (
	"fmt"
	"net/http"

	"github.com/desertthunder/jamgate/internal/shared"
	"github.com/gorilla/sessions"
)

const (
	sessionName = "jamgate_session"

	subjectKey   = "subject"
	sessionIDKey = "sid"
	stateKey     = "oauth_state"
)

// SessionManager owns the cookie-backed session layer.
//
// The serialize/deserialize contract is minimal: a session stores the
// subject (the authenticated user's external ID) and a server-generated
// session ID. Deserialization is a pure read; it never touches the
// identity store.
type SessionManager struct {
	store *sessions.CookieStore
}

// NewSessionManager creates a SessionManager with the given signing secret
// and session lifetime in seconds.
func NewSessionManager(secret string, maxAge int) *SessionManager {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionManager{store: store}
}

// Establish binds a new authenticated session to the given subject and
// returns the generated session ID.
func (m *SessionManager) Establish(w http.ResponseWriter, r *http.Request, subject string) (string, error) {
	session, _ := m.store.Get(r, sessionName)

	sid := shared.GenerateID()
	session.Values[subjectKey] = subject
	session.Values[sessionIDKey] = sid
	delete(session.Values, stateKey)

	if err := session.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	return sid, nil
}

// Subject deserializes the session on the request, returning the subject and
// session ID when one is established.
func (m *SessionManager) Subject(r *http.Request) (subject, sid string, ok bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil || session.IsNew {
		return "", "", false
	}

	subject, sok := session.Values[subjectKey].(string)
	sid, iok := session.Values[sessionIDKey].(string)
	if !sok || !iok || subject == "" {
		return "", "", false
	}

	return subject, sid, true
}

// Clear destroys the session on the request and returns the session ID it
// held, so callers can release session-scoped state.
func (m *SessionManager) Clear(w http.ResponseWriter, r *http.Request) (string, error) {
	session, _ := m.store.Get(r, sessionName)

	sid, _ := session.Values[sessionIDKey].(string)

	session.Options.MaxAge = -1
	session.Values = make(map[any]any)

	if err := session.Save(r, w); err != nil {
		return sid, fmt.Errorf("failed to clear session: %w", err)
	}

	return sid, nil
}

// SetState plants a CSRF state value in the (possibly anonymous) session
// ahead of the authorization redirect.
func (m *SessionManager) SetState(w http.ResponseWriter, r *http.Request, state string) error {
	session, _ := m.store.Get(r, sessionName)

	session.Values[stateKey] = state

	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

// ConsumeState returns the planted CSRF state and discards it, so a state
// value is single-use even when the callback it authorizes fails.
func (m *SessionManager) ConsumeState(w http.ResponseWriter, r *http.Request) (string, bool) {
	session, err := m.store.Get(r, sessionName)
	if err != nil {
		return "", false
	}

	state, ok := session.Values[stateKey].(string)
	if !ok || state == "" {
		return "", false
	}

	delete(session.Values, stateKey)
	if err := session.Save(r, w); err != nil {
		return "", false
	}

	return state, true
}
