package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/desertthunder/jamgate/internal/repositories"
	"github.com/desertthunder/jamgate/internal/services"
	"github.com/desertthunder/jamgate/internal/shared"
	"golang.org/x/oauth2"
)

// fakeProvider is a test double for [services.Provider].
type fakeProvider struct {
	rejectRefresh bool
	profile       services.Profile
	exchanges     int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {"test-client"},
		"response_type": {"code"},
		"scope":         {"user-read-email"},
		"show_dialog":   {"true"},
		"state":         {state},
	}
	return "https://accounts.example.com/authorize?" + params.Encode()
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, *services.Profile, error) {
	if code != "good-code" {
		return nil, nil, fmt.Errorf("%w: invalid code", shared.ErrAuthFailed)
	}
	p.exchanges++
	profile := p.profile
	token := &oauth2.Token{
		AccessToken:  fmt.Sprintf("access-%d", p.exchanges),
		RefreshToken: fmt.Sprintf("refresh-%d", p.exchanges),
	}
	return token, &profile, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.rejectRefresh || refreshToken == "bad-token" {
		return nil, fmt.Errorf("%w: provider rejected token", shared.ErrRefreshFailed)
	}
	return &oauth2.Token{AccessToken: "refreshed-access", RefreshToken: refreshToken}, nil
}

var _ services.Provider = (*fakeProvider)(nil)

// gatewayFixture is a running gateway with a browser-like client.
type gatewayFixture struct {
	server   *httptest.Server
	client   *http.Client
	provider *fakeProvider
	users    *repositories.UserRepository
}

func setupGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	config := shared.DefaultConfig()
	config.Server.SessionSecret = "test-secret"
	config.Frontend.Origin = "http://localhost:3000"
	config.Frontend.SuccessURL = "http://localhost:3000/#/auth"
	config.Frontend.FailureURL = "http://localhost:3000/#/login"
	// High enough that tests never trip the limiter.
	config.Server.RatePerSecond = 100
	config.Server.RateBurst = 100

	provider := &fakeProvider{profile: services.Profile{ID: "u1", DisplayName: "Test Listener"}}
	users := repositories.NewUserRepository(db)

	logger := shared.NewLogger(&strings.Builder{})

	srv, err := New(Deps{Config: config, Provider: provider, Users: users, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}

	client := &http.Client{
		Jar: jar,
		// Redirects leave the gateway for the provider or front-end;
		// the tests assert on Location instead of following.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &gatewayFixture{server: httpServer, client: client, provider: provider, users: users}
}

func (f *gatewayFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := f.client.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// authorize drives the full handshake: begin authorization, capture the
// state from the provider redirect, and complete the callback.
func (f *gatewayFixture) authorize(t *testing.T) {
	t.Helper()

	begin := f.get(t, "/auth/spotify")
	if begin.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect to provider, got %d", begin.StatusCode)
	}

	location, err := url.Parse(begin.Header.Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse authorize URL: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("expected a state parameter in the authorize URL")
	}

	callback := f.get(t, "/auth/spotify/callback?code=good-code&state="+url.QueryEscape(state))
	if callback.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect after callback, got %d", callback.StatusCode)
	}
	if loc := callback.Header.Get("Location"); loc != "http://localhost:3000/#/auth" {
		t.Fatalf("expected success redirect, got %s", loc)
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestAuthorizationFlow(t *testing.T) {
	t.Run("begin redirects to the provider with scope and forced consent", func(t *testing.T) {
		f := setupGateway(t)

		resp := f.get(t, "/auth/spotify")
		if resp.StatusCode != http.StatusFound {
			t.Fatalf("expected status 302, got %d", resp.StatusCode)
		}

		location, err := url.Parse(resp.Header.Get("Location"))
		if err != nil {
			t.Fatalf("failed to parse redirect: %v", err)
		}

		query := location.Query()
		if !strings.Contains(query.Get("scope"), "user-read-email") {
			t.Errorf("expected scope user-read-email, got %q", query.Get("scope"))
		}
		if query.Get("show_dialog") != "true" {
			t.Error("expected forced re-consent flag")
		}
	})

	t.Run("successful callback creates the user, establishes a session, and exposes the pair", func(t *testing.T) {
		f := setupGateway(t)

		f.authorize(t)

		user, err := f.users.GetByExternalID("u1")
		if err != nil {
			t.Fatalf("expected user u1 to exist: %v", err)
		}
		if user.DisplayName() != "Test Listener" {
			t.Errorf("unexpected display name %s", user.DisplayName())
		}

		login := f.get(t, "/login")
		if login.StatusCode != http.StatusOK {
			t.Errorf("expected authenticated /login, got %d", login.StatusCode)
		}

		tokens := f.get(t, "/auth/token")
		if tokens.StatusCode != http.StatusOK {
			t.Fatalf("expected tokens, got %d", tokens.StatusCode)
		}

		body := decodeBody(t, tokens)
		if body["access_token"] != "access-1" || body["refresh_token"] != "refresh-1" {
			t.Errorf("expected the exact pair from the exchange, got %v", body)
		}
	})

	t.Run("repeated logins reuse the user record", func(t *testing.T) {
		f := setupGateway(t)

		f.authorize(t)
		f.authorize(t)

		users, err := f.users.List(map[string]any{"external_id": "u1"})
		if err != nil {
			t.Fatalf("failed to list users: %v", err)
		}
		if len(users) != 1 {
			t.Errorf("expected exactly one record after two logins, got %d", len(users))
		}
	})

	t.Run("concurrent sessions each see their own pair", func(t *testing.T) {
		f := setupGateway(t)
		f.authorize(t)

		// A second browser completes a later exchange.
		second := setupGatewayClient(t, f)
		secondAuthorize(t, f, second)

		tokens := f.get(t, "/auth/token")
		body := decodeBody(t, tokens)
		if body["access_token"] != "access-1" {
			t.Errorf("first session should keep its own pair, got %v", body["access_token"])
		}
	})

	t.Run("provider denial redirects to the failure location", func(t *testing.T) {
		f := setupGateway(t)

		resp := f.get(t, "/auth/spotify/callback?error=access_denied")
		if resp.StatusCode != http.StatusFound {
			t.Fatalf("expected redirect, got %d", resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != "http://localhost:3000/#/login" {
			t.Errorf("expected failure redirect, got %s", loc)
		}
	})

	t.Run("state mismatch redirects to the failure location", func(t *testing.T) {
		f := setupGateway(t)

		begin := f.get(t, "/auth/spotify")
		if begin.StatusCode != http.StatusFound {
			t.Fatalf("expected redirect, got %d", begin.StatusCode)
		}

		resp := f.get(t, "/auth/spotify/callback?code=good-code&state=forged")
		if loc := resp.Header.Get("Location"); loc != "http://localhost:3000/#/login" {
			t.Errorf("expected failure redirect on forged state, got %s", loc)
		}

		if _, err := f.users.GetByExternalID("u1"); !errors.Is(err, shared.ErrUserNotFound) {
			t.Error("no user should be created on a forged callback")
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	t.Run("anonymous callers are denied", func(t *testing.T) {
		f := setupGateway(t)

		for _, path := range []string{"/login", "/auth/token"} {
			resp := f.get(t, path)
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("expected 404 for %s, got %d", path, resp.StatusCode)
				continue
			}
			body := decodeBody(t, resp)
			if body["error"] != "You cannot access this content" {
				t.Errorf("unexpected denial body for %s: %v", path, body)
			}
		}
	})

	t.Run("logout destroys the session but keeps the user record", func(t *testing.T) {
		f := setupGateway(t)
		f.authorize(t)

		logout := f.get(t, "/logout")
		if logout.StatusCode != http.StatusFound {
			t.Fatalf("expected redirect on logout, got %d", logout.StatusCode)
		}
		if loc := logout.Header.Get("Location"); loc != "http://localhost:3000" {
			t.Errorf("expected redirect to front-end root, got %s", loc)
		}

		login := f.get(t, "/login")
		if login.StatusCode != http.StatusNotFound {
			t.Errorf("expected denial after logout, got %d", login.StatusCode)
		}

		if _, err := f.users.GetByExternalID("u1"); err != nil {
			t.Errorf("user record should survive logout: %v", err)
		}
	})

	t.Run("health reports authentication state", func(t *testing.T) {
		f := setupGateway(t)

		body := decodeBody(t, f.get(t, "/health"))
		if body["authenticated"] != false {
			t.Errorf("expected unauthenticated health, got %v", body)
		}

		f.authorize(t)

		body = decodeBody(t, f.get(t, "/health"))
		if body["status"] != "ok" || body["authenticated"] != true {
			t.Errorf("expected authenticated health, got %v", body)
		}
	})
}

func TestRefreshEndpoint(t *testing.T) {
	t.Run("missing parameter is a bad request", func(t *testing.T) {
		f := setupGateway(t)

		resp := f.get(t, "/refresh_token")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("returns a fresh access token", func(t *testing.T) {
		f := setupGateway(t)

		resp := f.get(t, "/refresh_token?refresh_token=refresh-1")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		body := decodeBody(t, resp)
		if body["access_token"] != "refreshed-access" {
			t.Errorf("expected refreshed-access, got %v", body["access_token"])
		}
	})

	t.Run("rejected token is an explicit error and stored pairs survive", func(t *testing.T) {
		f := setupGateway(t)
		f.authorize(t)

		resp := f.get(t, "/refresh_token?refresh_token=bad-token")
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected 502 for rejected refresh, got %d", resp.StatusCode)
		}

		body := decodeBody(t, resp)
		if _, ok := body["access_token"]; ok {
			t.Error("a failed refresh must not echo a token")
		}

		tokens := decodeBody(t, f.get(t, "/auth/token"))
		if tokens["access_token"] != "access-1" || tokens["refresh_token"] != "refresh-1" {
			t.Errorf("failed refresh must not overwrite the stored pair, got %v", tokens)
		}
	})

	t.Run("a session's pair is rotated on its own refresh", func(t *testing.T) {
		f := setupGateway(t)
		f.authorize(t)

		resp := f.get(t, "/refresh_token?refresh_token=refresh-1")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		tokens := decodeBody(t, f.get(t, "/auth/token"))
		if tokens["access_token"] != "refreshed-access" {
			t.Errorf("expected the session pair to carry the fresh token, got %v", tokens)
		}
	})
}

// setupGatewayClient returns a second browser-like client against the same gateway.
func setupGatewayClient(t *testing.T, f *gatewayFixture) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// secondAuthorize drives the handshake for a second client.
func secondAuthorize(t *testing.T, f *gatewayFixture, client *http.Client) {
	t.Helper()

	begin, err := client.Get(f.server.URL + "/auth/spotify")
	if err != nil {
		t.Fatalf("second begin failed: %v", err)
	}
	defer begin.Body.Close()

	location, err := url.Parse(begin.Header.Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse authorize URL: %v", err)
	}

	callback, err := client.Get(f.server.URL + "/auth/spotify/callback?code=good-code&state=" + url.QueryEscape(location.Query().Get("state")))
	if err != nil {
		t.Fatalf("second callback failed: %v", err)
	}
	defer callback.Body.Close()

	if callback.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect after second callback, got %d", callback.StatusCode)
	}
}
