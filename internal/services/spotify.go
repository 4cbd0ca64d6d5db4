// Spotify implementation of [Provider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/desertthunder/jamgate/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyService implements the [Provider] interface for the Spotify Web API.
// Uses [oauth2] for the authorization-code grant and refresh flows.
type SpotifyService struct {
	config     *oauth2.Config
	httpClient *http.Client
	baseURL    string
}

// NewSpotifyService creates a new Spotify provider client with the given OAuth2
// credentials and scope set.
//
// The credentials map may carry "auth_url", "token_url", and "api_base_url"
// overrides for testing against a local server.
func NewSpotifyService(credentials map[string]string, scopes []string) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = "http://localhost:8000/auth/spotify/callback"
	}

	authURL := credentials["auth_url"]
	if authURL == "" {
		authURL = spotifyAuthURL
	}
	tokenURL := credentials["token_url"]
	if tokenURL == "" {
		tokenURL = spotifyTokenURL
	}
	baseURL := credentials["api_base_url"]
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}

	if len(scopes) == 0 {
		scopes = []string{"user-read-email", "user-read-private"}
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// AuthCodeURL returns the OAuth2 authorization URL for user login.
//
// show_dialog forces Spotify to re-prompt for consent even when a prior
// grant exists.
func (s *SpotifyService) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// Exchange trades an authorization code for a token pair and fetches the
// profile of the user who granted it.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, *Profile, error) {
	token, err := s.config.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: token exchange failed: %v", shared.ErrAuthFailed, err)
	}

	user, err := s.userProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: profile fetch failed: %v", shared.ErrAuthFailed, err)
	}

	profile := &Profile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}

	return token, profile, nil
}

// Refresh trades the given refresh token for a new access token.
//
// When Spotify rotates the refresh token the returned token carries the new
// one; otherwise [oauth2] copies the old refresh token forward.
func (s *SpotifyService) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", shared.ErrRefreshFailed)
	}

	source := s.config.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	return token, nil
}

// userProfile retrieves the profile of the user the access token belongs to.
func (s *SpotifyService) userProfile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("spotify API error: status %d", resp.StatusCode)
	}

	var user SpotifyUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if user.ID == "" {
		return nil, fmt.Errorf("empty user id in profile response")
	}

	return &user, nil
}

// SetHTTPClient replaces the HTTP client used for provider calls. Intended for tests.
func (s *SpotifyService) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// clientContext routes the oauth2 package's own HTTP calls through s.httpClient.
func (s *SpotifyService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// compile-time interface check
var _ Provider = (*SpotifyService)(nil)
