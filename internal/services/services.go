package services

import (
	"context"

	"golang.org/x/oauth2"
)

// Profile is the identity the provider returns about the authenticated user.
//
// ID is the provider-assigned stable identifier; DisplayName is
// provider-supplied and may change over time.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
}

// Provider defines the operations the gateway performs against the identity provider.
type Provider interface {
	Name() string

	// AuthCodeURL builds the provider authorization URL for the given CSRF state,
	// forcing the provider to re-prompt for consent.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a token pair and fetches the
	// verified profile of the user who granted it.
	Exchange(ctx context.Context, code string) (*oauth2.Token, *Profile, error)

	// Refresh trades a refresh token for a new access token without re-running
	// the full handshake.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}
