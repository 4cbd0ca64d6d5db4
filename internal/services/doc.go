// Package services implements clients for the external identity provider.
//
// The [Provider] interface covers the three provider-facing operations the
// gateway performs: building the authorization URL, exchanging an
// authorization code for tokens plus a verified profile, and refreshing an
// access token. [SpotifyService] is the production implementation; tests
// substitute fakes.
//
// Provider endpoints are overridable through the credentials map so tests can
// point the client at an httptest server.
package services
