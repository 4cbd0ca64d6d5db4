package auth

import (
	"sync"

	"golang.org/x/oauth2"
)

// CredentialPair holds the provider's access and refresh tokens for one
// completed exchange or refresh.
type CredentialPair struct {
	AccessToken  string
	RefreshToken string
}

// PairFromToken converts an [oauth2.Token] into a CredentialPair.
func PairFromToken(token *oauth2.Token) CredentialPair {
	return CredentialPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
}

// CredentialStore holds credential pairs keyed by session ID.
//
// Pairs are session-scoped rather than process-wide, so concurrent sessions
// never read each other's tokens. Token expiry is provider-defined and opaque
// here; a pair is only ever replaced wholesale.
type CredentialStore struct {
	mu    sync.RWMutex
	pairs map[string]CredentialPair
}

// NewCredentialStore creates an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{pairs: make(map[string]CredentialPair)}
}

// Set stores the pair for the given session, overwriting any prior pair.
func (s *CredentialStore) Set(sessionID string, pair CredentialPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[sessionID] = pair
}

// Get returns the pair for the given session, if one exists.
func (s *CredentialStore) Get(sessionID string) (CredentialPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, ok := s.pairs[sessionID]
	return pair, ok
}

// Delete removes the pair for the given session.
func (s *CredentialStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, sessionID)
}

// Len returns the number of stored pairs.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pairs)
}
