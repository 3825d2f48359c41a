package oauth2store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"meridian/pkg/errs"
)

// BeginAuth starts a PKCE authorization-code flow: it generates a
// verifier/challenge pair and a random state, builds the provider's auth
// URL, and holds the verifier in memory until CompleteAuth or expiry.
func (s *Store) BeginAuth(provider, clientID, redirectURI, scope string) (authURL, state string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.provider(provider)
	if err != nil {
		return "", "", err
	}
	verifier := oauth2.GenerateVerifier()
	state = uuid.NewString()

	s.evictExpiredPendingLocked()
	s.pending[state] = pendingAuth{
		Provider:    provider,
		ClientID:    clientID,
		Scope:       scope,
		Verifier:    verifier,
		RedirectURI: redirectURI,
		CreatedAt:   time.Now(),
	}
	return ops.BuildAuthURL(clientID, redirectURI, scope, state, verifier), state, nil
}

func (s *Store) evictExpiredPendingLocked() {
	now := time.Now()
	for state, p := range s.pending {
		if now.Sub(p.CreatedAt) > pendingAuthTTL {
			delete(s.pending, state)
		}
	}
}

// CompleteAuth exchanges code+verifier for tokens via the provider's
// exchange_code op and persists the resulting record under accountID (or
// the account id the exchange itself returns, for providers that embed it
// in the token).
func (s *Store) CompleteAuth(ctx context.Context, state, code, secret, accountID string) error {
	s.mu.Lock()
	p, ok := s.pending[state]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.NotFound, "no pending authorization for state")
	}
	delete(s.pending, state)
	ops, err := s.provider(p.Provider)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	rec, err := ops.ExchangeCode(ctx, p.ClientID, secret, code, p.Verifier, p.RedirectURI)
	if err != nil {
		return errs.Wrap(errs.ProviderError, "exchanging authorization code", err)
	}
	rec.Provider = p.Provider
	if rec.AccountID == "" {
		rec.AccountID = accountID
	}
	if rec.AccountID == "" {
		rec.AccountID = "default"
	}
	if rec.ClientID == "" {
		rec.ClientID = p.ClientID
	}
	if rec.Scope == "" {
		rec.Scope = p.Scope
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.key()] = rec
	return s.save()
}

// GetAccessToken returns a valid access token for (provider, accountID),
// refreshing it first if it is expired or within refreshSkew of expiring.
// Refresh failures propagate; the caller must re-run BeginAuth.
func (s *Store) GetAccessToken(ctx context.Context, provider, accountID, clientID, secret string) (string, error) {
	s.mu.Lock()
	ops, err := s.provider(provider)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	k := Record{Provider: provider, AccountID: accountID}.key()
	rec, ok := s.records[k]
	s.mu.Unlock()
	if !ok {
		return "", errs.New(errs.NotFound, fmt.Sprintf("no oauth2 record for %s/%s", provider, accountID))
	}

	if rec.ExpiresAt.IsZero() || time.Now().Add(refreshSkew).Before(rec.ExpiresAt) {
		return rec.AccessToken, nil
	}
	if rec.RefreshToken == "" {
		return "", errs.New(errs.ConflictingState, "access token expired and no refresh token is available; re-run begin_auth")
	}

	refreshed, err := ops.RefreshToken(ctx, clientID, secret, rec)
	if err != nil {
		return "", errs.Wrap(errs.ProviderError, "refreshing oauth2 token", err)
	}
	refreshed.Provider = provider
	if refreshed.AccountID == "" {
		refreshed.AccountID = accountID
	}
	if refreshed.ClientID == "" {
		refreshed.ClientID = clientID
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = rec.RefreshToken
	}

	s.mu.Lock()
	s.records[refreshed.key()] = refreshed
	err = s.save()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// ForceRefresh refreshes (provider, accountID)'s token unconditionally,
// bypassing the expiry check GetAccessToken applies. Callers use this
// after a request comes back 401 despite a locally-valid-looking token —
// the server may have revoked it early.
func (s *Store) ForceRefresh(ctx context.Context, provider, accountID, clientID, secret string) (string, error) {
	s.mu.Lock()
	ops, err := s.provider(provider)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	k := Record{Provider: provider, AccountID: accountID}.key()
	rec, ok := s.records[k]
	s.mu.Unlock()
	if !ok {
		return "", errs.New(errs.NotFound, fmt.Sprintf("no oauth2 record for %s/%s", provider, accountID))
	}
	if rec.RefreshToken == "" {
		return "", errs.New(errs.ConflictingState, "no refresh token is available; re-run begin_auth")
	}

	refreshed, err := ops.RefreshToken(ctx, clientID, secret, rec)
	if err != nil {
		return "", errs.Wrap(errs.ProviderError, "refreshing oauth2 token", err)
	}
	refreshed.Provider = provider
	if refreshed.AccountID == "" {
		refreshed.AccountID = accountID
	}
	if refreshed.ClientID == "" {
		refreshed.ClientID = clientID
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = rec.RefreshToken
	}

	s.mu.Lock()
	s.records[refreshed.key()] = refreshed
	err = s.save()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Import seeds rec directly into the store, bypassing the PKCE exchange —
// used to migrate a credential already obtained through an external
// tool's own on-disk format (see ImportLegacyCodexAuth).
func (s *Store) Import(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.AccountID == "" {
		rec.AccountID = "default"
	}
	s.records[rec.key()] = rec
	return s.save()
}
