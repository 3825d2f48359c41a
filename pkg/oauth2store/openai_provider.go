package oauth2store

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"meridian/pkg/errs"
)

// OpenAI OAuth2 endpoints and the public client id used by Codex's ChatGPT
// login flow.
const (
	openAIAuthURL    = "https://auth.openai.com/oauth/authorize"
	openAITokenURL   = "https://auth.openai.com/oauth/token"
	openAIDefaultCID = "app_EMoamEEZ73f0CkXaXp7hrann"
)

// RegisterOpenAI registers the built-in "openai" provider used by Codex.
func RegisterOpenAI(s *Store) {
	_ = s.RegisterProvider(ProviderOps{
		Name:         "openai",
		BuildAuthURL: openAIBuildAuthURL,
		ExchangeCode: openAIExchangeCode,
		RefreshToken: openAIRefreshToken,
	})
}

func openAIConfig(clientID, secret, redirectURI, scope string) *oauth2.Config {
	if clientID == "" {
		clientID = openAIDefaultCID
	}
	var scopes []string
	if scope != "" {
		scopes = strings.Fields(scope)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  openAIAuthURL,
			TokenURL: openAITokenURL,
		},
	}
}

// BuildAuthURL receives the same PKCE verifier the store will later pass
// to ExchangeCode; x/oauth2's S256ChallengeOption derives the S256
// challenge from it at AuthCodeURL time, so the provider never handles
// the challenge directly.
func openAIBuildAuthURL(clientID, redirectURI, scope, state, verifier string) string {
	cfg := openAIConfig(clientID, "", redirectURI, scope)
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func openAIExchangeCode(ctx context.Context, clientID, secret, code, verifier, redirectURI string) (Record, error) {
	cfg := openAIConfig(clientID, secret, redirectURI, "")
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Record{}, errs.Wrap(errs.ProviderError, "exchanging authorization code", err)
	}
	return recordFromToken(cfg.ClientID, tok), nil
}

func openAIRefreshToken(ctx context.Context, clientID, secret string, rec Record) (Record, error) {
	cfg := openAIConfig(clientID, secret, "", rec.Scope)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Record{}, errs.Wrap(errs.ProviderError, "refreshing oauth2 token", err)
	}
	out := recordFromToken(cfg.ClientID, tok)
	out.AccountID = rec.AccountID
	if out.RefreshToken == "" {
		out.RefreshToken = rec.RefreshToken
	}
	if out.Scope == "" {
		out.Scope = rec.Scope
	}
	return out, nil
}

func recordFromToken(clientID string, tok *oauth2.Token) Record {
	rec := Record{
		ClientID:     clientID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		if accountID, ok := chatGPTAccountIDFromJWT(idToken); ok {
			rec.AccountID = accountID
		}
	}
	return rec
}

// chatGPTAccountIDFromJWT extracts the chatgpt_account_id claim from an
// unverified JWT's payload segment. Signature verification is the
// provider's job at issue time; the store only needs the claim value, so
// this parses with jwt.NewParser().ParseUnverified rather than validating.
func chatGPTAccountIDFromJWT(raw string) (string, bool) {
	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", false
	}
	if v, ok := claims["chatgpt_account_id"].(string); ok && v != "" {
		return v, true
	}
	if nested, ok := claims["https://api.openai.com/auth"].(map[string]any); ok {
		if v, ok := nested["chatgpt_account_id"].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
