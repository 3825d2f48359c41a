package oauth2store

import "context"

// CodexCredentials adapts a Store's "openai" provider records to the
// narrow codex.Credentials interface (AuthorizationToken/AccountID/Refresh)
// pkg/harness/codex.Client depends on, so the wire client depends on the
// generic oauth2 store rather than reaching into its internals.
type CodexCredentials struct {
	store     *Store
	accountID string
	clientID  string
	secret    string
}

// NewCodexCredentials builds a CodexCredentials bound to one (accountID,
// clientID) pair already present in store (via CompleteAuth or Import).
// accountID defaults to "default" to match Store's own convention for
// providers that embed the account id in the token itself.
func NewCodexCredentials(store *Store, accountID, clientID, secret string) *CodexCredentials {
	if accountID == "" {
		accountID = "default"
	}
	return &CodexCredentials{store: store, accountID: accountID, clientID: clientID, secret: secret}
}

// AuthorizationToken returns a valid bearer token, refreshing first if needed.
func (c *CodexCredentials) AuthorizationToken(ctx context.Context) (string, error) {
	return c.store.GetAccessToken(ctx, "openai", c.accountID, c.clientID, c.secret)
}

// AccountID returns the ChatGPT account id this credential is bound to.
func (c *CodexCredentials) AccountID() string {
	return c.accountID
}

// Refresh forces a token refresh, bypassing the expiry check
// AuthorizationToken applies, for callers reacting to a 401.
func (c *CodexCredentials) Refresh(ctx context.Context) error {
	_, err := c.store.ForceRefresh(ctx, "openai", c.accountID, c.clientID, c.secret)
	return err
}
