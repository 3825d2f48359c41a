package oauth2store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"meridian/pkg/errs"
)

// legacyCodexAuthFile mirrors the on-disk shape the official Codex CLI
// writes to $CODEX_HOME/auth.json (or ~/.codex/auth.json): a chatgpt
// auth_mode carries an OAuth2 token pair plus an id_token the account id
// is extracted from; an api_key auth_mode carries a bare API key and has
// no PKCE-managed token for this store to import.
type legacyCodexAuthFile struct {
	AuthMode string `json:"auth_mode,omitempty"`
	Tokens   struct {
		AccessToken  string          `json:"access_token,omitempty"`
		RefreshToken string          `json:"refresh_token,omitempty"`
		AccountID    string          `json:"account_id,omitempty"`
		IDToken      json.RawMessage `json:"id_token,omitempty"`
	} `json:"tokens,omitempty"`
}

// DefaultLegacyCodexAuthPath returns $CODEX_HOME/auth.json, or
// ~/.codex/auth.json if CODEX_HOME is unset — the path the official Codex
// CLI itself reads and writes.
func DefaultLegacyCodexAuthPath() (string, error) {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return filepath.Join(home, "auth.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.Wrap(errs.InternalError, "resolving home directory", err)
	}
	return filepath.Join(home, ".codex", "auth.json"), nil
}

// ImportLegacyCodexAuth reads a Codex-CLI-format auth.json at path and
// returns it as an "openai" provider Record, ready for Store.Import. The
// id_token field has carried two shapes across Codex CLI versions — a
// bare JWT string, or an object with raw_jwt/chatgpt_account_id fields —
// both are accepted.
func ImportLegacyCodexAuth(path string) (Record, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errs.Wrap(errs.NotFound, "reading legacy codex auth file", err)
	}
	var f legacyCodexAuthFile
	if err := json.Unmarshal(buf, &f); err != nil {
		return Record{}, errs.Wrap(errs.ParseError, "parsing legacy codex auth file", err)
	}
	if f.Tokens.AccessToken == "" {
		return Record{}, errs.New(errs.NotFound, "legacy codex auth file has no chatgpt access token")
	}

	accountID := f.Tokens.AccountID
	if accountID == "" {
		accountID = accountIDFromLegacyIDToken(f.Tokens.IDToken)
	}
	if accountID == "" {
		accountID = "default"
	}

	return Record{
		Provider:     "openai",
		AccountID:    accountID,
		AccessToken:  f.Tokens.AccessToken,
		RefreshToken: f.Tokens.RefreshToken,
	}, nil
}

func accountIDFromLegacyIDToken(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var jwtStr string
		if err := json.Unmarshal(raw, &jwtStr); err != nil {
			return ""
		}
		id, _ := chatGPTAccountIDFromJWT(jwtStr)
		return id
	}
	var aux struct {
		RawJWT           string `json:"raw_jwt"`
		ChatGPTAccountID string `json:"chatgpt_account_id"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return ""
	}
	if aux.ChatGPTAccountID != "" {
		return aux.ChatGPTAccountID
	}
	if aux.RawJWT != "" {
		if id, ok := chatGPTAccountIDFromJWT(aux.RawJWT); ok {
			return id
		}
	}
	return ""
}
