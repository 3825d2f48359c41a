// Package oauth2store is the persistent, encrypted-at-rest OAuth2
// credential cache used to obtain bearer tokens for providers that
// authenticate via PKCE authorization-code flows (the Codex provider's
// ChatGPT login). Records are keyed by (provider, account_id) and held in
// a single file under the user's state directory, mode 0600.
package oauth2store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"meridian/pkg/errs"
)

// Record is one cached credential. AccountID is "default" for providers
// that embed the account inside the access token rather than tracking it
// separately (Codex extracts it from a nested JWT claim after issue).
type Record struct {
	Provider     string    `json:"provider"`
	AccountID    string    `json:"account_id"`
	ClientID     string    `json:"client_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
}

func (r Record) key() string { return r.Provider + "|" + r.AccountID }

// refreshSkew is how far ahead of expiry get_access_token proactively
// refreshes, to tolerate clock drift and request latency.
const refreshSkew = 60 * time.Second

// ProviderOps is a provider's OAuth2 vtable. BuildAuthURL and ExchangeCode
// both receive the same PKCE verifier the store generated for this flow;
// RevokeToken is optional.
type ProviderOps struct {
	Name         string
	BuildAuthURL func(clientID, redirectURI, scope, state, verifier string) string
	ExchangeCode func(ctx context.Context, clientID, secret, code, verifier, redirectURI string) (Record, error)
	RefreshToken func(ctx context.Context, clientID, secret string, rec Record) (Record, error)
	RevokeToken  func(ctx context.Context, clientID, secret string, rec Record) error
}

type pendingAuth struct {
	Provider    string
	ClientID    string
	Scope       string
	Verifier    string
	RedirectURI string
	CreatedAt   time.Time
}

// pendingAuthTTL bounds how long a begin_auth state/verifier pair is held
// in memory waiting for its callback.
const pendingAuthTTL = 10 * time.Minute

// Store is the process-wide OAuth2 credential cache.
type Store struct {
	mu        sync.Mutex
	path      string
	key       [32]byte
	records   map[string]Record
	providers map[string]ProviderOps
	pending   map[string]pendingAuth
}

// Open loads (or initializes) the store at path, deriving its at-rest
// encryption key from the current uid, hostname, and a per-file salt. The
// built-in "openai" provider is registered automatically.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		records:   map[string]Record{},
		providers: map[string]ProviderOps{},
		pending:   map[string]pendingAuth{},
	}
	RegisterOpenAI(s)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, errs.Wrap(errs.InternalError, "generating oauth2 store salt", err)
		}
		s.key = deriveKey(salt)
		if err := s.writeLocked(salt, nil); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "reading oauth2 store", err)
	}

	salt, ciphertext, err := splitSaltAndCiphertext(data)
	if err != nil {
		return nil, err
	}
	s.key = deriveKey(salt)
	records, err := s.decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	s.records = records
	return s, nil
}

func deriveKey(salt []byte) [32]byte {
	uid := fmt.Sprintf("%d", os.Getuid())
	hostname, _ := os.Hostname()
	h := sha256.Sum256(append([]byte(uid+"|"+hostname+"|"), salt...))
	return h
}

func splitSaltAndCiphertext(data []byte) ([]byte, []byte, error) {
	const saltLen = 16
	if len(data) < saltLen {
		return nil, nil, errs.New(errs.ParseError, "oauth2 store file is truncated")
	}
	return data[:saltLen], data[saltLen:], nil
}

func (s *Store) decrypt(ciphertext []byte) (map[string]Record, error) {
	if len(ciphertext) == 0 {
		return map[string]Record{}, nil
	}
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "constructing cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "constructing gcm", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errs.New(errs.ParseError, "oauth2 store ciphertext is truncated")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Unauthenticated, "decrypting oauth2 store (wrong key or tampered file)", err)
	}
	var records []Record
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return nil, errs.Wrap(errs.ParseError, "parsing oauth2 store contents", err)
	}
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.key()] = r
	}
	return out, nil
}

// writeLocked re-encrypts s.records (or the provided override) and writes
// the store file. Callers must hold s.mu.
func (s *Store) writeLocked(salt []byte, override map[string]Record) error {
	records := override
	if records == nil {
		records = s.records
	}
	list := make([]Record, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	plaintext, err := json.Marshal(list)
	if err != nil {
		return errs.Wrap(errs.InternalError, "encoding oauth2 store", err)
	}

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return errs.Wrap(errs.InternalError, "constructing cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return errs.Wrap(errs.InternalError, "constructing gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.InternalError, "generating nonce", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	var saltToWrite []byte
	if salt != nil {
		saltToWrite = salt
	} else {
		existing, err := os.ReadFile(s.path)
		if err == nil {
			existingSalt, _, splitErr := splitSaltAndCiphertext(existing)
			if splitErr == nil {
				saltToWrite = existingSalt
			}
		}
	}
	if saltToWrite == nil {
		return errs.New(errs.InternalError, "no salt available to persist oauth2 store")
	}

	out := append(append([]byte{}, saltToWrite...), ciphertext...)
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return errs.Wrap(errs.InternalError, "writing oauth2 store", err)
	}
	return nil
}

func (s *Store) save() error {
	return s.writeLocked(nil, nil)
}

// RegisterProvider adds or replaces a provider's OAuth2 vtable.
func (s *Store) RegisterProvider(ops ProviderOps) error {
	if ops.Name == "" {
		return errs.New(errs.InvalidArgument, "provider name must not be empty")
	}
	if ops.BuildAuthURL == nil || ops.ExchangeCode == nil || ops.RefreshToken == nil {
		return errs.New(errs.InvalidArgument, "provider must implement build_auth_url, exchange_code, and refresh_token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[ops.Name] = ops
	return nil
}

func (s *Store) provider(name string) (ProviderOps, error) {
	ops, ok := s.providers[name]
	if !ok {
		return ProviderOps{}, errs.New(errs.NotFound, fmt.Sprintf("no oauth2 provider registered: %s", name))
	}
	return ops, nil
}

// HasToken reports whether a record exists for (provider, accountID).
func (s *Store) HasToken(provider, accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[Record{Provider: provider, AccountID: accountID}.key()]
	return ok
}

// RevokeToken calls the provider's RevokeToken op (if any) and removes the
// cached record regardless of the call's outcome.
func (s *Store) RevokeToken(ctx context.Context, provider, accountID, clientID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.provider(provider)
	if err != nil {
		return err
	}
	k := Record{Provider: provider, AccountID: accountID}.key()
	rec, ok := s.records[k]
	if ok && ops.RevokeToken != nil {
		_ = ops.RevokeToken(ctx, clientID, secret, rec)
	}
	delete(s.records, k)
	return s.save()
}
