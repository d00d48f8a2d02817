// Package auth manages the backend bearer credential: logging in with the
// OAuth2 password grant, persisting the token, and reading it back from
// the environment or the token file.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

// ErrNoCredential means neither the environment nor the token file holds
// a token.
var ErrNoCredential = errors.New("not logged in")

// Store reads and writes the bearer token. It implements
// oauth2.TokenSource.
type Store struct {
	path   string
	envVar string
	now    func() time.Time
}

// NewStore creates a token store backed by path. envVar, when set in the
// environment, takes precedence over the file. envFiles are loaded with
// godotenv first; missing files are ignored.
func NewStore(path, envVar string, envFiles ...string) *Store {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to load env file", "path", f, "error", err)
		}
	}
	return &Store{path: path, envVar: envVar, now: time.Now}
}

var _ oauth2.TokenSource = (*Store)(nil)

// Token returns the current token or ErrNoCredential.
func (s *Store) Token() (*oauth2.Token, error) {
	if s.envVar != "" {
		if raw := strings.TrimSpace(os.Getenv(s.envVar)); raw != "" {
			return &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}, nil
		}
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoCredential
	}
	return &tok, nil
}

// Authenticated reports whether a usable token is present. JWTs whose exp
// claim has passed do not count.
func (s *Store) Authenticated() bool {
	tok, err := s.Token()
	if err != nil {
		return false
	}
	claims, err := Inspect(tok.AccessToken)
	if err != nil {
		// Opaque tokens are taken at face value.
		return true
	}
	return claims.ExpiresAt.IsZero() || claims.ExpiresAt.After(s.now())
}

// FromEnv reports whether the token comes from the environment.
func (s *Store) FromEnv() bool {
	return s.envVar != "" && strings.TrimSpace(os.Getenv(s.envVar)) != ""
}

// Save writes tok to the token file with owner-only permissions.
func (s *Store) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// Claims is what the CLI shows about a token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspect decodes a JWT without verifying its signature. Only the backend
// can verify it; the client just wants the subject and expiry.
func Inspect(raw string) (*Claims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	out := &Claims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Login exchanges a username and password for a token at baseURL+tokenPath.
func Login(ctx context.Context, baseURL, tokenPath, clientID, username, password string, timeout time.Duration) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(baseURL, "/") + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})

	tok, err := conf.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return nil, fmt.Errorf("login rejected (%d): %s", rerr.Response.StatusCode, loginDetail(rerr.Body))
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	return tok, nil
}

func loginDetail(body []byte) string {
	var envelope struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != "" {
		return envelope.Detail
	}
	return strings.TrimSpace(string(body))
}
