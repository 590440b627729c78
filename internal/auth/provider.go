// Package auth obtains and caches the Google Drive credential the sync
// engine runs with, and guards the local MCP endpoint with a bearer
// token.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
)

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	Token() (*oauth2.Token, error)
	SetToken(tok *oauth2.Token) error
	DeleteToken() error
}

// Prompt is what the user must act on to finish a device authorization:
// visit VerificationURI and enter UserCode before Expiry.
type Prompt struct {
	VerificationURI string
	UserCode        string
	Expiry          time.Time
}

// Config configures a Provider.
type Config struct {
	OAuth *oauth2.Config

	// OnPrompt is called once per device authorization with the code the
	// user has to enter. RequestToken blocks until the user completes it
	// or the code expires.
	OnPrompt func(Prompt)

	// HTTPClient, if set, is used for token endpoint requests.
	HTTPClient *http.Client
}

// Provider hands out the cached access token and acquires a new one when
// asked. It satisfies the sync engine's AuthProvider.
type Provider struct {
	cfg    Config
	store  TokenStore
	logger *slog.Logger

	mu  sync.Mutex
	tok *oauth2.Token

	// reqMu serializes token requests so two callers never run two
	// device flows at once.
	reqMu sync.Mutex
}

// NewProvider creates a provider and loads any persisted token.
func NewProvider(cfg Config, store TokenStore, logger *slog.Logger) (*Provider, error) {
	if cfg.OAuth == nil {
		return nil, fmt.Errorf("oauth config is required")
	}

	tok, err := store.Token()
	if err != nil {
		return nil, fmt.Errorf("loading cached token: %w", err)
	}

	if tok != nil {
		logger.Debug("loaded cached token",
			slog.Bool("valid", tok.Valid()),
			slog.Bool("refreshable", tok.RefreshToken != ""),
		)
	}

	return &Provider{cfg: cfg, store: store, logger: logger, tok: tok}, nil
}

// CachedToken returns the cached access token if it is still valid,
// or "".
func (p *Provider) CachedToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok == nil || !p.tok.Valid() {
		return ""
	}

	return p.tok.AccessToken
}

// Token implements oauth2.TokenSource over the cached token. It never
// refreshes; an expired or missing token is reported as ErrNoToken so
// the engine re-authenticates through RequestToken.
func (p *Provider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok == nil || !p.tok.Valid() {
		return nil, apperrors.ErrNoToken
	}

	tok := *p.tok

	return &tok, nil
}

// TokenSource returns the provider as an oauth2.TokenSource for HTTP
// clients.
func (p *Provider) TokenSource() oauth2.TokenSource {
	return p
}

// RequestToken acquires a fresh access token. A persisted refresh token
// is tried first; if there is none or the refresh is rejected, the
// device authorization flow runs and blocks on the user.
func (p *Provider) RequestToken(ctx context.Context) (string, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	if p.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	}

	p.mu.Lock()
	var refresh string
	if p.tok != nil {
		refresh = p.tok.RefreshToken
	}
	p.mu.Unlock()

	if refresh != "" {
		tok, err := p.refresh(ctx, refresh)
		if err == nil {
			return tok.AccessToken, p.save(tok)
		}

		p.logger.Warn("token refresh failed, falling back to device authorization",
			slog.String("error", err.Error()),
		)
	}

	tok, err := p.deviceFlow(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessToken, p.save(tok)
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := p.cfg.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	// Google omits the refresh token from refresh responses.
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	p.logger.Info("token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

func (p *Provider) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	da, err := p.cfg.OAuth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting device authorization: %w", err)
	}

	prompt := Prompt{
		VerificationURI: da.VerificationURI,
		UserCode:        da.UserCode,
		Expiry:          da.Expiry,
	}

	p.logger.Info("authorization required",
		slog.String("verification_uri", prompt.VerificationURI),
		slog.String("user_code", prompt.UserCode),
		slog.Time("expiry", prompt.Expiry),
	)

	if p.cfg.OnPrompt != nil {
		p.cfg.OnPrompt(prompt)
	}

	tok, err := p.cfg.OAuth.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("waiting for device authorization: %w", err)
	}

	p.logger.Info("device authorized", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

func (p *Provider) save(tok *oauth2.Token) error {
	p.mu.Lock()
	p.tok = tok
	p.mu.Unlock()

	if err := p.store.SetToken(tok); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}

	return nil
}

// ClearToken forgets the access token and keeps the refresh token, so
// the next RequestToken can usually recover without the user.
func (p *Provider) ClearToken() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok == nil {
		return nil
	}

	if p.tok.RefreshToken == "" {
		p.tok = nil
		return p.store.DeleteToken()
	}

	p.tok = &oauth2.Token{RefreshToken: p.tok.RefreshToken}

	return p.store.SetToken(p.tok)
}

// Logout forgets every credential, in memory and on disk.
func (p *Provider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tok = nil

	return p.store.DeleteToken()
}
