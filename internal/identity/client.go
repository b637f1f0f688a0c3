package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
	"github.com/teemow/inboxhook/internal/store"
)

const defaultAuthorityHost = "https://login.microsoftonline.com"

// Config configures the OAuth client.
type Config struct {
	ClientID     string
	ClientSecret string

	// Tenant is a tenant id, domain, or one of common/organizations/consumers.
	Tenant string

	// AuthorityHost overrides https://login.microsoftonline.com.
	AuthorityHost string

	RedirectURL string

	// Scopes default to DefaultScopes.
	Scopes []string

	// HTTPClient is used for token endpoint calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// AuthResult is the outcome of a successful code exchange.
type AuthResult struct {
	AccountID string
	Username  string
	Token     *oauth2.Token
	Scopes    []string
}

// Client performs the authorization code flow and silent token acquisition.
type Client struct {
	oauth      *oauth2.Config
	tokens     store.TokenStore
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewClient creates a Client. metrics may be nil.
func NewClient(cfg Config, tokens store.TokenStore, metrics *instrumentation.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint(cfg.AuthorityHost, cfg.Tenant),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		tokens:     tokens,
		httpClient: cfg.HTTPClient,
		metrics:    metrics,
		logger:     logging.WithComponent(logger, "identity"),
	}
}

func endpoint(host, tenant string) oauth2.Endpoint {
	if tenant == "" {
		tenant = "common"
	}
	host = strings.TrimRight(host, "/")
	if host == "" || host == defaultAuthorityHost {
		return microsoft.AzureADEndpoint(tenant)
	}
	return oauth2.Endpoint{
		AuthURL:   host + "/" + tenant + "/oauth2/v2.0/authorize",
		TokenURL:  host + "/" + tenant + "/oauth2/v2.0/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// AuthCodeURL returns the consent URL the browser is sent to. It has no side
// effects.
func (c *Client) AuthCodeURL() string {
	return c.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("response_mode", "query"))
}

// Exchange redeems an authorization code, derives the account id from the ID
// token and stores the token.
func (c *Client) Exchange(ctx context.Context, code string) (*AuthResult, error) {
	if code == "" {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, fmt.Errorf("%w: missing authorization code", ErrAuthentication)
	}

	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		c.logger.Warn("authorization code exchange failed", logging.Err(err))
		return nil, fmt.Errorf("%w: code exchange: %v", ErrAuthentication, err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	claims, err := ParseIDToken(rawIDToken)
	if err != nil {
		c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		c.logger.Warn("token response rejected", logging.Err(err))
		return nil, err
	}
	accountID := claims.HomeAccountID()

	_, lookupErr := c.tokens.GetToken(ctx, accountID)
	isNew := errors.Is(lookupErr, store.ErrNotFound)

	if err := c.tokens.SaveToken(ctx, accountID, tok); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	if isNew {
		c.metrics.IncrementActiveSessions(ctx)
	}
	c.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)

	c.logger.Info("account signed in",
		logging.Account(accountID),
		slog.Duration("expires_in", expiresIn(tok, time.Now())))

	return &AuthResult{
		AccountID: accountID,
		Username:  claims.PreferredUsername,
		Token:     tok,
		Scopes:    grantedScopes(tok, c.oauth.Scopes),
	}, nil
}

// SignOut forgets the account's token. Unknown accounts are not an error.
func (c *Client) SignOut(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrNoAccount
	}

	_, err := c.tokens.GetToken(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}

	if err := c.tokens.DeleteToken(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	c.metrics.DecrementActiveSessions(ctx)
	c.logger.Info("account signed out", logging.Account(accountID))
	return nil
}

// TokenSource returns a token source for the account that refreshes silently
// and persists refreshed tokens. Unknown accounts yield ErrNoAccount.
func (c *Client) TokenSource(ctx context.Context, accountID string) (oauth2.TokenSource, error) {
	if accountID == "" {
		return nil, ErrNoAccount
	}

	tok, err := c.tokens.GetToken(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	return &persistingTokenSource{
		ctx:       ctx,
		src:       c.oauth.TokenSource(c.withHTTPClient(context.WithoutCancel(ctx)), tok),
		last:      tok.AccessToken,
		accountID: accountID,
		client:    c,
	}, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// persistingTokenSource writes refreshed tokens back to the store.
type persistingTokenSource struct {
	mu        sync.Mutex
	ctx       context.Context
	src       oauth2.TokenSource
	last      string
	accountID string
	client    *Client
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.client.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultFailure)
		s.client.logger.Warn("silent token acquisition failed",
			logging.Account(s.accountID),
			logging.Err(err))
		return nil, fmt.Errorf("%w: token refresh: %v", ErrAuthentication, err)
	}

	s.mu.Lock()
	refreshed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if refreshed {
		s.client.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultSuccess)
		if err := s.client.tokens.SaveToken(context.WithoutCancel(s.ctx), s.accountID, tok); err != nil {
			s.client.logger.Error("failed to persist refreshed token",
				logging.Account(s.accountID),
				logging.Err(err))
		}
	}

	return tok, nil
}

// grantedScopes returns the scopes in the token response, falling back to the
// requested ones when the provider omits them.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return append([]string(nil), requested...)
}

// expiresIn is the remaining lifetime of tok, zero if it has no expiry.
func expiresIn(tok *oauth2.Token, now time.Time) time.Duration {
	if tok == nil || tok.Expiry.IsZero() {
		return 0
	}
	if d := tok.Expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}
