package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
)

// Defaults for Config fields left zero.
const (
	DefaultBaseURL   = "https://graph.microsoft.com/v1.0"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10.0
	DefaultRateBurst = 20

	maxErrorBody        = 64 << 10
	maxSubscriptionPage = 20
)

// TokenSourceProvider hands out delegated token sources per account.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, accountID string) (oauth2.TokenSource, error)
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int

	// Transport is the base round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client calls Microsoft Graph on behalf of signed-in accounts.
type Client struct {
	baseURL   string
	timeout   time.Duration
	tokens    TokenSourceProvider
	transport http.RoundTripper
	limiter   *RateLimiter
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
}

// NewClient creates a Client. metrics may be nil.
func NewClient(cfg Config, tokens TokenSourceProvider, metrics *instrumentation.Metrics, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		tokens:    tokens,
		transport: otelhttp.NewTransport(base),
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:   metrics,
		logger:    logging.WithComponent(logger, "graph"),
	}
}

// GetUserDetails returns the signed-in user's display name and principal name.
func (c *Client) GetUserDetails(ctx context.Context, accountID string) (*User, error) {
	var user User
	err := c.call(ctx, accountID, instrumentation.OperationGetUser, http.MethodGet,
		"/me", url.Values{"$select": {userSelect}}, nil, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListMessages returns the first page of the user's messages.
func (c *Client) ListMessages(ctx context.Context, accountID string) (*MessageList, error) {
	var list MessageList
	err := c.call(ctx, accountID, instrumentation.OperationListMessages, http.MethodGet,
		"/me/messages", url.Values{"$select": {messageSelect}}, nil, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// GetMessage returns one message. Unknown, empty and malformed ids yield
// ErrNotFound.
func (c *Client) GetMessage(ctx context.Context, accountID, id string) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: %w: empty message id", instrumentation.OperationGetMessage, ErrNotFound)
	}

	var msg Message
	err := c.call(ctx, accountID, instrumentation.OperationGetMessage, http.MethodGet,
		"/me/messages/"+url.PathEscape(id), url.Values{"$select": {messageSelect}}, nil, &msg,
		attribute.String(instrumentation.SpanAttrResourceID, id))
	if isMalformedID(err) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateSubscription registers a change subscription.
func (c *Client) CreateSubscription(ctx context.Context, accountID string, sub Subscription) (*Subscription, error) {
	var created Subscription
	err := c.call(ctx, accountID, instrumentation.OperationCreateSubscription, http.MethodPost,
		"/subscriptions", nil, sub, &created,
		attribute.String(instrumentation.SpanAttrChangeType, sub.ChangeType))
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ListSubscriptions returns every subscription visible to the application,
// following pagination links for at most maxSubscriptionPage pages.
func (c *Client) ListSubscriptions(ctx context.Context, accountID string) ([]Subscription, error) {
	var all []Subscription
	next := "/subscriptions"

	for page := 0; next != "" && page < maxSubscriptionPage; page++ {
		var list subscriptionList
		err := c.call(ctx, accountID, instrumentation.OperationListSubscriptions, http.MethodGet,
			next, nil, nil, &list)
		if err != nil {
			return nil, err
		}
		all = append(all, list.Value...)
		next = list.NextLink
	}

	if next != "" {
		c.logger.Warn("subscription list truncated",
			logging.Operation(instrumentation.OperationListSubscriptions),
			logging.Account(accountID),
			slog.Int("pages", maxSubscriptionPage),
			slog.Int("subscriptions", len(all)))
	}

	return all, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, accountID, id string) error {
	return c.call(ctx, accountID, instrumentation.OperationDeleteSubscription, http.MethodDelete,
		"/subscriptions/"+url.PathEscape(id), nil, nil, nil,
		attribute.String(instrumentation.SpanAttrSubscription, id))
}

// RenewSubscription moves a subscription's expiration to expiresAt.
func (c *Client) RenewSubscription(ctx context.Context, accountID, id string, expiresAt time.Time) (*Subscription, error) {
	var renewed Subscription
	err := c.call(ctx, accountID, instrumentation.OperationRenewSubscription, http.MethodPatch,
		"/subscriptions/"+url.PathEscape(id), nil, subscriptionRenewal{ExpirationDateTime: expiresAt.UTC()}, &renewed,
		attribute.String(instrumentation.SpanAttrSubscription, id))
	if err != nil {
		return nil, err
	}
	return &renewed, nil
}

// call wraps do with a span, metrics and the operation name in errors.
func (c *Client) call(ctx context.Context, accountID, operation, method, path string, query url.Values, body, out any, attrs ...attribute.KeyValue) error {
	start := time.Now()

	ctx, span := instrumentation.StartGraphSpan(ctx, operation, attrs...)
	defer span.End()

	err := c.do(ctx, accountID, method, path, query, body, out)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		err = fmt.Errorf("%s: %w", operation, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGraphAPIOperation(ctx, operation, status, time.Since(start))

	c.logger.Debug("graph call",
		logging.Operation(operation),
		logging.Account(accountID),
		logging.Status(status),
		slog.Duration(logging.KeyDuration, time.Since(start)),
		logging.Err(err))

	return err
}

func (c *Client) do(ctx context.Context, accountID, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ts, err := c.tokens.TokenSource(ctx, accountID)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.contextError(ctx, err)
	}

	target, err := c.resolve(path, query)
	if err != nil {
		return err
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: c.transport}}
	resp, err := httpClient.Do(req)
	if err != nil {
		return c.contextError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var envelope errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&envelope)

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.RecordRateLimitError(retryAfter)
		}
		return newAPIError(resp.StatusCode, envelope, retryAfter)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.contextError(ctx, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// resolve builds the request URL. Absolute URLs (pagination links) must stay
// under the configured base so the bearer token never leaves Graph.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	target := path
	if strings.HasPrefix(path, "/") {
		target = c.baseURL + path
	} else if !strings.HasPrefix(path, c.baseURL+"/") {
		return "", fmt.Errorf("refusing to follow link outside %s", c.baseURL)
	}

	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target, nil
}

// contextError maps an expired call deadline to ErrTimeout.
func (c *Client) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	return err
}
