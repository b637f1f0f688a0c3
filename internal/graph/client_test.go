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
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var errNoToken = errors.New("no token")

type staticTokens map[string]string

func (s staticTokens) TokenSource(_ context.Context, accountID string) (oauth2.TokenSource, error) {
	tok, ok := s[accountID]
	if !ok {
		return nil, errNoToken
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
		RateLimit: 1000,
		RateBurst: 1000,
	}, staticTokens{"acc": "token-acc"}, nil, nil)
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetUserDetails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/me", r.URL.Path)
		assert.Equal(t, "displayName,userPrincipalName", r.URL.Query().Get("$select"))
		assert.Equal(t, "Bearer token-acc", r.Header.Get("Authorization"))

		writeJSON(w, http.StatusOK, map[string]string{
			"displayName":       "Adele Vance",
			"userPrincipalName": "adele@contoso.com",
		})
	})

	user, err := c.GetUserDetails(context.Background(), "acc")
	require.NoError(t, err)
	assert.Equal(t, "Adele Vance", user.DisplayName)
	assert.Equal(t, "adele@contoso.com", user.UserPrincipalName)
}

func TestListMessages(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		assert.Equal(t, "sender,subject,from,toRecipients", r.URL.Query().Get("$select"))

		writeJSON(w, http.StatusOK, map[string]any{
			"value": []map[string]any{
				{"id": "m1", "subject": "hello", "sender": map[string]any{"emailAddress": map[string]string{"address": "a@b.c"}}},
				{"id": "m2", "subject": "world"},
			},
			"@odata.nextLink": "https://graph.microsoft.com/v1.0/me/messages?$skip=10",
		})
	})

	list, err := c.ListMessages(context.Background(), "acc")
	require.NoError(t, err)
	require.Len(t, list.Value, 2)
	assert.Equal(t, "a@b.c", list.Value[0].SenderAddress())
	assert.Equal(t, "", list.Value[1].SenderAddress())
	assert.Equal(t, "https://graph.microsoft.com/v1.0/me/messages?$skip=10", list.NextLink)
}

func TestGetMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/messages/m1":
			writeJSON(w, http.StatusOK, map[string]any{"id": "m1", "subject": "hi"})
		case "/me/messages/not-an-id":
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]string{"code": "ErrorInvalidIdMalformed", "message": "Id is malformed."},
			})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]string{"code": "ErrorItemNotFound", "message": "The specified object was not found in the store."},
			})
		}
	})
	ctx := context.Background()

	msg, err := c.GetMessage(ctx, "acc", "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Subject)

	_, err = c.GetMessage(ctx, "acc", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "ErrorItemNotFound", apiErr.Code)

	_, err = c.GetMessage(ctx, "acc", "not-an-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ErrorInvalidIdMalformed", apiErr.Code)

	_, err = c.GetMessage(ctx, "acc", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSubscription(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got Subscription
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "created", got.ChangeType)
		assert.Equal(t, "/me/messages", got.Resource)
		assert.Equal(t, "https://mail.example.com/hook/notification", got.NotificationURL)
		assert.Equal(t, "state-1", got.ClientState)
		assert.True(t, got.ExpirationDateTime.Equal(expiry))

		got.ID = "sub-1"
		writeJSON(w, http.StatusCreated, got)
	})

	created, err := c.CreateSubscription(context.Background(), "acc", Subscription{
		ChangeType:         "created",
		NotificationURL:    "https://mail.example.com/hook/notification",
		Resource:           "/me/messages",
		ExpirationDateTime: expiry,
		ClientState:        "state-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", created.ID)
}

func TestCreateSubscription_RejectedExpiration(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "InvalidRequest", "message": "Subscription expiration can only be 10070 minutes in the future."},
		})
	})

	_, err := c.CreateSubscription(context.Background(), "acc", Subscription{ChangeType: "created"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "InvalidRequest")
	assert.Contains(t, err.Error(), "create_subscription")
}

func TestListSubscriptions_FollowsNextLink(t *testing.T) {
	var srvURL string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions", r.URL.Path)
		if r.URL.Query().Get("$skiptoken") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"value":           []map[string]string{{"id": "s1"}, {"id": "s2"}},
				"@odata.nextLink": srvURL + "/subscriptions?$skiptoken=page2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"value": []map[string]string{{"id": "s3"}},
		})
	})
	srvURL = srv.URL

	subs, err := c.ListSubscriptions(context.Background(), "acc")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "s3", subs[2].ID)
}

func TestListSubscriptions_StopsAtPageLimit(t *testing.T) {
	var requests atomic.Int32
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := requests.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"value":           []map[string]string{{"id": fmt.Sprintf("s%d", n)}},
			"@odata.nextLink": srvURL + "/subscriptions?$skiptoken=more",
		})
	}))
	defer srv.Close()
	srvURL = srv.URL

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000, RateBurst: 1000}, staticTokens{"acc": "t"}, nil, logger)

	subs, err := c.ListSubscriptions(context.Background(), "acc")
	require.NoError(t, err)

	assert.Len(t, subs, maxSubscriptionPage)
	assert.Equal(t, int32(maxSubscriptionPage), requests.Load())
	assert.Contains(t, logs.String(), "subscription list truncated")
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestListSubscriptions_RefusesForeignNextLink(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"value":           []map[string]string{{"id": "s1"}},
			"@odata.nextLink": "https://attacker.example/steal",
		})
	})

	_, err := c.ListSubscriptions(context.Background(), "acc")
	assert.ErrorContains(t, err, "refusing to follow link")
}

func TestDeleteAndRenewSubscription(t *testing.T) {
	newExpiry := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub-1", r.URL.Path)
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			var renewal map[string]time.Time
			assert.NoError(t, json.Unmarshal(body, &renewal))
			assert.True(t, renewal["expirationDateTime"].Equal(newExpiry))
			writeJSON(w, http.StatusOK, map[string]any{"id": "sub-1", "expirationDateTime": newExpiry})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	ctx := context.Background()

	require.NoError(t, c.DeleteSubscription(ctx, "acc", "sub-1"))

	renewed, err := c.RenewSubscription(ctx, "acc", "sub-1", newExpiry)
	require.NoError(t, err)
	assert.True(t, renewed.ExpirationDateTime.Equal(newExpiry))
}

func TestCall_TokenSourceError(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.GetUserDetails(context.Background(), "unknown")
	assert.ErrorIs(t, err, errNoToken)
	assert.False(t, called, "no request without a token")
}

func TestCall_RateLimited(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]string{"code": "TooManyRequests", "message": "slow down"},
		})
	})

	_, err := c.GetUserDetails(context.Background(), "acc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)

	assert.Greater(t, c.limiter.backoff(time.Now()), 25*time.Second, "backoff window should be open")
}

func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, staticTokens{"acc": "t"}, nil, nil)

	_, err := c.GetUserDetails(context.Background(), "acc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCall_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ListMessages(context.Background(), "acc")
	assert.ErrorIs(t, err, ErrServerError)
}
