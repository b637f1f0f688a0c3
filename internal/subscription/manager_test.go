package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/store"
)

var fixedNow = time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(cfg Config) (*Manager, *fakeGraph, *store.Memory) {
	if cfg.NotificationURL == "" {
		cfg.NotificationURL = "https://mail.example.com/hook/notification"
	}
	if cfg.ChangeType == "" {
		cfg.ChangeType = "created"
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = 72 * time.Hour
	}
	if cfg.DeleteConcurrency == 0 {
		cfg.DeleteConcurrency = 4
	}
	if cfg.RenewConcurrency == 0 {
		cfg.RenewConcurrency = 2
	}
	if cfg.RenewBefore == 0 {
		cfg.RenewBefore = time.Hour
	}

	g := newFakeGraph()
	s := store.NewMemory()
	m := NewManager(cfg, g, s, nil, nil)
	m.now = func() time.Time { return fixedNow }
	return m, g, s
}

func TestCreate_FixedClientState(t *testing.T) {
	m, g, s := newTestManager(Config{ClientState: "X"})
	ctx := context.Background()

	sub, err := m.Create(ctx, "oid.tid")
	require.NoError(t, err)
	require.Len(t, g.created, 1)

	sent := g.created[0]
	assert.Equal(t, "created", sent.ChangeType)
	assert.Equal(t, "/me/messages", sent.Resource)
	assert.Equal(t, "https://mail.example.com/hook/notification", sent.NotificationURL)
	assert.Equal(t, "X", sent.ClientState)
	assert.True(t, sent.ExpirationDateTime.Equal(fixedNow.Add(72*time.Hour)))

	accountID, err := s.ResolveClientState(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, "oid.tid", accountID)

	rec, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "oid.tid", rec.AccountID)
	assert.Equal(t, "X", rec.ClientState)
}

func TestCreate_GeneratedClientState(t *testing.T) {
	m, g, s := newTestManager(Config{})
	ctx := context.Background()

	_, err := m.Create(ctx, "a")
	require.NoError(t, err)
	_, err = m.Create(ctx, "b")
	require.NoError(t, err)

	require.Len(t, g.created, 2)
	first, second := g.created[0].ClientState, g.created[1].ClientState
	assert.NotEqual(t, first, second)
	_, err = uuid.Parse(first)
	assert.NoError(t, err)

	owner, err := s.ResolveClientState(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "b", owner)
}

func TestCreate_ExpirationTooFar(t *testing.T) {
	m, g, _ := newTestManager(Config{Lifetime: MaxMailLifetime + time.Minute})

	_, err := m.Create(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpirationTooFar)

	created, _, _ := g.counts()
	assert.Equal(t, 0, created, "no remote call when the expiration is invalid")
}

func TestCreate_RemoteFailureUnbindsGeneratedState(t *testing.T) {
	m, g, s := newTestManager(Config{})
	m.newState = func() string { return "generated" }
	g.createErr = fmt.Errorf("create_subscription: %w", graph.ErrBadRequest)

	_, err := m.Create(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrBadRequest)

	_, err = s.ResolveClientState(context.Background(), "generated")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestValidateExpiration(t *testing.T) {
	assert.NoError(t, ValidateExpiration(fixedNow.Add(MaxMailLifetime), fixedNow))
	assert.ErrorIs(t, ValidateExpiration(fixedNow.Add(MaxMailLifetime+time.Second), fixedNow), ErrExpirationTooFar)
	assert.ErrorIs(t, ValidateExpiration(fixedNow, fixedNow), ErrExpirationTooFar)
}

func TestDeleteAll_NoSubscriptions(t *testing.T) {
	m, g, _ := newTestManager(Config{})

	summary, err := m.DeleteAll(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, summary.Results)

	_, deletes, _ := g.counts()
	assert.Equal(t, 0, deletes)
}

func TestDeleteAll_OneFailureDoesNotAbortOthers(t *testing.T) {
	m, g, s := newTestManager(Config{DeleteConcurrency: 2})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("s%d", i)
		g.add(id)
		require.NoError(t, s.SaveSubscription(ctx, store.SubscriptionRecord{ID: id, AccountID: "a", ClientState: "cs-" + id, ExpiresAt: fixedNow.Add(time.Hour)}))
		require.NoError(t, s.BindClientState(ctx, "cs-"+id, "a"))
	}
	g.deleteErrs["s3"] = fmt.Errorf("delete_subscription: %w", graph.ErrServerError)

	summary, err := m.DeleteAll(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures(), 1)
	assert.Equal(t, "s3", summary.Failures()[0].ID)
	assert.ErrorIs(t, summary.Failures()[0].Err, graph.ErrServerError)

	_, deletes, _ := g.counts()
	assert.Equal(t, 5, deletes, "every listed subscription gets a delete attempt")

	recs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s3", recs[0].ID)

	_, err = s.ResolveClientState(ctx, "cs-s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.ResolveClientState(ctx, "cs-s3")
	assert.NoError(t, err)
}

func TestDeleteAll_NotFoundCountsAsDeleted(t *testing.T) {
	m, g, _ := newTestManager(Config{})
	g.add("gone")
	g.deleteErrs["gone"] = fmt.Errorf("delete_subscription: %w", graph.ErrNotFound)

	summary, err := m.DeleteAll(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, "already gone", summary.Results[0].Result)
}

func TestDeleteAll_KeepsFixedClientState(t *testing.T) {
	m, g, s := newTestManager(Config{ClientState: "X"})
	ctx := context.Background()

	_, err := m.Create(ctx, "a")
	require.NoError(t, err)

	_, err = m.DeleteAll(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, g.subs)

	owner, err := s.ResolveClientState(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
}

func TestDeleteAll_ListFailure(t *testing.T) {
	m, g, _ := newTestManager(Config{})
	g.listErr = errors.New("list failed")

	_, err := m.DeleteAll(context.Background(), "a")
	assert.ErrorContains(t, err, "list failed")
}
