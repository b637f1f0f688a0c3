package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/inboxhook/internal/batch"
	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
	"github.com/teemow/inboxhook/internal/store"
)

// MessagesResource is the resource watched for every account.
const MessagesResource = "/me/messages"

// MaxMailLifetime is the longest lifetime Graph accepts for mail subscriptions.
const MaxMailLifetime = 10080 * time.Minute

// ErrExpirationTooFar is returned by Create when the configured lifetime would
// put the expiration past MaxMailLifetime. No remote call is made.
var ErrExpirationTooFar = errors.New("subscription: expiration exceeds the maximum for mail resources")

// GraphAPI is the subset of the Graph client the manager needs.
type GraphAPI interface {
	CreateSubscription(ctx context.Context, accountID string, sub graph.Subscription) (*graph.Subscription, error)
	ListSubscriptions(ctx context.Context, accountID string) ([]graph.Subscription, error)
	DeleteSubscription(ctx context.Context, accountID, id string) error
	RenewSubscription(ctx context.Context, accountID, id string, expiresAt time.Time) (*graph.Subscription, error)
}

// Store is the state the manager keeps.
type Store interface {
	store.ClientStateStore
	store.SubscriptionStore
}

// Config configures a Manager.
type Config struct {
	// NotificationURL receives change notifications, e.g. https://host/hook/notification.
	NotificationURL string

	ChangeType string

	// ClientState is the fixed client-state. Empty means a new UUID per subscription.
	ClientState string

	Lifetime time.Duration

	// DeleteConcurrency and RenewConcurrency bound the Graph calls in flight
	// during DeleteAll and Renew.
	DeleteConcurrency int
	RenewConcurrency  int

	// RenewBefore is how close to expiry a subscription must be to get renewed.
	RenewBefore time.Duration
}

// Manager creates, deletes and renews subscriptions.
type Manager struct {
	cfg     Config
	graph   GraphAPI
	store   Store
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	now      func() time.Time
	newState func() string
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(cfg Config, g GraphAPI, s Store, metrics *instrumentation.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeleteConcurrency < 1 {
		cfg.DeleteConcurrency = 1
	}
	if cfg.RenewConcurrency < 1 {
		cfg.RenewConcurrency = 1
	}
	return &Manager{
		cfg:      cfg,
		graph:    g,
		store:    s,
		metrics:  metrics,
		logger:   logging.WithComponent(logger, "subscription"),
		now:      time.Now,
		newState: uuid.NewString,
	}
}

// ValidateExpiration checks expiresAt against the mail resource maximum.
func ValidateExpiration(expiresAt, now time.Time) error {
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: %s is not in the future", ErrExpirationTooFar, expiresAt.Format(time.RFC3339))
	}
	if expiresAt.Sub(now) > MaxMailLifetime {
		return fmt.Errorf("%w: %s is more than %s away", ErrExpirationTooFar, expiresAt.Format(time.RFC3339), MaxMailLifetime)
	}
	return nil
}

// Create subscribes to new messages in the account's mailbox and registers the
// client-state for the account.
func (m *Manager) Create(ctx context.Context, accountID string) (*graph.Subscription, error) {
	logger := logging.WithOperation(m.logger, "subscription.create").With(logging.Account(accountID))

	now := m.now()
	expiresAt := now.Add(m.cfg.Lifetime).UTC()
	if err := ValidateExpiration(expiresAt, now); err != nil {
		m.metrics.RecordSubscriptionOperation(ctx, instrumentation.OperationCreateSubscription, instrumentation.StatusError)
		return nil, err
	}

	clientState, generated := m.cfg.ClientState, false
	if clientState == "" {
		clientState, generated = m.newState(), true
	}

	// Bind first: Graph may deliver a notification before Create returns.
	if err := m.store.BindClientState(ctx, clientState, accountID); err != nil {
		return nil, fmt.Errorf("bind client state: %w", err)
	}

	created, err := m.graph.CreateSubscription(ctx, accountID, graph.Subscription{
		ChangeType:         m.cfg.ChangeType,
		NotificationURL:    m.cfg.NotificationURL,
		Resource:           MessagesResource,
		ExpirationDateTime: expiresAt,
		ClientState:        clientState,
	})
	if err != nil {
		if generated {
			_ = m.store.UnbindClientState(ctx, clientState)
		}
		m.metrics.RecordSubscriptionOperationWithAccount(ctx, instrumentation.OperationCreateSubscription,
			instrumentation.StatusError, logging.AnonymizeAccount(accountID))
		logger.Warn("subscription create failed", logging.Err(err))
		return nil, err
	}

	rec := store.SubscriptionRecord{
		ID:          created.ID,
		AccountID:   accountID,
		ClientState: clientState,
		ExpiresAt:   created.ExpirationDateTime,
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = expiresAt
	}
	if err := m.store.SaveSubscription(ctx, rec); err != nil {
		logger.Error("failed to save subscription record", logging.Subscription(created.ID), logging.Err(err))
	}

	m.metrics.RecordSubscriptionOperationWithAccount(ctx, instrumentation.OperationCreateSubscription,
		instrumentation.StatusSuccess, logging.AnonymizeAccount(accountID))
	logger.Info("subscription created",
		logging.Subscription(created.ID),
		logging.ClientState(clientState),
		slog.Time("expires_at", rec.ExpiresAt))

	return created, nil
}

// List returns the subscriptions visible with the account's credentials.
func (m *Manager) List(ctx context.Context, accountID string) ([]graph.Subscription, error) {
	return m.graph.ListSubscriptions(ctx, accountID)
}

// DeleteAll deletes every subscription List returns. Deletions run
// concurrently and independently; the summary reports each one. Only a
// listing failure is returned as an error.
func (m *Manager) DeleteAll(ctx context.Context, accountID string) (batch.Summary, error) {
	logger := logging.WithOperation(m.logger, "subscription.delete_all").With(logging.Account(accountID))

	subs, err := m.List(ctx, accountID)
	if err != nil {
		return batch.Summarize(nil), fmt.Errorf("list subscriptions: %w", err)
	}

	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}

	summary := batch.Run(ctx, ids, m.cfg.DeleteConcurrency, func(ctx context.Context, id string) (string, error) {
		err := m.graph.DeleteSubscription(ctx, accountID, id)
		if err != nil && !errors.Is(err, graph.ErrNotFound) {
			m.metrics.RecordSubscriptionOperation(ctx, instrumentation.OperationDeleteSubscription, instrumentation.StatusError)
			return "", err
		}

		m.forget(ctx, id)
		m.metrics.RecordSubscriptionOperation(ctx, instrumentation.OperationDeleteSubscription, instrumentation.StatusSuccess)
		if err != nil {
			return "already gone", nil
		}
		return "deleted", nil
	})

	if summary.Total > 0 {
		logger.Info("subscriptions deleted",
			slog.Int("total", summary.Total),
			slog.Int("successful", summary.Successful),
			slog.Int("failed", summary.Failed))
	}
	for _, f := range summary.Failures() {
		logger.Warn("subscription delete failed", logging.Subscription(f.ID), logging.Err(f.Err))
	}

	return summary, nil
}

// forget drops the local record of a subscription and, for generated
// client-states, its registry entry. The fixed client-state stays bound.
func (m *Manager) forget(ctx context.Context, id string) {
	rec, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return
	}
	_ = m.store.DeleteSubscription(ctx, id)
	if rec.ClientState != "" && rec.ClientState != m.cfg.ClientState {
		_ = m.store.UnbindClientState(ctx, rec.ClientState)
	}
}
