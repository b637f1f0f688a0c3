// Package store keeps the server's shared state: OAuth tokens per account, the
// client-state registry used to correlate notifications, and local records of
// the subscriptions this server created.
//
// Two backends are provided. Memory is process-local and meant for development
// and single-instance deployments. Redis lets several instances share state.
package store

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: not found")

// SubscriptionRecord is the local view of a Graph subscription created by this server.
type SubscriptionRecord struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	ClientState string    `json:"client_state"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenStore persists delegated tokens keyed by home account id.
type TokenStore interface {
	// SaveToken stores or replaces the token for an account.
	SaveToken(ctx context.Context, accountID string, token *oauth2.Token) error

	// GetToken returns ErrNotFound for unknown accounts.
	GetToken(ctx context.Context, accountID string) (*oauth2.Token, error)

	DeleteToken(ctx context.Context, accountID string) error
}

// ClientStateStore maps client-state values to the account that owns them.
type ClientStateStore interface {
	// BindClientState associates clientState with accountID, replacing any
	// previous owner.
	BindClientState(ctx context.Context, clientState, accountID string) error

	// ResolveClientState returns ErrNotFound for unknown client states.
	ResolveClientState(ctx context.Context, clientState string) (string, error)

	UnbindClientState(ctx context.Context, clientState string) error
}

// SubscriptionStore keeps SubscriptionRecords for renewal and cleanup.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, rec SubscriptionRecord) error

	// GetSubscription returns ErrNotFound for unknown ids.
	GetSubscription(ctx context.Context, id string) (SubscriptionRecord, error)

	ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error)

	DeleteSubscription(ctx context.Context, id string) error
}

// Store is the full backend used by the server.
type Store interface {
	TokenStore
	ClientStateStore
	SubscriptionStore

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
