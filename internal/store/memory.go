package store

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/oauth2"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	tokens        map[string]oauth2.Token
	clientStates  map[string]string
	subscriptions map[string]SubscriptionRecord
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tokens:        make(map[string]oauth2.Token),
		clientStates:  make(map[string]string),
		subscriptions: make(map[string]SubscriptionRecord),
	}
}

func (m *Memory) SaveToken(_ context.Context, accountID string, token *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[accountID] = *token
	return nil
}

func (m *Memory) GetToken(_ context.Context, accountID string) (*oauth2.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (m *Memory) DeleteToken(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, accountID)
	return nil
}

func (m *Memory) BindClientState(_ context.Context, clientState, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientStates[clientState] = accountID
	return nil
}

func (m *Memory) ResolveClientState(_ context.Context, clientState string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	accountID, ok := m.clientStates[clientState]
	if !ok {
		return "", ErrNotFound
	}
	return accountID, nil
}

func (m *Memory) UnbindClientState(_ context.Context, clientState string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clientStates, clientState)
	return nil
}

func (m *Memory) SaveSubscription(_ context.Context, rec SubscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[rec.ID] = rec
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id string) (SubscriptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.subscriptions[id]
	if !ok {
		return SubscriptionRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListSubscriptions returns records ordered by expiry, soonest first.
func (m *Memory) ListSubscriptions(_ context.Context) ([]SubscriptionRecord, error) {
	m.mu.RLock()
	recs := make([]SubscriptionRecord, 0, len(m.subscriptions))
	for _, rec := range m.subscriptions {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	sortByExpiry(recs)
	return recs, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func sortByExpiry(recs []SubscriptionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ExpiresAt.Equal(recs[j].ExpiresAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].ExpiresAt.Before(recs[j].ExpiresAt)
	})
}
