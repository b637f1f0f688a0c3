package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const (
	redisPingTimeout = 5 * time.Second

	// Records outlive their subscription by this much so the renewer can still
	// see and clean up a subscription that just expired.
	subscriptionRecordGrace = time.Hour
)

// Redis is a Store backed by Redis, shared by all server instances.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the Redis server at rawURL (redis:// or rediss://) and
// verifies the connection.
func NewRedis(ctx context.Context, rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: redis ping failed: %w", err)
	}

	return NewRedisFromClient(rdb, prefix), nil
}

// NewRedisFromClient wraps an existing client without checking connectivity.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *Redis) tokenKey(accountID string) string { return r.key("token", accountID) }

func (r *Redis) clientStateKey(state string) string { return r.key("clientstate", state) }

func (r *Redis) subscriptionKey(id string) string { return r.key("subscription", id) }

func (r *Redis) subscriptionIndexKey() string { return r.key("subscriptions") }

func (r *Redis) SaveToken(ctx context.Context, accountID string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("store: encode token: %w", err)
	}
	return r.client.Set(ctx, r.tokenKey(accountID), data, 0).Err()
}

func (r *Redis) GetToken(ctx context.Context, accountID string) (*oauth2.Token, error) {
	data, err := r.client.Get(ctx, r.tokenKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("store: decode token: %w", err)
	}
	return &tok, nil
}

func (r *Redis) DeleteToken(ctx context.Context, accountID string) error {
	return r.client.Del(ctx, r.tokenKey(accountID)).Err()
}

func (r *Redis) BindClientState(ctx context.Context, clientState, accountID string) error {
	return r.client.Set(ctx, r.clientStateKey(clientState), accountID, 0).Err()
}

func (r *Redis) ResolveClientState(ctx context.Context, clientState string) (string, error) {
	accountID, err := r.client.Get(ctx, r.clientStateKey(clientState)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return accountID, nil
}

func (r *Redis) UnbindClientState(ctx context.Context, clientState string) error {
	return r.client.Del(ctx, r.clientStateKey(clientState)).Err()
}

func (r *Redis) SaveSubscription(ctx context.Context, rec SubscriptionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode subscription: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt) + subscriptionRecordGrace
	if ttl <= 0 {
		ttl = subscriptionRecordGrace
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.subscriptionKey(rec.ID), data, ttl)
	pipe.SAdd(ctx, r.subscriptionIndexKey(), rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) GetSubscription(ctx context.Context, id string) (SubscriptionRecord, error) {
	data, err := r.client.Get(ctx, r.subscriptionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SubscriptionRecord{}, ErrNotFound
	}
	if err != nil {
		return SubscriptionRecord{}, err
	}
	return decodeSubscription(data)
}

// ListSubscriptions returns records ordered by expiry, soonest first. Index
// entries whose record has expired are pruned.
func (r *Redis) ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error) {
	ids, err := r.client.SMembers(ctx, r.subscriptionIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.subscriptionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	recs := make([]SubscriptionRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decodeSubscription([]byte(s))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if len(stale) > 0 {
		_ = r.client.SRem(ctx, r.subscriptionIndexKey(), stale...).Err()
	}

	sortByExpiry(recs)
	return recs, nil
}

func (r *Redis) DeleteSubscription(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.subscriptionKey(id))
	pipe.SRem(ctx, r.subscriptionIndexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeSubscription(data []byte) (SubscriptionRecord, error) {
	var rec SubscriptionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return SubscriptionRecord{}, fmt.Errorf("store: decode subscription: %w", err)
	}
	return rec, nil
}
