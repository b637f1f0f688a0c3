package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teemow/inboxhook/internal/batch"
	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/identity"
	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
	"github.com/teemow/inboxhook/internal/store"
)

// Renew extends every locally known subscription that expires within
// RenewBefore. Subscriptions Graph no longer knows, and those whose account has
// no token left, are forgotten.
func (m *Manager) Renew(ctx context.Context) (batch.Summary, error) {
	logger := logging.WithOperation(m.logger, "subscription.renew")

	recs, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return batch.Summarize(nil), err
	}

	now := m.now()
	deadline := now.Add(m.cfg.RenewBefore)
	due := make(map[string]store.SubscriptionRecord)
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.ExpiresAt.Before(deadline) {
			due[rec.ID] = rec
			ids = append(ids, rec.ID)
		}
	}

	summary := batch.Run(ctx, ids, m.cfg.RenewConcurrency, func(ctx context.Context, id string) (string, error) {
		rec := due[id]
		expiresAt := m.now().Add(m.cfg.Lifetime).UTC()

		renewed, err := m.graph.RenewSubscription(ctx, rec.AccountID, id, expiresAt)
		switch {
		case errors.Is(err, graph.ErrNotFound), errors.Is(err, identity.ErrNoAccount):
			m.forget(ctx, id)
			m.metrics.RecordSubscriptionOperation(ctx, instrumentation.OperationRenewSubscription, instrumentation.StatusError)
			logger.Info("forgetting subscription", logging.Subscription(id), logging.Err(err))
			return "forgotten", nil
		case err != nil:
			m.metrics.RecordSubscriptionOperation(ctx, instrumentation.OperationRenewSubscription, instrumentation.StatusError)
			return "", err
		}

		if !renewed.ExpirationDateTime.IsZero() {
			expiresAt = renewed.ExpirationDateTime
		}
		rec.ExpiresAt = expiresAt
		if err := m.store.SaveSubscription(ctx, rec); err != nil {
			return "", err
		}

		m.metrics.RecordSubscriptionOperation(ctx, instrumentation.OperationRenewSubscription, instrumentation.StatusSuccess)
		return "renewed until " + expiresAt.Format(time.RFC3339), nil
	})

	for _, f := range summary.Failures() {
		logger.Warn("subscription renewal failed", logging.Subscription(f.ID), logging.Err(f.Err))
	}
	if summary.Total > 0 {
		logger.Info("subscription renewal pass finished",
			slog.Int("total", summary.Total),
			slog.Int("successful", summary.Successful),
			slog.Int("failed", summary.Failed))
	}

	return summary, nil
}

// RunRenewer calls Renew every interval until ctx is done. A non-positive
// interval disables renewal.
func (m *Manager) RunRenewer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		m.logger.Info("subscription renewal disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Renew(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("subscription renewal pass failed", logging.Err(err))
			}
		}
	}
}
