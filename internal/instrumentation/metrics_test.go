package instrumentation

import (
	"context"
	"testing"
	"time"
)

func TestMetrics_Record(t *testing.T) {
	provider := newTestProvider(t, ExporterPrometheus, ExporterNone)
	metrics := provider.Metrics()
	ctx := context.Background()

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/emails/{id}", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "POST", "/hook/notification", 400, 5*time.Millisecond)
	metrics.RecordGraphAPIOperation(ctx, OperationGetMessage, StatusSuccess, 200*time.Millisecond)
	metrics.RecordGraphAPIOperation(ctx, OperationCreateSubscription, StatusError, 500*time.Millisecond)
	metrics.RecordOAuthAuth(ctx, OAuthResultSuccess)
	metrics.RecordOAuthAuth(ctx, OAuthResultFailure)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)
	metrics.RecordNotification(ctx, NotificationDroppedClientState)
	metrics.RecordNotification(ctx, NotificationDuplicate)
	metrics.RecordSubscriptionOperation(ctx, OperationDeleteSubscription, StatusSuccess)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
}

func TestMetrics_DetailedLabels(t *testing.T) {
	provider := newTestProvider(t, ExporterPrometheus, ExporterNone)
	ctx := context.Background()

	// Account label is dropped when detailed labels are disabled; must not panic either way
	provider.Metrics().RecordSubscriptionOperationWithAccount(ctx, OperationRenewSubscription, StatusSuccess, "account:abc")

	provider.Metrics().detailedLabels = true
	provider.Metrics().RecordSubscriptionOperationWithAccount(ctx, OperationRenewSubscription, StatusSuccess, "account:abc")
}

func TestMetrics_NilAndZeroAreNoop(t *testing.T) {
	ctx := context.Background()

	for _, m := range []*Metrics{nil, {}} {
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
		m.RecordGraphAPIOperation(ctx, OperationGetUser, StatusSuccess, time.Millisecond)
		m.RecordOAuthAuth(ctx, OAuthResultSuccess)
		m.RecordOAuthTokenRefresh(ctx, OAuthResultFailure)
		m.RecordNotification(ctx, NotificationFetched)
		m.RecordSubscriptionOperation(ctx, OperationCreateSubscription, StatusSuccess)
		m.IncrementActiveSessions(ctx)
		m.DecrementActiveSessions(ctx)
	}
}
