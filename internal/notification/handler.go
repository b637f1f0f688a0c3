package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxhook/internal/batch"
	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
	"github.com/teemow/inboxhook/internal/store"
)

// ErrInvalidPayload is returned for bodies that are not a notification batch.
var ErrInvalidPayload = errors.New("notification: invalid payload")

// maxBodyBytes caps the size of a notification batch.
const maxBodyBytes = 1 << 20

// Processing outcomes reported in the batch summary.
const (
	resultFetched            = "fetched"
	resultUnknownClientState = "dropped: unknown client state"
	resultNotAMessage        = "dropped: not a message"
	resultDeleted            = "skipped: deleted"
	resultDuplicate          = "dropped: duplicate"
)

// ClientStateResolver maps a client-state to the account it was issued for.
// Unknown client-states yield store.ErrNotFound.
type ClientStateResolver interface {
	ResolveClientState(ctx context.Context, clientState string) (string, error)
}

// MessageFetcher fetches a single message.
type MessageFetcher interface {
	GetMessage(ctx context.Context, accountID, id string) (*graph.Message, error)
}

// Config configures a Handler.
type Config struct {
	// DedupTTL is how long a processed notification suppresses repeats.
	DedupTTL time.Duration
	// ProcessTimeout bounds the background processing of one batch.
	ProcessTimeout time.Duration
	// Concurrency is the number of entries of a batch processed at once.
	Concurrency int
}

// Handler serves the notification endpoint.
type Handler struct {
	cfg      Config
	resolver ClientStateResolver
	fetcher  MessageFetcher
	seen     *cache.Cache
	metrics  *instrumentation.Metrics
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewHandler creates a Handler. metrics may be nil.
func NewHandler(cfg Config, resolver ClientStateResolver, fetcher MessageFetcher, metrics *instrumentation.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	return &Handler{
		cfg:      cfg,
		resolver: resolver,
		fetcher:  fetcher,
		seen:     cache.New(cfg.DedupTTL, 2*cfg.DedupTTL),
		metrics:  metrics,
		logger:   logging.WithComponent(logger, "notification"),
	}
}

// ServeHTTP answers the validation handshake or accepts a notification batch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		h.metrics.RecordNotification(r.Context(), instrumentation.NotificationValidation)
		h.logger.Info("answering subscription validation", logging.ClientState(token))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, token)
		return
	}

	b, err := Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("rejecting notification", logging.Err(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// Graph expects an answer within a few seconds, so the work happens after
	// the response.
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, h.cfg.ProcessTimeout)
		defer cancel()
		h.Process(ctx, b)
	}()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// Wait blocks until all accepted batches have been processed.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Decode reads a notification batch. Bodies that are not JSON or lack the
// value array yield ErrInvalidPayload.
func Decode(r io.Reader) (Batch, error) {
	var b Batch
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if b.Value == nil {
		return Batch{}, fmt.Errorf("%w: missing value", ErrInvalidPayload)
	}
	return b, nil
}

// Process handles every entry of b and reports one result per entry.
func (h *Handler) Process(ctx context.Context, b Batch) batch.Summary {
	ctx, span := instrumentation.StartSpan(ctx, "notification.process",
		attribute.Int("notification.count", len(b.Value)))
	defer span.End()

	keys := make([]string, len(b.Value))
	for i := range b.Value {
		keys[i] = strconv.Itoa(i)
	}

	summary := batch.Run(ctx, keys, h.cfg.Concurrency, func(ctx context.Context, key string) (string, error) {
		i, _ := strconv.Atoi(key)
		return h.handle(ctx, b.Value[i])
	})

	if summary.Failed > 0 {
		span.SetAttributes(attribute.Int("notification.failed", summary.Failed))
	}
	instrumentation.SetSpanSuccess(span)
	return summary
}

func (h *Handler) handle(ctx context.Context, n ChangeNotification) (string, error) {
	logger := h.logger.With(
		logging.Subscription(n.SubscriptionID),
		slog.String("change_type", n.ChangeType))

	accountID, err := h.resolveClientState(ctx, n.ClientState)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.metrics.RecordNotification(ctx, instrumentation.NotificationDroppedClientState)
		logger.Debug("dropping notification with unknown client state", logging.ClientState(n.ClientState))
		return resultUnknownClientState, nil
	case err != nil:
		h.metrics.RecordNotification(ctx, instrumentation.NotificationResolveFailed)
		logger.Warn("failed to resolve client state", logging.ClientState(n.ClientState), logging.Err(err))
		return "", fmt.Errorf("resolve client state: %w", err)
	}
	logger = logging.WithAccount(logger, accountID)

	if !strings.EqualFold(n.ResourceData.ODataType, MessageODataType) || n.ResourceData.ID == "" {
		h.metrics.RecordNotification(ctx, instrumentation.NotificationDroppedResource)
		logger.Debug("dropping notification for non-message resource", slog.String("odata_type", n.ResourceData.ODataType))
		return resultNotAMessage, nil
	}

	if strings.EqualFold(n.ChangeType, ChangeTypeDeleted) {
		h.metrics.RecordNotification(ctx, instrumentation.NotificationSkippedDeleted)
		logger.Info("message deleted", logging.ResourceID(n.ResourceData.ID))
		return resultDeleted, nil
	}

	key := n.dedupKey()
	if err := h.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		h.metrics.RecordNotification(ctx, instrumentation.NotificationDuplicate)
		logger.Debug("dropping duplicate notification", logging.ResourceID(n.ResourceData.ID))
		return resultDuplicate, nil
	}

	msg, err := h.fetcher.GetMessage(ctx, accountID, n.ResourceData.ID)
	if err != nil {
		// Let a redelivery try again.
		h.seen.Delete(key)
		h.metrics.RecordNotification(ctx, instrumentation.NotificationFetchFailed)
		logger.Warn("failed to fetch message", logging.ResourceID(n.ResourceData.ID), logging.Err(err))
		return "", err
	}

	h.metrics.RecordNotification(ctx, instrumentation.NotificationFetched)
	logger.Info("new message",
		logging.ResourceID(n.ResourceData.ID),
		slog.String("sender", msg.SenderAddress()),
		slog.String("subject", msg.Subject))
	return resultFetched, nil
}

// resolveClientState looks up the account of clientState. An empty state or
// an empty binding counts as unknown.
func (h *Handler) resolveClientState(ctx context.Context, clientState string) (string, error) {
	if clientState == "" {
		return "", store.ErrNotFound
	}
	accountID, err := h.resolver.ResolveClientState(ctx, clientState)
	if err != nil {
		return "", err
	}
	if accountID == "" {
		return "", store.ErrNotFound
	}
	return accountID, nil
}
