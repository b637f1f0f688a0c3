package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/inboxhook/internal/batch"
	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/identity"
	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
)

// Timeouts of the public listener.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// Authenticator runs the authorization code flow.
type Authenticator interface {
	AuthCodeURL() string
	Exchange(ctx context.Context, code string) (*identity.AuthResult, error)
	SignOut(ctx context.Context, accountID string) error
}

// Mailbox reads the signed-in user's profile and mail.
type Mailbox interface {
	GetUserDetails(ctx context.Context, accountID string) (*graph.User, error)
	ListMessages(ctx context.Context, accountID string) (*graph.MessageList, error)
	GetMessage(ctx context.Context, accountID, id string) (*graph.Message, error)
}

// Subscriptions manages an account's change notification subscriptions.
type Subscriptions interface {
	Create(ctx context.Context, accountID string) (*graph.Subscription, error)
	List(ctx context.Context, accountID string) ([]graph.Subscription, error)
	DeleteAll(ctx context.Context, accountID string) (batch.Summary, error)
}

// Config wires the server's dependencies.
type Config struct {
	Auth          Authenticator
	Mailbox       Mailbox
	Subscriptions Subscriptions
	Notifications http.Handler
	Sessions      *SessionManager
	Health        *HealthChecker

	// Metrics may be nil.
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Server is the public HTTP surface: sign-in, mail reads, subscriptions and
// the notification webhook.
type Server struct {
	auth          Authenticator
	mailbox       Mailbox
	subscriptions Subscriptions
	notifications http.Handler
	sessions      *SessionManager
	health        *HealthChecker
	metrics       *instrumentation.Metrics
	logger        *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:          cfg.Auth,
		mailbox:       cfg.Mailbox,
		subscriptions: cfg.Subscriptions,
		notifications: cfg.Notifications,
		sessions:      cfg.Sessions,
		health:        cfg.Health,
		metrics:       cfg.Metrics,
		logger:        logging.WithComponent(logger, "server"),
	}
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.recordMetrics)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/signin", s.handleSignin)
		r.Get("/callback", s.handleCallback)
		r.With(s.requireSession).Post("/signout", s.handleSignout)
		r.Method(http.MethodPost, "/notification", s.notifications)
	})
	r.Method(http.MethodPost, "/hook/notification", s.notifications)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/user", s.handleUser)
		r.Get("/emails", s.handleEmails)
		r.Get("/emails/{id}", s.handleEmail)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Delete("/subscriptions", s.handleDeleteSubscriptions)
	})

	if s.health != nil {
		s.health.RegisterHealthEndpoints(r)
	}

	// Spans start with the method only; recordMetrics renames them to the
	// route pattern so message ids never end up in span names.
	return otelhttp.NewHandler(r, "inboxhook",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method
		}),
	)
}

// NewHTTPServer returns an http.Server for addr serving h.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
}

// recordMetrics records request count and latency by route pattern and names
// the request span after it.
func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
				span := trace.SpanFromContext(r.Context())
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(semconv.HTTPRoute(pattern))
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, status, time.Since(start))
	})
}

type accountKey struct{}

// requireSession answers 400 before any remote call when the request has no
// signed-in account.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, err := s.sessions.AccountID(r)
		if err != nil {
			http.Error(w, bodyNoSession, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, accountID)))
	})
}

func accountFrom(ctx context.Context) string {
	accountID, _ := ctx.Value(accountKey{}).(string)
	return accountID
}
