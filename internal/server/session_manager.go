package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/teemow/inboxhook/internal/logging"
)

const (
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "inboxhook-session"

	sessionAccountKey = "account_id"
)

// ErrNoSession is returned when a request carries no signed-in account.
var ErrNoSession = errors.New("no session")

// SessionManager binds a browser session to a home account id through a
// signed and encrypted cookie.
type SessionManager struct {
	store  *sessions.CookieStore
	logger *slog.Logger
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	// Secret derives the cookie keys. Empty means random keys, so sessions do
	// not survive a restart.
	Secret string
	MaxAge time.Duration
	// Secure marks the cookie https-only.
	Secure bool
	Logger *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "session")

	hashKey, blockKey, err := sessionKeys(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if cfg.Secret == "" {
		logger.Warn("SESSION_SECRET not set, using random session keys; sessions end on restart")
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)

	return &SessionManager{store: store, logger: logger}, nil
}

// sessionKeys returns a 64 byte hash key and a 32 byte AES key.
func sessionKeys(secret string) ([]byte, []byte, error) {
	if secret == "" {
		hashKey := make([]byte, 64)
		blockKey := make([]byte, 32)
		if _, err := rand.Read(hashKey); err != nil {
			return nil, nil, err
		}
		if _, err := rand.Read(blockKey); err != nil {
			return nil, nil, err
		}
		return hashKey, blockKey, nil
	}

	hash := sha512.Sum512([]byte("inboxhook-session-hash:" + secret))
	block := sha256.Sum256([]byte("inboxhook-session-block:" + secret))
	return hash[:], block[:], nil
}

// AccountID returns the account bound to the request's session.
func (m *SessionManager) AccountID(r *http.Request) (string, error) {
	session, err := m.store.Get(r, SessionCookieName)
	if err != nil {
		// Undecodable cookies, e.g. after a key change, count as signed out.
		m.logger.Debug("ignoring invalid session cookie", logging.Err(err))
		return "", ErrNoSession
	}
	accountID, _ := session.Values[sessionAccountKey].(string)
	if accountID == "" {
		return "", ErrNoSession
	}
	return accountID, nil
}

// SetAccountID binds accountID to the session and writes the cookie.
func (m *SessionManager) SetAccountID(w http.ResponseWriter, r *http.Request, accountID string) error {
	// A stale cookie yields a fresh session together with the error.
	session, _ := m.store.Get(r, SessionCookieName)
	session.Values[sessionAccountKey] = accountID
	return session.Save(r, w)
}

// Clear ends the session.
func (m *SessionManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, SessionCookieName)
	session.Options.MaxAge = -1
	delete(session.Values, sessionAccountKey)
	return session.Save(r, w)
}
