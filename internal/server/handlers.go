package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teemow/inboxhook/internal/batch"
	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/logging"
)

// SigninResponse carries the consent URL.
type SigninResponse struct {
	Redirect string `json:"redirect"`
}

// CallbackResponse is returned after a successful sign-in.
type CallbackResponse struct {
	AccountID   string    `json:"accountId"`
	Username    string    `json:"username,omitempty"`
	Scopes      []string  `json:"scopes"`
	TokenType   string    `json:"tokenType"`
	AccessToken string    `json:"accessToken"`
	ExpiresOn   time.Time `json:"expiresOn"`

	Subscription SubscriptionStatus `json:"subscription"`
}

// SubscriptionStatus reports the subscription step of the callback.
type SubscriptionStatus struct {
	Deleted *batch.Summary      `json:"deleted,omitempty"`
	Created *graph.Subscription `json:"created,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// SignoutResponse is returned after the session has ended.
type SignoutResponse struct {
	AccountID string         `json:"accountId"`
	Deleted   *batch.Summary `json:"deleted,omitempty"`
}

// SubscriptionList is the body of GET /subscriptions.
type SubscriptionList struct {
	Value []graph.Subscription `json:"value"`
}

func (s *Server) handleSignin(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SigninResponse{Redirect: s.auth.AuthCodeURL()})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.WithOperation(s.logger, "auth.callback")
	query := r.URL.Query()

	if providerErr := query.Get("error"); providerErr != "" {
		logger.Warn("sign-in rejected by identity provider",
			"provider_error", providerErr,
			"description", query.Get("error_description"))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := s.auth.Exchange(ctx, query.Get("code"))
	if err != nil {
		logger.Warn("sign-in failed", logging.Err(err))
		http.Error(w, bodyAuthFailed, http.StatusUnauthorized)
		return
	}

	if err := s.sessions.SetAccountID(w, r, result.AccountID); err != nil {
		writeError(w, r, logger, err)
		return
	}

	resp := CallbackResponse{
		AccountID:   result.AccountID,
		Username:    result.Username,
		Scopes:      result.Scopes,
		TokenType:   result.Token.Type(),
		AccessToken: result.Token.AccessToken,
		ExpiresOn:   result.Token.Expiry,
	}
	resp.Subscription = s.resubscribe(r, result.AccountID)

	writeJSON(w, http.StatusOK, resp)
}

// resubscribe replaces the account's subscriptions. Failures are reported in
// the response; the sign-in itself has already succeeded.
func (s *Server) resubscribe(r *http.Request, accountID string) SubscriptionStatus {
	ctx := r.Context()
	logger := logging.WithOperation(s.logger, "auth.callback")
	logger = logging.WithAccount(logger, accountID)

	var status SubscriptionStatus

	deleted, err := s.subscriptions.DeleteAll(ctx, accountID)
	if err != nil {
		logger.Warn("failed to remove previous subscriptions", logging.Err(err))
	} else {
		status.Deleted = &deleted
	}

	created, err := s.subscriptions.Create(ctx, accountID)
	if err != nil {
		logger.Error("failed to create subscription", logging.Err(err))
		status.Error = err.Error()
		return status
	}
	status.Created = created
	return status
}

// handleSignout removes the account's subscriptions, forgets its token and
// ends the session. Subscription cleanup is best effort.
func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := accountFrom(ctx)
	logger := logging.WithOperation(s.logger, "auth.signout")
	logger = logging.WithAccount(logger, accountID)

	resp := SignoutResponse{AccountID: accountID}
	deleted, err := s.subscriptions.DeleteAll(ctx, accountID)
	if err != nil {
		logger.Warn("failed to remove subscriptions", logging.Err(err))
	} else {
		resp.Deleted = &deleted
	}

	if err := s.auth.SignOut(ctx, accountID); err != nil {
		writeError(w, r, logger, err)
		return
	}
	if err := s.sessions.Clear(w, r); err != nil {
		writeError(w, r, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.mailbox.GetUserDetails(r.Context(), accountFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	messages, err := s.mailbox.ListMessages(r.Context(), accountFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	msg, err := s.mailbox.GetMessage(r.Context(), accountFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subscriptions.List(r.Context(), accountFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if subs == nil {
		subs = []graph.Subscription{}
	}
	writeJSON(w, http.StatusOK, SubscriptionList{Value: subs})
}

func (s *Server) handleDeleteSubscriptions(w http.ResponseWriter, r *http.Request) {
	summary, err := s.subscriptions.DeleteAll(r.Context(), accountFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
