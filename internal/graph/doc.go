// Package graph is a small typed client for the Microsoft Graph REST endpoints
// the server uses: the signed-in user's profile, their messages, and webhook
// subscriptions.
//
// Every call runs with the delegated token of one account, obtained through a
// TokenSourceProvider, and is bounded by the client timeout. Calls are not
// retried; a 429 response makes the rate limiter hold further calls for the
// Retry-After period.
package graph
