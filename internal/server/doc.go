// Package server is the public HTTP surface of inboxhook.
//
// # Routes
//
//   - GET /auth/signin returns the consent URL
//   - GET /auth/callback redeems the code, starts a session and re-creates
//     the account's mail subscription
//   - POST /auth/signout removes the subscriptions, forgets the token and
//     ends the session
//   - POST /hook/notification (and /auth/notification) receives change
//     notifications
//   - GET /user, /emails, /emails/{id} read from the signed-in mailbox
//   - GET and DELETE /subscriptions inspect or remove subscriptions
//   - /healthz, /readyz and /healthz/detailed serve probes
//
// Requests to sign-out, mailbox and subscription routes without a session are answered
// with 400 before any remote call. Sessions are gorilla/sessions cookies that
// carry only the home account id.
//
// MetricsServer exposes Prometheus metrics on a separate listener.
package server
