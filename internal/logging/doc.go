// Package logging provides structured logging utilities for inboxhook.
//
// All components log through log/slog. This package keeps attribute names
// consistent and makes sure identifiers that tie log lines to a person are
// masked before they are written.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(slog.Default(), "subscription.create")
//	logger.Info("subscription created",
//	    logging.Account(accountID),
//	    logging.Subscription(sub.ID))
//
// # Security Considerations
//
//   - Home account ids are hashed (Account, AnonymizeAccount)
//   - Client states and tokens are reduced to a length indicator (SanitizeToken)
package logging
