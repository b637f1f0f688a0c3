// Package subscription manages the lifecycle of Microsoft Graph change
// subscriptions on a user's mailbox: creation with a client-state token,
// listing, best-effort bulk deletion, and periodic renewal before expiry.
//
// A subscription moves from absent to created, and from there is renewed,
// expires, or is deleted. The client-state registry maps each client-state
// back to the account it was issued for so notifications can be attributed.
package subscription
