// Package notification receives Microsoft Graph change notifications.
//
// The Handler answers the subscription validation handshake, accepts
// notification batches with an immediate 200 and processes each entry in the
// background. Entries whose client-state is unknown, whose resource is not a
// message, that report a deletion, or that repeat a recent notification are
// dropped. Every other entry causes exactly one message fetch.
package notification
