// Package identity signs users in against the Microsoft identity platform with
// the OAuth2 authorization code flow and hands out token sources for calling
// Microsoft Graph on their behalf.
//
// Accounts are keyed by their home account id, "<oid>.<tid>", read from the ID
// token returned alongside the access token. Tokens live in a store.TokenStore;
// refreshed tokens are written back so every server instance sees them.
package identity
