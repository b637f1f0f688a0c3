// Package cmd implements the command-line interface for inboxhook.
//
// This package provides the following commands:
//   - serve: Start the sign-in and webhook server
//   - version: Display version information
package cmd
