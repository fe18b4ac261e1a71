// Package cli is the interactive stockauth command-line client.
//
// It keeps one session in memory for the lifetime of the process and lets
// the user register, log in, inspect the current identity, rotate the
// refresh token and log out. A background watcher pings the server health
// endpoint and flips the prompt between online and offline.
package cli
