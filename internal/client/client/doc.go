// Package client talks to the stockauth server.
//
// GRPCClient keeps the current token pair in memory, attaches the access
// token to every call, and on an expired access token rotates the refresh
// token once and retries. gRPC status codes are mapped to the sentinel
// errors in errors.go; match them with errors.Is.
package client
