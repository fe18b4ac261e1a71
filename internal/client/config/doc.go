// Package config loads runtime configuration for the stockauth CLI.
//
// Defaults are overlaid by an optional JSON file (-c or -config) and then by
// flags:
//
//	-a string   address:port of the server
//	-i int      online status check interval, seconds
//	-t int      per-request timeout, seconds
//	-f string   session file, empty disables persistence
//
// JSON keys: server_endpoint_addr, online_check_interval, request_timeout,
// session_file.
// Intervals accept "3s" style strings or integer nanoseconds.
package config
