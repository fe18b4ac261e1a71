package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/stockauth/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-m string     metrics HTTP address, empty disables
//	-d string     PostgreSQL DSN, empty means in-memory stores
//	-s string     JWT HMAC secret key
//	-i string     JWT issuer
//	-t int        access token validity, minutes
//	-r int        refresh token validity, days
//	-n int        refresh token size, bytes
//	-g string     hash algorithm (bcrypt, argon2id)
//	-k int        bcrypt cost
//	-e string     Redis address, empty disables throttling
//	-l int        failed attempts allowed per window
//	-w duration   throttling window
//	-v string     log level
func parseFlags(config *Config) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.Issuer, "i", config.Issuer, "token issuer")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	fs.IntVar(&config.RefreshTokenValidityDays, "r", config.RefreshTokenValidityDays, "refresh_token_validity (in days)")
	fs.IntVar(&config.RefreshTokenBytes, "n", config.RefreshTokenBytes, "refresh token size (in bytes)")

	fs.StringVar(&config.HashAlgorithm, "g", config.HashAlgorithm, "hash algorithm")
	fs.IntVar(&config.BcryptCost, "k", config.BcryptCost, "bcrypt cost")

	fs.StringVar(&config.RedisAddr, "e", config.RedisAddr, "redis address")
	fs.IntVar(&config.RefreshAttemptsLimit, "l", config.RefreshAttemptsLimit, "failed attempts per window")
	fs.DurationVar(&config.RefreshAttemptsWindow, "w", config.RefreshAttemptsWindow, "throttling window")

	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := flagx.ParseOwn(fs); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
}
