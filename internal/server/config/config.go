// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"errors"
	"time"
)

// Config holds runtime settings for the stockauth server.
//
// An empty DatabaseDSN runs the server on in-memory stores and an empty
// RedisAddr disables attempt throttling.
type Config struct {
	EndpointAddrGRPC string
	MetricsAddr      string
	DatabaseDSN      string

	// SecretKey is the HS256 signing secret. The default is for development only.
	SecretKey                   string
	Issuer                      string
	AccessTokenValidityDuration time.Duration
	RefreshTokenValidityDays    int
	RefreshTokenBytes           int

	HashAlgorithm string
	BcryptCost    int

	RedisAddr             string
	RefreshAttemptsLimit  int
	RefreshAttemptsWindow time.Duration

	LogLevel string
}

const DefaultSecretKey = "secretKey"

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.MetricsAddr = ":9090"
	c.DatabaseDSN = ""
	c.SecretKey = DefaultSecretKey
	c.Issuer = "stockauth"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDays = 30
	c.RefreshTokenBytes = 32
	c.HashAlgorithm = "bcrypt"
	c.BcryptCost = 10
	c.RedisAddr = ""
	c.RefreshAttemptsLimit = 10
	c.RefreshAttemptsWindow = time.Minute
	c.LogLevel = "info"
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key must not be empty"))
	}
	if c.AccessTokenValidityDuration <= 0 {
		errs = append(errs, errors.New("access token validity must be positive"))
	}
	if c.RefreshTokenValidityDays <= 0 {
		errs = append(errs, errors.New("refresh token validity days must be positive"))
	}
	if c.RefreshTokenBytes < 16 {
		errs = append(errs, errors.New("refresh token must have at least 16 bytes"))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
