package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/stockauth/internal/flagx"
	"github.com/dmitrijs2005/stockauth/internal/timex"
)

// JsonConfig is the JSON file layout. Durations accept both strings such as
// "15m" and integer nanoseconds.
//
// Only keys present in the file override the current values.
type JsonConfig struct {
	EndpointAddrGRPC            *string         `json:"endpoint_addr_grpc"`
	MetricsAddr                 *string         `json:"metrics_addr"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	Issuer                      *string         `json:"issuer"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDays    *int            `json:"refresh_token_validity_days"`
	RefreshTokenBytes           *int            `json:"refresh_token_bytes"`
	HashAlgorithm               *string         `json:"hash_algorithm"`
	BcryptCost                  *int            `json:"bcrypt_cost"`
	RedisAddr                   *string         `json:"redis_addr"`
	RefreshAttemptsLimit        *int            `json:"refresh_attempts_limit"`
	RefreshAttemptsWindow       *timex.Duration `json:"refresh_attempts_window"`
	LogLevel                    *string         `json:"log_level"`
}

// parseJson loads the file named by -c or -config, if any, into config.
// It panics if the file cannot be read or is not valid JSON.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	set(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	set(&config.MetricsAddr, c.MetricsAddr)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.SecretKey, c.SecretKey)
	set(&config.Issuer, c.Issuer)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	set(&config.RefreshTokenValidityDays, c.RefreshTokenValidityDays)
	set(&config.RefreshTokenBytes, c.RefreshTokenBytes)
	set(&config.HashAlgorithm, c.HashAlgorithm)
	set(&config.BcryptCost, c.BcryptCost)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RefreshAttemptsLimit, c.RefreshAttemptsLimit)
	if c.RefreshAttemptsWindow != nil {
		config.RefreshAttemptsWindow = c.RefreshAttemptsWindow.Duration
	}
	set(&config.LogLevel, c.LogLevel)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
