package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/plotroom/internal/flagx"
	"github.com/dmitrijs2005/plotroom/internal/timex"
)

// JsonConfig is the on-disk shape of the optional configuration file.
// Lifetimes use timex.Duration so "15m", "7d" and "1h30m" are all accepted.
// Only keys present in the file override earlier layers.
type JsonConfig struct {
	HTTPAddr               *string         `json:"http_addr"`
	GRPCAddr               *string         `json:"grpc_addr"`
	DatabaseDSN            *string         `json:"database_dsn"`
	AccessTokenSecret      *string         `json:"access_token_secret"`
	RefreshTokenSecret     *string         `json:"refresh_token_secret"`
	AccessTokenTTL         *timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL        *timex.Duration `json:"refresh_token_ttl"`
	RateLimitMaxRequests   *int            `json:"rate_limit_max_requests"`
	RateLimitWindow        *timex.Duration `json:"rate_limit_window"`
	RateLimitSweepInterval *timex.Duration `json:"rate_limit_sweep_interval"`
	BcryptCost             *int            `json:"bcrypt_cost"`
	CORSAllowedOrigins     []string        `json:"cors_allowed_origins"`
	TrustProxy             *bool           `json:"trust_proxy"`
	LogLevel               *string         `json:"log_level"`
	RealtimeQueueSize      *int            `json:"realtime_queue_size"`
}

// parseJson loads the file named by -c/-config, if any, and copies every
// key it sets into config. An unreadable file or invalid JSON is an error.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("config file %s: %w", jsonConfigFile, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.AccessTokenSecret, c.AccessTokenSecret)
	setString(&config.RefreshTokenSecret, c.RefreshTokenSecret)
	setString(&config.LogLevel, c.LogLevel)

	if c.AccessTokenTTL != nil {
		config.AccessTokenTTL = c.AccessTokenTTL.Duration
	}
	if c.RefreshTokenTTL != nil {
		config.RefreshTokenTTL = c.RefreshTokenTTL.Duration
	}
	if c.RateLimitWindow != nil {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if c.RateLimitSweepInterval != nil {
		config.RateLimitSweepInterval = c.RateLimitSweepInterval.Duration
	}
	if c.RateLimitMaxRequests != nil {
		config.RateLimitMaxRequests = *c.RateLimitMaxRequests
	}
	if c.BcryptCost != nil {
		config.BcryptCost = *c.BcryptCost
	}
	if c.RealtimeQueueSize != nil {
		config.RealtimeQueueSize = *c.RealtimeQueueSize
	}
	if c.TrustProxy != nil {
		config.TrustProxy = *c.TrustProxy
	}
	if c.CORSAllowedOrigins != nil {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
