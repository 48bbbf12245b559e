package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/flagx"
	"github.com/dmitrijs2005/plotroom/internal/timex"
	"github.com/joho/godotenv"
)

const envPrefix = "PLOTROOM_"

// parseEnv overlays PLOTROOM_* environment variables onto config. When the
// -env flag names a dotenv file it is loaded first; otherwise a .env file in
// the working directory is loaded if present. Variables already set in the
// process environment win over the file.
func parseEnv(config *Config) error {
	if file := flagx.EnvFileFlags(); file != "" {
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("env file %s: %w", file, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	str("HTTP_ADDR", &config.HTTPAddr)
	str("GRPC_ADDR", &config.GRPCAddr)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("ACCESS_TOKEN_SECRET", &config.AccessTokenSecret)
	str("REFRESH_TOKEN_SECRET", &config.RefreshTokenSecret)
	str("LOG_LEVEL", &config.LogLevel)

	durations := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":          &config.AccessTokenTTL,
		"REFRESH_TOKEN_TTL":         &config.RefreshTokenTTL,
		"RATE_LIMIT_WINDOW":         &config.RateLimitWindow,
		"RATE_LIMIT_SWEEP_INTERVAL": &config.RateLimitSweepInterval,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		d, err := timex.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"RATE_LIMIT_MAX_REQUESTS": &config.RateLimitMaxRequests,
		"BCRYPT_COST":             &config.BcryptCost,
		"REALTIME_QUEUE_SIZE":     &config.RealtimeQueueSize,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv(envPrefix + "TRUST_PROXY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sTRUST_PROXY: %w", envPrefix, err)
		}
		config.TrustProxy = b
	}

	if v, ok := os.LookupEnv(envPrefix + "CORS_ALLOWED_ORIGINS"); ok {
		config.CORSAllowedOrigins = splitList(v)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimRight(strings.TrimSpace(p), "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}
