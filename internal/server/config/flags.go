package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/flagx"
	"github.com/dmitrijs2005/plotroom/internal/timex"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   access token secret
//	-S string   refresh token secret
//	-t string   access token lifetime ("15m")
//	-r string   refresh token lifetime ("7d")
//	-m int      rate limit: max requests per window
//	-w string   rate limit window ("15m")
//	-b int      bcrypt cost
//	-o string   comma-separated CORS origins
//	-l string   log level
//
// Lifetimes use the s/m/h/d notation; an invalid value is reported like any
// other flag parse error.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-S", "-t", "-r", "-m", "-w", "-b", "-o", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret")
	fs.StringVar(&config.RefreshTokenSecret, "S", config.RefreshTokenSecret, "refresh token secret")
	fs.Func("t", "access token lifetime (e.g. 15m)", lifetimeFlag(&config.AccessTokenTTL))
	fs.Func("r", "refresh token lifetime (e.g. 7d)", lifetimeFlag(&config.RefreshTokenTTL))
	fs.IntVar(&config.RateLimitMaxRequests, "m", config.RateLimitMaxRequests, "rate limit: max requests per window")
	fs.Func("w", "rate limit window (e.g. 15m)", lifetimeFlag(&config.RateLimitWindow))
	fs.IntVar(&config.BcryptCost, "b", config.BcryptCost, "bcrypt cost")
	fs.Func("o", "comma-separated CORS origins", func(v string) error {
		config.CORSAllowedOrigins = splitList(v)
		return nil
	})
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}

func lifetimeFlag(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := timex.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

