package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-b string   credential backend base URL
//	-k string   Firebase web API key
//	-d string   path of the local SQLite database
//	-t int      request timeout (seconds)
//	-r int      outbound requests per second
//	-l string   log level
//	-f string   log format: text, json or zap
//	-m string   address to serve /metrics on, empty to disable
//
// Only these flags are taken from os.Args, via flagx.FilterArgs.
func parseFlags(cfg *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-k", "-d", "-t", "-r", "-l", "-f", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.BackendURL, "b", cfg.BackendURL, "credential backend base URL")
	fs.StringVar(&cfg.FirebaseAPIKey, "k", cfg.FirebaseAPIKey, "Firebase web API key")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "path of the local database")
	timeout := fs.Int("t", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")
	fs.IntVar(&cfg.RateLimitRPS, "r", cfg.RateLimitRPS, "outbound requests per second")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "f", cfg.LogFormat, "log format: text, json or zap")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
	return nil
}
