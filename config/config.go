/*
Package config loads runtime settings for the ledger server.

SOURCES (later wins):
  1. Defaults below
  2. Optional .env file in the working directory (godotenv)
  3. LEDGER_* environment variables (viper AutomaticEnv)
  4. Command-line flags applied by cmd/server

KEYS:
  LEDGER_DB_PATH          SQLite file (default: school.db, ":memory:" allowed)
  LEDGER_ADDR             listen address, loopback only (default: 127.0.0.1:8080)
  LEDGER_LOG_LEVEL        debug, info, warn, error (default: info)
  LEDGER_ALLOWED_ORIGINS  comma-separated CORS origins for the local UI
  LEDGER_BACKEND          sqlite or memory (default: sqlite)

The bridge is local IPC for the desktop front-end: Validate refuses any
address that is reachable from another machine.
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elnajah/school-ledger/pkg/logging"
)

const envPrefix = "LEDGER"

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the resolved server configuration.
type Config struct {
	DBPath         string
	Addr           string
	LogLevel       string
	AllowedOrigins []string
	Backend        string
}

// Load reads defaults, the optional env files and LEDGER_* variables. With
// no arguments it looks for ".env". Missing files are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return Config{}, fmt.Errorf("config.godotenv(%s): %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config.os.Stat(%s): %w", path, err)
		}
	}

	v := viper.New()
	v.SetDefault("db_path", "school.db")
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("backend", BackendSQLite)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	return Config{
		DBPath:         v.GetString("db_path"),
		Addr:           v.GetString("addr"),
		LogLevel:       v.GetString("log_level"),
		AllowedOrigins: splitList(v.GetString("allowed_origins")),
		Backend:        strings.ToLower(v.GetString("backend")),
	}, nil
}

// Validate checks every field and returns all problems at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, errors.New("db path must be set for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want sqlite or memory)", c.Backend))
	}

	if err := checkLoopback(c.Addr); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// checkLoopback accepts host:port where host is localhost or a loopback IP.
func checkLoopback(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("listen address %q has no port", addr)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not loopback; the ledger serves the local machine only", addr)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
