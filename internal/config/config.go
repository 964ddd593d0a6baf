// Package config loads connection defaults for this library's command
// line tools from a .env file and the process environment, the same
// way the library's own lower layers are configured in code.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LinkConfig holds the defaults a CLI uses to open a connection when the
// caller does not override them with flags.
type LinkConfig struct {
	URI          string
	Channel      int
	DataRate     string
	SafeLink     bool
	TOCCacheDir  string
	LinkTimeout  time.Duration
	LinkAttempts int
}

var (
	linkConfig   *LinkConfig
	configLoaded bool
)

// LoadLinkConfig returns the process's link configuration, reading it
// from ./.env (or the nearest ancestor containing go.mod) on first call
// and caching the result. Environment variables take precedence over
// the .env file.
func LoadLinkConfig() (*LinkConfig, error) {
	if linkConfig != nil && configLoaded {
		return linkConfig, nil
	}

	cfg := &LinkConfig{
		Channel:      80,
		DataRate:     "2M",
		LinkTimeout:  500 * time.Millisecond,
		LinkAttempts: 5,
	}

	// Try to load from .env file in project root
	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")

	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	// Override with environment variables if set
	if uri := os.Getenv("CRTP_URI"); uri != "" {
		cfg.URI = uri
	}
	if channel := os.Getenv("CRTP_CHANNEL"); channel != "" {
		if n, err := strconv.Atoi(channel); err == nil {
			cfg.Channel = n
		}
	}
	if rate := os.Getenv("CRTP_DATA_RATE"); rate != "" {
		cfg.DataRate = rate
	}
	if safeLink := os.Getenv("CRTP_SAFE_LINK"); safeLink != "" {
		cfg.SafeLink = isTruthy(safeLink)
	}
	if cacheDir := os.Getenv("CRTP_TOC_CACHE_DIR"); cacheDir != "" {
		cfg.TOCCacheDir = cacheDir
	}
	if timeout := os.Getenv("CRTP_LINK_TIMEOUT_MS"); timeout != "" {
		if n, err := strconv.Atoi(timeout); err == nil {
			cfg.LinkTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if attempts := os.Getenv("CRTP_LINK_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			cfg.LinkAttempts = n
		}
	}

	linkConfig = cfg
	configLoaded = true
	return cfg, nil
}

func parseEnvFile(content string, cfg *LinkConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "CRTP_URI":
			cfg.URI = value
		case "CRTP_CHANNEL":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Channel = n
			}
		case "CRTP_DATA_RATE":
			cfg.DataRate = value
		case "CRTP_SAFE_LINK":
			cfg.SafeLink = isTruthy(value)
		case "CRTP_TOC_CACHE_DIR":
			cfg.TOCCacheDir = value
		case "CRTP_LINK_TIMEOUT_MS":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.LinkTimeout = time.Duration(n) * time.Millisecond
			}
		case "CRTP_LINK_ATTEMPTS":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.LinkAttempts = n
			}
		}
	}
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	// First check CWD for .env file
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	// Then walk up looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// GetURI returns the configured default connection URI, or "" if none
// is set.
func GetURI() string {
	cfg, err := LoadLinkConfig()
	if err != nil {
		return ""
	}
	return cfg.URI
}

// MustGetLinkConfig loads the link configuration and panics if no
// default URI is configured, for CLI entry points that require one.
func MustGetLinkConfig() LinkConfig {
	cfg, err := LoadLinkConfig()
	if err != nil || cfg.URI == "" {
		panic("CRTP_URI must be set via environment variable or .env file")
	}
	return *cfg
}
