package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the process reads from its environment. It is
// built once at startup and treated as read-only afterwards.
type Config struct {
	// Root directory for history, dumps, and logs (SYNERGY_ROOT).
	Root string

	// Shortname of the model selected at startup.
	Model string

	// Transport settings
	Offline         bool
	OfflineResponse string
	CurlStub        string
	CaptureDir      string
	MaxRetries      int
	HTTPTimeout     time.Duration

	// Autodump behavior
	ForceAutodump bool
	NoAutodump    bool

	LogLevel string
}

const (
	defaultMaxRetries      = 3
	defaultHTTPTimeout     = 60 * time.Second
	defaultOfflineResponse = "This is a canned offline response from Synergy."
)

// Load builds a Config from .env (when present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	root := os.Getenv("SYNERGY_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, ".synergy")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Root:            root,
		Offline:         truthy(os.Getenv("SYNERGY_OFFLINE")),
		OfflineResponse: defaultOfflineResponse,
		CurlStub:        os.Getenv("SYNERGY_CURL_STUB"),
		CaptureDir:      os.Getenv("SYNERGY_CURL_CAPTURE_DIR"),
		MaxRetries:      defaultMaxRetries,
		HTTPTimeout:     defaultHTTPTimeout,
		ForceAutodump:   truthy(os.Getenv("SYNERGY_FORCE_AUTODUMP")),
		LogLevel:        "info",
	}

	if v := os.Getenv("SYNERGY_OFFLINE_RESPONSE"); v != "" {
		cfg.OfflineResponse = v
	}
	if v := os.Getenv("SYNERGY_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	return cfg, nil
}

// DumpsDir is where autodumps and unnamed explicit dumps land.
func (c *Config) DumpsDir() string {
	return filepath.Join(c.Root, "etc", "dumps")
}

// HistoryPath is the sqlite database holding persistent input history.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Root, "etc", "history.db")
}

// LogFile is the optional copy of internal diagnostics.
func (c *Config) LogFile() string {
	return filepath.Join(c.Root, "etc", "synergy.log")
}

// ModelsPath is the optional registry overlay.
func (c *Config) ModelsPath() string {
	return filepath.Join(c.Root, "etc", "models.yaml")
}

// EnsureDirs creates the directories the session writes into.
func (c *Config) EnsureDirs() error {
	return os.MkdirAll(c.DumpsDir(), 0755)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
