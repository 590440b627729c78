package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/alexjbarnes/checklist-sync/internal/state"
)

// Config holds all environment-based configuration for checklist-sync.
type Config struct {
	// Directory holding one <name>.json file per checklist document.
	// Defaults to ~/.checklist-sync/checklists.
	ChecklistDir string `env:"CHECKLIST_DIR"`

	// bbolt database for the OAuth token and the last pass report.
	// Defaults to ~/.checklist-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Google OAuth client used for the device flow.
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	DriveEndpoint string `env:"DRIVE_ENDPOINT" envDefault:"https://www.googleapis.com/"`

	PollInterval   time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"10s"`
	FullInterval   time.Duration `env:"SYNC_FULL_INTERVAL" envDefault:"60s"`
	MaxAuthRetries int           `env:"SYNC_MAX_AUTH_RETRIES" envDefault:"3"`
	MaxTransfers   int           `env:"SYNC_MAX_TRANSFERS" envDefault:"8"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// MCP control surface
	EnableMCP     bool   `env:"ENABLE_MCP" envDefault:"false"`
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8091"`
	MCPTokenHash  string `env:"MCP_TOKEN_HASH"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the OAuth client secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID is required")
	}

	if c.DriveEndpoint == "" {
		return fmt.Errorf("DRIVE_ENDPOINT must not be empty")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	if c.PollInterval >= c.FullInterval {
		return fmt.Errorf("SYNC_POLL_INTERVAL (%s) must be shorter than SYNC_FULL_INTERVAL (%s)", c.PollInterval, c.FullInterval)
	}

	if c.MaxAuthRetries <= 0 {
		return fmt.Errorf("SYNC_MAX_AUTH_RETRIES must be positive, got %d", c.MaxAuthRetries)
	}

	if c.MaxTransfers <= 0 {
		return fmt.Errorf("SYNC_MAX_TRANSFERS must be positive, got %d", c.MaxTransfers)
	}

	if c.EnableMCP {
		if c.MCPTokenHash == "" {
			return fmt.Errorf("MCP_TOKEN_HASH is required when MCP is enabled (generate one with `checklist-sync hash-password`)")
		}

		if c.MCPListenAddr == "" {
			return fmt.Errorf("MCP_LISTEN_ADDR must not be empty when MCP is enabled")
		}
	}

	return nil
}

// resolvePaths fills in the default locations and makes both paths
// absolute. The local store relies on an absolute root when checking
// that document paths stay inside it.
func (c *Config) resolvePaths() error {
	if c.ChecklistDir == "" {
		base, err := DefaultBaseDir()
		if err != nil {
			return err
		}

		c.ChecklistDir = filepath.Join(base, "checklists")
	}

	if c.StatePath == "" {
		path, err := state.DefaultPath()
		if err != nil {
			return err
		}

		c.StatePath = path
	}

	dir, err := filepath.Abs(c.ChecklistDir)
	if err != nil {
		return fmt.Errorf("resolving checklist dir to absolute path: %w", err)
	}

	c.ChecklistDir = dir

	statePath, err := filepath.Abs(c.StatePath)
	if err != nil {
		return fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	c.StatePath = statePath

	return nil
}

// DefaultBaseDir returns ~/.checklist-sync.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".checklist-sync"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
