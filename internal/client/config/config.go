// Package config holds the frozen client configuration. A validated Config
// is injected into every component; nothing reads global state.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filehaven/cmisync/internal/utils"
	"github.com/goccy/go-json"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".cmisync", "config.json")
	DefaultLogFile    = filepath.Join(home, ".cmisync", "logs", "cmisync.log")
	DefaultDataDir    = filepath.Join(home, "CmiSync")
)

// DropFirstPolicy controls the per-page duplicate-event workaround of the
// change-log ingester. Some servers replay the last-seen event as the first
// element of every page, some only from the second page on.
type DropFirstPolicy string

const (
	DropFirstAlways       DropFirstPolicy = "always"
	DropFirstNonFirstOnly DropFirstPolicy = "non-first-only"
)

const (
	DefaultMaxChangesPerPage = 50
	DefaultPollInterval      = 30 * time.Second
)

// Config is the client configuration record.
type Config struct {
	DataDir    string `json:"data_dir"`
	ServerURL  string `json:"server_url"`
	RepoID     string `json:"repo_id"`
	RemoteRoot string `json:"remote_root"`
	Email      string `json:"email"`

	MaxChangesPerPage     int             `json:"max_changes_per_page"`
	IgnoreSameLowercase   bool            `json:"ignore_same_lowercase_names"`
	PollInterval          time.Duration   `json:"poll_interval"`
	SyncAtStartup         bool            `json:"sync_at_startup"`
	DropFirstEventPerPage DropFirstPolicy `json:"drop_first_event"`

	Path string `json:"-"`
}

// Validate normalizes paths and applies defaults. It must be called before
// the config is handed to any component.
func (c *Config) Validate() error {
	var err error

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q is not a valid http(s) url", c.ServerURL)
	}

	if c.RepoID == "" {
		return fmt.Errorf("repo id is required")
	}

	if c.RemoteRoot == "" {
		c.RemoteRoot = "/"
	}
	if !strings.HasPrefix(c.RemoteRoot, "/") {
		return fmt.Errorf("remote root %q must be an absolute repository path", c.RemoteRoot)
	}
	c.RemoteRoot = strings.TrimRight(c.RemoteRoot, "/")
	if c.RemoteRoot == "" {
		c.RemoteRoot = "/"
	}

	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	if c.MaxChangesPerPage <= 0 {
		c.MaxChangesPerPage = DefaultMaxChangesPerPage
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	switch c.DropFirstEventPerPage {
	case DropFirstAlways, DropFirstNonFirstOnly:
	case "":
		c.DropFirstEventPerPage = DropFirstAlways
	default:
		return fmt.Errorf("drop_first_event %q: must be %q or %q",
			c.DropFirstEventPerPage, DropFirstAlways, DropFirstNonFirstOnly)
	}

	return nil
}

// Save writes the config as JSON at path.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Load reads a config file. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
