package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/openmined/btsync/internal/btsdk"
	"github.com/openmined/btsync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".btsync")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "btsync.log")
	DefaultAPIURL      = btsdk.DefaultBaseURL
)

var (
	ErrNoAPIKey      = errors.New("config: api key is required (set BRAINTRUST_API_KEY or pass --api-key)")
	ErrInvalidAPIURL = errors.New("config: invalid api url")
)

// Config is the session the CLI acts under.
type Config struct {
	APIKey  string `json:"api_key"`
	APIURL  string `json:"api_url"`
	OrgName string `json:"org_name,omitempty"`
	Path    string `json:"-"`
}

// Validate normalizes the config in place and checks that it can reach the API.
func (c *Config) Validate() error {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.OrgName = strings.TrimSpace(c.OrgName)
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")

	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}

	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidAPIURL, c.APIURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w %q: must be an absolute http(s) url", ErrInvalidAPIURL, c.APIURL)
	}

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = path
	}
	return nil
}

// SDKConfig returns the client settings for this session.
func (c *Config) SDKConfig() *btsdk.Config {
	return &btsdk.Config{
		BaseURL: c.APIURL,
		APIKey:  c.APIKey,
		OrgName: c.OrgName,
	}
}

// Save writes the config as JSON readable only by the current user.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Path = path
	return &cfg, nil
}
