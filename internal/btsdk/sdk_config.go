package btsdk

import (
	"net/url"
	"strings"
)

const (
	DefaultBaseURL = "https://api.braintrust.dev"
)

// Config is the configuration for the BTSDK
type Config struct {
	BaseURL string // BaseURL is required
	APIKey  string // APIKey is required
	OrgName string // OrgName is optional, sent as x-bt-org-name when set
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrNoAPIKey
	}

	if c.BaseURL == "" {
		return ErrNoBaseURL
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBaseURL
	}

	return nil
}
