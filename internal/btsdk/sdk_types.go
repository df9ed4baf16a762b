package btsdk

import (
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/btsync/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderOrgName   = "x-bt-org-name"
	HeaderVersion   = "X-BTSync-Version"
)

const (
	requestTimeout = 5 * time.Minute
)

// newHTTPClient returns a req client with the common auth and identity headers set.
// Query retries are owned by the caller; ingest requests opt into req retries per request.
func newHTTPClient(cfg *Config) *req.Client {
	c := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(requestTimeout).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonBearerAuthToken(cfg.APIKey).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if cfg.OrgName != "" {
		c.SetCommonHeader(HeaderOrgName, cfg.OrgName)
	}

	return c
}
