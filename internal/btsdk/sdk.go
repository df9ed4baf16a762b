package btsdk

import (
	"github.com/imroc/req/v3"
)

// BTSDK is the main client for the remote query and ingestion service
type BTSDK struct {
	client *req.Client
	config *Config
	stats  *httpStats
	Query  *QueryAPI
	Ingest *IngestAPI
}

// New creates a new BTSDK client
func New(cfg *Config) (*BTSDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := newHTTPClient(cfg)
	stats := newHTTPStats()

	return &BTSDK{
		client: client,
		config: cfg,
		stats:  stats,
		Query:  newQueryAPI(client, stats),
		Ingest: newIngestAPI(client, stats),
	}, nil
}

// OrgName returns the organization the client acts on behalf of, if any.
func (s *BTSDK) OrgName() string {
	return s.config.OrgName
}

// Stats returns a snapshot of the traffic seen by this client.
func (s *BTSDK) Stats() HTTPStats {
	return s.stats.snapshot()
}

// Close releases idle connections
func (s *BTSDK) Close() {
	s.client.GetClient().CloseIdleConnections()
}
