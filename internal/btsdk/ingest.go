package btsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
)

const (
	ingestPath            = "/logs3"
	ingestRetryCount      = 3
	ingestRetryMinBackoff = 500 * time.Millisecond
	ingestRetryMaxBackoff = 8 * time.Second
)

// IngestAPI uploads rows into the remote store.
type IngestAPI struct {
	client *req.Client
	stats  *httpStats
}

func newIngestAPI(client *req.Client, stats *httpStats) *IngestAPI {
	return &IngestAPI{client: client, stats: stats}
}

// UploadRows sends rows in requests of at most pageSize rows each and returns the
// number of request body bytes the service accepted.
func (i *IngestAPI) UploadRows(ctx context.Context, rows []map[string]any, pageSize int) (int64, error) {
	if pageSize <= 0 {
		pageSize = len(rows)
	}

	var total int64
	for start := 0; start < len(rows); start += pageSize {
		end := min(start+pageSize, len(rows))
		n, err := i.uploadPage(ctx, rows[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (i *IngestAPI) uploadPage(ctx context.Context, rows []map[string]any) (int64, error) {
	body, err := jsonMarshal(&IngestRequest{Rows: rows, APIVersion: ingestAPIVersion})
	if err != nil {
		return 0, fmt.Errorf("encode rows: %w", err)
	}

	i.stats.ingest.sent(len(body))
	resp, err := i.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBodyBytes(body).
		SetRetryCount(ingestRetryCount).
		SetRetryBackoffInterval(ingestRetryMinBackoff, ingestRetryMaxBackoff).
		AddRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		Post(ingestPath)
	if err := handleAPIError(resp, err, "upload rows", ""); err != nil {
		i.stats.failed(&i.stats.ingest, err)
		return 0, err
	}
	i.stats.ingest.received(len(resp.Bytes()))

	return int64(len(body)), nil
}
