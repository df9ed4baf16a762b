package btsdk

import (
	"context"
	"fmt"

	"github.com/imroc/req/v3"
)

const (
	queryPath   = "/btql"
	queryFormat = "json"
)

// QueryAPI runs query-language requests against the remote store.
type QueryAPI struct {
	client *req.Client
	stats  *httpStats
}

func newQueryAPI(client *req.Client, stats *httpStats) *QueryAPI {
	return &QueryAPI{client: client, stats: stats}
}

// ExecuteQuery runs a single query and returns one page of rows. It makes exactly one
// attempt; non-2xx responses come back as *APIError and undecodable bodies wrap
// ErrInvalidResponse.
func (q *QueryAPI) ExecuteQuery(ctx context.Context, query string) (*QueryResponse, error) {
	body, err := jsonMarshal(&QueryRequest{Query: query, Fmt: queryFormat})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	q.stats.query.sent(len(body))
	resp, err := q.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBodyBytes(body).
		Post(queryPath)
	if err := handleAPIError(resp, err, "query", query); err != nil {
		q.stats.failed(&q.stats.query, err)
		return nil, err
	}

	raw := resp.Bytes()
	q.stats.query.received(len(raw))

	var page QueryResponse
	if err := decodeNumbers(raw, &page); err != nil {
		err = fmt.Errorf("%w: decode query response: %v\nquery: %s", ErrInvalidResponse, err, query)
		q.stats.failed(&q.stats.query, err)
		return nil, err
	}

	return &page, nil
}
