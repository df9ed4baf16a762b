package btsdk

import (
	"sync/atomic"
)

// endpointCounters counts traffic for one remote endpoint.
type endpointCounters struct {
	calls     atomic.Int64
	failures  atomic.Int64
	bytesSent atomic.Int64
	bytesRecv atomic.Int64
}

func (c *endpointCounters) sent(n int) {
	c.calls.Add(1)
	c.bytesSent.Add(int64(max(n, 0)))
}

func (c *endpointCounters) received(n int) {
	c.bytesRecv.Add(int64(max(n, 0)))
}

// httpStats is shared by the query and ingest clients of one BTSDK.
type httpStats struct {
	query  endpointCounters
	ingest endpointCounters

	lastError atomic.Pointer[string]
}

func newHTTPStats() *httpStats {
	return &httpStats{}
}

func (s *httpStats) failed(c *endpointCounters, err error) {
	if err == nil {
		return
	}
	c.failures.Add(1)
	msg := err.Error()
	s.lastError.Store(&msg)
}

// HTTPStats is a point-in-time copy of the client traffic counters.
type HTTPStats struct {
	Queries   int64
	Uploads   int64
	Failures  int64
	BytesSent int64
	BytesRecv int64
	LastError string
}

func (s *httpStats) snapshot() HTTPStats {
	out := HTTPStats{
		Queries:   s.query.calls.Load(),
		Uploads:   s.ingest.calls.Load(),
		Failures:  s.query.failures.Load() + s.ingest.failures.Load(),
		BytesSent: s.query.bytesSent.Load() + s.ingest.bytesSent.Load(),
		BytesRecv: s.query.bytesRecv.Load() + s.ingest.bytesRecv.Load(),
	}
	if msg := s.lastError.Load(); msg != nil {
		out.LastError = *msg
	}
	return out
}
