package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/btsync/internal/btsdk"
)

// QueryClient runs one query and returns one page of rows.
type QueryClient interface {
	ExecuteQuery(ctx context.Context, query string) (*btsdk.QueryResponse, error)
}

// RetryPolicy is an exponential backoff with jitter and a hard attempt ceiling.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64
	MaxDelay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   300 * time.Millisecond,
	Multiplier:  2.0,
	Jitter:      0.2,
	MaxDelay:    8 * time.Second,
}

// QueryExecutor wraps a QueryClient with retries. 5xx, 413 and network errors
// are retried; other statuses and malformed responses fail immediately.
type QueryExecutor struct {
	client  QueryClient
	policy  RetryPolicy
	tracker *RetryTracker
}

func NewQueryExecutor(client QueryClient, policy RetryPolicy, tracker *RetryTracker) *QueryExecutor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if tracker == nil {
		tracker = NewRetryTracker()
	}
	return &QueryExecutor{client: client, policy: policy, tracker: tracker}
}

func (e *QueryExecutor) Tracker() *RetryTracker {
	return e.tracker
}

// Execute runs query until it succeeds, fails permanently, or runs out of
// attempts. A started request is never aborted by ctx; ctx only cuts the wait
// between attempts short.
func (e *QueryExecutor) Execute(ctx context.Context, query string) (*btsdk.QueryResponse, error) {
	delay := e.policy.BaseDelay
	reqCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		resp, err := e.client.ExecuteQuery(reqCtx, query)
		if err == nil {
			return resp, nil
		}

		kind, retryable := classifyQueryError(err)
		if !retryable || attempt >= e.policy.MaxAttempts {
			return nil, queryFailure(attempt, err, query)
		}

		e.tracker.record(kind)
		wait := e.jittered(delay)
		slog.Debug("query retry", "attempt", attempt, "max", e.policy.MaxAttempts, "kind", retryKindLabel(kind), "delay", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("query retry cancelled after %d attempt(s): %w", attempt, ctx.Err())
		case <-time.After(wait):
		}

		delay = min(time.Duration(float64(delay)*e.policy.Multiplier), e.policy.MaxDelay)
	}
}

// queryFailure attaches the query text unless err already prints it.
func queryFailure(attempt int, err error, query string) error {
	var apiErr *btsdk.APIError
	if (errors.As(err, &apiErr) && apiErr.Query != "") || errors.Is(err, btsdk.ErrInvalidResponse) {
		return fmt.Errorf("query failed after %d attempt(s): %w", attempt, err)
	}
	return fmt.Errorf("query failed after %d attempt(s): %w\nquery: %s", attempt, err, query)
}

func (e *QueryExecutor) jittered(delay time.Duration) time.Duration {
	if e.policy.Jitter <= 0 {
		return delay
	}
	factor := 1 - e.policy.Jitter + rand.Float64()*2*e.policy.Jitter
	return time.Duration(float64(delay) * factor)
}

// classifyQueryError returns the tracker kind ("network" or the status code)
// and whether the failure is worth another attempt.
func classifyQueryError(err error) (string, bool) {
	var apiErr *btsdk.APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.StatusCode), apiErr.Retryable()
	}
	if errors.Is(err, btsdk.ErrInvalidResponse) {
		return "decode", false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "network", false
	}
	return "network", true
}

// RetryTracker counts retries by failure kind across a whole run. Safe for
// concurrent use.
type RetryTracker struct {
	total  atomic.Int64
	mu     sync.Mutex
	counts map[string]int64
}

func NewRetryTracker() *RetryTracker {
	return &RetryTracker{counts: make(map[string]int64)}
}

func (t *RetryTracker) record(kind string) {
	t.total.Add(1)
	t.mu.Lock()
	t.counts[kind]++
	t.mu.Unlock()
}

func (t *RetryTracker) Total() int64 {
	return t.total.Load()
}

// SummaryLine renders the retry counts, or "" when nothing was retried.
// Several kinds are listed by count, most frequent first, at most three.
func (t *RetryTracker) SummaryLine() string {
	total := t.total.Load()
	if total == 0 {
		return ""
	}

	type entry struct {
		kind  string
		count int64
	}
	t.mu.Lock()
	entries := make([]entry, 0, len(t.counts))
	for k, v := range t.counts {
		entries = append(entries, entry{k, v})
	}
	t.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].kind < entries[j].kind
	})

	if len(entries) == 1 {
		return fmt.Sprintf("query retries: %s (%s)", humanize.Comma(entries[0].count), retryKindLabel(entries[0].kind))
	}

	details := make([]string, 0, 3)
	for _, e := range entries[:min(3, len(entries))] {
		details = append(details, fmt.Sprintf("%s %s", retryKindLabel(e.kind), humanize.Comma(e.count)))
	}
	return fmt.Sprintf("query retries: %s total (%s)", humanize.Comma(total), strings.Join(details, ", "))
}

func retryKindLabel(kind string) string {
	if _, err := strconv.Atoi(kind); err == nil {
		return "HTTP " + kind
	}
	return kind
}
