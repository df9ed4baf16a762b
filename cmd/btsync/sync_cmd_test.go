package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/btsync/internal/config"
	btsync "github.com/openmined/btsync/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	queries  []string
	uploaded []map[string]any
}

func (s *fakeService) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.URL.Path {
		case "/btql":
			var req struct {
				Query string `json:"query"`
			}
			assert.NoError(t, json.Unmarshal(raw, &req))
			s.queries = append(s.queries, req.Query)
			_, _ = w.Write([]byte(`{"data":[` +
				`{"id":"a","span_id":"a","root_span_id":"a","_xact_id":"1"},` +
				`{"id":"b","span_id":"b","root_span_id":"a","span_parents":["a"],"_xact_id":"2"}]}`))
		case "/logs3":
			var req struct {
				Rows []map[string]any `json:"rows"`
			}
			assert.NoError(t, json.Unmarshal(raw, &req))
			s.uploaded = append(s.uploaded, req.Rows...)
			_, _ = w.Write([]byte(`{"row_ids":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommands_PullThenPush(t *testing.T) {
	clearEnv(t)
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler(t))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	root := filepath.Join(dir, "sync")
	global := []string{"--config", filepath.Join(dir, "missing.json"), "--api-key", "sk-test", "--api-url", srv.URL, "--json"}

	out, err := runCLI(t, append([]string{"sync", "pull", "project_logs:p1", "--spans", "2", "--root", root}, global...)...)
	require.NoError(t, err)

	var pulled map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pulled))
	assert.Equal(t, "completed", pulled["status"])
	assert.EqualValues(t, 2, pulled["spans"])
	assert.EqualValues(t, 1, pulled["traces"])
	outputPath, _ := pulled["output_path"].(string)
	require.NotEmpty(t, outputPath)

	require.Len(t, svc.queries, 1)
	assert.Contains(t, svc.queries[0], "project_logs('p1')")

	out, err = runCLI(t, append([]string{"sync", "push", "project_logs:p2", "--in", outputPath, "--root", root}, global...)...)
	require.NoError(t, err)

	var pushed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pushed))
	assert.Equal(t, "completed", pushed["status"])
	assert.EqualValues(t, 2, pushed["spans"])

	require.Len(t, svc.uploaded, 2)
	for _, row := range svc.uploaded {
		assert.Equal(t, "p2", row["project_id"])
		assert.NotContains(t, row, "_xact_id")
	}

	out, err = runCLI(t, "sync", "status", "project_logs:p1", "--spans", "2", "--root", root, "--json")
	require.NoError(t, err)
	var report btsync.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "completed", report.Manifest["status"])
}

func TestSyncCommands_RejectBeforeNetwork(t *testing.T) {
	clearEnv(t)

	_, err := runCLI(t, "sync", "pull", "project_logs:p1", "--traces", "1", "--spans", "1")
	require.ErrorIs(t, err, btsync.ErrMutuallyExclusiveScope)

	_, err = runCLI(t, "sync", "pull", "bogus")
	require.Error(t, err)

	_, err = runCLI(t, "sync", "push", "experiment:e1", "--spans", "0")
	require.ErrorIs(t, err, btsync.ErrInvalidLimit)
}

func TestSyncCommands_MissingAPIKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := runCLI(t, "sync", "pull", "dataset:d1", "--config", filepath.Join(dir, "missing.json"), "--root", filepath.Join(dir, "sync"))
	require.ErrorIs(t, err, config.ErrNoAPIKey)
}

func TestRenderPull_Interrupted(t *testing.T) {
	res := &btsync.PullResult{
		Status: btsync.ResultInterrupted,
		Spec:   &btsync.SyncSpec{ObjectRef: "project_logs:p1"},
		State: &btsync.PullState{
			RootIDs:    []string{"r1"},
			ItemsDone:  1204,
			PagesDone:  3,
			OutputPath: "/tmp/out",
		},
		Warning: "no rows returned",
	}

	var out bytes.Buffer
	renderPull(&out, res, 0)
	got := out.String()
	assert.Contains(t, got, "Pull interrupted")
	assert.Contains(t, got, "1,204")
	assert.Contains(t, got, "no rows returned")
	assert.Contains(t, got, "Rerun the same command to resume.")
}

func TestProgressPrinter_DoneDrawsLastSnapshot(t *testing.T) {
	var out bytes.Buffer
	p := &progressPrinter{w: &out, live: true, start: time.Now()}

	first := btsync.Progress{Direction: btsync.DirectionPull, Phase: "fetch_roots", Traces: 1, Spans: 10, Pages: 1}
	final := btsync.Progress{Direction: btsync.DirectionPull, Phase: "completed", Traces: 2, Spans: 20, Pages: 2}
	p.Update(first)
	p.Update(final) // inside the throttle window
	assert.NotContains(t, out.String(), final.Message())

	p.Done()
	got := out.String()
	assert.Contains(t, got, first.Message())
	assert.Contains(t, got, final.Message())
	assert.True(t, strings.HasSuffix(got, "\n"))

	p.Done()
	assert.Equal(t, got, out.String(), "a second Done writes nothing")
}
