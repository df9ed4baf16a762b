package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/btsync/internal/utils"
)

// ResultStatus is the outcome of one engine invocation.
type ResultStatus string

const (
	ResultCompleted        ResultStatus = "completed"
	ResultAlreadyCompleted ResultStatus = "already_completed"
	ResultInterrupted      ResultStatus = "interrupted"
)

type PullOptions struct {
	ObjectRef string
	Filter    string
	Traces    *int
	Spans     *int
	PageSize  int
	Cursor    string // starting cursor for spans scope; implies Fresh
	Fresh     bool
	Root      string
	Workers   int
	OrgName   string
	Progress  ProgressFunc
}

type PullResult struct {
	Status   ResultStatus
	SpecDir  string
	SpecHash string
	Spec     *SyncSpec
	State    *PullState
	Warning  string
	Retries  string
}

// PullEngine downloads rows of a remote object into a resumable spec directory.
type PullEngine struct {
	exec *QueryExecutor
}

func NewPullEngine(client QueryClient, policy RetryPolicy) *PullEngine {
	return &PullEngine{exec: NewQueryExecutor(client, policy, NewRetryTracker())}
}

// Run executes or resumes the pull described by opts. Cancelling ctx stops the
// run at the next page boundary; the checkpoint is then marked interrupted and
// Run returns ResultInterrupted with a nil error.
func (e *PullEngine) Run(ctx context.Context, opts *PullOptions) (*PullResult, error) {
	object, err := ParseObjectRef(opts.ObjectRef)
	if err != nil {
		return nil, err
	}
	source, err := SourceExpr(object)
	if err != nil {
		return nil, err
	}
	scope, limit, err := ResolvePullScope(opts.Traces, opts.Spans)
	if err != nil {
		return nil, err
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("%w: --page-size must be > 0", ErrInvalidLimit)
	}
	fresh := opts.Fresh || opts.Cursor != ""

	spec := NewSyncSpec(object, DirectionPull, scope, opts.Filter, &limit, opts.PageSize)
	hash, err := spec.Hash()
	if err != nil {
		return nil, err
	}

	dir, err := ResolveSpecDir(rootOrDefault(opts.Root), spec, hash, !fresh)
	if err != nil {
		return nil, err
	}
	if err := dir.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := dir.Unlock(); err != nil {
			slog.Warn("pull unlock spec dir", "path", dir.Path, "error", err)
		}
	}()

	if err := dir.WriteSpec(spec); err != nil {
		return nil, err
	}

	outputDir := dir.DataDir()
	var state *PullState
	if fresh || !utils.FileExists(dir.StatePath()) {
		state = NewPullState(scope, limit, opts.PageSize, spec.Filter, opts.Cursor, outputDir)
	} else if state, err = ReadJSONFile[PullState](dir.StatePath()); err != nil {
		return nil, err
	}

	result := &PullResult{SpecDir: dir.Path, SpecHash: hash, Spec: spec, State: state}
	if state.Status == RunStatusCompleted && !fresh {
		result.Status = ResultAlreadyCompleted
		return result, nil
	}

	if err := preparePullOutput(dir, state, fresh); err != nil {
		return nil, err
	}
	state.OutputPath = outputDir
	state.Status = RunStatusRunning
	state.touch()

	run := &pullRun{
		exec:      e.exec,
		source:    source,
		spec:      spec,
		specHash:  hash,
		dir:       dir,
		state:     state,
		workers:   max(opts.Workers, 1),
		progress:  opts.Progress,
		startedAt: time.Now(),
	}
	if err := run.save(); err != nil {
		return nil, err
	}

	slog.Info("pull start", "object", spec.ObjectRef, "scope", scope, "limit", limit, "spec", dir.Path, "resume", state.ItemsDone > 0)

	switch scope {
	case ScopeSpans:
		err = run.pullSpans(ctx)
	default:
		err = run.pullTraces(ctx)
	}
	result.Retries = e.exec.Tracker().SummaryLine()

	if err != nil {
		if isInterrupt(ctx, err) {
			if err := run.finish(RunStatusInterrupted, ""); err != nil {
				return nil, err
			}
			slog.Info("pull interrupted", "items", state.ItemsDone, "pages", state.PagesDone)
			result.Status = ResultInterrupted
			return result, nil
		}
		if ferr := run.finish(RunStatusInterrupted, err.Error()); ferr != nil {
			slog.Error("pull checkpoint after failure", "error", ferr)
		}
		return nil, err
	}

	if err := run.finish(RunStatusCompleted, ""); err != nil {
		return nil, err
	}
	if state.ItemsDone == 0 {
		org := opts.OrgName
		if org == "" {
			org = "(default)"
		}
		result.Warning = fmt.Sprintf("no rows found for %s in org '%s'; verify object id and active credentials", spec.ObjectRef, org)
	}
	slog.Info("pull complete", "items", state.ItemsDone, "pages", state.PagesDone, "bytes", state.BytesWritten)
	result.Status = ResultCompleted
	return result, nil
}

// preparePullOutput clears output for fresh runs, moves a single-file output of
// an older run into data/part-000001.jsonl, and drops output that no checkpoint
// accounts for.
func preparePullOutput(dir *SpecDir, state *PullState, fresh bool) error {
	outputDir := dir.DataDir()
	if fresh {
		for _, p := range []string{outputDir, filepath.Join(dir.Path, "data.jsonl"), filepath.Join(dir.Path, "data.ndjson")} {
			if err := os.RemoveAll(p); err != nil {
				return fmt.Errorf("remove %s: %w", p, err)
			}
		}
	} else if prev := state.OutputPath; prev != "" && utils.FileExists(prev) {
		if err := utils.EnsureDir(outputDir); err != nil {
			return fmt.Errorf("create %s: %w", outputDir, err)
		}
		migrated := filepath.Join(outputDir, partFileName(1))
		if !utils.FileExists(migrated) {
			if err := os.Rename(prev, migrated); err != nil {
				return fmt.Errorf("migrate legacy output %s to %s: %w", prev, migrated, err)
			}
		}
	}

	if state.ItemsDone == 0 {
		if err := os.RemoveAll(outputDir); err != nil {
			return fmt.Errorf("remove %s: %w", outputDir, err)
		}
	}
	return nil
}

// pullRun is the shared state of one pull invocation. mu guards state, active
// and discoveryDone, and serializes checkpoint writes; writerMu guards writer.
// Neither lock is held across a remote call.
type pullRun struct {
	exec      *QueryExecutor
	source    string
	spec      *SyncSpec
	specHash  string
	dir       *SpecDir
	workers   int
	progress  ProgressFunc
	startedAt time.Time

	mu            sync.Mutex
	state         *PullState
	active        mapset.Set[int]
	discoveryDone bool
	signal        *workSignal

	writerMu sync.Mutex
	writer   *PartWriter

	progressRoots mapset.Set[string]
}

// save writes state.json and manifest.json. Callers hold mu once workers run.
func (r *pullRun) save() error {
	if err := WriteJSONAtomic(r.dir.StatePath(), r.state); err != nil {
		return err
	}
	return WriteJSONAtomic(r.dir.ManifestPath(), manifestFromPullState(r.specHash, r.spec, r.state))
}

func (r *pullRun) finish(status RunStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status == RunStatusCompleted {
		r.state.markCompleted()
	} else {
		r.state.Status = status
		r.state.touch()
	}
	if err := WriteJSONAtomic(r.dir.StatePath(), r.state); err != nil {
		return err
	}
	manifest := manifestFromPullState(r.specHash, r.spec, r.state)
	manifest.Message = optionalString(message)
	return WriteJSONAtomic(r.dir.ManifestPath(), manifest)
}

func (r *pullRun) openWriter() error {
	w, err := OpenPartWriter(r.dir.DataDir(), r.state.ItemsDone > 0)
	if err != nil {
		return err
	}
	r.writer = w
	return nil
}

func (r *pullRun) closeWriter() error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	return err
}

// writeLines appends and flushes lines under the writer lock.
func (r *pullRun) writeLines(lines [][]byte) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()
	for _, line := range lines {
		if _, err := r.writer.WriteLine(line); err != nil {
			return err
		}
	}
	return r.writer.Flush()
}

// reportLocked publishes progress; callers hold mu.
func (r *pullRun) reportLocked() {
	if r.progress == nil {
		return
	}
	traces := len(r.state.RootIDs)
	if r.progressRoots != nil {
		traces = r.progressRoots.Cardinality()
	}
	r.progress.emit(Progress{
		Direction: DirectionPull,
		Phase:     string(r.state.Phase),
		Traces:    min(traces, r.state.Limit),
		Spans:     r.state.ItemsDone,
		Pages:     r.state.PagesDone,
		Bytes:     r.state.BytesWritten,
		Total:     r.state.Limit,
		TotalUnit: r.state.Scope,
		Elapsed:   time.Since(r.startedAt),
		Retries:   r.exec.Tracker().SummaryLine(),
	})
}

// isInterrupt reports whether err is the result of ctx being cancelled by the
// caller rather than a failure of the transfer itself.
func isInterrupt(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func rootOrDefault(root string) string {
	if root == "" {
		return DefaultRootDir
	}
	return root
}
