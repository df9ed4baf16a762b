package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/btsync/internal/utils"
)

// RowUploader sends prepared rows to the ingest endpoint and returns the number
// of request body bytes sent.
type RowUploader interface {
	UploadRows(ctx context.Context, rows []map[string]any, pageSize int) (int64, error)
}

type PushOptions struct {
	ObjectRef string
	Input     string // file or directory; empty picks the newest completed pull
	Filter    string
	Traces    *int
	Spans     *int
	PageSize  int
	Fresh     bool
	Root      string
	Workers   int
	Progress  ProgressFunc
}

type PushResult struct {
	Status    ResultStatus
	SpecDir   string
	SpecHash  string
	Spec      *SyncSpec
	State     *PushState
	InputPath string
	Files     []string
}

// PushEngine uploads local JSONL rows into a project's logs. Batches upload
// concurrently but are committed to the checkpoint strictly in order.
type PushEngine struct {
	uploader RowUploader
}

func NewPushEngine(uploader RowUploader) *PushEngine {
	return &PushEngine{uploader: uploader}
}

type pushBatch struct {
	index         int
	rows          []map[string]any
	endLineOffset int
	distinctRoots int
}

type pushBatchResult struct {
	index         int
	rowCount      int
	bytesSent     int64
	endLineOffset int
	distinctRoots int
	err           error
}

// Run executes or resumes the push described by opts. Cancelling ctx stops the
// input scan; in-flight batches are allowed to finish and the ordered prefix of
// completed batches is committed before Run returns ResultInterrupted.
func (e *PushEngine) Run(ctx context.Context, opts *PushOptions) (*PushResult, error) {
	object, err := ParseObjectRef(opts.ObjectRef)
	if err != nil {
		return nil, err
	}
	if object.Type != ObjectProjectLogs {
		return nil, fmt.Errorf("%w (project_logs:<project_id>); got %s", ErrUnsupportedPushTarget, object)
	}
	scope, limit, err := ResolvePushScope(opts.Traces, opts.Spans)
	if err != nil {
		return nil, err
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("%w: --page-size must be > 0", ErrInvalidLimit)
	}

	root := rootOrDefault(opts.Root)
	spec := NewSyncSpec(object, DirectionPush, scope, opts.Filter, limit, opts.PageSize)
	hash, err := spec.Hash()
	if err != nil {
		return nil, err
	}

	dir, err := ResolveSpecDir(root, spec, hash, !opts.Fresh)
	if err != nil {
		return nil, err
	}
	if err := dir.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := dir.Unlock(); err != nil {
			slog.Warn("push unlock spec dir", "path", dir.Path, "error", err)
		}
	}()
	if err := dir.WriteSpec(spec); err != nil {
		return nil, err
	}

	input := opts.Input
	if input == "" {
		if input, err = ResolveDefaultPushInput(root, object); err != nil {
			return nil, err
		}
	}
	if !pathExists(input) {
		return nil, fmt.Errorf("%w: input path does not exist: %s", ErrNoPushInput, input)
	}
	files, err := ResolvePushInputFiles(input)
	if err != nil {
		return nil, err
	}

	var state *PushState
	if opts.Fresh || !utils.FileExists(dir.StatePath()) {
		state = NewPushState(scope, limit, opts.PageSize, input)
	} else if state, err = ReadJSONFile[PushState](dir.StatePath()); err != nil {
		return nil, err
	}

	result := &PushResult{SpecDir: dir.Path, SpecHash: hash, Spec: spec, State: state, InputPath: input, Files: files}
	if state.Status == RunStatusCompleted && !opts.Fresh {
		result.Status = ResultAlreadyCompleted
		return result, nil
	}

	state.SourcePath = input
	state.Status = RunStatusRunning
	state.touch()

	run := &pushRun{
		uploader:  e.uploader,
		object:    object,
		spec:      spec,
		specHash:  hash,
		dir:       dir,
		state:     state,
		files:     files,
		workers:   max(opts.Workers, 1),
		progress:  opts.Progress,
		startedAt: time.Now(),
		pending:   make(map[int]pushBatchResult),
	}
	if err := run.save(); err != nil {
		return nil, err
	}
	if run.total, err = uploadTotalForProgress(files, scope, limit); err != nil {
		return nil, err
	}
	if scope == ScopeTraces && limit != nil {
		run.total = *limit
	}

	slog.Info("push start", "object", spec.ObjectRef, "scope", scope, "input", input, "files", len(files), "resume_offset", state.LineOffset)

	status, err := run.execute(ctx)
	if err != nil {
		if serr := run.fail(err); serr != nil {
			slog.Error("push checkpoint after failure", "error", serr)
		}
		return nil, err
	}

	result.Status = status
	slog.Info("push finished", "status", status, "items", state.ItemsDone, "batches", state.PagesDone, "bytes", state.BytesSent)
	return result, nil
}

// pushRun is owned by the goroutine that calls execute. Upload goroutines only
// send results on the results channel; all state mutation happens here.
type pushRun struct {
	uploader  RowUploader
	object    ObjectRef
	spec      *SyncSpec
	specHash  string
	dir       *SpecDir
	state     *PushState
	files     []string
	workers   int
	total     int
	progress  ProgressFunc
	startedAt time.Time

	uploadCtx  context.Context
	results    chan pushBatchResult
	inflight   int
	dispatched int
	next       int
	pending    map[int]pushBatchResult
	uploadErr  error
}

func (r *pushRun) execute(ctx context.Context) (ResultStatus, error) {
	state := r.state
	maxRoots := 0
	if state.Scope == ScopeTraces && state.Limit != nil {
		maxRoots = *state.Limit
	}

	seen, err := CollectSeenRootsUntilOffset(r.files, state.LineOffset, maxRoots)
	if err != nil {
		return "", err
	}
	state.DistinctRootsDone = max(state.DistinctRootsDone, seen.Cardinality())

	r.results = make(chan pushBatchResult, r.workers)
	r.uploadCtx = context.WithoutCancel(ctx)

	selected := state.ItemsDone
	interrupted := false
	batch := &pushBatch{}

	err = scanLines(r.files, func(index int, file string, line []byte) (bool, error) {
		if ctx.Err() != nil {
			interrupted = true
			return false, nil
		}
		if r.uploadErr != nil {
			return false, nil
		}
		if index < state.LineOffset || isBlank(line) {
			return true, nil
		}

		row, err := decodeRow(line)
		if err != nil {
			return false, fmt.Errorf("invalid JSON in %s at line %d: %w", file, index+1, err)
		}
		if state.Scope == ScopeSpans && state.Limit != nil && selected >= *state.Limit {
			return false, nil
		}
		if !admitRoot(seen, rowRootKey(row), maxRoots) {
			return true, nil
		}

		batch.rows = append(batch.rows, prepareRowForUpload(row, r.object.Name, state.RunID, index))
		batch.endLineOffset = index + 1
		selected++

		if len(batch.rows) >= state.PageSize {
			batch.distinctRoots = seen.Cardinality()
			started, err := r.dispatch(ctx, batch)
			if err != nil {
				return false, err
			}
			if !started {
				interrupted = true
				return false, nil
			}
			batch = &pushBatch{}
		}
		return true, nil
	})
	if err != nil {
		_ = r.drain()
		return "", err
	}

	if !interrupted && r.uploadErr == nil && len(batch.rows) > 0 {
		batch.distinctRoots = seen.Cardinality()
		started, err := r.dispatch(ctx, batch)
		if err != nil {
			_ = r.drain()
			return "", err
		}
		interrupted = !started
	}
	if err := r.drain(); err != nil {
		return "", err
	}

	if r.uploadErr != nil {
		return "", r.uploadErr
	}
	if interrupted {
		state.Status = RunStatusInterrupted
		state.touch()
		if err := r.save(); err != nil {
			return "", err
		}
		slog.Info("push interrupted", "items", state.ItemsDone, "line_offset", state.LineOffset)
		return ResultInterrupted, nil
	}

	if len(r.pending) > 0 || r.next != r.dispatched {
		return "", fmt.Errorf("%w: committed %d of %d batch(es)", ErrCheckpointMismatch, r.next, r.dispatched)
	}

	now := epochSeconds()
	state.Status = RunStatusCompleted
	state.UpdatedAt = now
	state.CompletedAt = &now
	if err := r.save(); err != nil {
		return "", err
	}
	return ResultCompleted, nil
}

// dispatch starts the upload of batch, first waiting for a free worker slot.
// It reports false without starting anything if ctx is cancelled by then.
func (r *pushRun) dispatch(ctx context.Context, batch *pushBatch) (bool, error) {
	for r.inflight >= r.workers {
		if err := r.receive(); err != nil {
			return false, err
		}
	}
	if ctx.Err() != nil || r.uploadErr != nil {
		return false, nil
	}

	batch.index = r.dispatched
	r.dispatched++
	r.inflight++

	pageSize := r.state.PageSize
	go func(b *pushBatch) {
		sent, err := r.uploader.UploadRows(r.uploadCtx, b.rows, pageSize)
		r.results <- pushBatchResult{
			index:         b.index,
			rowCount:      len(b.rows),
			bytesSent:     sent,
			endLineOffset: b.endLineOffset,
			distinctRoots: b.distinctRoots,
			err:           err,
		}
	}(batch)
	return true, nil
}

// receive takes one finished upload and commits whatever became contiguous.
// A failed batch is recorded and leaves a gap, so nothing after it commits.
func (r *pushRun) receive() error {
	res := <-r.results
	r.inflight--
	if res.err != nil {
		if r.uploadErr == nil {
			r.uploadErr = fmt.Errorf("upload batch %d: %w", res.index, res.err)
		}
		return nil
	}
	r.pending[res.index] = res
	return flushReadyPushResults(r.pending, &r.next, func(res pushBatchResult) error {
		commitPushBatchState(r.state, res)
		if err := r.save(); err != nil {
			return err
		}
		r.report()
		return nil
	})
}

// drain waits for every in-flight upload. The first checkpoint error is
// returned after all uploads have reported.
func (r *pushRun) drain() error {
	var firstErr error
	for r.inflight > 0 {
		if err := r.receive(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushReadyPushResults commits buffered results in batch order starting at
// *next and stops at the first missing index.
func flushReadyPushResults(pending map[int]pushBatchResult, next *int, commit func(pushBatchResult) error) error {
	for {
		res, ok := pending[*next]
		if !ok {
			return nil
		}
		if err := commit(res); err != nil {
			return err
		}
		delete(pending, *next)
		*next++
	}
}

func commitPushBatchState(state *PushState, res pushBatchResult) {
	state.ItemsDone += res.rowCount
	state.PagesDone++
	state.BytesSent += res.bytesSent
	state.LineOffset = max(state.LineOffset, res.endLineOffset)
	state.DistinctRootsDone = max(state.DistinctRootsDone, res.distinctRoots)
	state.touch()
}

func (r *pushRun) save() error {
	if err := WriteJSONAtomic(r.dir.StatePath(), r.state); err != nil {
		return err
	}
	return WriteJSONAtomic(r.dir.ManifestPath(), manifestFromPushState(r.specHash, r.spec, r.state))
}

// fail records a fatal error: the checkpoint keeps its committed prefix and
// the manifest carries the error text.
func (r *pushRun) fail(cause error) error {
	r.state.Status = RunStatusInterrupted
	r.state.touch()
	if err := WriteJSONAtomic(r.dir.StatePath(), r.state); err != nil {
		return err
	}
	manifest := manifestFromPushState(r.specHash, r.spec, r.state)
	manifest.Message = optionalString(cause.Error())
	return WriteJSONAtomic(r.dir.ManifestPath(), manifest)
}

func (r *pushRun) report() {
	unit := ScopeSpans
	if r.state.Scope == ScopeTraces {
		unit = ScopeTraces
	}
	r.progress.emit(Progress{
		Direction: DirectionPush,
		Phase:     "upload",
		Traces:    r.state.DistinctRootsDone,
		Spans:     r.state.ItemsDone,
		Pages:     r.state.PagesDone,
		Bytes:     r.state.BytesSent,
		Total:     r.total,
		TotalUnit: unit,
		Elapsed:   time.Since(r.startedAt),
	})
}

func isBlank(line []byte) bool {
	for _, c := range line {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
