package sync

import (
	"context"
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

// pullTraces runs root discovery and the chunked fetch concurrently: discovery
// appends chunks as soon as a full chunk of roots is known and wakes the
// workers, which claim one incomplete chunk at a time.
func (r *pullRun) pullTraces(ctx context.Context) error {
	state := r.state
	if state.NeedsDiscovery() {
		state.Phase = PhaseDiscoverRoots
	}
	if len(state.TraceChunks) == 0 && len(state.RootIDs) > 0 {
		state.InitializeTraceChunks(RootFetchChunkSize)
	}
	state.AppendTraceChunks(RootFetchChunkSize, false)
	state.touch()
	if err := r.save(); err != nil {
		return err
	}

	if err := r.openWriter(); err != nil {
		return err
	}
	defer r.closeWriter()

	needsDiscovery := state.Phase == PhaseDiscoverRoots
	r.active = mapset.NewThreadUnsafeSet[int]()
	r.discoveryDone = !needsDiscovery
	r.signal = newWorkSignal()
	r.progressRoots = progressRootsFromState(state)

	eg, egCtx := errgroup.WithContext(ctx)
	for range r.workers {
		eg.Go(func() error {
			return r.fetchWorker(egCtx)
		})
	}
	if needsDiscovery {
		eg.Go(func() error {
			return r.discoverRoots(egCtx)
		})
	}

	return eg.Wait()
}

func (r *pullRun) fetchWorker(ctx context.Context) error {
	for {
		idx, ok, err := r.claimChunk(ctx)
		if err != nil || !ok {
			return err
		}

		err = r.fetchChunk(ctx, idx)

		r.mu.Lock()
		r.active.Remove(idx)
		r.mu.Unlock()
		r.signal.broadcast()

		if err != nil {
			return err
		}
	}
}

// claimChunk returns the first incomplete chunk no other worker holds. It
// blocks until one appears, and returns ok=false once discovery has finished
// and nothing is left.
func (r *pullRun) claimChunk(ctx context.Context) (int, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		r.mu.Lock()
		wake := r.signal.wait()
		for i := range r.state.TraceChunks {
			if !r.state.TraceChunks[i].Completed && !r.active.Contains(i) {
				r.active.Add(i)
				r.mu.Unlock()
				return i, true, nil
			}
		}
		done := r.discoveryDone
		r.mu.Unlock()

		if done {
			return 0, false, nil
		}

		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-wake:
		}
	}
}

// fetchChunk pages through every span of the chunk's roots. A chunk is complete
// when a page comes back without a cursor or with no rows.
func (r *pullRun) fetchChunk(ctx context.Context, idx int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		chunk := r.state.TraceChunks[idx]
		roots := slices.Clone(r.state.RootIDs[chunk.Start:chunk.End])
		r.mu.Unlock()

		if chunk.Completed || len(roots) == 0 {
			return nil
		}

		query := buildRootSpansQuery(r.source, roots, r.spec.FilterExpr(), r.spec.PageSize, derefString(chunk.Cursor))
		resp, err := r.exec.Execute(ctx, query)
		if err != nil {
			return err
		}
		next := resp.NextCursor()

		if len(resp.Data) == 0 {
			r.mu.Lock()
			r.state.CompleteTraceChunk(idx)
			r.state.touch()
			err := r.save()
			r.progressRoots.Append(roots...)
			r.reportLocked()
			r.mu.Unlock()
			return err
		}

		lines, n, err := encodeRows(resp.Data)
		if err != nil {
			return err
		}
		if err := r.writeLines(lines); err != nil {
			return err
		}

		r.mu.Lock()
		r.state.ItemsDone += len(resp.Data)
		r.state.PagesDone++
		r.state.BytesWritten += n
		r.state.TraceChunks[idx].Cursor = optionalString(next)
		if next == "" {
			r.state.CompleteTraceChunk(idx)
		}
		r.state.CurrentRootCursor = nil
		r.state.touch()
		err = r.save()
		for _, row := range resp.Data {
			if root := rowRootID(row); root != "" {
				r.progressRoots.Add(root)
			}
		}
		if next == "" {
			r.progressRoots.Append(roots...)
		}
		r.reportLocked()
		r.mu.Unlock()
		if err != nil {
			return err
		}

		if next == "" {
			return nil
		}
	}
}

// discoverRoots collects distinct root ids up to the limit, newest first.
func (r *pullRun) discoverRoots(ctx context.Context) error {
	r.mu.Lock()
	seen := mapset.NewThreadUnsafeSet(r.state.RootIDs...)
	cursor := derefString(r.state.RootDiscoveryCursor)
	limit := r.state.Limit
	r.mu.Unlock()

	for seen.Cardinality() < limit {
		if err := ctx.Err(); err != nil {
			return err
		}

		query := buildRootDiscoveryQuery(r.source, r.spec.FilterExpr(), RootDiscoveryPageSize, cursor)
		resp, err := r.exec.Execute(ctx, query)
		if err != nil {
			return err
		}

		r.mu.Lock()
		for _, row := range resp.Data {
			root := rowRootID(row)
			if root != "" && seen.Cardinality() < limit && seen.Add(root) {
				r.state.RootIDs = append(r.state.RootIDs, root)
			}
		}
		r.state.PagesDone++
		cursor = resp.NextCursor()
		r.state.RootDiscoveryCursor = optionalString(cursor)
		added := r.state.AppendTraceChunks(RootFetchChunkSize, false)
		r.state.touch()
		err = r.save()
		r.reportLocked()
		r.mu.Unlock()
		if err != nil {
			return err
		}
		if added > 0 {
			r.signal.broadcast()
		}

		if len(resp.Data) == 0 || cursor == "" {
			break
		}
	}

	r.mu.Lock()
	r.state.Phase = PhaseFetchRoots
	r.state.RootDiscoveryCursor = nil
	r.state.AppendTraceChunks(RootFetchChunkSize, true)
	r.state.touch()
	err := r.save()
	r.discoveryDone = true
	r.reportLocked()
	r.mu.Unlock()
	r.signal.broadcast()
	return err
}

// progressRootsFromState seeds the roots-seen set with every root of a
// completed chunk.
func progressRootsFromState(state *PullState) mapset.Set[string] {
	seen := mapset.NewSet[string]()
	for _, chunk := range state.TraceChunks {
		if !chunk.Completed {
			continue
		}
		start := min(chunk.Start, len(state.RootIDs))
		end := min(chunk.End, len(state.RootIDs))
		seen.Append(state.RootIDs[start:end]...)
	}
	return seen
}

// workSignal is a broadcast wakeup. A waiter takes the channel while holding
// the lock that guards the condition it checks, so no wakeup is lost.
type workSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newWorkSignal() *workSignal {
	return &workSignal{ch: make(chan struct{})}
}

func (s *workSignal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *workSignal) broadcast() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}
