package sync

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
)

// pullSpans is the single-stream span mode: page through spans until the row
// limit is met, the cursor is exhausted, or a page comes back short.
func (r *pullRun) pullSpans(ctx context.Context) error {
	if err := r.openWriter(); err != nil {
		return err
	}
	defer r.closeWriter()

	state := r.state
	state.Phase = PhaseSpans
	seen := mapset.NewThreadUnsafeSet(state.RootIDs...)

	for state.ItemsDone < state.Limit {
		if err := ctx.Err(); err != nil {
			return err
		}

		batchLimit := min(state.Limit-state.ItemsDone, r.spec.PageSize)
		query := buildSpansQuery(r.source, r.spec.FilterExpr(), batchLimit, derefString(state.Cursor))
		resp, err := r.exec.Execute(ctx, query)
		if err != nil {
			return err
		}

		if len(resp.Data) == 0 {
			state.Cursor = nil
			break
		}

		for _, row := range resp.Data {
			if root := rowRootID(row); root != "" && seen.Add(root) {
				state.RootIDs = append(state.RootIDs, root)
			}
		}
		lines, n, err := encodeRows(resp.Data)
		if err != nil {
			return err
		}
		if err := r.writeLines(lines); err != nil {
			return err
		}

		r.mu.Lock()
		state.ItemsDone += len(resp.Data)
		state.PagesDone++
		state.BytesWritten += n
		state.Cursor = optionalString(resp.NextCursor())
		state.touch()
		err = r.save()
		r.reportLocked()
		r.mu.Unlock()
		if err != nil {
			return err
		}

		if state.Cursor == nil || len(resp.Data) < batchLimit {
			break
		}
	}
	return nil
}
