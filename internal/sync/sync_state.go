package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusCompleted   RunStatus = "completed"
)

type PullPhase string

const (
	PhaseDiscoverRoots PullPhase = "discover_roots"
	PhaseFetchRoots    PullPhase = "fetch_roots"
	PhaseSpans         PullPhase = "spans"
	PhaseCompleted     PullPhase = "completed"
)

// TraceChunkState is one fixed-size slice of the discovered root ids,
// root_ids[start:end], fetched as a single resumable unit.
type TraceChunkState struct {
	ChunkIndex int     `json:"chunk_index"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Cursor     *string `json:"cursor,omitempty"`
	Completed  bool    `json:"completed"`
}

func (c *TraceChunkState) Len() int {
	return c.End - c.Start
}

// PullState is the checkpoint of a pull run.
type PullState struct {
	SchemaVersion       int               `json:"schema_version"`
	RunID               string            `json:"run_id"`
	Status              RunStatus         `json:"status"`
	Phase               PullPhase         `json:"phase"`
	Scope               Scope             `json:"scope"`
	Limit               int               `json:"limit"`
	Filter              *string           `json:"filter,omitempty"`
	PageSize            int               `json:"page_size"`
	Cursor              *string           `json:"cursor,omitempty"`
	RootDiscoveryCursor *string           `json:"root_discovery_cursor,omitempty"`
	RootIDs             []string          `json:"root_ids"`
	CurrentRootIndex    int               `json:"current_root_index"`
	CurrentRootCursor   *string           `json:"current_root_cursor,omitempty"`
	TraceChunks         []TraceChunkState `json:"trace_chunks"`
	ItemsDone           int               `json:"items_done"`
	PagesDone           int               `json:"pages_done"`
	BytesWritten        int64             `json:"bytes_written"`
	OutputPath          string            `json:"output_path"`
	StartedAt           int64             `json:"started_at"`
	UpdatedAt           int64             `json:"updated_at"`
	CompletedAt         *int64            `json:"completed_at,omitempty"`
}

// NewPullState returns the initial checkpoint for a pull. A starting cursor is
// only meaningful for spans scope.
func NewPullState(scope Scope, limit, pageSize int, filter *string, cursor string, outputPath string) *PullState {
	now := epochSeconds()
	phase := PhaseDiscoverRoots
	if scope == ScopeSpans {
		phase = PhaseSpans
	}
	return &PullState{
		SchemaVersion: StateSchemaVersion,
		RunID:         newRunID(),
		Status:        RunStatusRunning,
		Phase:         phase,
		Scope:         scope,
		Limit:         limit,
		Filter:        filter,
		PageSize:      pageSize,
		Cursor:        trimOptional(cursor),
		RootIDs:       []string{},
		TraceChunks:   []TraceChunkState{},
		OutputPath:    outputPath,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// NeedsDiscovery reports whether a traces pull has made no progress at all and
// must start from root discovery.
func (s *PullState) NeedsDiscovery() bool {
	return s.ItemsDone == 0 &&
		s.CurrentRootIndex == 0 &&
		len(s.RootIDs) == 0 &&
		len(s.TraceChunks) == 0
}

// InitializeTraceChunks converts a checkpoint written before chunking existed
// (root ids but no chunks) into chunk form. Chunks that end at or before the old
// current_root_index are already fetched; the chunk starting exactly there
// inherits the old per-root cursor.
func (s *PullState) InitializeTraceChunks(chunkSize int) {
	if len(s.TraceChunks) > 0 {
		return
	}
	if chunkSize <= 0 {
		chunkSize = RootFetchChunkSize
	}

	legacyIndex := min(s.CurrentRootIndex, len(s.RootIDs))
	legacyCursor := s.CurrentRootCursor
	s.TraceChunks = []TraceChunkState{}
	for start := 0; start < len(s.RootIDs); {
		end := min(start+chunkSize, len(s.RootIDs))
		chunk := TraceChunkState{
			ChunkIndex: len(s.TraceChunks),
			Start:      start,
			End:        end,
			Completed:  end <= legacyIndex,
		}
		if start == legacyIndex {
			chunk.Cursor = legacyCursor
		}
		s.TraceChunks = append(s.TraceChunks, chunk)
		start = end
	}

	s.CurrentRootCursor = nil
	s.recomputeCurrentRootIndex()
}

// AppendTraceChunks slices root ids not yet covered by a chunk into new chunks of
// chunkSize. A trailing partial chunk is only added when flushPartial is set.
// Existing chunks are never modified or reordered. It returns the number of
// chunks added and recomputes current_root_index.
func (s *PullState) AppendTraceChunks(chunkSize int, flushPartial bool) int {
	if chunkSize <= 0 {
		chunkSize = RootFetchChunkSize
	}

	covered := 0
	if n := len(s.TraceChunks); n > 0 {
		covered = s.TraceChunks[n-1].End
	}

	added := 0
	for covered < len(s.RootIDs) {
		remaining := len(s.RootIDs) - covered
		if remaining < chunkSize && !flushPartial {
			break
		}
		end := covered + min(chunkSize, remaining)
		s.TraceChunks = append(s.TraceChunks, TraceChunkState{
			ChunkIndex: len(s.TraceChunks),
			Start:      covered,
			End:        end,
		})
		covered = end
		added++
	}

	s.CurrentRootCursor = nil
	s.recomputeCurrentRootIndex()
	return added
}

func (s *PullState) recomputeCurrentRootIndex() {
	done := 0
	for i := range s.TraceChunks {
		if s.TraceChunks[i].Completed {
			done += s.TraceChunks[i].Len()
		}
	}
	s.CurrentRootIndex = done
}

// CompleteTraceChunk marks a chunk done and keeps current_root_index in step.
func (s *PullState) CompleteTraceChunk(index int) {
	chunk := &s.TraceChunks[index]
	if chunk.Completed {
		return
	}
	chunk.Completed = true
	chunk.Cursor = nil
	s.recomputeCurrentRootIndex()
}

// AllChunksCompleted reports whether every known chunk has been fetched.
func (s *PullState) AllChunksCompleted() bool {
	for i := range s.TraceChunks {
		if !s.TraceChunks[i].Completed {
			return false
		}
	}
	return true
}

func (s *PullState) touch() {
	s.UpdatedAt = epochSeconds()
}

func (s *PullState) markCompleted() {
	now := epochSeconds()
	s.Status = RunStatusCompleted
	s.Phase = PhaseCompleted
	s.UpdatedAt = now
	s.CompletedAt = &now
}

// PushState is the checkpoint of a push run. LineOffset is the global line
// index (across all input files) below which every selected row is uploaded.
type PushState struct {
	SchemaVersion     int       `json:"schema_version"`
	RunID             string    `json:"run_id"`
	Status            RunStatus `json:"status"`
	Scope             Scope     `json:"scope"`
	Limit             *int      `json:"limit,omitempty"`
	PageSize          int       `json:"page_size"`
	SourcePath        string    `json:"source_path"`
	LineOffset        int       `json:"line_offset"`
	ItemsDone         int       `json:"items_done"`
	PagesDone         int       `json:"pages_done"`
	BytesSent         int64     `json:"bytes_sent"`
	DistinctRootsDone int       `json:"distinct_roots_done"`
	StartedAt         int64     `json:"started_at"`
	UpdatedAt         int64     `json:"updated_at"`
	CompletedAt       *int64    `json:"completed_at,omitempty"`
}

func NewPushState(scope Scope, limit *int, pageSize int, sourcePath string) *PushState {
	now := epochSeconds()
	return &PushState{
		SchemaVersion: StateSchemaVersion,
		RunID:         newRunID(),
		Status:        RunStatusRunning,
		Scope:         scope,
		Limit:         limit,
		PageSize:      pageSize,
		SourcePath:    sourcePath,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *PushState) touch() {
	s.UpdatedAt = epochSeconds()
}

func epochSeconds() int64 {
	return time.Now().Unix()
}

func newRunID() string {
	return fmt.Sprintf("run-%d-%s", epochSeconds(), uuid.NewString()[:8])
}
