package sync

// SyncManifest is the latest-status summary of a spec directory. It is rewritten
// from the checkpoint after every state write.
type SyncManifest struct {
	SchemaVersion  int       `json:"schema_version"`
	SpecHash       string    `json:"spec_hash"`
	Spec           *SyncSpec `json:"spec"`
	LastRunID      string    `json:"last_run_id"`
	Status         RunStatus `json:"status"`
	ItemsDone      int       `json:"items_done"`
	PagesDone      int       `json:"pages_done"`
	BytesProcessed int64     `json:"bytes_processed"`
	OutputPath     *string   `json:"output_path,omitempty"`
	InputPath      *string   `json:"input_path,omitempty"`
	StartedAt      int64     `json:"started_at"`
	UpdatedAt      int64     `json:"updated_at"`
	CompletedAt    *int64    `json:"completed_at,omitempty"`
	Message        *string   `json:"message,omitempty"`
}

func manifestFromPullState(specHash string, spec *SyncSpec, state *PullState) *SyncManifest {
	output := state.OutputPath
	return &SyncManifest{
		SchemaVersion:  StateSchemaVersion,
		SpecHash:       specHash,
		Spec:           spec,
		LastRunID:      state.RunID,
		Status:         state.Status,
		ItemsDone:      state.ItemsDone,
		PagesDone:      state.PagesDone,
		BytesProcessed: state.BytesWritten,
		OutputPath:     &output,
		StartedAt:      state.StartedAt,
		UpdatedAt:      state.UpdatedAt,
		CompletedAt:    state.CompletedAt,
	}
}

func manifestFromPushState(specHash string, spec *SyncSpec, state *PushState) *SyncManifest {
	input := state.SourcePath
	return &SyncManifest{
		SchemaVersion:  StateSchemaVersion,
		SpecHash:       specHash,
		Spec:           spec,
		LastRunID:      state.RunID,
		Status:         state.Status,
		ItemsDone:      state.ItemsDone,
		PagesDone:      state.PagesDone,
		BytesProcessed: state.BytesSent,
		InputPath:      &input,
		StartedAt:      state.StartedAt,
		UpdatedAt:      state.UpdatedAt,
		CompletedAt:    state.CompletedAt,
	}
}
