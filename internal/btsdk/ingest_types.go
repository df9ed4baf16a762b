package btsdk

const (
	ingestAPIVersion = 2
)

// IngestRequest is the body of a row upload call.
type IngestRequest struct {
	Rows       []map[string]any `json:"rows"`
	APIVersion int              `json:"api_version"`
}
