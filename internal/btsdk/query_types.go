package btsdk

// QueryRequest is the body of a query call.
type QueryRequest struct {
	Query string `json:"query"`
	Fmt   string `json:"fmt"`
}

// QueryResponse is one page of query results.
type QueryResponse struct {
	Data   []map[string]any `json:"data"`
	Cursor *string          `json:"cursor,omitempty"`
}

// NextCursor returns the continuation cursor, or "" when the result set is exhausted.
func (r *QueryResponse) NextCursor() string {
	if r == nil || r.Cursor == nil {
		return ""
	}
	return *r.Cursor
}
