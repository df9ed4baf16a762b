package sync

import "fmt"

// serverManagedFields are assigned by the service on ingest and rejected when
// sent back.
var serverManagedFields = []string{"_xact_id", "_pagination_key", "_async_scoring_state", "org_id", "created"}

// prepareRowForUpload rewrites a pulled row for ingest into projectID. Identity
// fields are derived from the row itself, falling back to runID and the row's
// global line index, so a row resent after an interrupted run keeps its id.
func prepareRowForUpload(row map[string]any, projectID, runID string, lineIndex int) map[string]any {
	for _, key := range serverManagedFields {
		delete(row, key)
	}
	row["project_id"] = projectID
	row["log_id"] = "g"

	id, ok := valueAsString(row["id"])
	if !ok || id == "" {
		if id, ok = valueAsString(row["span_id"]); !ok || id == "" {
			id = fmt.Sprintf("bt-sync-%s-%d", runID, lineIndex)
		}
	}
	row["id"] = id

	spanID, ok := valueAsString(row["span_id"])
	if !ok || spanID == "" {
		spanID = id
	}
	row["span_id"] = spanID

	if root, ok := valueAsString(row["root_span_id"]); !ok || root == "" {
		row["root_span_id"] = spanID
	}
	if _, ok := row["span_parents"]; !ok {
		row["span_parents"] = []any{}
	}
	return row
}

// rowRootKey groups rows by trace for the --traces cap. Rows with no usable id
// share a single bucket.
func rowRootKey(row map[string]any) string {
	if root := rowRootID(row); root != "" {
		return root
	}
	return missingRootID
}
