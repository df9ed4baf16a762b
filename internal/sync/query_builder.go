package sync

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const clauseSeparator = " | "

// SourceExpr returns the `from:` source for an object, e.g. project_logs('<id>').
func SourceExpr(object ObjectRef) (string, error) {
	if !object.Type.Valid() {
		return "", fmt.Errorf("%w '%s' for pull. supported: project_logs, experiment, dataset", ErrUnsupportedObjectType, object.Type)
	}
	return fmt.Sprintf("%s(%s)", object.Type, sqlQuote(object.Name)), nil
}

// buildSpansQuery pages through every span, newest first.
func buildSpansQuery(source, filter string, limit int, cursor string) string {
	parts := []string{
		"select: *",
		"from: " + source + " spans",
		fmt.Sprintf("limit: %d", limit),
		"sort: _pagination_key DESC",
	}
	return joinClauses(parts, filter, cursor)
}

// buildRootDiscoveryQuery projects only the identifiers needed to find roots.
func buildRootDiscoveryQuery(source, filter string, limit int, cursor string) string {
	parts := []string{
		"select: root_span_id, span_id, id",
		"from: " + source + " spans",
		fmt.Sprintf("limit: %d", limit),
		"sort: _pagination_key DESC",
	}
	return joinClauses(parts, filter, cursor)
}

// buildRootSpansQuery fetches every span belonging to the given roots. The user
// filter, if any, is ANDed with the root match.
func buildRootSpansQuery(source string, rootIDs []string, filter string, limit int, cursor string) string {
	var rootFilter string
	if len(rootIDs) == 1 {
		q := sqlQuote(rootIDs[0])
		rootFilter = fmt.Sprintf("(root_span_id = %s OR span_id = %s OR id = %s)", q, q, q)
	} else {
		quoted := make([]string, len(rootIDs))
		for i, id := range rootIDs {
			quoted[i] = sqlQuote(id)
		}
		joined := strings.Join(quoted, ", ")
		rootFilter = fmt.Sprintf("(root_span_id IN [%s] OR span_id IN [%s] OR id IN [%s])", joined, joined, joined)
	}

	combined := rootFilter
	if f := strings.TrimSpace(filter); f != "" {
		combined = fmt.Sprintf("(%s) AND (%s)", rootFilter, f)
	}

	parts := []string{
		"select: *",
		"from: " + source + " spans",
		"filter: " + combined,
		fmt.Sprintf("limit: %d", limit),
		"sort: _pagination_key ASC",
	}
	return joinClauses(parts, "", cursor)
}

func joinClauses(parts []string, filter, cursor string) string {
	if f := strings.TrimSpace(filter); f != "" {
		parts = append(parts, "filter: "+f)
	}
	if cursor != "" {
		parts = append(parts, "cursor: "+jsonQuote(cursor))
	}
	return strings.Join(parts, clauseSeparator)
}

// jsonQuote renders value as a JSON string literal without HTML escaping.
func jsonQuote(value string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return `"` + strings.ReplaceAll(strings.ReplaceAll(value, `\`, `\\`), `"`, `\"`) + `"`
	}
	return strings.TrimRight(buf.String(), "\n")
}

func sqlQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
