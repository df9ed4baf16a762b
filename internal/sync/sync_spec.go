package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	StateSchemaVersion    = 1
	DefaultPullLimit      = 100
	DefaultPageSize       = 200
	DefaultWorkers        = 8
	DefaultRootDir        = "bt-sync"
	RootDiscoveryPageSize = 1000
	RootFetchChunkSize    = 100

	specHashPrefixLen = 12
)

// ObjectType is one of the remote collections that can be synchronized.
type ObjectType string

const (
	ObjectProjectLogs ObjectType = "project_logs"
	ObjectExperiment  ObjectType = "experiment"
	ObjectDataset     ObjectType = "dataset"
)

func (t ObjectType) Valid() bool {
	switch t {
	case ObjectProjectLogs, ObjectExperiment, ObjectDataset:
		return true
	}
	return false
}

// ObjectRef identifies the collection being synchronized, e.g. project_logs:<project_id>.
type ObjectRef struct {
	Type ObjectType
	Name string
}

func (o ObjectRef) String() string {
	return string(o.Type) + ":" + o.Name
}

// ParseObjectRef parses a `type:id` reference.
func ParseObjectRef(value string) (ObjectRef, error) {
	objectType, objectName, ok := strings.Cut(value, ":")
	if !ok {
		return ObjectRef{}, fmt.Errorf("%w '%s'. expected format object_type:object_id (for example: project_logs:<project_id>)", ErrInvalidObjectRef, value)
	}

	ref := ObjectRef{
		Type: ObjectType(strings.TrimSpace(objectType)),
		Name: strings.TrimSpace(objectName),
	}
	if !ref.Type.Valid() {
		return ObjectRef{}, fmt.Errorf("%w '%s'. supported types: project_logs, experiment, dataset", ErrUnsupportedObjectType, ref.Type)
	}
	if ref.Name == "" {
		return ObjectRef{}, fmt.Errorf("%w: object id cannot be empty in '%s'", ErrInvalidObjectRef, value)
	}
	return ref, nil
}

type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

func ParseDirection(value string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(value))); d {
	case DirectionPull, DirectionPush:
		return d, nil
	}
	return "", fmt.Errorf("invalid direction '%s'. expected pull or push", value)
}

type Scope string

const (
	ScopeTraces Scope = "traces"
	ScopeSpans  Scope = "spans"
	ScopeAll    Scope = "all"
)

// SyncSpec is the canonical description of one transfer. Field order is the
// serialization order and therefore part of the hash.
type SyncSpec struct {
	SchemaVersion int       `json:"schema_version"`
	ObjectRef     string    `json:"object_ref"`
	ObjectType    string    `json:"object_type"`
	ObjectName    string    `json:"object_name"`
	Direction     Direction `json:"direction"`
	Scope         Scope     `json:"scope"`
	Filter        *string   `json:"filter"`
	Limit         *int      `json:"limit"`
	PageSize      int       `json:"page_size"`
}

// NewSyncSpec builds a spec from already-validated inputs. The object ref string
// is rebuilt from the parsed parts so whitespace in the raw argument does not
// change the hash.
func NewSyncSpec(object ObjectRef, direction Direction, scope Scope, filter string, limit *int, pageSize int) *SyncSpec {
	return &SyncSpec{
		SchemaVersion: StateSchemaVersion,
		ObjectRef:     object.String(),
		ObjectType:    string(object.Type),
		ObjectName:    object.Name,
		Direction:     direction,
		Scope:         scope,
		Filter:        trimOptional(filter),
		Limit:         limit,
		PageSize:      pageSize,
	}
}

// Object returns the object reference the spec was built for.
func (s *SyncSpec) Object() ObjectRef {
	return ObjectRef{Type: ObjectType(s.ObjectType), Name: s.ObjectName}
}

// FilterExpr returns the trimmed filter expression or "".
func (s *SyncSpec) FilterExpr() string {
	if s.Filter == nil {
		return ""
	}
	return *s.Filter
}

// Hash returns the hex SHA-256 of the spec's canonical JSON form.
func (s *SyncSpec) Hash() (string, error) {
	canonical, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("serialize sync spec: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ResolvePullScope maps the --traces/--spans flags to a scope and limit.
// Nil means the flag was not given.
func ResolvePullScope(traces, spans *int) (Scope, int, error) {
	switch {
	case traces != nil && spans != nil:
		return "", 0, ErrMutuallyExclusiveScope
	case traces != nil:
		n, err := nonzero(*traces, "--traces")
		return ScopeTraces, n, err
	case spans != nil:
		n, err := nonzero(*spans, "--spans")
		return ScopeSpans, n, err
	default:
		return ScopeTraces, DefaultPullLimit, nil
	}
}

// ResolvePushScope maps the --traces/--spans flags for a push. Without either
// flag the whole input is uploaded.
func ResolvePushScope(traces, spans *int) (Scope, *int, error) {
	switch {
	case traces != nil && spans != nil:
		return "", nil, ErrMutuallyExclusiveScope
	case traces != nil:
		n, err := nonzero(*traces, "--traces")
		return ScopeTraces, &n, err
	case spans != nil:
		n, err := nonzero(*spans, "--spans")
		return ScopeSpans, &n, err
	default:
		return ScopeAll, nil, nil
	}
}

// ResolveStatusScope rebuilds the scope a pull or push would have used for the
// same flags, so status finds the directory the transfer wrote to.
func ResolveStatusScope(direction Direction, traces, spans *int) (Scope, *int, error) {
	if direction == DirectionPull {
		scope, limit, err := ResolvePullScope(traces, spans)
		if err != nil {
			return "", nil, err
		}
		return scope, &limit, nil
	}
	return ResolvePushScope(traces, spans)
}

func nonzero(value int, flag string) (int, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %s must be > 0", ErrInvalidLimit, flag)
	}
	return value, nil
}

func trimOptional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
