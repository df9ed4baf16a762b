package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseObjectRef(t *testing.T) {
	ref, err := ParseObjectRef(" project_logs : abc-123 ")
	require.NoError(t, err)
	assert.Equal(t, ObjectProjectLogs, ref.Type)
	assert.Equal(t, "abc-123", ref.Name)
	assert.Equal(t, "project_logs:abc-123", ref.String())

	// only the first colon splits
	ref, err = ParseObjectRef("dataset:a:b")
	require.NoError(t, err)
	assert.Equal(t, "a:b", ref.Name)
}

func TestParseObjectRefErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"project_logs", ErrInvalidObjectRef},
		{"project_logs:", ErrInvalidObjectRef},
		{"project_logs:   ", ErrInvalidObjectRef},
		{"prompts:abc", ErrUnsupportedObjectType},
		{":abc", ErrUnsupportedObjectType},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseObjectRef(tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" PUSH ")
	require.NoError(t, err)
	assert.Equal(t, DirectionPush, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestSpecHashStable(t *testing.T) {
	a, _ := ParseObjectRef("project_logs:p1")
	b, _ := ParseObjectRef("  project_logs:p1  ")

	h1, err := NewSyncSpec(a, DirectionPull, ScopeTraces, " x = 1 ", intPtr(10), 200).Hash()
	require.NoError(t, err)
	h2, err := NewSyncSpec(b, DirectionPull, ScopeTraces, "x = 1", intPtr(10), 200).Hash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestSpecHashChangesWithFields(t *testing.T) {
	obj, _ := ParseObjectRef("project_logs:p1")
	base, err := NewSyncSpec(obj, DirectionPull, ScopeTraces, "", intPtr(10), 200).Hash()
	require.NoError(t, err)

	other, _ := ParseObjectRef("experiment:p1")
	variants := map[string]*SyncSpec{
		"object":    NewSyncSpec(other, DirectionPull, ScopeTraces, "", intPtr(10), 200),
		"direction": NewSyncSpec(obj, DirectionPush, ScopeTraces, "", intPtr(10), 200),
		"scope":     NewSyncSpec(obj, DirectionPull, ScopeSpans, "", intPtr(10), 200),
		"filter":    NewSyncSpec(obj, DirectionPull, ScopeTraces, "a = 1", intPtr(10), 200),
		"limit":     NewSyncSpec(obj, DirectionPull, ScopeTraces, "", intPtr(11), 200),
		"no limit":  NewSyncSpec(obj, DirectionPull, ScopeTraces, "", nil, 200),
		"page size": NewSyncSpec(obj, DirectionPull, ScopeTraces, "", intPtr(10), 100),
	}
	for name, spec := range variants {
		t.Run(name, func(t *testing.T) {
			h, err := spec.Hash()
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestSpecBlankFilterIsOmitted(t *testing.T) {
	obj, _ := ParseObjectRef("project_logs:p1")
	spec := NewSyncSpec(obj, DirectionPull, ScopeTraces, "   ", intPtr(1), 1)
	assert.Nil(t, spec.Filter)
	assert.Equal(t, "", spec.FilterExpr())
	assert.Equal(t, obj, spec.Object())
}

func TestResolvePullScope(t *testing.T) {
	scope, limit, err := ResolvePullScope(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ScopeTraces, scope)
	assert.Equal(t, DefaultPullLimit, limit)

	scope, limit, err = ResolvePullScope(nil, intPtr(7))
	require.NoError(t, err)
	assert.Equal(t, ScopeSpans, scope)
	assert.Equal(t, 7, limit)

	_, _, err = ResolvePullScope(intPtr(1), intPtr(1))
	assert.ErrorIs(t, err, ErrMutuallyExclusiveScope)

	_, _, err = ResolvePullScope(intPtr(0), nil)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.Contains(t, err.Error(), "--traces must be > 0")
}

func TestResolvePushScope(t *testing.T) {
	scope, limit, err := ResolvePushScope(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, scope)
	assert.Nil(t, limit)

	scope, limit, err = ResolvePushScope(intPtr(3), nil)
	require.NoError(t, err)
	assert.Equal(t, ScopeTraces, scope)
	assert.Equal(t, 3, *limit)

	_, _, err = ResolvePushScope(nil, intPtr(-1))
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, _, err = ResolvePushScope(intPtr(1), intPtr(2))
	assert.ErrorIs(t, err, ErrMutuallyExclusiveScope)
}

func TestResolveStatusScope(t *testing.T) {
	scope, limit, err := ResolveStatusScope(DirectionPull, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ScopeTraces, scope)
	assert.Equal(t, DefaultPullLimit, *limit)

	scope, limit, err = ResolveStatusScope(DirectionPush, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, scope)
	assert.Nil(t, limit)
}
