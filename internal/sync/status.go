package sync

import (
	"fmt"

	"github.com/openmined/btsync/internal/utils"
)

type StatusOptions struct {
	ObjectRef string
	Direction Direction
	Filter    string
	Traces    *int
	Spans     *int
	PageSize  int
	Root      string
}

// StatusReport carries the raw documents of a spec directory. Missing files
// are left nil.
type StatusReport struct {
	SpecDir  string         `json:"spec_dir"`
	SpecHash string         `json:"spec_hash"`
	Spec     map[string]any `json:"spec"`
	State    map[string]any `json:"state"`
	Manifest map[string]any `json:"manifest"`
}

// Status rebuilds the spec a transfer with the same flags would use and reads
// what its directory holds. It never writes.
func Status(opts *StatusOptions) (*StatusReport, error) {
	object, err := ParseObjectRef(opts.ObjectRef)
	if err != nil {
		return nil, err
	}
	direction := opts.Direction
	if direction == "" {
		direction = DirectionPull
	}
	scope, limit, err := ResolveStatusScope(direction, opts.Traces, opts.Spans)
	if err != nil {
		return nil, err
	}
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("%w: --page-size must be > 0", ErrInvalidLimit)
	}

	spec := NewSyncSpec(object, direction, scope, opts.Filter, limit, opts.PageSize)
	hash, err := spec.Hash()
	if err != nil {
		return nil, err
	}
	dir, err := LocateSpecDir(rootOrDefault(opts.Root), spec, hash)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{SpecDir: dir.Path, SpecHash: hash}
	for _, doc := range []struct {
		path string
		dst  *map[string]any
	}{
		{dir.SpecPath(), &report.Spec},
		{dir.StatePath(), &report.State},
		{dir.ManifestPath(), &report.Manifest},
	} {
		if !utils.FileExists(doc.path) {
			continue
		}
		value, err := ReadJSONFile[map[string]any](doc.path)
		if err != nil {
			return nil, err
		}
		*doc.dst = *value
	}
	return report, nil
}
