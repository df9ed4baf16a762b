package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/openmined/btsync/internal/utils"
)

const (
	specFileName     = "spec.json"
	stateFileName    = "state.json"
	manifestFileName = "manifest.json"
	lockFileName     = ".lock"
	dataDirName      = "data"
)

// SpecDir is the on-disk home of one spec: {root}/{type}_{name}/{hash12}.
type SpecDir struct {
	Path string
	lock *flock.Flock
}

func (d *SpecDir) SpecPath() string     { return filepath.Join(d.Path, specFileName) }
func (d *SpecDir) StatePath() string    { return filepath.Join(d.Path, stateFileName) }
func (d *SpecDir) ManifestPath() string { return filepath.Join(d.Path, manifestFileName) }
func (d *SpecDir) DataDir() string      { return filepath.Join(d.Path, dataDirName) }

func (d *SpecDir) Exists() bool {
	return utils.DirExists(d.Path)
}

// Lock takes an exclusive advisory lock on the directory. A second process
// working on the same spec gets ErrSpecDirLocked.
func (d *SpecDir) Lock() error {
	if err := utils.EnsureDir(d.Path); err != nil {
		return fmt.Errorf("create spec dir: %w", err)
	}

	d.lock = flock.New(filepath.Join(d.Path, lockFileName))
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock spec dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrSpecDirLocked, d.Path)
	}
	return nil
}

// Unlock releases the lock. The .lock file stays so every process locks the
// same inode.
func (d *SpecDir) Unlock() error {
	if d.lock == nil {
		return nil
	}
	err := d.lock.Unlock()
	d.lock = nil
	return err
}

// WriteSpec persists spec.json unless it already exists; a directory's spec
// never changes after creation.
func (d *SpecDir) WriteSpec(spec *SyncSpec) error {
	if utils.FileExists(d.SpecPath()) {
		return nil
	}
	return WriteJSONAtomic(d.SpecPath(), spec)
}

// SanitizeSegment keeps [A-Za-z0-9-_.] and replaces anything else with '_'.
func SanitizeSegment(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func objectDirName(object ObjectRef) string {
	return SanitizeSegment(string(object.Type)) + "_" + SanitizeSegment(object.Name)
}

func specDirPath(root string, object ObjectRef, hash string) string {
	return filepath.Join(root, objectDirName(object), hash[:specHashPrefixLen])
}

func legacySpecDirPath(root string, object ObjectRef, direction Direction, scope Scope, hash string) string {
	return filepath.Join(
		root,
		SanitizeSegment(string(object.Type)),
		SanitizeSegment(object.Name),
		string(direction),
		string(scope),
		"spec_"+hash[:specHashPrefixLen],
	)
}

// ResolveSpecDir returns the directory for a spec. When reuseExisting is set and
// only the older nested layout exists, that directory is moved into the flat
// layout; if the move fails the legacy directory is used as is.
func ResolveSpecDir(root string, spec *SyncSpec, hash string, reuseExisting bool) (*SpecDir, error) {
	if len(hash) < specHashPrefixLen {
		return nil, fmt.Errorf("spec hash too short: %q", hash)
	}

	object := spec.Object()
	newDir := specDirPath(root, object, hash)
	if !reuseExisting || utils.DirExists(newDir) {
		return &SpecDir{Path: newDir}, nil
	}

	oldDir := legacySpecDirPath(root, object, spec.Direction, spec.Scope, hash)
	if !utils.DirExists(oldDir) {
		return &SpecDir{Path: newDir}, nil
	}

	if err := utils.EnsureParent(newDir); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(newDir), err)
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		slog.Warn("spec dir migration failed, using legacy layout", "from", oldDir, "to", newDir, "error", err)
		return &SpecDir{Path: oldDir}, nil
	}
	slog.Debug("spec dir migrated", "from", oldDir, "to", newDir)
	return &SpecDir{Path: newDir}, nil
}

// collectObjectSpecDirs lists every spec directory of an object, in both layouts.
func collectObjectSpecDirs(root string, object ObjectRef) ([]string, error) {
	var dirs []string

	flat := filepath.Join(root, objectDirName(object))
	entries, err := os.ReadDir(flat)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", flat, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(flat, e.Name()))
		}
	}

	legacy, err := legacySpecDirs(root, object)
	if err != nil {
		return nil, err
	}
	return append(dirs, legacy...), nil
}

// legacySpecDirs matches {root}/{type}/{name}/{direction}/{scope}/spec_*.
func legacySpecDirs(root string, object ObjectRef) ([]string, error) {
	base := filepath.Join(root, SanitizeSegment(string(object.Type)), SanitizeSegment(object.Name))
	if !utils.DirExists(base) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(base), "*/*/spec_*")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", base, err)
	}

	var dirs []string
	for _, m := range matches {
		dir := filepath.Join(base, filepath.FromSlash(m))
		if utils.DirExists(dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// LocateSpecDir finds an existing directory for a spec in either layout
// without migrating anything.
func LocateSpecDir(root string, spec *SyncSpec, hash string) (*SpecDir, error) {
	if len(hash) < specHashPrefixLen {
		return nil, fmt.Errorf("spec hash too short: %q", hash)
	}
	object := spec.Object()
	for _, dir := range []string{
		specDirPath(root, object, hash),
		legacySpecDirPath(root, object, spec.Direction, spec.Scope, hash),
	} {
		if utils.DirExists(dir) {
			return &SpecDir{Path: dir}, nil
		}
	}
	return nil, fmt.Errorf("%w at %s", ErrSpecDirNotFound, specDirPath(root, object, hash))
}
