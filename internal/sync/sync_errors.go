package sync

import "errors"

var (
	ErrInvalidObjectRef       = errors.New("sync: invalid object ref")
	ErrUnsupportedObjectType  = errors.New("sync: unsupported object type")
	ErrMutuallyExclusiveScope = errors.New("--traces and --spans are mutually exclusive")
	ErrInvalidLimit           = errors.New("sync: invalid limit")
	ErrSpecDirNotFound        = errors.New("sync: no sync state found for spec")
	ErrSpecDirLocked          = errors.New("sync: spec directory is in use by another process")
	ErrCheckpointMismatch     = errors.New("sync: push checkpoint mismatch")
	ErrNoPushInput            = errors.New("sync: no push input found")
	ErrUnsupportedPushTarget  = errors.New("sync: push supports only project_logs targets")
)
