package bernard

import (
	ds "github.com/kestrel-sync/bernard/datastore"
)

// SyncKind discriminates which of the two sync strategies SyncDrive ran.
type SyncKind struct {
	full bool
}

// FullSyncKind is the result of re-ingesting an entire drive from scratch.
func FullSyncKind() SyncKind { return SyncKind{full: true} }

// PartialSyncKind is the result of applying an incremental change feed.
func PartialSyncKind() SyncKind { return SyncKind{full: false} }

// IsFull reports whether the sync re-ingested the drive from scratch.
func (k SyncKind) IsFull() bool { return k.full }

// IsPartial reports whether the sync applied an incremental change feed.
func (k SyncKind) IsPartial() bool { return !k.full }

func (k SyncKind) String() string {
	if k.full {
		return "full"
	}
	return "partial"
}

// ChangeSet is what SyncDrive returns: which strategy ran, and the Change
// Report derived from the change log accumulated during that run.
type ChangeSet struct {
	Kind  SyncKind
	Paths ds.ChangedPaths
}
