// Package datastore provides the folder, file and drive representations
// used in Bernard.
//
// In addition, it provides the Datastore interface Bernard interacts with.
// The datastore interface can be implemented with other databases in mind,
// though a SQLite reference datastore does exist, which could work with
// other SQL drivers as well.
//
// Finally, this package also serves the common errors which may occur at
// the datastore layer.
package datastore

import (
	"context"
	"errors"
)

// Folder is a minimal representation of a file with mimeType
// `application/vnd.google-apps.folder` within Google Drive.
//
// Parent is empty only for the drive root, whose ID equals its DriveID.
type Folder struct {
	ID      string
	DriveID string
	Name    string
	Parent  string
	Trashed bool
}

// File is a minimal representation of all other files within Google Drive
// which do not have the mimeType `application/vnd.google-apps.folder`.
type File struct {
	ID      string
	DriveID string
	Name    string
	Parent  string
	Trashed bool
	Size    int64
	MD5     string
}

// Drive is a minimal representation of the Shared Drive itself.
type Drive struct {
	ID        string
	PageToken string
}

// PathChange is an (old path, new path) pair for an entity that existed
// both before and after a partial sync, but whose effective path differs
// between the two.
type PathChange struct {
	Old string
	New string
}

// ChangedPaths is the Change Report: the three disjoint path buckets
// derived from the change log accumulated during the most recent sync.
//
// Only entities with change log rows of their own are reported. A folder
// rename or move lists the folder itself; its untouched descendants are
// not listed, though any descendant that did change is reported under its
// path through the renamed or moved folder.
type ChangedPaths struct {
	Added   []string
	Removed []string
	Changed []PathChange
}

// Tx is a scoped handle on a single Datastore transaction.
//
// Referential integrity between folders/files and their parents is
// deferred to Commit: an item whose parent arrives later within the same
// transaction is accepted, and intermediate states may transiently violate
// the parent/child invariants so long as the transaction commits
// consistently. A Tx dropped without Commit rolls back.
type Tx interface {
	// UpsertDrive ensures a row exists for driveID. It does not touch the
	// page token; use SetPageToken for that.
	UpsertDrive(ctx context.Context, driveID string) error

	// SetPageToken records the opaque remote cursor most recently applied
	// to driveID.
	SetPageToken(ctx context.Context, driveID, pageToken string) error

	// UpsertFolder blindly writes a folder. The store reconciles the
	// change log via its own change-capture mechanism; no-op updates must
	// not produce change records.
	UpsertFolder(ctx context.Context, folder Folder) error

	// UpsertFile blindly writes a file, with the same change-capture
	// contract as UpsertFolder.
	UpsertFile(ctx context.Context, file File) error

	// DeleteFolder removes a folder and cascades to its descendants.
	DeleteFolder(ctx context.Context, id, driveID string) error

	// DeleteFile removes a single file.
	DeleteFile(ctx context.Context, id, driveID string) error

	// ClearChangelog truncates both change logs scoped to driveID. Called
	// at the start of every sync so the post-sync change log reflects
	// only that run.
	ClearChangelog(ctx context.Context, driveID string) error

	// RemoveDrive cascades the removal of driveID and everything it owns.
	// Used when a full sync restarts a drive from scratch.
	RemoveDrive(ctx context.Context, driveID string) error

	// QueryChangedPaths derives the Change Report from the change log
	// accumulated so far in this Tx plus the live state of driveID.
	QueryChangedPaths(ctx context.Context, driveID string) (ChangedPaths, error)

	// Commit commits the transaction, running deferred foreign-key
	// checks.
	Commit() error

	// Rollback aborts the transaction. Safe to call after Commit; it is
	// then a no-op.
	Rollback() error
}

// Datastore is the storage engine interface used in Bernard.
type Datastore interface {
	// Begin opens a new transaction with deferred foreign-key checking
	// enabled.
	Begin(ctx context.Context) (Tx, error)

	// PageToken returns the pageToken of the specified driveID.
	//
	// Returns ErrFullSyncRequired if no row exists for driveID. A drive
	// whose full sync has started but not finished has a row with an
	// empty page token, and returns "" with no error.
	PageToken(ctx context.Context, driveID string) (string, error)

	// Close releases the underlying connection pool, flushing any
	// write-ahead-log sidecar files.
	Close() error
}

// ErrDataAnomaly indicates an error in the relationship constraints within
// the datastore. This error might occur when the Google Drive API has not
// processed all changes yet, and therefore returns an incomplete list of
// changes.
//
// When one encounters this error, it is best to wait a couple of seconds
// before retrying the same operation as Google Drive has to process the
// changes first.
var ErrDataAnomaly = errors.New("datastore: data anomaly")

// ErrDatabase indicates a fatal error within the datastore.
var ErrDatabase = errors.New("datastore: database related error")

// ErrFullSyncRequired indicates the database is missing the pageToken
// variable, which is exclusively the result of not running a full sync
// beforehand.
var ErrFullSyncRequired = errors.New("datastore: requires full sync")
