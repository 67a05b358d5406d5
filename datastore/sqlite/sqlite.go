// Package sqlite provides the reference implementation of a Bernard
// datastore. Other SQL implementations should ideally borrow from this code
// as the statements issued should be portable to any SQL engine offering
// deferred foreign keys.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	ds "github.com/kestrel-sync/bernard/datastore"

	// database driver
	_ "github.com/mattn/go-sqlite3"
)

// defaultPoolSize bounds the process-wide connection pool. Sync
// transactions need one writer connection; read-only path queries may use
// any of the rest, and WAL mode lets them run concurrently with it.
const defaultPoolSize = 4

// Datastore holds the SQLite3 database connection and implements the
// Bernard Datastore interface.
type Datastore struct {
	DB *sql.DB
}

// Option configures a Datastore at Open time.
type Option func(*options)

type options struct {
	poolSize int
}

// PoolSize bounds the number of open connections. Defaults to 4.
func PoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// Open creates or migrates a Bernard datastore backed by the SQLite file at
// path. Foreign-key enforcement is enabled for every connection the pool
// opens, and WAL mode as well unless path is ":memory:".
func Open(path string, opts ...Option) (*Datastore, error) {
	o := options{poolSize: defaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}

	q := url.Values{}
	q.Set("_foreign_keys", "on")
	if path != ":memory:" {
		q.Set("_journal_mode", "WAL")
	}
	dsn := path + "?" + q.Encode()

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", ds.ErrDatabase)
	}

	db.SetMaxOpenConns(o.poolSize)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Datastore{DB: db}, nil
}

// New is an alias for Open, kept for callers migrating from earlier
// Bernard datastores that only ever took a path.
func New(path string) (*Datastore, error) {
	return Open(path)
}

// Close releases the connection pool, flushing the WAL/SHM sidecar files.
func (store *Datastore) Close() error {
	if err := store.DB.Close(); err != nil {
		return fmt.Errorf("close: %w", ds.ErrDatabase)
	}
	return nil
}

// PageToken retrieves the pageToken the datastore currently reflects.
func (store *Datastore) PageToken(ctx context.Context, driveID string) (string, error) {
	var pageToken string

	row := store.DB.QueryRowContext(ctx, sqlGetPageToken, driveID)
	if err := row.Scan(&pageToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ds.ErrFullSyncRequired
		}
		return "", fmt.Errorf("page token: %w", ds.ErrDatabase)
	}

	return pageToken, nil
}

// Begin opens a new transaction. Deferred foreign-key checking is already
// the default for every parent FK in the schema (DEFERRABLE INITIALLY
// DEFERRED), so no per-transaction PRAGMA is issued; the drive_id FKs are
// checked immediately.
func (store *Datastore) Begin(ctx context.Context) (ds.Tx, error) {
	tx, err := store.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", ds.ErrDatabase)
	}

	return &Tx{tx: tx}, nil
}

// Tx is the SQLite-backed implementation of datastore.Tx.
type Tx struct {
	tx *sql.Tx
}

var _ ds.Tx = (*Tx)(nil)

func nullableParent(parent string) any {
	if parent == "" {
		return nil
	}
	return parent
}

// UpsertDrive ensures a row exists for driveID without touching its page
// token, along with the synthetic root folder (id == driveID, parent
// NULL) that every top-level folder or file's parent column points at
// per I1 — Drive API items at the top of a Shared Drive report their
// parent as the drive id itself, and the deferred foreign key needs a
// matching folders row to eventually resolve against.
func (t *Tx) UpsertDrive(ctx context.Context, driveID string) error {
	if _, err := t.tx.ExecContext(ctx, sqlUpsertDriveNoToken, driveID); err != nil {
		return fmt.Errorf("upsert drive %v: %w", driveID, ds.ErrDataAnomaly)
	}
	if _, err := t.tx.ExecContext(ctx, sqlUpsertRootFolder, driveID, driveID); err != nil {
		return fmt.Errorf("upsert root folder for %v: %w", driveID, ds.ErrDataAnomaly)
	}
	return nil
}

// SetPageToken records pageToken for driveID.
func (t *Tx) SetPageToken(ctx context.Context, driveID, pageToken string) error {
	if _, err := t.tx.ExecContext(ctx, sqlUpsertDrive, driveID, pageToken); err != nil {
		return fmt.Errorf("set page token for %v: %w", driveID, ds.ErrDataAnomaly)
	}
	return nil
}

// UpsertFolder blindly writes folder; the schema's triggers reconcile the
// change log and suppress no-op updates.
func (t *Tx) UpsertFolder(ctx context.Context, folder ds.Folder) error {
	_, err := t.tx.ExecContext(ctx, sqlUpsertFolder,
		folder.ID, folder.DriveID, folder.Name, nullableParent(folder.Parent), folder.Trashed)
	if err != nil {
		return fmt.Errorf("upsert folder %v: %w", folder.ID, ds.ErrDataAnomaly)
	}
	return nil
}

// UpsertFile blindly writes file, with the same change-capture contract as
// UpsertFolder.
func (t *Tx) UpsertFile(ctx context.Context, file ds.File) error {
	_, err := t.tx.ExecContext(ctx, sqlUpsertFile,
		file.ID, file.DriveID, file.Name, file.Parent, file.MD5, file.Size, file.Trashed)
	if err != nil {
		return fmt.Errorf("upsert file %v: %w", file.ID, ds.ErrDataAnomaly)
	}
	return nil
}

// DeleteFolder removes a folder; ON DELETE CASCADE removes its descendant
// folders and files, each firing its own change-capture trigger.
func (t *Tx) DeleteFolder(ctx context.Context, id, driveID string) error {
	if _, err := t.tx.ExecContext(ctx, sqlDeleteFolder, id, driveID); err != nil {
		return fmt.Errorf("delete folder %v: %w", id, ds.ErrDataAnomaly)
	}
	return nil
}

// DeleteFile removes a single file.
func (t *Tx) DeleteFile(ctx context.Context, id, driveID string) error {
	if _, err := t.tx.ExecContext(ctx, sqlDeleteFile, id, driveID); err != nil {
		return fmt.Errorf("delete file %v: %w", id, ds.ErrDataAnomaly)
	}
	return nil
}

// ClearChangelog truncates both change logs scoped to driveID.
func (t *Tx) ClearChangelog(ctx context.Context, driveID string) error {
	if _, err := t.tx.ExecContext(ctx, sqlClearFolderChangelog, driveID); err != nil {
		return fmt.Errorf("clear folder changelog: %w", ds.ErrDatabase)
	}
	if _, err := t.tx.ExecContext(ctx, sqlClearFileChangelog, driveID); err != nil {
		return fmt.Errorf("clear file changelog: %w", ds.ErrDatabase)
	}
	return nil
}

// RemoveDrive cascades the removal of driveID and everything it owns.
func (t *Tx) RemoveDrive(ctx context.Context, driveID string) error {
	if _, err := t.tx.ExecContext(ctx, sqlDeleteDrive, driveID); err != nil {
		return fmt.Errorf("remove drive %v: %w", driveID, ds.ErrDataAnomaly)
	}
	return nil
}

// Commit commits the transaction. Deferred foreign-key violations surface
// here as ds.ErrDataAnomaly.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", ds.ErrDataAnomaly)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after a successful Commit is
// a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", ds.ErrDatabase)
	}
	return nil
}

const sqlUpsertDrive = `
INSERT INTO drives (id, page_token) VALUES (?, ?)
	ON CONFLICT (id) DO UPDATE SET page_token = excluded.page_token
`

const sqlUpsertDriveNoToken = `
INSERT INTO drives (id, page_token) VALUES (?, '')
	ON CONFLICT (id) DO NOTHING
`

const sqlUpsertRootFolder = `
INSERT INTO folders (id, drive_id, name, parent, trashed) VALUES (?, ?, '', NULL, 0)
	ON CONFLICT (id, drive_id) DO NOTHING
`

const sqlUpsertFolder = `
INSERT INTO folders (id, drive_id, name, parent, trashed) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (id, drive_id) DO UPDATE SET
		name = excluded.name,
		parent = excluded.parent,
		trashed = excluded.trashed
`

const sqlUpsertFile = `
INSERT INTO files (id, drive_id, name, parent, md5, size, trashed) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id, drive_id) DO UPDATE SET
		name = excluded.name,
		parent = excluded.parent,
		md5 = excluded.md5,
		size = excluded.size,
		trashed = excluded.trashed
`

const sqlDeleteFolder = `DELETE FROM folders WHERE id = ? AND drive_id = ?`
const sqlDeleteFile = `DELETE FROM files WHERE id = ? AND drive_id = ?`
const sqlDeleteDrive = `DELETE FROM drives WHERE id = ?`

const sqlClearFolderChangelog = `DELETE FROM folder_changelog WHERE drive_id = ?`
const sqlClearFileChangelog = `DELETE FROM file_changelog WHERE drive_id = ?`

const sqlGetPageToken = `SELECT page_token FROM drives WHERE id = ?`
