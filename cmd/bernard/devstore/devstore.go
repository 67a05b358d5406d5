// Package devstore extends the reference SQLite datastore with snapshot
// functionality useful for the CLI and for comparing a synced drive's
// local state against a from-scratch reference sync.
package devstore

import (
	ds "github.com/kestrel-sync/bernard/datastore"
	"github.com/kestrel-sync/bernard/datastore/sqlite"
)

// Devstore extends the reference SQLite datastore by adding snapshot
// functionality.
type Devstore struct {
	*sqlite.Datastore
}

// Snapshot is a representation of the current state within the datastore:
// all files and folders for a drive except the synthetic drive-root
// folder, ordered by ID ascending, so two Snapshots can be compared with
// reflect.DeepEqual.
type Snapshot struct {
	Files   []ds.File
	Folders []ds.Folder
}

// New creates a new Devstore backed by a SQLite datastore at path.
func New(path string) (*Devstore, error) {
	datastore, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}

	return &Devstore{datastore}, nil
}

// CreateSnapshot returns a Snapshot of driveID's current state.
func (store *Devstore) CreateSnapshot(driveID string) (*Snapshot, error) {
	var files []ds.File
	var folders []ds.Folder

	fileRows, err := store.DB.Query(sqlSelectFiles, driveID)
	if err != nil {
		return nil, err
	}

	defer fileRows.Close()
	for fileRows.Next() {
		f := ds.File{DriveID: driveID}
		if err := fileRows.Scan(&f.ID, &f.Name, &f.Parent, &f.Size, &f.MD5, &f.Trashed); err != nil {
			return nil, err
		}

		files = append(files, f)
	}
	if err := fileRows.Err(); err != nil {
		return nil, err
	}

	folderRows, err := store.DB.Query(sqlSelectFolders, driveID)
	if err != nil {
		return nil, err
	}

	defer folderRows.Close()
	for folderRows.Next() {
		f := ds.Folder{DriveID: driveID}
		if err := folderRows.Scan(&f.ID, &f.Name, &f.Trashed, &f.Parent); err != nil {
			return nil, err
		}

		folders = append(folders, f)
	}
	if err := folderRows.Err(); err != nil {
		return nil, err
	}

	return &Snapshot{Files: files, Folders: folders}, nil
}

const sqlSelectFolders = `
SELECT id, name, trashed, COALESCE(parent, '')
FROM folders
WHERE drive_id = ? AND parent IS NOT NULL
ORDER BY id ASC
`

const sqlSelectFiles = `
SELECT id, name, parent, size, md5, trashed
FROM files
WHERE drive_id = ?
ORDER BY id ASC
`
