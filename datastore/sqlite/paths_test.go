package sqlite

import (
	"context"
	"reflect"
	"testing"

	ds "github.com/kestrel-sync/bernard/datastore"
)

// runSync applies one round of upserts/deletes within its own transaction
// (clearing the changelog first, as the Sync Engine does), returns the
// Change Report, then commits and clears the changelog again.
func runSync(t *testing.T, store *Datastore, driveID string, apply func(tx ds.Tx) error) ds.ChangedPaths {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %s", err)
	}
	if err := tx.ClearChangelog(ctx, driveID); err != nil {
		t.Fatalf("clear changelog: %s", err)
	}
	if err := apply(tx); err != nil {
		t.Fatalf("apply: %s", err)
	}

	paths, err := tx.QueryChangedPaths(ctx, driveID)
	if err != nil {
		t.Fatalf("query changed paths: %s", err)
	}

	if err := tx.ClearChangelog(ctx, driveID); err != nil {
		t.Fatalf("clear changelog: %s", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %s", err)
	}

	return paths
}

func TestQueryChangedPathsAdded(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveA"

	paths := runSync(t, store, driveID, func(tx ds.Tx) error {
		if err := tx.UpsertDrive(context.Background(), driveID); err != nil {
			return err
		}
		if err := tx.UpsertFolder(context.Background(), ds.Folder{ID: "A", DriveID: driveID, Name: "Docs", Parent: driveID}); err != nil {
			return err
		}
		return tx.UpsertFile(context.Background(), ds.File{ID: "Z", DriveID: driveID, Name: "report.pdf", Parent: "A"})
	})

	want := ds.ChangedPaths{Added: []string{"/Docs", "/Docs/report.pdf"}}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("got %+v, want %+v", paths, want)
	}
}

func TestQueryChangedPathsMoveWithinSameSync(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveB"
	ctx := context.Background()

	runSync(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		tx.UpsertFolder(ctx, ds.Folder{ID: "A", DriveID: driveID, Name: "A", Parent: driveID})
		tx.UpsertFolder(ctx, ds.Folder{ID: "B", DriveID: driveID, Name: "B", Parent: driveID})
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: "A"})
	})

	// Move the parent folder itself. The file row is never touched this
	// sync, so only the folder is reported; its untouched descendants are
	// not listed.
	paths := runSync(t, store, driveID, func(tx ds.Tx) error {
		return tx.UpsertFolder(ctx, ds.Folder{ID: "A", DriveID: driveID, Name: "A", Parent: "B"})
	})

	want := ds.ChangedPaths{Changed: []ds.PathChange{{Old: "/A", New: "/B/A"}}}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("got %+v, want %+v", paths, want)
	}
}

func TestQueryChangedPathsRemoved(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveC"
	ctx := context.Background()

	runSync(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID})
	})

	paths := runSync(t, store, driveID, func(tx ds.Tx) error {
		return tx.DeleteFile(ctx, "Z", driveID)
	})

	want := ds.ChangedPaths{Removed: []string{"/f.txt"}}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("got %+v, want %+v", paths, want)
	}
}

func TestQueryChangedPathsTrashedIsRemoved(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveD"
	ctx := context.Background()

	runSync(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID})
	})

	paths := runSync(t, store, driveID, func(tx ds.Tx) error {
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID, Trashed: true})
	})

	want := ds.ChangedPaths{Removed: []string{"/f.txt"}}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("got %+v, want %+v", paths, want)
	}
}

func TestQueryChangedPathsNoOp(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveE"
	ctx := context.Background()

	runSync(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID})
	})

	paths := runSync(t, store, driveID, func(tx ds.Tx) error {
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID})
	})

	if len(paths.Added) != 0 || len(paths.Removed) != 0 || len(paths.Changed) != 0 {
		t.Errorf("expected no-op re-upsert to produce no changes, got %+v", paths)
	}
}
