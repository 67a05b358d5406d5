package sqlite

import (
	"context"
	"reflect"
	"testing"

	ds "github.com/kestrel-sync/bernard/datastore"
)

func runSyncDiff(t *testing.T, store *Datastore, driveID string, apply func(tx ds.Tx) error) Difference {
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

	diff, err := tx.QueryDifference(ctx, driveID)
	if err != nil {
		t.Fatalf("query difference: %s", err)
	}

	if err := tx.ClearChangelog(ctx, driveID); err != nil {
		t.Fatalf("clear changelog: %s", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %s", err)
	}

	return diff
}

func TestQueryDifferenceAdded(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveA"
	ctx := context.Background()

	diff := runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		if err := tx.UpsertDrive(ctx, driveID); err != nil {
			return err
		}
		if err := tx.UpsertFolder(ctx, ds.Folder{ID: "A", DriveID: driveID, Name: "Docs", Parent: driveID}); err != nil {
			return err
		}
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "report.pdf", Parent: "A", MD5: "ZZZ", Size: 10})
	})

	wantFolders := []ds.Folder{{ID: "A", DriveID: driveID, Name: "Docs", Parent: driveID}}
	if !reflect.DeepEqual(diff.AddedFolders, wantFolders) {
		t.Errorf("got added folders %+v, want %+v", diff.AddedFolders, wantFolders)
	}

	wantFiles := []ds.File{{ID: "Z", DriveID: driveID, Name: "report.pdf", Parent: "A", MD5: "ZZZ", Size: 10}}
	if !reflect.DeepEqual(diff.AddedFiles, wantFiles) {
		t.Errorf("got added files %+v, want %+v", diff.AddedFiles, wantFiles)
	}

	if len(diff.ChangedFolders) != 0 || len(diff.RemovedFolders) != 0 {
		t.Errorf("expected no changed/removed folders, got %+v", diff)
	}
	if len(diff.ChangedFiles) != 0 || len(diff.RemovedFiles) != 0 {
		t.Errorf("expected no changed/removed files, got %+v", diff)
	}
}

func TestQueryDifferenceChangedFileMD5(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveB"
	ctx := context.Background()

	runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID, MD5: "AAA", Size: 1})
	})

	diff := runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID, MD5: "BBB", Size: 2})
	})

	wantFiles := []ds.File{{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID, MD5: "BBB", Size: 2}}
	if !reflect.DeepEqual(diff.ChangedFiles, wantFiles) {
		t.Errorf("got changed files %+v, want %+v", diff.ChangedFiles, wantFiles)
	}
	if len(diff.AddedFiles) != 0 || len(diff.RemovedFiles) != 0 {
		t.Errorf("expected no added/removed files, got %+v", diff)
	}
}

func TestQueryDifferenceRemovedFolder(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveC"
	ctx := context.Background()

	runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		return tx.UpsertFolder(ctx, ds.Folder{ID: "A", DriveID: driveID, Name: "A", Parent: driveID})
	})

	diff := runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		return tx.DeleteFolder(ctx, "A", driveID)
	})

	wantFolders := []ds.Folder{{ID: "A", DriveID: driveID, Name: "A", Parent: driveID}}
	if !reflect.DeepEqual(diff.RemovedFolders, wantFolders) {
		t.Errorf("got removed folders %+v, want %+v", diff.RemovedFolders, wantFolders)
	}
}

func TestQueryDifferenceNoOp(t *testing.T) {
	store := setupTest(t)
	const driveID = "driveD"
	ctx := context.Background()

	runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		tx.UpsertDrive(ctx, driveID)
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID, MD5: "AAA", Size: 1})
	})

	diff := runSyncDiff(t, store, driveID, func(tx ds.Tx) error {
		return tx.UpsertFile(ctx, ds.File{ID: "Z", DriveID: driveID, Name: "f.txt", Parent: driveID, MD5: "AAA", Size: 1})
	})

	if len(diff.AddedFiles) != 0 || len(diff.ChangedFiles) != 0 || len(diff.RemovedFiles) != 0 {
		t.Errorf("expected no-op re-upsert to produce no difference, got %+v", diff)
	}
}
