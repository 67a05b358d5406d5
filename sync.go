package bernard

import (
	"context"
	"errors"
	"log/slog"

	ds "github.com/kestrel-sync/bernard/datastore"
)

// SyncDrive brings driveID's mirror up to date: a full sync if the store
// has never completed one for this drive, otherwise an incremental
// partial sync resumed from the stored page token.
//
// Concurrent callers syncing the same driveID collapse onto a single
// in-flight sync via singleflight; all of them receive that sync's
// ChangeSet and error rather than racing each other's transactions.
func (b *Bernard) SyncDrive(ctx context.Context, driveID string) (ChangeSet, error) {
	v, err, _ := b.group.Do(driveID, func() (interface{}, error) {
		return b.syncDrive(ctx, driveID)
	})
	if err != nil {
		return ChangeSet{}, err
	}
	return v.(ChangeSet), nil
}

func (b *Bernard) syncDrive(ctx context.Context, driveID string) (ChangeSet, error) {
	pageToken, err := b.store.PageToken(ctx, driveID)
	switch {
	case err == nil && pageToken != "":
		return b.partialSync(ctx, driveID)
	case errors.Is(err, ds.ErrFullSyncRequired), err == nil:
		// A stored drive row with an empty page token means a prior full
		// sync was interrupted after its reset step committed but before
		// its finalize step did; redoing the full sync from scratch is
		// safe since it wipes whatever partial state that crash left
		// behind.
		return b.fullSync(ctx, driveID)
	default:
		return ChangeSet{}, err
	}
}

// runTx opens a Tx, runs fn, and commits, rolling back on any error from fn
// or from Commit itself.
func (b *Bernard) runTx(ctx context.Context, fn func(ds.Tx) error) error {
	tx, err := b.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// fullSync discards any prior state for driveID and re-ingests everything
// the account can currently see. The "now" cursor is minted before listing
// so nothing committed between the list and the cursor fetch is lost. Each
// page from allFilesAndFolders commits in its own transaction, so a crash
// partway through leaves the store at some earlier page's commit rather
// than rolling back pages already applied.
//
// A full sync is, by definition, not a delta against a prior sync: every
// surviving row looks freshly added once RemoveDrive has wiped the table,
// regardless of whether the account actually changed anything. Reporting
// that as a Change Report would mislead a consumer expecting real deltas,
// so the returned ChangeSet carries no Paths for a full sync.
func (b *Bernard) fullSync(ctx context.Context, driveID string) (ChangeSet, error) {
	b.logger.Info("starting full sync", slog.String("drive_id", driveID))

	startPageToken, err := b.fetch.startPageToken(ctx, driveID)
	if err != nil {
		return ChangeSet{}, err
	}

	err = b.runTx(ctx, func(tx ds.Tx) error {
		if err := tx.RemoveDrive(ctx, driveID); err != nil {
			return err
		}
		if err := tx.UpsertDrive(ctx, driveID); err != nil {
			return err
		}
		return tx.ClearChangelog(ctx, driveID)
	})
	if err != nil {
		return ChangeSet{}, err
	}

	err = b.fetch.allFilesAndFolders(ctx, driveID, func(folders []ds.Folder, files []ds.File) error {
		return b.runTx(ctx, func(tx ds.Tx) error {
			for _, folder := range folders {
				if err := tx.UpsertFolder(ctx, folder); err != nil {
					return err
				}
			}
			for _, file := range files {
				if err := tx.UpsertFile(ctx, file); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return ChangeSet{}, err
	}

	err = b.runTx(ctx, func(tx ds.Tx) error {
		if err := tx.SetPageToken(ctx, driveID, startPageToken); err != nil {
			return err
		}
		return tx.ClearChangelog(ctx, driveID)
	})
	if err != nil {
		return ChangeSet{}, err
	}

	b.logger.Info("full sync complete", slog.String("drive_id", driveID))

	return ChangeSet{Kind: FullSyncKind()}, nil
}

// partialSync streams the change feed from the stored page token and
// commits each page's upserts and tombstones in its own transaction, so a
// crash or cancellation mid-stream leaves the store at whichever page last
// committed rather than discarding the whole batch. The change log
// accumulates across those page commits and is only read and cleared in
// the finalize step. A removal's id might belong to a folder or a file;
// both deletes are attempted and the one that matches nothing is a no-op.
func (b *Bernard) partialSync(ctx context.Context, driveID string) (ChangeSet, error) {
	b.logger.Info("starting partial sync", slog.String("drive_id", driveID))

	pageToken, err := b.store.PageToken(ctx, driveID)
	if err != nil {
		return ChangeSet{}, err
	}

	if err := b.runTx(ctx, func(tx ds.Tx) error {
		return tx.ClearChangelog(ctx, driveID)
	}); err != nil {
		return ChangeSet{}, err
	}

	var newStartPageToken string

	err = b.fetch.changes(ctx, driveID, pageToken, func(page changePage) error {
		err := b.runTx(ctx, func(tx ds.Tx) error {
			for _, item := range page.items {
				switch {
				case item.folder != nil:
					if err := tx.UpsertFolder(ctx, *item.folder); err != nil {
						return err
					}
				case item.file != nil:
					if err := tx.UpsertFile(ctx, *item.file); err != nil {
						return err
					}
				case item.removed:
					if err := tx.DeleteFolder(ctx, item.id, driveID); err != nil {
						return err
					}
					if err := tx.DeleteFile(ctx, item.id, driveID); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if page.last {
			newStartPageToken = page.newStartPageToken
		}
		return nil
	})
	if err != nil {
		return ChangeSet{}, err
	}

	var paths ds.ChangedPaths

	err = b.runTx(ctx, func(tx ds.Tx) error {
		var err error
		paths, err = tx.QueryChangedPaths(ctx, driveID)
		if err != nil {
			return err
		}

		if newStartPageToken != "" && newStartPageToken != pageToken {
			if err := tx.SetPageToken(ctx, driveID, newStartPageToken); err != nil {
				return err
			}
		}
		return tx.ClearChangelog(ctx, driveID)
	})
	if err != nil {
		return ChangeSet{}, err
	}

	b.logger.Info("partial sync complete", slog.String("drive_id", driveID),
		slog.Int("added", len(paths.Added)), slog.Int("changed", len(paths.Changed)), slog.Int("removed", len(paths.Removed)))

	return ChangeSet{Kind: PartialSyncKind(), Paths: paths}, nil
}
