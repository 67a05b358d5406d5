package sqlite

import (
	"context"
	"fmt"
	"sort"

	ds "github.com/kestrel-sync/bernard/datastore"
)

// maxPathDepth guards the chain walk against a cyclic or orphaned parent
// reference, which should be impossible under the schema's deferred
// foreign keys but would otherwise recurse forever on corrupted data.
const maxPathDepth = 10000

type folderRow struct {
	parent  string
	name    string
	trashed bool
}

// QueryChangedPaths derives the Change Report from the change log
// accumulated in this transaction.
//
// Paths are computed with a two-phase walk: first walk up through the
// changelog rows themselves (so a folder and its parent moving in the
// same sync reconstruct the in-change chain), then, at the top of that
// chain, splice onto the live folders table and continue to the drive
// root. This is an in-memory alternative to a recursive SQL view, built
// the same way a full-sync page orders its rows: a map from id to
// parent, walked iteratively.
func (t *Tx) QueryChangedPaths(ctx context.Context, driveID string) (ds.ChangedPaths, error) {
	live, err := t.liveFolders(ctx, driveID)
	if err != nil {
		return ds.ChangedPaths{}, err
	}

	liveCache := map[string]string{driveID: ""}
	livePath := func(id string) (string, error) {
		return walkPath(id, liveCache, func(id string) (folderRow, bool) {
			row, ok := live[id]
			return row, ok
		}, nil)
	}

	chFolder0, chFolder1, err := t.folderChangelog(ctx, driveID)
	if err != nil {
		return ds.ChangedPaths{}, err
	}

	chainCache := map[int]map[string]string{0: {driveID: ""}, 1: {driveID: ""}}
	chainPath := func(id string, deleted int) (string, error) {
		lookup := chFolder0
		if deleted == 1 {
			lookup = chFolder1
		}
		return walkPath(id, chainCache[deleted], func(id string) (folderRow, bool) {
			row, ok := lookup[id]
			return row, ok
		}, livePath)
	}

	var entries []pathEntry

	for id, row0 := range chFolder0 {
		row1, has1 := chFolder1[id]
		entry, ok, err := classify(true, row0, true, row1, has1, chainPath)
		if err != nil {
			return ds.ChangedPaths{}, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	for id, row1 := range chFolder1 {
		if _, has0 := chFolder0[id]; has0 {
			continue // already handled above
		}
		entry, ok, err := classify(true, folderRow{}, false, row1, true, chainPath)
		if err != nil {
			return ds.ChangedPaths{}, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}

	chFile0, chFile1, err := t.fileChangelog(ctx, driveID)
	if err != nil {
		return ds.ChangedPaths{}, err
	}

	for id, row0 := range chFile0 {
		row1, has1 := chFile1[id]
		entry, ok, err := classify(false, row0, true, row1, has1, chainPath)
		if err != nil {
			return ds.ChangedPaths{}, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}
	for id, row1 := range chFile1 {
		if _, has0 := chFile0[id]; has0 {
			continue
		}
		entry, ok, err := classify(false, folderRow{}, false, row1, true, chainPath)
		if err != nil {
			return ds.ChangedPaths{}, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}

	return bucket(entries), nil
}

// pathEntry is an intermediate classification result before sorting.
type pathEntry struct {
	kind     byte // 'a' added, 'r' removed, 'c' changed
	isFolder bool
	path     string
	oldPath  string
	newPath  string
}

func classify(
	isFolder bool,
	row0 folderRow, has0 bool,
	row1 folderRow, has1 bool,
	chainPath func(id string, deleted int) (string, error),
) (pathEntry, bool, error) {
	switch {
	case has0 && has1:
		oldPath, err := effectivePath(row1, chainPath, 1)
		if err != nil {
			return pathEntry{}, false, err
		}
		newPath, err := effectivePath(row0, chainPath, 0)
		if err != nil {
			return pathEntry{}, false, err
		}

		if row0.trashed {
			return pathEntry{kind: 'r', isFolder: isFolder, path: newPath}, true, nil
		}
		if oldPath != newPath {
			return pathEntry{kind: 'c', isFolder: isFolder, oldPath: oldPath, newPath: newPath}, true, nil
		}
		return pathEntry{}, false, nil

	case has0 && !has1:
		newPath, err := effectivePath(row0, chainPath, 0)
		if err != nil {
			return pathEntry{}, false, err
		}
		if row0.trashed {
			return pathEntry{kind: 'r', isFolder: isFolder, path: newPath}, true, nil
		}
		return pathEntry{kind: 'a', isFolder: isFolder, path: newPath}, true, nil

	case has1 && !has0:
		oldPath, err := effectivePath(row1, chainPath, 1)
		if err != nil {
			return pathEntry{}, false, err
		}
		return pathEntry{kind: 'r', isFolder: isFolder, path: oldPath}, true, nil

	default:
		return pathEntry{}, false, nil
	}
}

func effectivePath(row folderRow, chainPath func(id string, deleted int) (string, error), deleted int) (string, error) {
	prefix, err := chainPath(row.parent, deleted)
	if err != nil {
		return "", err
	}
	return prefix + "/" + row.name, nil
}

// walkPath climbs the chain of ids via lookup, falling back to fallback
// (the live table) once an id is no longer found in lookup, per the
// two-phase splice. cache memoizes (and bounds) the recursion.
func walkPath(
	id string,
	cache map[string]string,
	lookup func(id string) (folderRow, bool),
	fallback func(id string) (string, error),
) (string, error) {
	if p, ok := cache[id]; ok {
		return p, nil
	}

	seen := make(map[string]bool)
	var segments []string
	cur := id

	for {
		if p, ok := cache[cur]; ok {
			segments = append(segments, p)
			break
		}

		if seen[cur] {
			return "", fmt.Errorf("path cycle detected at %v: %w", cur, ds.ErrDataAnomaly)
		}
		seen[cur] = true

		if len(segments) > maxPathDepth {
			return "", fmt.Errorf("path depth exceeded at %v: %w", cur, ds.ErrDataAnomaly)
		}

		row, ok := lookup(cur)
		if !ok {
			if fallback == nil {
				return "", fmt.Errorf("unresolved parent %v: %w", cur, ds.ErrDataAnomaly)
			}
			p, err := fallback(cur)
			if err != nil {
				return "", err
			}
			segments = append(segments, p)
			break
		}

		segments = append(segments, row.name)
		cur = row.parent
	}

	// segments were collected leaf-to-root; reverse and join.
	path := segments[len(segments)-1]
	for i := len(segments) - 2; i >= 0; i-- {
		path += "/" + segments[i]
	}

	cache[id] = path
	return path, nil
}

func bucket(entries []pathEntry) ds.ChangedPaths {
	sort.Slice(entries, func(i, j int) bool {
		pi, pj := entryPath(entries[i]), entryPath(entries[j])
		if pi != pj {
			return pi < pj
		}
		return entries[i].isFolder && !entries[j].isFolder
	})

	var out ds.ChangedPaths
	for _, e := range entries {
		switch e.kind {
		case 'a':
			out.Added = append(out.Added, e.path)
		case 'r':
			out.Removed = append(out.Removed, e.path)
		case 'c':
			out.Changed = append(out.Changed, ds.PathChange{Old: e.oldPath, New: e.newPath})
		}
	}
	return out
}

func entryPath(e pathEntry) string {
	if e.kind == 'c' {
		return e.newPath
	}
	return e.path
}

func (t *Tx) liveFolders(ctx context.Context, driveID string) (map[string]folderRow, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, trashed, COALESCE(parent, '') FROM folders WHERE drive_id = ?
	`, driveID)
	if err != nil {
		return nil, fmt.Errorf("query live folders: %w", ds.ErrDatabase)
	}
	defer rows.Close()

	out := make(map[string]folderRow)
	for rows.Next() {
		var id string
		var r folderRow
		if err := rows.Scan(&id, &r.name, &r.trashed, &r.parent); err != nil {
			return nil, fmt.Errorf("scan live folder: %w", ds.ErrDatabase)
		}
		out[id] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate live folders: %w", ds.ErrDatabase)
	}
	return out, nil
}

// folderChangelog skips the synthetic drive-root folder, which has no path
// segment of its own and is never part of the Change Report.
func (t *Tx) folderChangelog(ctx context.Context, driveID string) (added, removed map[string]folderRow, err error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, deleted, name, trashed, COALESCE(parent, '') FROM folder_changelog WHERE drive_id = ? AND id != drive_id
	`, driveID)
	if err != nil {
		return nil, nil, fmt.Errorf("query folder changelog: %w", ds.ErrDatabase)
	}
	defer rows.Close()

	added = make(map[string]folderRow)
	removed = make(map[string]folderRow)
	for rows.Next() {
		var id string
		var deleted bool
		var r folderRow
		if err := rows.Scan(&id, &deleted, &r.name, &r.trashed, &r.parent); err != nil {
			return nil, nil, fmt.Errorf("scan folder changelog: %w", ds.ErrDatabase)
		}
		if deleted {
			removed[id] = r
		} else {
			added[id] = r
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate folder changelog: %w", ds.ErrDatabase)
	}
	return added, removed, nil
}

func (t *Tx) fileChangelog(ctx context.Context, driveID string) (added, removed map[string]folderRow, err error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, deleted, name, trashed, parent FROM file_changelog WHERE drive_id = ?
	`, driveID)
	if err != nil {
		return nil, nil, fmt.Errorf("query file changelog: %w", ds.ErrDatabase)
	}
	defer rows.Close()

	added = make(map[string]folderRow)
	removed = make(map[string]folderRow)
	for rows.Next() {
		var id string
		var deleted bool
		var r folderRow
		if err := rows.Scan(&id, &deleted, &r.name, &r.trashed, &r.parent); err != nil {
			return nil, nil, fmt.Errorf("scan file changelog: %w", ds.ErrDatabase)
		}
		if deleted {
			removed[id] = r
		} else {
			added[id] = r
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate file changelog: %w", ds.ErrDatabase)
	}
	return added, removed, nil
}
