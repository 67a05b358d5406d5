package datastore

// RootFolders splits folders into those whose parent is not itself present
// in the slice (roots, relative to this slice) and the rest.
//
// Deferred foreign-key checking means the Sync Engine no longer needs this
// ordering for correctness, but applying folders root-first within a page
// keeps upserts legible during debugging and keeps this helper exercised by
// allFilesAndFolders, which orders every full-sync page this way.
func RootFolders(folders []Folder) (roots []Folder, nonRoots []Folder) {
	IDtoParent := make(map[string]string)
	IDtoFolder := make(map[string]Folder)

	for _, folder := range folders {
		IDtoParent[folder.ID] = folder.Parent
		IDtoFolder[folder.ID] = folder
	}

	for _, f := range folders {
		if _, ok := IDtoParent[f.Parent]; ok {
			nonRoots = append(nonRoots, IDtoFolder[f.ID])
		} else {
			roots = append(roots, IDtoFolder[f.ID])
		}
	}

	return roots, nonRoots
}

// OrderFoldersOnHierarchy repeatedly peels off RootFolders until every
// folder has been ordered parent-before-child.
func OrderFoldersOnHierarchy(nonRoots []Folder) (ordered []Folder) {
	for {
		if len(nonRoots) == 0 {
			break
		}

		roots, newNonRoots := RootFolders(nonRoots)
		nonRoots = newNonRoots

		ordered = append(ordered, roots...)
	}

	return ordered
}
