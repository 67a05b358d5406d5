// Command bernard syncs a single Google Shared Drive's metadata into a
// local SQLite mirror and prints what changed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"

	bernard "github.com/kestrel-sync/bernard"
	"github.com/kestrel-sync/bernard/cmd/bernard/devstore"
	ds "github.com/kestrel-sync/bernard/datastore"
)

const (
	colourReset   string = "[0m"
	colourRed     string = "[31;1m"
	colourGreen   string = "[32;1m"
	colourYellow  string = "[33;1m"
	colourMagenta string = "[35;1m"
)

func main() {
	args := os.Args[1:]

	if len(args) != 2 {
		fmt.Println("usage: bernard <driveID> <path to service account key>")
		os.Exit(1)
	}

	driveID := args[0]
	saPath := args[1]

	ctx := context.Background()

	account, err := bernard.AccountFromFile(saPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	store, err := devstore.New("./bernard.db")
	if err != nil {
		panic(err)
	}

	b, err := bernard.NewBuilder("./bernard.db", account).Build(ctx)
	if err != nil {
		panic(err)
	}
	defer b.Close()

	fmt.Printf("%slog%s - Creating snapshot of the old state\n", colourMagenta, colourReset)
	oldState, err := store.CreateSnapshot(driveID)
	if err != nil {
		panic(err)
	}

	fmt.Printf("%slog%s - Syncing changes from Google Drive\n", colourMagenta, colourReset)
	changeSet, err := b.SyncDrive(ctx, driveID)
	if err != nil {
		if errors.Is(err, ds.ErrDataAnomaly) {
			fmt.Printf("\n%swarning%s - A data anomaly occurred. Please try again in 30 seconds.\n", colourYellow, colourReset)
			fmt.Println("If this warning is still visible after multiple retries, please open an issue.")
			os.Exit(1)
		}

		panic(err)
	}

	fmt.Printf("%slog%s - Ran a %s sync\n\n", colourMagenta, colourReset, changeSet.Kind)

	newState, err := store.CreateSnapshot(driveID)
	if err != nil {
		panic(err)
	}

	if reflect.DeepEqual(oldState, newState) {
		fmt.Printf("%slog%s - Old and new states are equal\n", colourMagenta, colourReset)
	} else {
		fmt.Printf("%slog%s - Old and new states are not equal, differences are listed below\n", colourMagenta, colourReset)
	}

	printChangedPaths(changeSet.Paths)
}

func printChangedPaths(paths ds.ChangedPaths) {
	if len(paths.Added) > 0 {
		fmt.Println("\nAdded:")
		for _, p := range paths.Added {
			fmt.Printf("%sadded%s - %s\n", colourGreen, colourReset, p)
		}
	}

	if len(paths.Changed) > 0 {
		fmt.Println("\nChanged:")
		for _, c := range paths.Changed {
			fmt.Printf("%schanged%s - %s -> %s\n", colourYellow, colourReset, c.Old, c.New)
		}
	}

	if len(paths.Removed) > 0 {
		fmt.Println("\nRemoved:")
		for _, p := range paths.Removed {
			fmt.Printf("%sremoved%s - %s\n", colourRed, colourReset, p)
		}
	}
}
