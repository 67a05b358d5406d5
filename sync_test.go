package bernard

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	ds "github.com/kestrel-sync/bernard/datastore"
	"github.com/kestrel-sync/bernard/datastore/sqlite"
)

const syncTestDriveID = "driveSync"

func setupBernard(t *testing.T, handler http.HandlerFunc) *Bernard {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open datastore: %s", err)
	}
	t.Cleanup(func() { store.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &Bernard{
		store:  store,
		fetch:  &fetcher{auth: mockAuth{}, baseURL: server.URL, client: server.Client(), logger: slog.Default()},
		logger: slog.Default(),
	}
}

// TestSyncDriveFullThenPartial exercises a bootstrap full sync followed by
// an incremental partial sync against the stored page token, the way a
// long-running process calls SyncDrive repeatedly.
func TestSyncDriveFullThenPartial(t *testing.T) {
	var changesCalls int32

	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/changes/startPageToken":
			w.Write([]byte(`{"startPageToken":"100"}`))
		case r.URL.Path == "/files":
			w.Write([]byte(`{"files":[
				{"id":"A","name":"Docs","mimeType":"application/vnd.google-apps.folder","parents":["` + syncTestDriveID + `"]},
				{"id":"Z","name":"report.pdf","mimeType":"application/pdf","parents":["A"],"md5Checksum":"ZZZ","size":"10"}
			]}`))
		case r.URL.Path == "/changes":
			n := atomic.AddInt32(&changesCalls, 1)
			if n == 1 {
				w.Write([]byte(`{
					"newStartPageToken": "200",
					"changes": [
						{"fileId":"Y","file":{"id":"Y","driveId":"` + syncTestDriveID + `","name":"new.txt","mimeType":"text/plain","parents":["A"],"md5Checksum":"YYY","size":"5"}}
					]
				}`))
				return
			}
			t.Fatalf("unexpected extra /changes call")
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}

	b := setupBernard(t, handler)
	ctx := context.Background()

	fullChanges, err := b.SyncDrive(ctx, syncTestDriveID)
	if err != nil {
		t.Fatalf("full sync: %s", err)
	}
	if !fullChanges.Kind.IsFull() {
		t.Errorf("expected a full sync")
	}
	if !reflect.DeepEqual(fullChanges.Paths, ds.ChangedPaths{}) {
		t.Errorf("expected no Change Report for a full sync, got %+v", fullChanges.Paths)
	}

	partialChanges, err := b.SyncDrive(ctx, syncTestDriveID)
	if err != nil {
		t.Fatalf("partial sync: %s", err)
	}
	if !partialChanges.Kind.IsPartial() {
		t.Errorf("expected a partial sync")
	}
	wantPartial := ds.ChangedPaths{Added: []string{"/Docs/new.txt"}}
	if !reflect.DeepEqual(partialChanges.Paths, wantPartial) {
		t.Errorf("got %+v, want %+v", partialChanges.Paths, wantPartial)
	}

	token, err := b.store.PageToken(ctx, syncTestDriveID)
	if err != nil {
		t.Fatalf("page token: %s", err)
	}
	if token != "200" {
		t.Errorf("got page token %q, want %q", token, "200")
	}
}

func TestSyncDrivePartialRemoval(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/changes/startPageToken":
			w.Write([]byte(`{"startPageToken":"100"}`))
		case r.URL.Path == "/files":
			w.Write([]byte(`{"files":[
				{"id":"Z","name":"report.pdf","mimeType":"application/pdf","parents":["` + syncTestDriveID + `"],"md5Checksum":"ZZZ","size":"10"}
			]}`))
		case r.URL.Path == "/changes":
			w.Write([]byte(`{"newStartPageToken":"200","changes":[{"fileId":"Z","removed":true}]}`))
		default:
			t.Fatalf("unexpected request: %s", r.URL.Path)
		}
	}

	b := setupBernard(t, handler)
	ctx := context.Background()

	if _, err := b.SyncDrive(ctx, syncTestDriveID); err != nil {
		t.Fatalf("full sync: %s", err)
	}

	partialChanges, err := b.SyncDrive(ctx, syncTestDriveID)
	if err != nil {
		t.Fatalf("partial sync: %s", err)
	}

	want := ds.ChangedPaths{Removed: []string{"/report.pdf"}}
	if !reflect.DeepEqual(partialChanges.Paths, want) {
		t.Errorf("got %+v, want %+v", partialChanges.Paths, want)
	}
}
