// Package bernard mirrors the folder and file metadata of one or more
// Google Shared Drives into a local, queryable datastore, and reports
// what changed between syncs.
package bernard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	ds "github.com/kestrel-sync/bernard/datastore"
	"github.com/kestrel-sync/bernard/datastore/sqlite"
	"github.com/kestrel-sync/bernard/internal/token"
)

// Bernard is a synchronisation engine mirroring Google Shared Drives'
// metadata into a Datastore. A single instance may sync any number of
// drive ids; each is tracked independently and concurrent syncs of the
// same drive id are serialised.
type Bernard struct {
	store  ds.Datastore
	fetch  *fetcher
	group  singleflight.Group
	logger *slog.Logger
}

// Close releases the underlying datastore's connection pool.
func (b *Bernard) Close() error {
	return b.store.Close()
}

// Builder assembles a Bernard instance: a SQLite datastore at a path, and
// a credential Service minting tokens for a service account.
type Builder struct {
	path        string
	account     *Account
	poolSize    int
	httpTimeout time.Duration
	logger      *slog.Logger
}

// NewBuilder starts building a Bernard instance backed by a SQLite
// datastore at path, authenticating as account.
func NewBuilder(path string, account *Account) *Builder {
	return &Builder{
		path:        path,
		account:     account,
		poolSize:    4,
		httpTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
}

// PoolSize bounds the number of open SQLite connections. Defaults to 4.
func (bd *Builder) PoolSize(n int) *Builder {
	bd.poolSize = n
	return bd
}

// HTTPTimeout bounds how long a single Drive API request may run before
// it is treated as a transport failure. Defaults to 30s.
func (bd *Builder) HTTPTimeout(d time.Duration) *Builder {
	bd.httpTimeout = d
	return bd
}

// Logger overrides the structured logger used for retry and sync
// lifecycle events. Defaults to slog.Default().
func (bd *Builder) Logger(logger *slog.Logger) *Builder {
	bd.logger = logger
	return bd
}

// Build opens (and migrates, if necessary) the SQLite datastore and wires
// up the credential and Drive API client layers.
func (bd *Builder) Build(ctx context.Context) (*Bernard, error) {
	if bd.account == nil {
		return nil, fmt.Errorf("builder requires an Account: %w", ErrConfiguration)
	}

	store, err := sqlite.Open(bd.path, sqlite.PoolSize(bd.poolSize))
	if err != nil {
		return nil, err
	}

	svc := token.New(bd.account.Email, bd.account.PrivateKey, token.DriveReadonlyScope)

	fetch := newFetcher(svc)
	fetch.client = &http.Client{Timeout: bd.httpTimeout}
	fetch.logger = bd.logger

	return &Bernard{store: store, fetch: fetch, logger: bd.logger}, nil
}
