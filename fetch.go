package bernard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	ds "github.com/kestrel-sync/bernard/datastore"
)

// folderMimeType is the Drive mimeType distinguishing a folder from every
// other file type.
const folderMimeType = "application/vnd.google-apps.folder"

// Authenticator mints a bearer access token for Drive API requests. The
// internal/token package is the only implementation Bernard ships, but
// tests and alternative credential flows can satisfy this directly.
type Authenticator interface {
	AccessToken(ctx context.Context) (string, error)
}

type driveItem struct {
	ID          string
	Name        string
	MimeType    string
	Parents     []string
	Size        int64 `json:"size,string"`
	MD5Checksum string
	Trashed     bool
	DriveID     string `json:"driveId"`
}

type driveReference struct {
	ID   string
	Name string
}

type driveChange struct {
	DriveID string `json:"driveId"`
	FileID  string
	Removed bool
	Drive   *driveReference
	File    *driveItem
}

type driveAPIError struct {
	Domain  string
	Message string
	Reason  string
}

type errorResponse struct {
	Error struct {
		Errors  []driveAPIError
		Code    int
		Message string
	}
}

// changeItem is one parsed row of a Changes page: either a removal
// (tombstone) or an upsert of the file/folder it now carries.
type changeItem struct {
	id      string
	removed bool
	folder  *ds.Folder
	file    *ds.File
}

// changePage is a single page of the change feed, translated into the
// upserts/removals the Sync Engine must apply, plus the cursor bookkeeping
// it needs to carry across pages.
type changePage struct {
	items             []changeItem
	newStartPageToken string // set only on the final page
	last              bool
}

// fetcher is the Drive API client: a thin HTTP layer that authenticates
// every request, retries transient failures with backoff, and classifies
// the rest into Bernard's error taxonomy.
type fetcher struct {
	auth    Authenticator
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func newFetcher(auth Authenticator) *fetcher {
	return &fetcher{
		auth:    auth,
		baseURL: "https://www.googleapis.com/drive/v3",
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
}

// backoff is the retry policy for flaky upstream HTTP calls: exponential
// with jitter, capped per-attempt wait, bounded overall.
func backoff() retry.Backoff {
	b, _ := retry.NewExponential(1 * time.Second)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(32*time.Second, b)
	b = retry.WithMaxDuration(10*time.Minute, b)
	return b
}

// withAuth issues req with a fresh bearer token, retrying transient Drive
// API failures (429, 408, and 5xx, plus connection errors) with backoff. Fatal
// classifications (401, non-rate-limited 403, 404, 400) are returned
// immediately without retrying; a 401/403 means the caller should mint a
// fresh token on the next sync attempt rather than spin here.
func (fetch *fetcher) withAuth(ctx context.Context, req *http.Request) (*http.Response, error) {
	var res *http.Response

	err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		token, err := fetch.auth.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("mint access token: %w", ErrAuth)
		}

		attempt := req.Clone(ctx)
		attempt.Header.Set("Authorization", "Bearer "+token)

		r, err := fetch.client.Do(attempt)
		if err != nil {
			fetch.logger.Warn("retrying after network error",
				slog.String("url", req.URL.String()), slog.String("error", err.Error()))
			return retry.RetryableError(fmt.Errorf("%v: %w", err, ErrTransport))
		}

		if r.StatusCode == http.StatusOK {
			res = r
			return nil
		}

		defer r.Body.Close()
		var parsed errorResponse
		json.NewDecoder(r.Body).Decode(&parsed)

		switch r.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			fetch.logger.Warn("retrying after HTTP error",
				slog.String("url", req.URL.String()), slog.Int("status", r.StatusCode))
			return retry.RetryableError(fmt.Errorf("%v: %w", parsed.Error.Message, ErrTransport))
		case http.StatusUnauthorized:
			return fmt.Errorf("%v: %w", parsed.Error.Message, ErrAuth)
		case http.StatusForbidden:
			reasons := parsed.Error.Errors
			if len(reasons) > 0 && (reasons[0].Reason == "userRateLimitExceeded" || reasons[0].Reason == "rateLimitExceeded") {
				return retry.RetryableError(fmt.Errorf("%v: %w", parsed.Error.Message, ErrRateLimited))
			}
			return fmt.Errorf("%v: %w", parsed.Error.Message, ErrAuth)
		case http.StatusNotFound:
			return fmt.Errorf("%v: %w", parsed.Error.Message, ErrNotFound)
		default:
			return fmt.Errorf("%v: %w", parsed.Error.Message, ErrMalformed)
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// startPageToken fetches the cursor that marks "now" for driveID, used to
// seed a full sync's follow-up partial sync.
func (fetch *fetcher) startPageToken(ctx context.Context, driveID string) (string, error) {
	req, _ := http.NewRequest("GET", fetch.baseURL+"/changes/startPageToken", nil)

	q := url.Values{}
	q.Set("driveId", driveID)
	q.Set("supportsAllDrives", "true")
	req.URL.RawQuery = q.Encode()

	res, err := fetch.withAuth(ctx, req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var response struct {
		StartPageToken string
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode start page token: %w", ErrMalformed)
	}
	return response.StartPageToken, nil
}

// allFilesAndFolders streams every non-trashed-or-trashed file and folder
// visible under driveID, one page at a time, invoking onPage with folders
// ordered root-before-child within that page.
func (fetch *fetcher) allFilesAndFolders(ctx context.Context, driveID string, onPage func(folders []ds.Folder, files []ds.File) error) error {
	var pageToken string

	for {
		req, _ := http.NewRequest("GET", fetch.baseURL+"/files", nil)

		q := url.Values{}
		q.Set("corpora", "drive")
		q.Set("driveId", driveID)
		q.Set("pageSize", "1000")
		q.Set("includeItemsFromAllDrives", "true")
		q.Set("supportsAllDrives", "true")
		q.Set("fields", "nextPageToken,files(id,name,mimeType,parents,md5Checksum,size,trashed)")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		req.URL.RawQuery = q.Encode()

		res, err := fetch.withAuth(ctx, req)
		if err != nil {
			return err
		}

		var response struct {
			Files         []driveItem
			NextPageToken string
		}
		decodeErr := json.NewDecoder(res.Body).Decode(&response)
		res.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("decode files page: %w", ErrMalformed)
		}

		folders, files := convert(driveID, response.Files)
		ordered := ds.OrderFoldersOnHierarchy(folders)

		if err := onPage(ordered, files); err != nil {
			return err
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			return nil
		}
	}
}

// changes streams the change feed starting at pageToken, one page at a
// time. onPage receives the page's items plus, on the final page, the new
// start page token the Sync Engine must persist.
func (fetch *fetcher) changes(ctx context.Context, driveID, pageToken string, onPage func(changePage) error) error {
	for {
		req, _ := http.NewRequest("GET", fetch.baseURL+"/changes", nil)

		q := url.Values{}
		q.Set("driveId", driveID)
		q.Set("pageSize", "1000")
		q.Set("pageToken", pageToken)
		q.Set("includeItemsFromAllDrives", "true")
		q.Set("supportsAllDrives", "true")
		q.Set("fields", "nextPageToken,newStartPageToken,changes(fileId,removed,file(id,driveId,name,mimeType,parents,md5Checksum,size,trashed))")
		req.URL.RawQuery = q.Encode()

		res, err := fetch.withAuth(ctx, req)
		if err != nil {
			return err
		}

		var response struct {
			NextPageToken     string
			NewStartPageToken string
			Changes           []driveChange
		}
		decodeErr := json.NewDecoder(res.Body).Decode(&response)
		res.Body.Close()
		if decodeErr != nil {
			return fmt.Errorf("decode changes page: %w", ErrMalformed)
		}

		var items []changeItem
		for _, change := range response.Changes {
			if change.FileID == "" {
				// A drive-level metadata change (e.g. a Shared Drive
				// rename). Bernard's Drive record only tracks the page
				// token, so there is nothing to apply.
				continue
			}

			if change.Removed || change.File == nil || change.File.DriveID != driveID {
				items = append(items, changeItem{id: change.FileID, removed: true})
				continue
			}

			folders, files := convert(driveID, []driveItem{*change.File})
			switch {
			case len(folders) == 1:
				items = append(items, changeItem{id: change.FileID, folder: &folders[0]})
			case len(files) == 1:
				items = append(items, changeItem{id: change.FileID, file: &files[0]})
			}
		}

		page := changePage{items: items}
		pageToken = response.NextPageToken
		if pageToken == "" {
			page.last = true
			page.newStartPageToken = response.NewStartPageToken
		}

		if err := onPage(page); err != nil {
			return err
		}

		if page.last {
			return nil
		}
	}
}

func convert(driveID string, items []driveItem) (folders []ds.Folder, files []ds.File) {
	for _, item := range items {
		var parent string
		if len(item.Parents) > 0 {
			parent = item.Parents[0]
		}

		if item.MimeType == folderMimeType {
			folders = append(folders, ds.Folder{
				ID:      item.ID,
				DriveID: driveID,
				Name:    item.Name,
				Parent:  parent,
				Trashed: item.Trashed,
			})
		} else {
			files = append(files, ds.File{
				ID:      item.ID,
				DriveID: driveID,
				Name:    item.Name,
				Parent:  parent,
				Trashed: item.Trashed,
				MD5:     item.MD5Checksum,
				Size:    item.Size,
			})
		}
	}
	return folders, files
}
