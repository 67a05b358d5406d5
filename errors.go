package bernard

import "errors"

// ErrConfiguration indicates an unreadable, malformed or incomplete
// service-account key file, or a Builder without an Account. Fatal; not
// retried.
var ErrConfiguration = errors.New("bernard: configuration error")

// ErrAuth indicates the token endpoint or the Drive API itself rejected
// the credentials (invalid/expired token, insufficient scope, access
// denied). Fatal; not retried.
var ErrAuth = errors.New("bernard: authentication error")

// ErrTransport indicates a connect/read failure or a 5xx/408/429 response
// from the Drive API. The client already retries these with backoff; this
// error only surfaces once the retry budget is exhausted.
var ErrTransport = errors.New("bernard: transport error")

// ErrRateLimited indicates the Drive API's own rate limiting kicked in
// (a 403 with a rate-limit reason; a 429 is reported as ErrTransport).
// Also retried with backoff before surfacing.
var ErrRateLimited = errors.New("bernard: rate limited")

// ErrNotFound indicates the service account cannot see the requested
// Shared Drive, or the drive id does not exist.
var ErrNotFound = errors.New("bernard: drive not found")

// ErrMalformed indicates the Drive API returned a response Bernard could
// not parse into the shape it expects.
var ErrMalformed = errors.New("bernard: malformed response")
