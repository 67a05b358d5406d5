// Package token mints and caches Google Drive access tokens from a
// service-account key, using the standard JWT-bearer assertion flow.
//
// Signing and the token-endpoint exchange are delegated to
// golang.org/x/oauth2/jwt, the library every Drive/Graph-facing repo in
// this codebase's lineage relies on for the same flow; this package only
// wires it to Bernard's cache-policy requirement (refresh once the
// remaining lifetime falls under a 60s safety margin, with concurrent
// callers collapsing onto a single refresh).
package token

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

// DriveReadonlyScope is the only scope Bernard ever requests: Shared
// Drives are mirrored read-only.
const DriveReadonlyScope = "https://www.googleapis.com/auth/drive.readonly"

// tokenEndpoint is where the signed JWT assertion is exchanged for an
// access token. A var, not a const, so tests can point it at a local
// server.
var tokenEndpoint = "https://oauth2.googleapis.com/token"

// earlyExpiry is the safety margin: refresh when the remaining token
// lifetime falls below this.
const earlyExpiry = 60 * time.Second

// Service produces a valid bearer access token on demand, caching it in
// memory and serialising refreshes.
type Service struct {
	source oauth2.TokenSource
}

// New builds a Service from a service-account email and PEM-encoded RSA
// private key.
//
// oauth2.ReuseTokenSourceWithExpiry wraps the jwt.Config's TokenSource with
// the cache policy Bernard needs: the cached token is reused until its
// expiry minus earlyExpiry, and a mutex inside the wrapper serialises
// concurrent refreshes so callers never trigger parallel token-endpoint
// round trips.
func New(email string, privateKeyPEM []byte, scope string) *Service {
	cfg := &jwt.Config{
		Email:      email,
		PrivateKey: privateKeyPEM,
		Scopes:     []string{scope},
		TokenURL:   tokenEndpoint,
	}

	base := cfg.TokenSource(context.Background())
	return &Service{
		source: oauth2.ReuseTokenSourceWithExpiry(nil, base, earlyExpiry),
	}
}

// AccessToken returns a valid bearer token, minting or refreshing one if
// necessary.
//
// Every failure (a malformed key, a rejection from the token endpoint, or
// a transport error during the exchange) is returned wrapped, without
// being classified. Bernard's Drive API client treats any of them as an
// authentication error and does not retry it.
func (s *Service) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.source.Token()
	if err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}
	return tok.AccessToken, nil
}
