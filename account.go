package bernard

import (
	"encoding/json"
	"fmt"
	"os"
)

// Account holds the fields Bernard needs from a Google service-account key
// file to mint Drive API access tokens.
type Account struct {
	Email      string
	PrivateKey []byte
}

// serviceAccountFile mirrors the subset of a Google service-account JSON
// key file Bernard consumes.
type serviceAccountFile struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// AccountFromFile loads a service-account key file and extracts the
// client_email and private_key fields needed to sign JWT assertions.
func AccountFromFile(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", ErrConfiguration)
	}

	var sa serviceAccountFile
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parse service account file: %w", ErrConfiguration)
	}

	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("service account file missing client_email or private_key: %w", ErrConfiguration)
	}

	return &Account{
		Email:      sa.ClientEmail,
		PrivateKey: []byte(sa.PrivateKey),
	}, nil
}
