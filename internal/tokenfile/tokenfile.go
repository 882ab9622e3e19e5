// Package tokenfile reads and writes the cached OAuth token record.
// A record bundles the oauth2 token with the app credentials and token
// endpoint it was issued against, so a later refresh needs nothing but
// the file. This is a leaf package imported by both config/ and dropbox/.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrCorrupt is returned by Load when a token file exists but cannot be
// decoded or has no usable access token. Callers treat a corrupt cache
// like an absent one and re-authorize.
var ErrCorrupt = errors.New("tokenfile: corrupt token file")

// Record is the on-disk format. Token carries access/refresh tokens and
// expiry; the remaining fields let the lifecycle manager run a refresh
// without re-resolving credentials.
type Record struct {
	Token         *oauth2.Token `json:"token"`
	AppKey        string        `json:"app_key"`
	AppSecret     string        `json:"app_secret"`
	TokenEndpoint string        `json:"token_endpoint"`
}

// Load reads a saved token record. Returns (nil, nil) if no file exists.
// A file that exists but decodes to garbage or lacks an access token
// returns ErrCorrupt (wrapped with the path).
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrCorrupt, path, err)
	}

	if rec.Token == nil || rec.Token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s has no access token", ErrCorrupt, path)
	}

	return &rec, nil
}

// Save writes a token record to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values.
func Save(path string, rec *Record) error {
	if rec == nil || rec.Token == nil || rec.Token.AccessToken == "" {
		return fmt.Errorf("tokenfile: refusing to save record without access token")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a crash between close and
	// rename cannot leave an empty or partial file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Clear removes the token file. Reports whether a file was actually
// removed, so callers can tell "logged out" from "was never logged in".
func Clear(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}
