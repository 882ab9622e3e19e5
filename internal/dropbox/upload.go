package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mtuomi/dropbox-go/internal/table"
)

// writeModeOverwrite is the only write mode this client uses: uploads
// always replace whatever is at the remote path.
const writeModeOverwrite = "overwrite"

// Upload sends a local file to the content API, replacing any existing
// file at remotePath. The whole file is read into memory: the
// /files/upload endpoint only accepts payloads up to 150 MB anyway.
// Returns ErrFileNotFound before any request is built when localPath
// does not exist.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) (*Metadata, error) {
	clean, err := argPath(remotePath, false)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(localPath); errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, localPath)
	} else if statErr != nil {
		return nil, fmt.Errorf("dropbox: stat %s: %w", localPath, statErr)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("dropbox: reading %s: %w", localPath, err)
	}

	c.logger.Info("uploading file",
		slog.String("local", localPath),
		slog.String("remote", clean),
		slog.Int("bytes", len(data)),
	)

	arg := uploadArg{
		Path:       clean,
		Mode:       writeModeOverwrite,
		Autorename: false,
		Mute:       false,
	}

	req, err := c.newRequest(ctx, APIContent, "/files/upload", bytes.NewReader(data), arg)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta Metadata
	if decErr := json.NewDecoder(resp.Body).Decode(&meta); decErr != nil {
		return nil, fmt.Errorf("dropbox: decoding upload response: %w", decErr)
	}

	c.logger.Debug("upload complete",
		slog.String("remote", meta.PathDisplay),
		slog.String("rev", meta.Rev),
	)

	return &meta, nil
}

// UploadTable serializes a table to a transient local CSV file and
// uploads it. The transient file is removed on every exit path.
func (c *Client) UploadTable(ctx context.Context, t *table.Table, remotePath string) (*Metadata, error) {
	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("dropbox-go-%s.csv", uuid.NewString()))

	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			c.logger.Warn("removing transient CSV file",
				slog.String("path", tmpPath),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	if err := writeTableFile(tmpPath, t); err != nil {
		return nil, err
	}

	return c.Upload(ctx, tmpPath, remotePath)
}

// writeTableFile serializes the table as CSV to path.
func writeTableFile(path string, t *table.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dropbox: creating transient CSV file: %w", err)
	}

	if writeErr := t.Write(f); writeErr != nil {
		f.Close()
		return fmt.Errorf("dropbox: serializing table: %w", writeErr)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("dropbox: closing transient CSV file: %w", err)
	}

	return nil
}
