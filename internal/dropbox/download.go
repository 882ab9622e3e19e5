package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mtuomi/dropbox-go/internal/table"
)

// Download fetches a file's content from the content API. Returns the
// raw bytes plus the file metadata Dropbox reports in the
// Dropbox-API-Result response header. The metadata is nil when the
// header is absent or malformed; the content still returns.
func (c *Client) Download(ctx context.Context, remotePath string) ([]byte, *Metadata, error) {
	clean, err := argPath(remotePath, false)
	if err != nil {
		return nil, nil, err
	}

	c.logger.Info("downloading file", slog.String("path", clean))

	req, err := c.newRequest(ctx, APIContent, "/files/download", http.NoBody, pathArg{Path: clean})
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("dropbox: reading download body: %w", err)
	}

	var meta *Metadata
	if hdr := resp.Header.Get("Dropbox-API-Result"); hdr != "" {
		meta = &Metadata{}
		if jsonErr := json.Unmarshal([]byte(hdr), meta); jsonErr != nil {
			c.logger.Warn("unparseable Dropbox-API-Result header",
				slog.String("error", jsonErr.Error()),
			)

			meta = nil
		}
	}

	c.logger.Debug("download complete",
		slog.String("path", clean),
		slog.Int("bytes", len(data)),
	)

	return data, meta, nil
}

// DownloadTable downloads a remote CSV file and parses it into a Table.
// Parse errors propagate from the CSV codec unmodified.
func (c *Client) DownloadTable(ctx context.Context, remotePath string) (*table.Table, error) {
	data, _, err := c.Download(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	t, err := table.Read(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("dropbox: parsing %s as CSV: %w", displayPath(normalizePath(remotePath)), err)
	}

	return t, nil
}
