package dropbox

import (
	"context"
	"log/slog"
)

// listFolderLimit caps entries per page; Dropbox continues via cursor.
const listFolderLimit = 2000

// ListFolder returns metadata for everything directly under remotePath,
// following continuation cursors until the listing is complete.
// The root folder is the empty path ("" or "/"). The result is never
// nil: an empty folder yields an empty slice, so JSON output renders
// an array.
func (c *Client) ListFolder(ctx context.Context, remotePath string) ([]Metadata, error) {
	clean, err := argPath(remotePath, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("listing folder", slog.String("path", displayPath(clean)))

	var result listFolderResult
	if err := c.call(ctx, "/files/list_folder", listFolderArg{
		Path:  clean,
		Limit: listFolderLimit,
	}, &result); err != nil {
		return nil, err
	}

	// Copy into a fresh slice: decoding the next page into result would
	// otherwise overwrite the backing array these entries live in.
	entries := append(make([]Metadata, 0, len(result.Entries)), result.Entries...)

	cursor, hasMore := result.Cursor, result.HasMore
	for hasMore {
		var page listFolderResult
		if err := c.call(ctx, "/files/list_folder/continue", listFolderContinueArg{
			Cursor: cursor,
		}, &page); err != nil {
			return nil, err
		}

		entries = append(entries, page.Entries...)
		cursor, hasMore = page.Cursor, page.HasMore
	}

	return entries, nil
}

// GetMetadata returns metadata for a single file or folder.
func (c *Client) GetMetadata(ctx context.Context, remotePath string) (*Metadata, error) {
	clean, err := argPath(remotePath, false)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := c.call(ctx, "/files/get_metadata", pathArg{Path: clean}, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// Delete permanently removes a file or folder (recursively).
func (c *Client) Delete(ctx context.Context, remotePath string) (*Metadata, error) {
	clean, err := argPath(remotePath, false)
	if err != nil {
		return nil, err
	}

	c.logger.Info("deleting", slog.String("path", clean))

	var result deleteResult
	if err := c.call(ctx, "/files/delete_v2", pathArg{Path: clean}, &result); err != nil {
		return nil, err
	}

	return &result.Metadata, nil
}

// CurrentAccount returns the account the bearer token belongs to.
// The endpoint takes no argument body.
func (c *Client) CurrentAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.call(ctx, "/users/get_current_account", nil, &acct); err != nil {
		return nil, err
	}

	return &acct, nil
}
