package dropbox

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Metadata describes a single file or folder as returned by the upload,
// get_metadata, and download endpoints.
type Metadata struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	Rev            string    `json:"rev"`
	Size           uint64    `json:"size,omitempty"`
	ClientModified time.Time `json:"client_modified,omitempty"`
	ServerModified time.Time `json:"server_modified,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

// IsFolder reports whether the metadata describes a folder.
func (m *Metadata) IsFolder() bool {
	return m.Tag == "folder"
}

// Account is the response shape of /users/get_current_account.
type Account struct {
	AccountID string `json:"account_id"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
	Email       string `json:"email"`
	AccountType struct {
		Tag string `json:".tag"`
	} `json:"account_type"`
}

// pathArg is the argument object shared by download, get_metadata, and
// delete calls.
type pathArg struct {
	Path string `json:"path"`
}

// uploadArg is the Dropbox-API-Arg object for /files/upload.
type uploadArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

// listFolderArg is the request body for /files/list_folder.
type listFolderArg struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Limit     int    `json:"limit,omitempty"`
}

type listFolderContinueArg struct {
	Cursor string `json:"cursor"`
}

type listFolderResult struct {
	Entries []Metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

type deleteResult struct {
	Metadata Metadata `json:"metadata"`
}

// normalizePath converts a user-supplied remote path to the form the
// API expects: a leading slash, NFC-normalized (Dropbox stores NFC
// names), with the root spelled as the empty string.
func normalizePath(p string) string {
	p = norm.NFC.String(strings.TrimSpace(p))
	p = "/" + strings.Trim(p, "/")

	if p == "/" {
		return ""
	}

	return p
}

// displayPath renders a normalized path for logs and errors, spelling
// the root as "/".
func displayPath(p string) string {
	if p == "" {
		return "/"
	}

	return p
}

// argPath validates and normalizes a remote path for an API call.
// allowRoot permits the empty (root) path, which is valid for
// list_folder but never for file operations.
func argPath(p string, allowRoot bool) (string, error) {
	clean := normalizePath(p)
	if clean == "" && !allowRoot {
		return "", fmt.Errorf("dropbox: remote path %q does not name a file", p)
	}

	return clean, nil
}
