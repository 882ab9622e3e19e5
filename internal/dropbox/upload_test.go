package dropbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtuomi/dropbox-go/internal/table"
)

// newUploadServer serves /files/upload, captures the request, and
// returns file metadata.
func newUploadServer(t *testing.T, gotArg *uploadArg, gotBody *[]byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/upload", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), gotArg))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		*gotBody = body

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			".tag": "file",
			"name": "out.csv",
			"path_display": "/out.csv",
			"size": 17,
			"rev": "rev-2"
		}`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestUpload(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(localPath, []byte("a,b\n1,2\n"), 0o644))

	var gotArg uploadArg
	var gotBody []byte

	srv := newUploadServer(t, &gotArg, &gotBody)
	client := newTestClient(t, srv.URL)

	meta, err := client.Upload(context.Background(), localPath, "/out.csv")
	require.NoError(t, err)

	assert.Equal(t, "/out.csv", gotArg.Path)
	assert.Equal(t, "overwrite", gotArg.Mode)
	assert.False(t, gotArg.Autorename)
	assert.False(t, gotArg.Mute)
	assert.Equal(t, "a,b\n1,2\n", string(gotBody))

	assert.Equal(t, "/out.csv", meta.PathDisplay)
	assert.Equal(t, "rev-2", meta.Rev)
	assert.Equal(t, uint64(17), meta.Size)
}

func TestUpload_LocalFileNotFound(t *testing.T) {
	transport := &countingTransport{}
	client := NewClient(StaticTokenSource("test-token"),
		&http.Client{Transport: transport}, nil)

	_, err := client.Upload(context.Background(),
		filepath.Join(t.TempDir(), "missing.csv"), "/out.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)

	// The local check happens before any request is built.
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestUpload_RootPathRejected(t *testing.T) {
	client := newTestClient(t, "http://example.invalid")

	_, err := client.Upload(context.Background(), "whatever.csv", "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not name a file")
}

func TestUploadTable(t *testing.T) {
	// Redirect os.TempDir so leftover transient files are detectable.
	tmpDir := t.TempDir()
	t.Setenv("TMPDIR", tmpDir)

	var gotArg uploadArg
	var gotBody []byte

	srv := newUploadServer(t, &gotArg, &gotBody)
	client := newTestClient(t, srv.URL)

	tab := &table.Table{
		Columns: []string{"name", "age"},
		Rows:    [][]string{{"alice", "30"}},
	}

	meta, err := client.UploadTable(context.Background(), tab, "/out.csv")
	require.NoError(t, err)
	assert.Equal(t, "rev-2", meta.Rev)
	assert.Equal(t, "name,age\nalice,30\n", string(gotBody))

	// The transient CSV file is gone.
	leftovers, err := filepath.Glob(filepath.Join(tmpDir, "dropbox-go-*.csv"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestUploadTable_RemovesTempFileOnFailure(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("TMPDIR", tmpDir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_summary":"internal_error/.."}`))
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, srv.URL)

	tab := &table.Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}}

	_, err := client.UploadTable(context.Background(), tab, "/out.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	leftovers, globErr := filepath.Glob(filepath.Join(tmpDir, "dropbox-go-*.csv"))
	require.NoError(t, globErr)
	assert.Empty(t, leftovers)
}
