package api

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stardrive/stardrive/internal/archive"
	"github.com/stardrive/stardrive/internal/downloads"
	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/storage"
	"github.com/stardrive/stardrive/internal/storage/local"
)

func TestMain(m *testing.M) {
	logging.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type testEnv struct {
	ts   *httptest.Server
	root string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	b, err := local.New(local.Config{RootPath: t.TempDir()})
	require.NoError(t, err)

	files := storage.NewManager()
	require.NoError(t, files.Register("local", b))
	require.NoError(t, files.SetActive("local"))

	store, err := downloads.OpenBadger(downloads.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	tokens, err := downloads.NewTokens("test-secret-0123456789")
	require.NoError(t, err)
	links := downloads.NewService(store, tokens, files, 0)

	ts := httptest.NewServer(NewServer(files, links, opts).Handler())
	t.Cleanup(func() {
		ts.Close()
		store.Close()
		files.Close()
	})

	env := &testEnv{ts: ts, root: b.Root()}
	env.put(t, "proj/a.txt", "alpha")
	env.put(t, "proj/sub/b.txt", "bravo")
	env.put(t, "proj/.env", "hidden")
	return env
}

func (e *testEnv) put(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path string, in any) *http.Response {
	t.Helper()
	data, err := json.Marshal(in)
	require.NoError(t, err)
	return e.do(t, method, path, bytes.NewReader(data))
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(logging.RequestIDHeader))
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "local", body["backend"])
}

func TestNoActiveBackend(t *testing.T) {
	ts := httptest.NewServer(NewServer(storage.NewManager(), nil, Options{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/list")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestList(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/api/v1/list/proj", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[ListResponse](t, resp)

	assert.Equal(t, "proj", list.Path)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "a.txt", list.Entries[0].Name)
	assert.Equal(t, "sub", list.Entries[1].Name)
	assert.Equal(t, storage.TypeDir, list.Entries[1].Type)

	resp = env.do(t, http.MethodGet, "/api/v1/list", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decode[ListResponse](t, resp)
	assert.Equal(t, "", root.Path)
	require.Len(t, root.Entries, 1)
}

func TestMetadataAndExists(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/api/v1/metadata/proj/a.txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[storage.FileInfo](t, resp)
	assert.Equal(t, "proj/a.txt", info.Path)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, ".txt", info.Extension)
	assert.NotNil(t, info.ModifiedAt)

	resp = env.do(t, http.MethodGet, "/api/v1/exists/proj/missing.txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[ExistsResponse](t, resp).Exists)
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing file", http.MethodGet, "/api/v1/metadata/nope.txt", nil, http.StatusNotFound},
		{"list a file", http.MethodGet, "/api/v1/list/proj/a.txt", nil, http.StatusBadRequest},
		{"delete dir as file", http.MethodDelete, "/api/v1/files/proj", nil, http.StatusBadRequest},
		{"mkdir over file", http.MethodPost, "/api/v1/dirs/proj/a.txt", nil, http.StatusConflict},
		{"delete root", http.MethodDelete, "/api/v1/dirs/", nil, http.StatusForbidden},
		{"move outside root", http.MethodPost, "/api/v1/move", TransferRequest{Src: "proj/a.txt", Dest: "../../escaped"}, http.StatusForbidden},
		{"copy missing", http.MethodPost, "/api/v1/copy", TransferRequest{Src: "nope", Dest: "x"}, http.StatusNotFound},
		{"move without dest", http.MethodPost, "/api/v1/move", TransferRequest{Src: "proj/a.txt"}, http.StatusBadRequest},
		{"size of file", http.MethodGet, "/api/v1/size/proj/a.txt", nil, http.StatusBadRequest},
		{"search without query", http.MethodGet, "/api/v1/search", nil, http.StatusBadRequest},
		{"search bad limit", http.MethodGet, "/api/v1/search?q=a&limit=-1", nil, http.StatusBadRequest},
		{"bad archive format", http.MethodGet, "/api/v1/content/proj?format=rar", nil, http.StatusBadRequest},
		{"unknown link", http.MethodGet, "/d/not-a-token", nil, http.StatusNotFound},
		{"unknown backend", http.MethodPut, "/api/v1/admin/backends/active", SetActiveRequest{Name: "s3"}, http.StatusNotFound},
		{"link without paths", http.MethodPost, "/api/v1/links", CreateLinkRequest{}, http.StatusBadRequest},
		{"link outside root", http.MethodPost, "/api/v1/links", CreateLinkRequest{Paths: []string{"../x"}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.body != nil {
				resp = env.doJSON(t, tt.method, tt.path, tt.body)
			} else {
				resp = env.do(t, tt.method, tt.path, nil)
			}
			assert.Equal(t, tt.want, resp.StatusCode)
			errResp := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.want, errResp.Code)
			assert.NotContains(t, errResp.Error, env.root, "absolute paths must not leak")
		})
	}
}

func TestUploadAndDownload(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadSize: 1 << 20})

	resp := env.do(t, http.MethodPost, "/api/v1/content/docs/hello.txt", strings.NewReader("hello world"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	info := decode[storage.FileInfo](t, resp)
	assert.Equal(t, int64(11), info.Size)

	resp = env.do(t, http.MethodGet, "/api/v1/content/docs/hello.txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "11", resp.Header.Get("Content-Length"))
	assert.Equal(t, "attachment; filename=hello.txt", resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "hello world", readBody(t, resp))
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadSize: 8})

	resp := env.do(t, http.MethodPost, "/api/v1/content/big.bin", strings.NewReader(strings.Repeat("x", 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	_, err := os.Stat(filepath.Join(env.root, "big.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestDirectoryLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodPost, "/api/v1/dirs/new/nested", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/dirs/new/nested", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "creating an existing directory succeeds")

	resp = env.doJSON(t, http.MethodPost, "/api/v1/copy", TransferRequest{Src: "proj/a.txt", Dest: "new/nested/a.txt"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = env.doJSON(t, http.MethodPost, "/api/v1/move", TransferRequest{Src: "new/nested/a.txt", Dest: "new/moved.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new/moved.txt", decode[storage.FileInfo](t, resp).Path)

	resp = env.do(t, http.MethodGet, "/api/v1/size/new", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	size := decode[SizeResponse](t, resp)
	assert.Equal(t, int64(5), size.Size)
	assert.Equal(t, "5 B", size.Human)

	resp = env.do(t, http.MethodDelete, "/api/v1/files/new/moved.txt", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/v1/dirs/new", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NoDirExists(t, filepath.Join(env.root, "new"))
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/api/v1/search?q=.TXT", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[SearchResponse](t, resp)
	assert.Equal(t, defaultSearchLimit, res.Limit)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "proj/a.txt", res.Results[0].Path)
	assert.Equal(t, "proj/sub/b.txt", res.Results[1].Path)

	resp = env.do(t, http.MethodGet, "/api/v1/search?q=.TXT&match_case=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[SearchResponse](t, resp).Results)

	resp = env.do(t, http.MethodGet, "/api/v1/search?q=txt&offset=1&limit=5000", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[SearchResponse](t, resp)
	assert.Equal(t, maxSearchLimit, res.Limit)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "b.txt", res.Results[0].Name)
}

func untar(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(r)
	require.NoError(t, err)
	defer gz.Close()

	out := map[string]string{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(data)
	}
}

func TestDirectoryDownloadIsArchived(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/api/v1/content/proj/sub", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/gzip", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "sub_archive_")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".tar.gz")

	assert.Equal(t, map[string]string{"sub/b.txt": "bravo"}, untar(t, resp.Body))
}

func TestDownloadLink(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.doJSON(t, http.MethodPost, "/api/v1/links", CreateLinkRequest{Paths: []string{"proj"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	link := decode[LinkResponse](t, resp)
	assert.Equal(t, "proj", link.Name)
	assert.Equal(t, storage.TypeDir, link.Type)
	require.True(t, strings.HasPrefix(link.URL, "/d/"))

	resp = env.do(t, http.MethodGet, link.URL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{
		"proj/.env":      "hidden",
		"proj/a.txt":     "alpha",
		"proj/sub/b.txt": "bravo",
	}, untar(t, resp.Body))
}

func TestDownloadLinkSelection(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.doJSON(t, http.MethodPost, "/api/v1/links", CreateLinkRequest{
		Paths: []string{"proj/a.txt", "proj/sub/b.txt"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	link := decode[LinkResponse](t, resp)
	assert.Equal(t, storage.TypeMixed, link.Type)

	resp = env.do(t, http.MethodGet, link.URL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bulk_download_")
	assert.Equal(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo",
	}, untar(t, resp.Body))
}

func TestDownloadLinkAccessCode(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.doJSON(t, http.MethodPost, "/api/v1/links", CreateLinkRequest{
		Paths:      []string{"proj/a.txt"},
		AccessCode: "1234",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	link := decode[LinkResponse](t, resp)

	resp = env.do(t, http.MethodGet, link.URL, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, link.URL+"?code=0000", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, link.URL+"?code=1234", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alpha", readBody(t, resp))

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+link.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Access-Code", "1234")
	hresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer hresp.Body.Close()
	assert.Equal(t, http.StatusOK, hresp.StatusCode)
}

func TestAdminBackends(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp := env.do(t, http.MethodGet, "/api/v1/admin/backends", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[BackendsResponse](t, resp)
	assert.Equal(t, "local", got.Active)
	assert.Equal(t, []string{"local"}, got.Backends)

	resp = env.doJSON(t, http.MethodPut, "/api/v1/admin/backends/active", SetActiveRequest{Name: "local"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParentDir(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"a.txt":          "",
		"proj/a.txt":     "proj",
		"proj/sub/b.txt": "proj/sub",
	}
	for in, want := range tests {
		assert.Equal(t, want, parentDir(in), in)
	}
}

func TestArchiveFilename(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, "docs_archive_1700000000.tar.gz", archiveFilename("docs", archive.FormatTarGz, now))
	assert.Equal(t, "docs_archive_1700000000.zip", archiveFilename("docs", archive.FormatZip, now))
}
