package static

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwindy/misaka/edgehttp"
)

func newTestContext(t *testing.T, method, target string) (*edgehttp.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return edgehttp.NewContext(rec, req, nil), rec
}

func TestServeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644))

	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	ctx, rec := newTestContext(t, http.MethodGet, "/hello.txt")
	err = h.Serve(ctx, func(*edgehttp.Context) error {
		t.Fatal("next should not be called when file exists")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", rec.Body.String())
}

func TestServeFileNotFoundFallsThroughOrTerminates(t *testing.T) {
	dir := t.TempDir()
	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/missing.txt")
	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, ctx.Status())
}

func TestServeNonGetFallsThrough(t *testing.T) {
	dir := t.TempDir()
	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodPost, "/hello.txt")
	called := false
	err = h.Serve(ctx, func(*edgehttp.Context) error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
}

func TestHiddenSegmentFallsThrough(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("x"), 0o644))

	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/.git/config")
	called := false
	err = h.Serve(ctx, func(*edgehttp.Context) error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
}

func TestServeValidRangeReturnsPartialContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))

	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/hello.txt", nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()
	ctx := edgehttp.NewContext(rec, req, nil)

	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestServeMalformedRangeReturns416WithContentRangeAndBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))

	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/hello.txt", nil)
	req.Header.Set("Range", "bytes=abc-def")
	rec := httptest.NewRecorder()
	ctx := edgehttp.NewContext(rec, req, nil)

	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */11", rec.Header().Get("Content-Range"))
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestServeDirectoryFallsThroughWithoutBrowseOption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/sub/")
	called := false
	err = h.Serve(ctx, func(*edgehttp.Context) error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
}

func TestServeDirectoryListsWithBrowseOption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("x"), 0o644))

	h, err := New(Options{Root: dir, Browse: true}, nil)
	require.NoError(t, err)

	ctx, rec := newTestContext(t, http.MethodGet, "/sub/")
	err = h.Serve(ctx, func(*edgehttp.Context) error {
		t.Fatal("next should not be called once browse resolves the directory")
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), "a.txt")
}

func TestServeNoLogClearsLogEnabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	h, err := New(Options{Root: dir, NoLog: true}, nil)
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/hello.txt")
	require.True(t, ctx.LogEnabled)
	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, ctx.LogEnabled)
}

func TestContainmentEscape(t *testing.T) {
	dir := t.TempDir()
	h, err := New(Options{Root: dir}, nil)
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/../../etc/passwd")
	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	var he edgehttp.HandlerError
	if assert.Error(t, err) {
		require.ErrorAs(t, err, &he)
	}
}
