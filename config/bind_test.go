package config

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloudwindy/misaka/edgehttp"
)

func writeDoc(t *testing.T, yamlText string) *Document {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "edged.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlText), 0o644))
	doc, err := Load(path)
	require.NoError(t, err)
	return doc
}

func TestBindStaticRouteServesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi\n"), 0o644))

	doc := writeDoc(t, `
router:
  verbose: false
  routes:
    "*":
      "^/":
        static:
          root: `+root+`
`)
	hosts := edgehttp.NewHostRouter()
	reg := edgehttp.NewRegistry()
	RegisterBuiltins(reg, nil, zap.NewNop())

	result, err := Bind(doc, hosts, reg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, result.RouteCount)

	req := httptest.NewRequest("GET", "/hello.txt", nil)
	rec := httptest.NewRecorder()
	ctx := edgehttp.NewContext(rec, req, nil)
	err = hosts.Process(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", rec.Body.String())
}

func TestBindRedirect(t *testing.T) {
	doc := writeDoc(t, `
router:
  routes:
    "*":
      "/old":
        redirect: /new
`)
	hosts := edgehttp.NewHostRouter()
	reg := edgehttp.NewRegistry()
	RegisterBuiltins(reg, nil, zap.NewNop())

	_, err := Bind(doc, hosts, reg, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/old", nil)
	rec := httptest.NewRecorder()
	ctx := edgehttp.NewContext(rec, req, nil)
	require.NoError(t, hosts.Process(ctx, nil))
	assert.Equal(t, 301, ctx.Status())
	assert.Equal(t, "/new", rec.Header().Get("Location"))
}

func TestBindListHostPatternMatchesEitherHost(t *testing.T) {
	doc := writeDoc(t, `
router:
  routes:
    "a.example.com, b.example.com":
      "/old":
        redirect: /new
`)
	hosts := edgehttp.NewHostRouter()
	reg := edgehttp.NewRegistry()
	RegisterBuiltins(reg, nil, zap.NewNop())

	_, err := Bind(doc, hosts, reg, zap.NewNop())
	require.NoError(t, err)

	for _, host := range []string{"a.example.com", "b.example.com"} {
		req := httptest.NewRequest("GET", "/old", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		ctx := edgehttp.NewContext(rec, req, nil)
		require.NoError(t, hosts.Process(ctx, nil))
		assert.Equal(t, 301, ctx.Status())
	}
}

func TestBindRedirectAcceptsQuotedCode(t *testing.T) {
	doc := writeDoc(t, `
router:
  routes:
    "*":
      "/old":
        redirect: /new
        code: "307"
`)
	hosts := edgehttp.NewHostRouter()
	reg := edgehttp.NewRegistry()
	RegisterBuiltins(reg, nil, zap.NewNop())

	_, err := Bind(doc, hosts, reg, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/old", nil)
	rec := httptest.NewRecorder()
	ctx := edgehttp.NewContext(rec, req, nil)
	require.NoError(t, hosts.Process(ctx, nil))
	assert.Equal(t, 307, ctx.Status())
}

func TestBindUnknownHandlerIsStartupError(t *testing.T) {
	doc := writeDoc(t, `
router:
  routes:
    "*":
      "/x":
        nonexistent: {}
`)
	hosts := edgehttp.NewHostRouter()
	reg := edgehttp.NewRegistry()
	RegisterBuiltins(reg, nil, zap.NewNop())

	_, err := Bind(doc, hosts, reg, zap.NewNop())
	assert.Error(t, err)
}

func TestBindRewriteThenHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), []byte("ok"), 0o644))

	doc := writeDoc(t, `
router:
  routes:
    "*":
      "^/":
        rewrite: [["/source.txt", "/target.txt"]]
        static:
          root: `+root+`
`)
	hosts := edgehttp.NewHostRouter()
	reg := edgehttp.NewRegistry()
	RegisterBuiltins(reg, nil, zap.NewNop())
	_, err := Bind(doc, hosts, reg, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/source.txt", nil)
	rec := httptest.NewRecorder()
	ctx := edgehttp.NewContext(rec, req, nil)
	require.NoError(t, hosts.Process(ctx, nil))
	assert.Equal(t, "ok", rec.Body.String())
}
