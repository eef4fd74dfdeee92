package reverseproxy

import (
	"net/http"
	"net/http/httptest"
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

func TestServeHTTPProxiesAndContinuesChain(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("upstream body"))
	}))
	defer upstream.Close()

	h, err := New(Options{Upstream: upstream.URL})
	require.NoError(t, err)

	ctx, rec := newTestContext(t, http.MethodGet, "/anything")
	called := false
	err = h.Serve(ctx, func(*edgehttp.Context) error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called, "chain should continue after a successful proxy response")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "upstream body", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
}

func TestServeHTTPUpstreamDown(t *testing.T) {
	h, err := New(Options{Upstream: "http://127.0.0.1:1"})
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/x")
	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	require.Error(t, err)
	var he edgehttp.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, edgehttp.KindUpstreamUnavailable, he.Kind)
}

func TestServeHTTPNoLogClearsLogEnabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h, err := New(Options{Upstream: upstream.URL, NoLog: true})
	require.NoError(t, err)

	ctx, _ := newTestContext(t, http.MethodGet, "/x")
	require.True(t, ctx.LogEnabled)
	err = h.Serve(ctx, func(*edgehttp.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, ctx.LogEnabled)
}

func TestNewRejectsInvalidUpstream(t *testing.T) {
	_, err := New(Options{Upstream: "not-a-url"})
	assert.Error(t, err)
}
