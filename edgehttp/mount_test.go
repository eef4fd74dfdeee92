package edgehttp

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountRebasesPathAndRestoresOnFallThrough(t *testing.T) {
	pr := NewPathRouter(nil)
	m := NewMount(pr, "/admin", "admin-app", "")

	var seenInside string
	m.Use("/users", MiddlewareFunc(func(ctx *Context, next Next) error {
		seenInside = ctx.Path
		return next(ctx)
	}))

	var seenOutside string
	ctx := newPathCtx("GET", "/admin/users")
	err := pr.Process(ctx, func(c *Context) error {
		seenOutside = c.Path
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/users", seenInside)
	assert.Equal(t, "/admin/users", seenOutside)
}

func TestMountSetsHandlerName(t *testing.T) {
	pr := NewPathRouter(nil)
	m := NewMount(pr, "/app", "myapp", "")

	var seenHandler string
	m.Use("/", MiddlewareFunc(func(ctx *Context, next Next) error {
		seenHandler = ctx.Handler
		return nil
	}))

	ctx := newPathCtx("GET", "/app")
	require.NoError(t, pr.Process(ctx, nil))
	assert.Equal(t, "myapp", seenHandler)
}

func TestResolveReqPath(t *testing.T) {
	pr := NewPathRouter(nil)
	m := NewMount(pr, "/api", "api", "")
	assert.Equal(t, "/api/users/:id", m.ResolveReqPath("/users/:id"))
	assert.Equal(t, "/api", m.ResolveReqPath("/"))
}
