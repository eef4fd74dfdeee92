package edgehttp

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackingMiddleware(name string, log *[]string) Middleware {
	return MiddlewareFunc(func(ctx *Context, next Next) error {
		*log = append(*log, name+":before")
		err := next(ctx)
		*log = append(*log, name+":after")
		return err
	})
}

func newCtx() *Context {
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	return NewContext(rec, req, nil)
}

func TestComposeRunsInDeclarationOrder(t *testing.T) {
	var log []string
	mw := Compose([]Middleware{
		trackingMiddleware("a", &log),
		trackingMiddleware("b", &log),
	})
	err := mw.Serve(newCtx(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:before", "b:before", "b:after", "a:after"}, log)
}

func TestComposeDoubleNextIsInvalidChainUsage(t *testing.T) {
	evil := MiddlewareFunc(func(ctx *Context, next Next) error {
		if err := next(ctx); err != nil {
			return err
		}
		return next(ctx) // second call: must fail, must not re-invoke later middleware
	})
	calls := 0
	mw := Compose([]Middleware{evil, MiddlewareFunc(func(ctx *Context, next Next) error {
		calls++
		return next(ctx)
	})})
	err := mw.Serve(newCtx(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidChainUsage) || errors.As(err, new(HandlerError)))
	assert.Equal(t, 1, calls, "second-frame middleware must not run twice")
}

func TestComposeFallsThroughToOuter(t *testing.T) {
	outerCalled := false
	mw := Compose([]Middleware{MiddlewareFunc(func(ctx *Context, next Next) error {
		return next(ctx)
	})})
	err := mw.Serve(newCtx(), func(*Context) error {
		outerCalled = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, outerCalled)
}

func TestComposeReentrantSafe(t *testing.T) {
	mw := Compose([]Middleware{MiddlewareFunc(func(ctx *Context, next Next) error {
		return next(ctx)
	})})
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- mw.Serve(newCtx(), nil) }()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}
}
