package health

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestHealthEndpoints_Health_WithPassingChecks_ShouldReturnOK(t *testing.T) {
	// given
	endpoints := NewEndpoints("1.2.3", map[string]Check{
		"uploadDir": func() error { return nil },
	})
	ctx := &fasthttp.RequestCtx{}

	// when
	endpoints.Health(ctx)

	// then
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "ok", resp.Checks["uploadDir"])
}

func TestHealthEndpoints_Health_WithFailingCheck_ShouldReturnDegraded(t *testing.T) {
	// given
	endpoints := NewEndpoints("1.2.3", map[string]Check{
		"uploadDir": func() error { return nil },
		"database":  func() error { return errors.New("connection refused") },
	})
	ctx := &fasthttp.RequestCtx{}

	// when
	endpoints.Health(ctx)

	// then
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["database"])
	assert.Equal(t, "ok", resp.Checks["uploadDir"])
}
