package internal

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/logvista/ingest/internal/health"
	"github.com/logvista/ingest/internal/middleware"
	"github.com/logvista/ingest/internal/status"
	"github.com/logvista/ingest/internal/storage"
	"github.com/logvista/ingest/internal/upload"
	"github.com/logvista/ingest/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type testServer struct {
	handler fasthttp.RequestHandler
	store   *storage.LocalStore
	manager *upload.Manager
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithOrigins(t, nil)
}

func newTestServerWithOrigins(t *testing.T, allowedOrigins []string) *testServer {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)

	hub := websocket.NewHub()
	manager := upload.NewManager(store, upload.Options{Notifier: hub})
	go hub.Run()
	t.Cleanup(hub.Stop)

	cors := middleware.NewCORSMiddleware(allowedOrigins)
	handler := NewRequestHandler(
		cors,
		health.NewEndpoints("test", nil),
		status.NewEndpoints("test", store, manager, hub),
		storage.NewEndpoints(store, 1024),
		upload.NewEndpoints(manager),
		websocket.NewHandler(hub, store, manager, cors.IsOriginAllowed),
	)
	return &testServer{handler: handler, store: store, manager: manager}
}

func (s *testServer) do(method, uri string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	ctx.Request.SetBody(body)
	s.handler(ctx)
	return ctx
}

func TestRequestHandler_ChunkedUploadFlow_ShouldProduceFile(t *testing.T) {
	// given
	server := newTestServer(t)

	// when
	first := server.do(fasthttp.MethodPost, "/uploads/U1/chunks/0", []byte("Hello "))
	second := server.do(fasthttp.MethodPost, "/uploads/U1/chunks/1", []byte("World!"))
	chunks := server.do(fasthttp.MethodGet, "/uploads/U1/chunks", nil)
	complete := server.do(fasthttp.MethodPost, "/uploads/complete", []byte(`{"uploadId":"U1","name":"hello.txt","totalChunks":2,"originalSize":12}`))

	// then
	assert.Equal(t, fasthttp.StatusAccepted, first.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusAccepted, second.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, chunks.Response.StatusCode())
	require.Equal(t, fasthttp.StatusAccepted, complete.Response.StatusCode())

	var started struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(complete.Response.Body(), &started))
	require.NotEmpty(t, started.JobID)

	require.Eventually(t, func() bool {
		ctx := server.do(fasthttp.MethodGet, "/uploads/jobs/"+started.JobID, nil)
		var job upload.Job
		if err := json.Unmarshal(ctx.Response.Body(), &job); err != nil {
			return false
		}
		return job.Status == upload.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)

	recent := server.do(fasthttp.MethodGet, "/files/recent?limit=5", nil)
	require.Equal(t, fasthttp.StatusOK, recent.Response.StatusCode())
	var files []*storage.FileInfo
	require.NoError(t, json.Unmarshal(recent.Response.Body(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, int64(12), files[0].Size)
	assert.Equal(t, "hello.txt", files[0].Name)
}

func TestRequestHandler_FileRoutes_ShouldDispatchByMethod(t *testing.T) {
	// given
	server := newTestServer(t)
	info, err := server.store.SaveBytes("a.log", []byte("abc"))
	require.NoError(t, err)

	// when
	get := server.do(fasthttp.MethodGet, "/files/"+info.ID, nil)
	rename := server.do(fasthttp.MethodPut, "/files/"+info.ID, []byte(`{"name":"b.log"}`))
	del := server.do(fasthttp.MethodDelete, "/files/"+info.ID, nil)
	afterDelete := server.do(fasthttp.MethodGet, "/files/"+info.ID, nil)

	// then
	assert.Equal(t, fasthttp.StatusOK, get.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, rename.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNoContent, del.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, afterDelete.Response.StatusCode())
}

func TestRequestHandler_UnknownRoutes(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		method string
		uri    string
		want   int
	}{
		{method: fasthttp.MethodGet, uri: "/nope", want: fasthttp.StatusNotFound},
		{method: fasthttp.MethodGet, uri: "/files/upload", want: fasthttp.StatusMethodNotAllowed},
		{method: fasthttp.MethodPost, uri: "/files/recent", want: fasthttp.StatusMethodNotAllowed},
		{method: fasthttp.MethodGet, uri: "/uploads/complete", want: fasthttp.StatusMethodNotAllowed},
		{method: fasthttp.MethodGet, uri: "/uploads/jobs/missing", want: fasthttp.StatusNotFound},
		{method: fasthttp.MethodDelete, uri: "/uploads/U9", want: fasthttp.StatusNotFound},
		{method: fasthttp.MethodGet, uri: "/uploads/a/b/c/d", want: fasthttp.StatusNotFound},
		{method: fasthttp.MethodGet, uri: "/health", want: fasthttp.StatusOK},
		{method: fasthttp.MethodGet, uri: "/status", want: fasthttp.StatusOK},
	}

	for _, tt := range tests {
		ctx := server.do(tt.method, tt.uri, nil)
		assert.Equal(t, tt.want, ctx.Response.StatusCode(), "%s %s", tt.method, tt.uri)
	}
}

func TestRequestHandler_Preflight_ShouldUseGivenCORSMiddleware(t *testing.T) {
	// given
	server := newTestServerWithOrigins(t, []string{"https://logs.example.com"})
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodOptions)
	ctx.Request.SetRequestURI("/files/recent")
	ctx.Request.Header.Set("Origin", "https://logs.example.com")

	// when
	server.handler(ctx)

	// then
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Equal(t, "https://logs.example.com", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}
