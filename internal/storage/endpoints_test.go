package storage

import (
	"bytes"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newRequestCtx(method string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetBody(body)
	return ctx
}

func TestEndpoints_Upload_ShouldStoreMultipartFile(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "plc.log")
	require.NoError(t, err)
	_, err = part.Write([]byte("signal=1\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	ctx := newRequestCtx(fasthttp.MethodPost, body.Bytes())
	ctx.Request.Header.SetContentType(writer.FormDataContentType())

	// when
	endpoints.Upload(ctx)

	// then
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	var info FileInfo
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &info))
	assert.Equal(t, "plc.log", info.Name)
	assert.Equal(t, int64(9), info.Size)
}

func TestEndpoints_UploadChunk_ShouldStoreChunk(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 1024)
	ctx := newRequestCtx(fasthttp.MethodPost, []byte("chunk-data"))
	ctx.SetUserValue("uploadID", "U1")
	ctx.SetUserValue("chunkIndex", "0")

	// when
	endpoints.UploadChunk(ctx)

	// then
	assert.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())
	received, err := store.ReceivedChunks("U1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, received)
}

func TestEndpoints_UploadChunk_WithBadInput_ShouldReject(t *testing.T) {
	tests := []struct {
		name       string
		uploadID   string
		chunkIndex string
		body       []byte
		wantStatus int
	}{
		{name: "negative index", uploadID: "U1", chunkIndex: "-1", body: []byte("x"), wantStatus: fasthttp.StatusBadRequest},
		{name: "non numeric index", uploadID: "U1", chunkIndex: "abc", body: []byte("x"), wantStatus: fasthttp.StatusBadRequest},
		{name: "empty body", uploadID: "U1", chunkIndex: "0", body: nil, wantStatus: fasthttp.StatusBadRequest},
		{name: "oversized body", uploadID: "U1", chunkIndex: "0", body: bytes.Repeat([]byte("x"), 9), wantStatus: fasthttp.StatusRequestEntityTooLarge},
		{name: "traversal id", uploadID: "..", chunkIndex: "0", body: []byte("x"), wantStatus: fasthttp.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			store, _ := newTestStore(t)
			endpoints := NewEndpoints(store, 8)
			ctx := newRequestCtx(fasthttp.MethodPost, tt.body)
			ctx.SetUserValue("uploadID", tt.uploadID)
			ctx.SetUserValue("chunkIndex", tt.chunkIndex)

			// when
			endpoints.UploadChunk(ctx)

			// then
			assert.Equal(t, tt.wantStatus, ctx.Response.StatusCode())
		})
	}
}

func TestEndpoints_ListRecent_ShouldApplyLimit(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)
	for _, name := range []string{"a.log", "b.log", "c.log"} {
		_, err := store.SaveBytes(name, []byte("x"))
		require.NoError(t, err)
	}
	ctx := newRequestCtx(fasthttp.MethodGet, nil)
	ctx.Request.SetRequestURI("/files/recent?limit=2")

	// when
	endpoints.ListRecent(ctx)

	// then
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var files []*FileInfo
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &files))
	assert.Len(t, files, 2)
}

func TestEndpoints_GetFile_WithUnknownID_ShouldReturnNotFound(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)
	ctx := newRequestCtx(fasthttp.MethodGet, nil)
	ctx.SetUserValue("fileID", "missing")

	// when
	endpoints.GetFile(ctx)

	// then
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestEndpoints_RenameFile_ShouldUpdateName(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)
	info, err := store.SaveBytes("old.log", []byte("x"))
	require.NoError(t, err)

	ctx := newRequestCtx(fasthttp.MethodPut, []byte(`{"name":"new.log"}`))
	ctx.SetUserValue("fileID", info.ID)

	// when
	endpoints.RenameFile(ctx)

	// then
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "new.log", got.Name)
}

func TestEndpoints_RenameFile_WithEmptyName_ShouldReturnBadRequest(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)
	info, err := store.SaveBytes("old.log", []byte("x"))
	require.NoError(t, err)

	ctx := newRequestCtx(fasthttp.MethodPut, []byte(`{"name":""}`))
	ctx.SetUserValue("fileID", info.ID)

	// when
	endpoints.RenameFile(ctx)

	// then
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestEndpoints_DeleteFile_ShouldReturnNoContent(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)
	info, err := store.SaveBytes("a.log", []byte("x"))
	require.NoError(t, err)

	ctx := newRequestCtx(fasthttp.MethodDelete, nil)
	ctx.SetUserValue("fileID", info.ID)

	// when
	endpoints.DeleteFile(ctx)

	// then
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	_, err = store.Get(info.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEndpoints_ListChunks_ShouldReturnReceivedIndices(t *testing.T) {
	// given
	store, _ := newTestStore(t)
	endpoints := NewEndpoints(store, 0)
	require.NoError(t, store.SaveChunkBytes("U1", 1, []byte("b")))
	require.NoError(t, store.SaveChunkBytes("U1", 0, []byte("a")))

	ctx := newRequestCtx(fasthttp.MethodGet, nil)
	ctx.SetUserValue("uploadID", "U1")

	// when
	endpoints.ListChunks(ctx)

	// then
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var resp chunksResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "U1", resp.UploadID)
	assert.Equal(t, []int{0, 1}, resp.Received)
}

func TestContentDisposition_ShouldEscapeFileName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "app.log", want: `attachment; filename=app.log`},
		{name: `evil".log`, want: `attachment; filename="evil\".log"`},
		{name: "my app.log", want: `attachment; filename="my app.log"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// when
			got := contentDisposition(tt.name)

			// then
			assert.Equal(t, tt.want, got)

			_, params, err := mime.ParseMediaType(got)
			require.NoError(t, err)
			assert.Equal(t, tt.name, params["filename"])
		})
	}
}
