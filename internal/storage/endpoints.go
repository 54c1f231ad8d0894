package storage

import (
	"errors"
	"mime"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const defaultRecentLimit = 20

type Endpoints struct {
	store        Store
	maxChunkSize int64
}

func NewEndpoints(store Store, maxChunkSize int64) *Endpoints {
	return &Endpoints{
		store:        store,
		maxChunkSize: maxChunkSize,
	}
}

func (e *Endpoints) Upload(ctx *fasthttp.RequestCtx) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.Error("No file uploaded", fasthttp.StatusBadRequest)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.Error("Failed to open uploaded file", fasthttp.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := e.store.Save(fileHeader.Filename, file)
	if err != nil {
		log.Error().Err(err).Msg("[STORAGE] Failed to save upload")
		ctx.Error("Failed to save file", fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusCreated, info)
}

func (e *Endpoints) UploadChunk(ctx *fasthttp.RequestCtx) {
	uploadID := userValue(ctx, "uploadID")

	chunkIndex, err := strconv.Atoi(userValue(ctx, "chunkIndex"))
	if err != nil || chunkIndex < 0 {
		ctx.Error("Invalid chunk index", fasthttp.StatusBadRequest)
		return
	}

	body := ctx.PostBody()
	if len(body) == 0 {
		ctx.Error("Chunk body is empty", fasthttp.StatusBadRequest)
		return
	}
	if e.maxChunkSize > 0 && int64(len(body)) > e.maxChunkSize {
		ctx.Error("Chunk too large", fasthttp.StatusRequestEntityTooLarge)
		return
	}

	if err := e.store.SaveChunkBytes(uploadID, chunkIndex, body); err != nil {
		e.respondError(ctx, err, "Failed to save chunk")
		return
	}

	ctx.SetStatusCode(fasthttp.StatusAccepted)
}

func (e *Endpoints) ListChunks(ctx *fasthttp.RequestCtx) {
	uploadID := userValue(ctx, "uploadID")

	received, err := e.store.ReceivedChunks(uploadID)
	if err != nil {
		e.respondError(ctx, err, "Failed to list chunks")
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, &chunksResponse{UploadID: uploadID, Received: received})
}

func (e *Endpoints) AbortUpload(ctx *fasthttp.RequestCtx) {
	if err := e.store.AbortChunkedUpload(userValue(ctx, "uploadID")); err != nil {
		e.respondError(ctx, err, "Failed to abort upload")
		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) ListRecent(ctx *fasthttp.RequestCtx) {
	limit := defaultRecentLimit
	if raw := ctx.QueryArgs().Peek("limit"); len(raw) > 0 {
		parsed, err := strconv.Atoi(string(raw))
		if err != nil {
			ctx.Error("Invalid limit", fasthttp.StatusBadRequest)
			return
		}
		limit = parsed
	}

	files, err := e.store.List(limit)
	if err != nil {
		e.respondError(ctx, err, "Failed to list files")
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, files)
}

func (e *Endpoints) GetFile(ctx *fasthttp.RequestCtx) {
	info, err := e.store.Get(userValue(ctx, "fileID"))
	if err != nil {
		e.respondError(ctx, err, "Failed to get file")
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, info)
}

func (e *Endpoints) GetContent(ctx *fasthttp.RequestCtx) {
	fileID := userValue(ctx, "fileID")

	info, err := e.store.Get(fileID)
	if err != nil {
		e.respondError(ctx, err, "Failed to get file")
		return
	}

	path, err := e.store.GetFilePath(fileID)
	if err != nil {
		e.respondError(ctx, err, "Failed to get file")
		return
	}

	ctx.Response.Header.Set("Content-Disposition", contentDisposition(info.Name))
	ctx.SendFile(path)
}

func (e *Endpoints) RenameFile(ctx *fasthttp.RequestCtx) {
	var req renameRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}

	info, err := e.store.Rename(userValue(ctx, "fileID"), req.Name)
	if err != nil {
		e.respondError(ctx, err, "Failed to rename file")
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, info)
}

func (e *Endpoints) DeleteFile(ctx *fasthttp.RequestCtx) {
	if err := e.store.Delete(userValue(ctx, "fileID")); err != nil {
		e.respondError(ctx, err, "Failed to delete file")
		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) respondError(ctx *fasthttp.RequestCtx, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		ctx.Error("Not found", fasthttp.StatusNotFound)
	case errors.Is(err, ErrInvalidInput):
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("[STORAGE] " + msg)
		ctx.Error(msg, fasthttp.StatusInternalServerError)
	}
}

// contentDisposition quotes or RFC 2231-encodes name as needed.
func contentDisposition(name string) string {
	if value := mime.FormatMediaType("attachment", map[string]string{"filename": name}); value != "" {
		return value
	}
	return "attachment"
}

func userValue(ctx *fasthttp.RequestCtx, key string) string {
	value, _ := ctx.UserValue(key).(string)
	return value
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
