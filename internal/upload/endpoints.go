package upload

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	manager      *Manager
	pollInterval time.Duration
}

func NewEndpoints(manager *Manager) *Endpoints {
	return &Endpoints{
		manager:      manager,
		pollInterval: 250 * time.Millisecond,
	}
}

func (e *Endpoints) Complete(ctx *fasthttp.RequestCtx) {
	var req completeRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}

	if req.UploadID == "" {
		ctx.Error("uploadId is required", fasthttp.StatusBadRequest)
		return
	}
	if req.TotalChunks <= 0 {
		ctx.Error("totalChunks must be positive", fasthttp.StatusBadRequest)
		return
	}
	if !e.manager.SupportsEncoding(req.Encoding) {
		ctx.Error(fmt.Sprintf("Unsupported encoding %q", req.Encoding), fasthttp.StatusBadRequest)
		return
	}
	if IsCompressed(req.Encoding) && req.OriginalSize <= 0 {
		ctx.Error("originalSize is required for compressed uploads", fasthttp.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.UploadID
	}

	job := e.manager.StartJob(req.UploadID, req.Name, req.TotalChunks, req.OriginalSize, req.CompressedSize, req.Encoding)

	writeJSON(ctx, fasthttp.StatusAccepted, &completeResponse{JobID: job.ID, Status: job.Status})
}

func (e *Endpoints) GetJob(ctx *fasthttp.RequestCtx) {
	job, err := e.manager.GetJob(jobID(ctx))
	if err != nil {
		ctx.Error("Job not found", fasthttp.StatusNotFound)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, job)
}

// Stream pushes job snapshots as server-sent events until the job is terminal
// or the client goes away.
func (e *Endpoints) Stream(ctx *fasthttp.RequestCtx) {
	id := jobID(ctx)
	if _, err := e.manager.GetJob(id); err != nil {
		ctx.Error("Job not found", fasthttp.StatusNotFound)
		return
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	interval := e.pollInterval
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		var lastProgress float64 = -1
		var lastStatus Status
		for {
			job, err := e.manager.GetJob(id)
			if err != nil {
				return
			}

			if job.Progress != lastProgress || job.Status != lastStatus {
				body, err := json.Marshal(job)
				if err != nil {
					return
				}
				fmt.Fprintf(w, "event: job\ndata: %s\n\n", body)
				if err := w.Flush(); err != nil {
					log.Debug().Err(err).Str("jobId", id).Msg("[UPLOAD] Stream client went away")
					return
				}
				lastProgress = job.Progress
				lastStatus = job.Status
			}

			if job.IsTerminal() {
				return
			}
			time.Sleep(interval)
		}
	})
}

func (e *Endpoints) CancelJob(ctx *fasthttp.RequestCtx) {
	err := e.manager.Cancel(jobID(ctx))
	switch {
	case err == nil:
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	case errors.Is(err, ErrJobNotFound):
		ctx.Error("Job not found", fasthttp.StatusNotFound)
	case errors.Is(err, ErrJobFinished):
		ctx.Error("Job already finished", fasthttp.StatusConflict)
	default:
		ctx.Error("Failed to cancel job", fasthttp.StatusInternalServerError)
	}
}

func jobID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("jobID").(string)
	return id
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
