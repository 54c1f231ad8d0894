package internal

import (
	"strings"

	"github.com/logvista/ingest/internal/health"
	"github.com/logvista/ingest/internal/middleware"
	"github.com/logvista/ingest/internal/status"
	"github.com/logvista/ingest/internal/storage"
	"github.com/logvista/ingest/internal/upload"
	"github.com/logvista/ingest/internal/websocket"
	"github.com/valyala/fasthttp"
)

// NewRequestHandler routes every request and wraps the router in cors. The
// same middleware instance guards the websocket upgrade origin check.
func NewRequestHandler(cors *middleware.CORSMiddleware, healthEndpoints *health.HealthEndpoints, statusEndpoints *status.StatusEndpoints, storageEndpoints *storage.Endpoints, uploadEndpoints *upload.Endpoints, wsHandler *websocket.Handler) fasthttp.RequestHandler {
	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			healthEndpoints.Health(ctx)
		case path == "/status":
			statusEndpoints.Status(ctx)

		case path == "/files/upload":
			if method == fasthttp.MethodPost {
				storageEndpoints.Upload(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == "/files/recent":
			if method == fasthttp.MethodGet {
				storageEndpoints.ListRecent(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/files/") && strings.HasSuffix(path, "/content"):
			parts := strings.Split(path, "/")
			if len(parts) == 4 && parts[3] == "content" {
				ctx.SetUserValue("fileID", parts[2])
				if method == fasthttp.MethodGet {
					storageEndpoints.GetContent(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}
		case strings.HasPrefix(path, "/files/"):
			parts := strings.Split(path, "/")
			if len(parts) == 3 && parts[2] != "" {
				ctx.SetUserValue("fileID", parts[2])
				switch method {
				case fasthttp.MethodGet:
					storageEndpoints.GetFile(ctx)
				case fasthttp.MethodPut:
					storageEndpoints.RenameFile(ctx)
				case fasthttp.MethodDelete:
					storageEndpoints.DeleteFile(ctx)
				default:
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			} else {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/uploads/complete":
			if method == fasthttp.MethodPost {
				uploadEndpoints.Complete(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/uploads/jobs/"):
			parts := strings.Split(path, "/")
			switch {
			case len(parts) == 4 && parts[3] != "":
				ctx.SetUserValue("jobID", parts[3])
				switch method {
				case fasthttp.MethodGet:
					uploadEndpoints.GetJob(ctx)
				case fasthttp.MethodDelete:
					uploadEndpoints.CancelJob(ctx)
				default:
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			case len(parts) == 5 && parts[4] == "stream":
				ctx.SetUserValue("jobID", parts[3])
				if method == fasthttp.MethodGet {
					uploadEndpoints.Stream(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			default:
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}
		case strings.HasPrefix(path, "/uploads/"):
			parts := strings.Split(path, "/")
			switch {
			case len(parts) == 5 && parts[3] == "chunks":
				ctx.SetUserValue("uploadID", parts[2])
				ctx.SetUserValue("chunkIndex", parts[4])
				if method == fasthttp.MethodPost {
					storageEndpoints.UploadChunk(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			case len(parts) == 4 && parts[3] == "chunks":
				ctx.SetUserValue("uploadID", parts[2])
				if method == fasthttp.MethodGet {
					storageEndpoints.ListChunks(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			case len(parts) == 3 && parts[2] != "":
				ctx.SetUserValue("uploadID", parts[2])
				if method == fasthttp.MethodDelete {
					storageEndpoints.AbortUpload(ctx)
				} else {
					ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				}
			default:
				ctx.Error("Not Found", fasthttp.StatusNotFound)
			}

		case path == "/ws":
			wsHandler.HandleFastHTTP(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return cors.Handle(handler)
}
