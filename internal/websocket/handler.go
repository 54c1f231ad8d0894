package websocket

import (
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/logvista/ingest/internal/upload"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// ChunkStore is the chunk side of the file registry.
type ChunkStore interface {
	SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error
}

// JobService starts and reports upload jobs.
type JobService interface {
	StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *upload.Job
	GetJob(id string) (*upload.Job, error)
	SupportsEncoding(encoding string) bool
}

type Handler struct {
	hub      *Hub
	chunks   ChunkStore
	jobs     JobService
	upgrader websocket.FastHTTPUpgrader
}

// NewHandler builds the /ws handler. originAllowed decides the upgrade origin
// check; nil accepts every origin.
func NewHandler(hub *Hub, chunks ChunkStore, jobs JobService, originAllowed func(origin string) bool) *Handler {
	return &Handler{
		hub:    hub,
		chunks: chunks,
		jobs:   jobs,
		upgrader: websocket.FastHTTPUpgrader{
			CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
				origin := string(ctx.Request.Header.Peek("Origin"))
				if origin == "" || originAllowed == nil {
					return true
				}
				return originAllowed(origin)
			},
		},
	}
}

func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, h, conn)
		h.hub.Register(client)

		client.reply(&OutgoingMessage{
			Type:     MessageTypeConnected,
			ClientID: client.id,
		})

		log.Info().Str("clientId", client.id).Msg("[WS] Client connected")

		go client.WritePump()
		client.ReadPump()
	})

	if err != nil {
		log.Error().Err(err).Msg("[WS] Failed to upgrade connection")
		return
	}
}

// subscribe adds the client to the job's subscribers and sends the current
// snapshot, so updates published before the subscription are not lost. The
// snapshot is read after subscribing: any update the hub delivers earlier is
// older than it.
func (h *Handler) subscribe(c *Client, jobID string) {
	c.Subscribe(jobID)

	job, err := h.jobs.GetJob(jobID)
	if err != nil {
		c.Unsubscribe(jobID)
		c.replyError("", "job not found: "+jobID)
		return
	}

	c.reply(newJobMessage(job))
}

func (h *Handler) initUpload(c *Client) {
	uploadID := uuid.New().String()
	c.reply(&OutgoingMessage{Type: MessageTypeAck, UploadID: uploadID})

	log.Debug().Str("clientId", c.id).Str("uploadId", uploadID).Msg("[WS] Upload initialised")
}

func (h *Handler) saveChunk(c *Client, msg *IncomingMessage) {
	if msg.UploadID == "" {
		c.replyError("", "uploadId is required")
		return
	}
	if len(msg.Data) == 0 {
		c.replyError(msg.UploadID, "chunk data is empty")
		return
	}

	if err := h.chunks.SaveChunkBytes(msg.UploadID, msg.ChunkIndex, msg.Data); err != nil {
		log.Warn().Err(err).Str("uploadId", msg.UploadID).Int("chunkIndex", msg.ChunkIndex).Msg("[WS] Failed to save chunk")
		c.replyError(msg.UploadID, err.Error())
		return
	}

	index := msg.ChunkIndex
	c.reply(&OutgoingMessage{Type: MessageTypeAck, UploadID: msg.UploadID, ChunkIndex: &index})
}

func (h *Handler) completeUpload(c *Client, msg *IncomingMessage) {
	if msg.UploadID == "" {
		c.replyError("", "uploadId is required")
		return
	}
	if msg.TotalChunks <= 0 {
		c.replyError(msg.UploadID, "totalChunks must be positive")
		return
	}
	if !h.jobs.SupportsEncoding(msg.Encoding) {
		c.replyError(msg.UploadID, "unsupported encoding: "+msg.Encoding)
		return
	}

	if upload.IsCompressed(msg.Encoding) && msg.OriginalSize <= 0 {
		c.replyError(msg.UploadID, "originalSize is required for compressed uploads")
		return
	}

	name := msg.FileName
	if name == "" {
		name = msg.UploadID
	}

	job := h.jobs.StartJob(msg.UploadID, name, msg.TotalChunks, msg.OriginalSize, msg.CompressedSize, msg.Encoding)
	c.reply(&OutgoingMessage{Type: MessageTypeProcessing, UploadID: msg.UploadID, JobID: job.ID})
	h.subscribe(c, job.ID)
}
