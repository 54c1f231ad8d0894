package websocket

import "github.com/logvista/ingest/internal/upload"

type MessageType string

const (
	MessageTypeConnected      MessageType = "connected"
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeUnsubscribe    MessageType = "unsubscribe"
	MessageTypePing           MessageType = "ping"
	MessageTypePong           MessageType = "pong"
	MessageTypeError          MessageType = "error"
	MessageTypeUploadInit     MessageType = "upload:init"
	MessageTypeUploadChunk    MessageType = "upload:chunk"
	MessageTypeUploadComplete MessageType = "upload:complete"
	MessageTypeAck            MessageType = "ack"
	MessageTypeProcessing     MessageType = "processing"
	MessageTypeProgress       MessageType = "progress"
	MessageTypeComplete       MessageType = "complete"
	MessageTypeFailed         MessageType = "failed"
)

// IncomingMessage carries every client request; fields unused by a type stay empty.
// Data is base64 in JSON.
type IncomingMessage struct {
	Type           MessageType `json:"type"`
	JobID          string      `json:"jobId,omitempty"`
	UploadID       string      `json:"uploadId,omitempty"`
	ChunkIndex     int         `json:"chunkIndex,omitempty"`
	Data           []byte      `json:"data,omitempty"`
	FileName       string      `json:"fileName,omitempty"`
	TotalChunks    int         `json:"totalChunks,omitempty"`
	OriginalSize   int64       `json:"originalSize,omitempty"`
	CompressedSize int64       `json:"compressedSize,omitempty"`
	Encoding       string      `json:"encoding,omitempty"`
}

type OutgoingMessage struct {
	Type       MessageType `json:"type"`
	ClientID   string      `json:"clientId,omitempty"`
	UploadID   string      `json:"uploadId,omitempty"`
	JobID      string      `json:"jobId,omitempty"`
	ChunkIndex *int        `json:"chunkIndex,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type JobMessage struct {
	Type MessageType `json:"type"`
	Job  *upload.Job `json:"job"`
}

func newJobMessage(job *upload.Job) *JobMessage {
	msgType := MessageTypeProgress
	switch job.Status {
	case upload.StatusComplete:
		msgType = MessageTypeComplete
	case upload.StatusError:
		msgType = MessageTypeFailed
	}
	return &JobMessage{Type: msgType, Job: job}
}
