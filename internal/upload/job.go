package upload

import (
	"time"

	"github.com/logvista/ingest/internal/storage"
)

type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

const (
	stagePreparing     = "preparing"
	stageAssembling    = "assembling chunks"
	stageDecompressing = "decompressing file"
	stageComplete      = "complete"
	stageFailed        = "failed"
)

// Job is the observable record of one upload being turned into a stored file.
// Only the job's own goroutine writes to it, always under the manager lock.
type Job struct {
	ID             string            `json:"id"`
	UploadID       string            `json:"uploadId"`
	FileName       string            `json:"fileName"`
	TotalChunks    int               `json:"totalChunks"`
	OriginalSize   int64             `json:"originalSize"`
	CompressedSize int64             `json:"compressedSize"`
	Encoding       string            `json:"encoding"`
	Status         Status            `json:"status"`
	Progress       float64           `json:"progress"`
	Stage          string            `json:"stage"`
	StageProgress  float64           `json:"stageProgress"`
	FileInfo       *storage.FileInfo `json:"fileInfo,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

func (j *Job) IsTerminal() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

func (j *Job) clone() *Job {
	c := *j
	if j.FileInfo != nil {
		info := *j.FileInfo
		c.FileInfo = &info
	}
	if j.CompletedAt != nil {
		completedAt := *j.CompletedAt
		c.CompletedAt = &completedAt
	}
	return &c
}

type completeRequest struct {
	UploadID       string `json:"uploadId"`
	Name           string `json:"name"`
	TotalChunks    int    `json:"totalChunks"`
	OriginalSize   int64  `json:"originalSize"`
	CompressedSize int64  `json:"compressedSize"`
	Encoding       string `json:"encoding"`
}

type completeResponse struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
}
