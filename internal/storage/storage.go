package storage

import (
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrMissingChunk       = errors.New("missing chunk")
	ErrAssemblyInProgress = errors.New("assembly already in progress")
)

// Store is the registry contract the rest of the service is written against.
type Store interface {
	Save(name string, r io.Reader) (*FileInfo, error)
	SaveBytes(name string, data []byte) (*FileInfo, error)
	Get(id string) (*FileInfo, error)
	List(limit int) ([]*FileInfo, error)
	Delete(id string) error
	Rename(id, name string) (*FileInfo, error)
	GetFilePath(id string) (string, error)

	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error
	ReceivedChunks(uploadID string) ([]int, error)
	CompleteChunkedUpload(uploadID, name string, totalChunks int) (*FileInfo, error)
	AssembleChunks(uploadID, name string, totalChunks int, progress func(done, total int)) (*FileInfo, error)
	AbortChunkedUpload(uploadID string) error
	CleanupStaleChunks(maxAge time.Duration) (int, error)

	UpdateSize(id string, size int64) (*FileInfo, error)
	RegisterFile(info *FileInfo)
}
