package storage

import (
	"fmt"
	"time"
)

// FileInfo is the registry record for one stored blob.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"`
}

// Status values are owned by collaborators (the parser); the registry only stores them.
const (
	FileStatusUploaded = "uploaded"
	FileStatusParsing  = "parsing"
	FileStatusParsed   = "parsed"
	FileStatusError    = "error"
)

func (f *FileInfo) clone() *FileInfo {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

const (
	chunksDirName   = "chunks"
	chunkFilePrefix = "chunk_"
)

func chunkFileName(index int) string {
	return fmt.Sprintf("%s%d", chunkFilePrefix, index)
}

type AssemblyErrorKind string

const (
	AssemblyMissingChunk AssemblyErrorKind = "missing chunk"
	AssemblyCopyFailed   AssemblyErrorKind = "copy failed"
)

// AssemblyError reports why CompleteChunkedUpload could not produce a file.
// The scratch area of the upload is left in place for both kinds.
type AssemblyError struct {
	UploadID   string
	ChunkIndex int
	Kind       AssemblyErrorKind
	Err        error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembling upload %s: %s (index %d): %v", e.UploadID, e.Kind, e.ChunkIndex, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMissingChunk) match missing-chunk failures.
func (e *AssemblyError) Is(target error) bool {
	return target == ErrMissingChunk && e.Kind == AssemblyMissingChunk
}

type renameRequest struct {
	Name string `json:"name"`
}

type chunksResponse struct {
	UploadID string `json:"uploadId"`
	Received []int  `json:"received"`
}
