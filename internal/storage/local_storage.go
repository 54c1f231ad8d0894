package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalStore keeps blobs as <uploadDir>/<id> and in-flight chunks as
// <uploadDir>/chunks/<uploadId>/chunk_<index>. The metadata table lives in
// memory behind mu and is written through to repo.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	chunkDir  string
	files     map[string]*FileInfo
	repo      Repository

	assemblyMu sync.Mutex
	assembling map[string]struct{}

	now func() time.Time
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(uploadDir string, repo Repository) (*LocalStore, error) {
	if uploadDir == "" {
		uploadDir = "./data/uploads"
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}

	chunkDir := filepath.Join(uploadDir, chunksDirName)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir:  uploadDir,
		chunkDir:   chunkDir,
		files:      make(map[string]*FileInfo),
		repo:       repo,
		assembling: make(map[string]struct{}),
		now:        time.Now,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *LocalStore) load() error {
	records, err := s.repo.List()
	if err != nil {
		return fmt.Errorf("failed to load file metadata: %w", err)
	}

	for _, info := range records {
		if _, err := os.Stat(s.blobPath(info.ID)); err != nil {
			log.Warn().Err(err).Str("fileId", info.ID).Msg("[STORAGE] Dropping record without blob")
			if err := s.repo.Delete(info.ID); err != nil {
				log.Warn().Err(err).Str("fileId", info.ID).Msg("[STORAGE] Failed to drop stale record")
			}
			continue
		}
		s.files[info.ID] = info
	}

	log.Info().
		Int("files", len(s.files)).
		Str("uploadDir", s.uploadDir).
		Msg("[STORAGE] Registry loaded")
	return nil
}

func (s *LocalStore) Save(name string, r io.Reader) (*FileInfo, error) {
	id := uuid.New().String()
	path := s.blobPath(id)

	size, err := writeFile(path, r)
	if err != nil {
		return nil, err
	}

	info := &FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: s.now(),
		Status:     FileStatusUploaded,
	}

	if err := s.insert(info); err != nil {
		os.Remove(path)
		return nil, err
	}

	log.Debug().Str("fileId", id).Str("name", name).Int64("size", size).Msg("[STORAGE] File saved")
	return info.clone(), nil
}

func (s *LocalStore) SaveBytes(name string, data []byte) (*FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

func (s *LocalStore) Get(id string) (*FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return info.clone(), nil
}

// List returns records newest first. limit <= 0 returns everything.
func (s *LocalStore) List(limit int) ([]*FileInfo, error) {
	s.mu.RLock()
	list := make([]*FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info.clone())
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	if err := os.Remove(s.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	if err := s.repo.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Str("fileId", id).Msg("[STORAGE] Failed to delete file metadata")
	}

	delete(s.files, id)
	return nil
}

func (s *LocalStore) Rename(id, name string) (*FileInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("empty name: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	renamed := info.clone()
	renamed.Name = name
	if err := s.repo.Upsert(renamed); err != nil {
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}
	s.files[id] = renamed

	return renamed.clone(), nil
}

// GetFilePath returns the blob location. The path is not guarded after return:
// a concurrent Delete may remove the blob while the caller reads it.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return s.blobPath(id), nil
}

// RegisterFile upserts a record whose blob was rewritten outside the store.
// It does not check for a concurrent Delete, so a file deleted while its
// upload job was still decompressing is registered again.
func (s *LocalStore) RegisterFile(info *FileInfo) {
	if info == nil {
		return
	}
	record := info.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Upsert(record); err != nil {
		log.Warn().Err(err).Str("fileId", record.ID).Msg("[STORAGE] Failed to persist registered file")
	}
	s.files[record.ID] = record
}

// UpdateSize corrects the size of an existing record after its blob was
// rewritten, keeping every other field as it is now.
func (s *LocalStore) UpdateSize(id string, size int64) (*FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}

	updated := info.clone()
	updated.Size = size
	if err := s.repo.Upsert(updated); err != nil {
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}
	s.files[id] = updated

	return updated.clone(), nil
}

// SaveChunk writes one chunk of an upload. The chunk lands under its final
// name through a rename, so a writer racing on the same index never leaves a
// torn file behind; the last rename wins.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	dir, err := s.uploadChunkDir(uploadID)
	if err != nil {
		return err
	}
	if chunkIndex < 0 {
		return fmt.Errorf("chunk index %d: %w", chunkIndex, ErrInvalidInput)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	finalPath := filepath.Join(dir, chunkFileName(chunkIndex))
	tempPath := filepath.Join(dir, "."+chunkFileName(chunkIndex)+"."+uuid.New().String())

	if _, err := writeFile(tempPath, r); err != nil {
		return err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("storing chunk %d: %w", chunkIndex, err)
	}
	return nil
}

func (s *LocalStore) SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error {
	return s.SaveChunk(uploadID, chunkIndex, bytes.NewReader(data))
}

// ReceivedChunks lists the chunk indices currently stored for an upload.
func (s *LocalStore) ReceivedChunks(uploadID string) ([]int, error) {
	dir, err := s.uploadChunkDir(uploadID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("reading chunk directory: %w", err)
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, chunkFilePrefix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, chunkFilePrefix))
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}

	sort.Ints(indices)
	return indices, nil
}

func (s *LocalStore) CompleteChunkedUpload(uploadID, name string, totalChunks int) (*FileInfo, error) {
	return s.AssembleChunks(uploadID, name, totalChunks, nil)
}

// AssembleChunks concatenates chunks 0..totalChunks-1 in index order into a
// new file and removes the upload's scratch area. On failure the scratch
// area is kept so the upload can be completed again once fixed.
func (s *LocalStore) AssembleChunks(uploadID, name string, totalChunks int, progress func(done, total int)) (*FileInfo, error) {
	dir, err := s.uploadChunkDir(uploadID)
	if err != nil {
		return nil, err
	}
	if totalChunks <= 0 {
		return nil, fmt.Errorf("total chunks %d: %w", totalChunks, ErrInvalidInput)
	}

	if !s.beginAssembly(uploadID) {
		return nil, fmt.Errorf("upload %s: %w", uploadID, ErrAssemblyInProgress)
	}
	defer s.endAssembly(uploadID)

	for i := 0; i < totalChunks; i++ {
		if _, err := os.Stat(filepath.Join(dir, chunkFileName(i))); err != nil {
			return nil, &AssemblyError{UploadID: uploadID, ChunkIndex: i, Kind: AssemblyMissingChunk, Err: err}
		}
	}

	id := uuid.New().String()
	path := s.blobPath(id)

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}

	var size int64
	for i := 0; i < totalChunks; i++ {
		n, err := appendFile(out, filepath.Join(dir, chunkFileName(i)))
		size += n
		if err != nil {
			out.Close()
			os.Remove(path)
			kind := AssemblyCopyFailed
			if os.IsNotExist(err) {
				kind = AssemblyMissingChunk
			}
			return nil, &AssemblyError{UploadID: uploadID, ChunkIndex: i, Kind: kind, Err: err}
		}
		if progress != nil {
			progress(i+1, totalChunks)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing assembled file: %w", err)
	}

	info := &FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: s.now(),
		Status:     FileStatusUploaded,
	}

	if err := s.insert(info); err != nil {
		os.Remove(path)
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("uploadId", uploadID).Msg("[STORAGE] Failed to remove chunk directory")
	}

	log.Info().
		Str("uploadId", uploadID).
		Str("fileId", id).
		Int("chunks", totalChunks).
		Int64("size", size).
		Msg("[STORAGE] Chunked upload assembled")

	return info.clone(), nil
}

func (s *LocalStore) AbortChunkedUpload(uploadID string) error {
	dir, err := s.uploadChunkDir(uploadID)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
		}
		return err
	}

	return os.RemoveAll(dir)
}

// CleanupStaleChunks removes scratch areas that have not been written to for
// longer than maxAge. Uploads being assembled are skipped.
func (s *LocalStore) CleanupStaleChunks(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.chunkDir)
	if err != nil {
		return 0, fmt.Errorf("reading chunk directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		stat, err := entry.Info()
		if err != nil || !stat.ModTime().Before(cutoff) {
			continue
		}

		uploadID := entry.Name()
		if !s.beginAssembly(uploadID) {
			continue
		}
		err = os.RemoveAll(filepath.Join(s.chunkDir, uploadID))
		s.endAssembly(uploadID)

		if err != nil {
			log.Warn().Err(err).Str("uploadId", uploadID).Msg("[STORAGE] Failed to remove stale chunks")
			continue
		}
		removed++
	}

	return removed, nil
}

func (s *LocalStore) insert(info *FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Upsert(info); err != nil {
		return fmt.Errorf("failed to save file metadata: %w", err)
	}
	s.files[info.ID] = info.clone()
	return nil
}

func (s *LocalStore) beginAssembly(uploadID string) bool {
	s.assemblyMu.Lock()
	defer s.assemblyMu.Unlock()

	if _, busy := s.assembling[uploadID]; busy {
		return false
	}
	s.assembling[uploadID] = struct{}{}
	return true
}

func (s *LocalStore) endAssembly(uploadID string) {
	s.assemblyMu.Lock()
	delete(s.assembling, uploadID)
	s.assemblyMu.Unlock()
}

func (s *LocalStore) blobPath(id string) string {
	return filepath.Join(s.uploadDir, id)
}

func (s *LocalStore) uploadChunkDir(uploadID string) (string, error) {
	if uploadID == "" || uploadID == "." || uploadID == ".." ||
		strings.ContainsAny(uploadID, `/\`) || filepath.Base(uploadID) != uploadID {
		return "", fmt.Errorf("upload id %q: %w", uploadID, ErrInvalidInput)
	}
	return filepath.Join(s.chunkDir, uploadID), nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("writing file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("closing file: %w", err)
	}
	return n, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return io.Copy(dst, f)
}
