package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps metadata for the lifetime of the process only.
type MemoryRepository struct {
	mu    sync.Mutex
	files map[string]*FileInfo
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		files: make(map[string]*FileInfo),
	}
}

func (r *MemoryRepository) Upsert(info *FileInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files[info.ID] = info.clone()
	return nil
}

func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[id]; !exists {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	delete(r.files, id)
	return nil
}

func (r *MemoryRepository) List() ([]*FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*FileInfo, 0, len(r.files))
	for _, info := range r.files {
		result = append(result, info.clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})

	return result, nil
}
