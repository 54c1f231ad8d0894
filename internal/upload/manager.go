package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/logvista/ingest/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobFinished  = errors.New("job already finished")
	ErrJobCancelled = errors.New("job cancelled")
	ErrSizeMismatch = errors.New("decompressed size mismatch")
)

const (
	defaultProgressInterval = 100 * time.Millisecond
	defaultBufferSize       = 1024 * 1024
)

// Store is the part of the file registry a job needs.
type Store interface {
	AssembleChunks(uploadID, name string, totalChunks int, progress func(done, total int)) (*storage.FileInfo, error)
	GetFilePath(id string) (string, error)
	UpdateSize(id string, size int64) (*storage.FileInfo, error)
	RegisterFile(info *storage.FileInfo)
	Delete(id string) error
}

// Notifier receives a snapshot after every job state change. It is called
// from the job goroutine without any manager lock held and must not block.
type Notifier interface {
	JobUpdated(job *Job)
}

type Options struct {
	// MaxConcurrentJobs bounds how many jobs run their stages at once.
	// Zero means unbounded.
	MaxConcurrentJobs int
	ProgressInterval  time.Duration
	BufferSize        int
	Decoders          map[string]Decoder
	Notifier          Notifier
}

type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc

	store            Store
	decoders         map[string]Decoder
	notifier         Notifier
	slots            *semaphore.Weighted
	progressInterval time.Duration
	bufferSize       int

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	now func() time.Time
}

func NewManager(store Store, opts Options) *Manager {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Decoders == nil {
		opts.Decoders = DefaultDecoders()
	}

	ctx, stop := context.WithCancel(context.Background())

	m := &Manager{
		jobs:             make(map[string]*Job),
		cancels:          make(map[string]context.CancelFunc),
		store:            store,
		decoders:         opts.Decoders,
		notifier:         opts.Notifier,
		progressInterval: opts.ProgressInterval,
		bufferSize:       opts.BufferSize,
		ctx:              ctx,
		stop:             stop,
		now:              time.Now,
	}
	if opts.MaxConcurrentJobs > 0 {
		m.slots = semaphore.NewWeighted(int64(opts.MaxConcurrentJobs))
	}
	return m
}

// SupportsEncoding reports whether StartJob knows how to handle encoding.
func (m *Manager) SupportsEncoding(encoding string) bool {
	if !IsCompressed(encoding) {
		return true
	}
	_, ok := m.decoders[encoding]
	return ok
}

// StartJob registers a job and hands it to a background goroutine. It never
// touches the filesystem.
func (m *Manager) StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *Job {
	job := &Job{
		ID:             uuid.New().String(),
		UploadID:       uploadID,
		FileName:       fileName,
		TotalChunks:    totalChunks,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Encoding:       encoding,
		Status:         StatusProcessing,
		Stage:          stagePreparing,
		CreatedAt:      m.now(),
	}

	ctx, cancel := context.WithCancel(m.ctx)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.cancels[job.ID] = cancel
	snapshot := job.clone()
	m.mu.Unlock()

	log.Info().
		Str("jobId", job.ID).
		Str("uploadId", uploadID).
		Str("fileName", fileName).
		Str("encoding", encoding).
		Msg("[UPLOAD] Job started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.processJob(ctx, job)
	}()

	return snapshot
}

func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job.clone(), nil
}

// ListJobs returns snapshots of all known jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	list := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		list = append(list, job.clone())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Cancel asks a running job to stop. The job ends in the error state once its
// goroutine observes the cancellation.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	terminal := job.IsTerminal()
	cancel := m.cancels[id]
	m.mu.RUnlock()

	if terminal || cancel == nil {
		return fmt.Errorf("job %s: %w", id, ErrJobFinished)
	}

	cancel()
	log.Info().Str("jobId", id).Msg("[UPLOAD] Job cancellation requested")
	return nil
}

// Shutdown cancels every running job and waits for their goroutines until ctx
// is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("[UPLOAD] All jobs stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) processJob(ctx context.Context, job *Job) {
	if m.slots != nil {
		if err := m.slots.Acquire(ctx, 1); err != nil {
			m.markJobError(job, ErrJobCancelled.Error())
			return
		}
		defer m.slots.Release(1)
	}

	m.updateJobStatus(job, StatusAssembling, stageAssembling, 0)

	info, err := m.store.AssembleChunks(job.UploadID, job.FileName, job.TotalChunks, func(done, total int) {
		m.updateJobStatus(job, StatusAssembling, stageAssembling, float64(done)/float64(total)*100)
	})
	if err != nil {
		m.markJobError(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}

	m.updateJobStatus(job, StatusAssembling, stageAssembling, 100)
	log.Debug().
		Str("jobId", job.ID).
		Str("fileId", info.ID).
		Int64("size", info.Size).
		Msg("[UPLOAD] Chunks assembled")

	if ctx.Err() != nil {
		m.discardAssembled(job, info)
		m.markJobError(job, ErrJobCancelled.Error())
		return
	}

	if IsCompressed(job.Encoding) {
		m.updateJobStatus(job, StatusDecompressing, stageDecompressing, 0)

		outcome := m.runDecompression(ctx, job, info)
		switch outcome.Kind {
		case OutcomeFailed:
			if errors.Is(outcome.Err, ErrJobCancelled) {
				m.discardAssembled(job, info)
			}
			m.markJobError(job, outcome.Err.Error())
			return
		case OutcomeDecompressed:
			info = m.applyDecompressedSize(info, outcome.Size)
			log.Info().
				Str("jobId", job.ID).
				Str("fileId", info.ID).
				Int64("size", info.Size).
				Msg("[UPLOAD] File decompressed")
		case OutcomeUnchanged:
			log.Warn().
				Err(outcome.Err).
				Str("jobId", job.ID).
				Str("fileId", info.ID).
				Str("encoding", job.Encoding).
				Msg("[UPLOAD] Decompression skipped, keeping file as uploaded")
		}

		m.updateJobStatus(job, StatusDecompressing, stageDecompressing, 100)
	}

	m.markJobComplete(job, info)
	log.Info().
		Str("jobId", job.ID).
		Str("fileId", info.ID).
		Int64("size", info.Size).
		Msg("[UPLOAD] Job complete")
}

func (m *Manager) runDecompression(ctx context.Context, job *Job, info *storage.FileInfo) Outcome {
	dec, ok := m.decoders[job.Encoding]
	if !ok {
		return unchanged(fmt.Errorf("unsupported encoding %q", job.Encoding))
	}

	path, err := m.store.GetFilePath(info.ID)
	if err != nil {
		return unchanged(err)
	}

	return m.decompressFile(ctx, job, path, dec)
}

// applyDecompressedSize writes the decoded size onto the current record, so a
// rename made while the job ran is kept. A record deleted in the meantime is
// registered again from the assembly snapshot, see RegisterFile.
func (m *Manager) applyDecompressedSize(info *storage.FileInfo, size int64) *storage.FileInfo {
	updated, err := m.store.UpdateSize(info.ID, size)
	if err == nil {
		return updated
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("fileId", info.ID).Msg("[UPLOAD] Failed to update file size")
	}

	info.Size = size
	m.store.RegisterFile(info)
	return info
}

// discardAssembled removes the file a cancelled job assembled. A failed job
// carries no fileInfo, so nobody else holds a reference to it.
func (m *Manager) discardAssembled(job *Job, info *storage.FileInfo) {
	if err := m.store.Delete(info.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("jobId", job.ID).Str("fileId", info.ID).Msg("[UPLOAD] Failed to discard assembled file")
	}
}

// updateJobStatus maps stage progress into the job's overall band:
// assembling 0-40, decompressing 40-90, completion 90-100. Overall progress
// never moves backwards.
func (m *Manager) updateJobStatus(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress

	var progress float64
	switch status {
	case StatusAssembling:
		progress = stageProgress * 0.4
	case StatusDecompressing:
		progress = 40 + stageProgress*0.5
	case StatusComplete:
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	snapshot := job.clone()
	m.mu.Unlock()

	m.notify(snapshot)
}

func (m *Manager) markJobComplete(job *Job, info *storage.FileInfo) {
	m.mu.Lock()
	now := m.now()
	job.Status = StatusComplete
	job.Stage = stageComplete
	job.StageProgress = 100
	job.Progress = 100
	job.FileInfo = info
	job.CompletedAt = &now
	delete(m.cancels, job.ID)
	snapshot := job.clone()
	m.mu.Unlock()

	m.notify(snapshot)
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	now := m.now()
	job.Status = StatusError
	job.Stage = stageFailed
	job.Error = errMsg
	job.CompletedAt = &now
	delete(m.cancels, job.ID)
	snapshot := job.clone()
	m.mu.Unlock()

	log.Error().Str("jobId", job.ID).Str("error", errMsg).Msg("[UPLOAD] Job failed")
	m.notify(snapshot)
}

func (m *Manager) notify(snapshot *Job) {
	if m.notifier != nil {
		m.notifier.JobUpdated(snapshot)
	}
}

// CleanupOldJobs forgets terminal jobs that finished more than maxAge ago.
// Jobs still running are kept however old they are.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if !job.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
