package upload

import (
	"time"

	"github.com/rs/zerolog/log"
)

// ChunkSweeper removes abandoned chunk scratch areas.
type ChunkSweeper interface {
	CleanupStaleChunks(maxAge time.Duration) (int, error)
}

// CleanupScheduler periodically forgets finished jobs and removes stale chunks.
type CleanupScheduler struct {
	manager        *Manager
	chunks         ChunkSweeper
	interval       time.Duration
	jobRetention   time.Duration
	chunkRetention time.Duration
	ticker         *time.Ticker
	done           chan bool
}

func NewCleanupScheduler(manager *Manager, chunks ChunkSweeper, interval, jobRetention, chunkRetention time.Duration) *CleanupScheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if jobRetention <= 0 {
		jobRetention = time.Hour
	}
	if chunkRetention <= 0 {
		chunkRetention = 24 * time.Hour
	}

	return &CleanupScheduler{
		manager:        manager,
		chunks:         chunks,
		interval:       interval,
		jobRetention:   jobRetention,
		chunkRetention: chunkRetention,
		done:           make(chan bool),
	}
}

func (cs *CleanupScheduler) Start() {
	cs.ticker = time.NewTicker(cs.interval)
	log.Info().
		Dur("interval", cs.interval).
		Dur("jobRetention", cs.jobRetention).
		Dur("chunkRetention", cs.chunkRetention).
		Msg("[CLEANUP] Scheduler started")

	go cs.loop()
}

func (cs *CleanupScheduler) loop() {
	for {
		select {
		case <-cs.ticker.C:
			cs.runCleanup()
		case <-cs.done:
			cs.ticker.Stop()
			return
		}
	}
}

func (cs *CleanupScheduler) runCleanup() {
	removedJobs := cs.manager.CleanupOldJobs(cs.jobRetention)

	removedChunks := 0
	if cs.chunks != nil {
		n, err := cs.chunks.CleanupStaleChunks(cs.chunkRetention)
		if err != nil {
			log.Error().Err(err).Msg("[CLEANUP] Failed to remove stale chunks")
		}
		removedChunks = n
	}

	if removedJobs > 0 || removedChunks > 0 {
		log.Info().
			Int("jobs", removedJobs).
			Int("uploads", removedChunks).
			Msg("[CLEANUP] Cleanup completed")
	}
}

func (cs *CleanupScheduler) Stop() {
	log.Info().Msg("[CLEANUP] Stopping scheduler")
	if cs.ticker != nil {
		cs.done <- true
	}
}

// RunNow runs one cleanup pass on the calling goroutine.
func (cs *CleanupScheduler) RunNow() {
	cs.runCleanup()
}
