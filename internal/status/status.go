package status

import (
	"github.com/goccy/go-json"
	"github.com/logvista/ingest/internal/storage"
	"github.com/logvista/ingest/internal/upload"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type FileLister interface {
	List(limit int) ([]*storage.FileInfo, error)
}

type JobLister interface {
	ListJobs() []*upload.Job
}

type ConnectionStats interface {
	GetStats() (totalClients, totalSubscriptions int)
}

type StatusEndpoints struct {
	version     string
	files       FileLister
	jobs        JobLister
	connections ConnectionStats
}

func NewEndpoints(version string, files FileLister, jobs JobLister, connections ConnectionStats) *StatusEndpoints {
	return &StatusEndpoints{
		version:     version,
		files:       files,
		jobs:        jobs,
		connections: connections,
	}
}

type StatusResponse struct {
	Health        string                `json:"health"`
	Version       string                `json:"version"`
	Files         int                   `json:"files"`
	Jobs          map[upload.Status]int `json:"jobs"`
	Clients       int                   `json:"clients"`
	Subscriptions int                   `json:"subscriptions"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	files, err := se.files.List(0)
	if err != nil {
		log.Error().Err(err).Msg("[STATUS] Failed to list files")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Health:  "OK",
		Version: se.version,
		Files:   len(files),
		Jobs:    countJobs(se.jobs.ListJobs()),
	}
	if se.connections != nil {
		response.Clients, response.Subscriptions = se.connections.GetStats()
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(responseJSON)
}

func countJobs(jobs []*upload.Job) map[upload.Status]int {
	counts := map[upload.Status]int{
		upload.StatusProcessing:    0,
		upload.StatusAssembling:    0,
		upload.StatusDecompressing: 0,
		upload.StatusComplete:      0,
		upload.StatusError:         0,
	}
	for _, job := range jobs {
		counts[job.Status]++
	}
	return counts
}
