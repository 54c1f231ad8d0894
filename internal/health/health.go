package health

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Check reports whether one dependency is usable.
type Check func() error

type HealthEndpoints struct {
	version   string
	startedAt time.Time
	checks    map[string]Check
}

func NewEndpoints(version string, checks map[string]Check) *HealthEndpoints {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &HealthEndpoints{
		version:   version,
		startedAt: time.Now(),
		checks:    checks,
	}
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

func (h *HealthEndpoints) Health(ctx *fasthttp.RequestCtx) {
	response := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	statusCode := fasthttp.StatusOK
	if len(names) > 0 {
		response.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := h.checks[name](); err != nil {
			response.Checks[name] = err.Error()
			response.Status = "degraded"
			statusCode = fasthttp.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(statusCode)
	ctx.SetBody(responseJSON)
}
