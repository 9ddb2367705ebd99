package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/infra/logging"
)

const healthCheckTimeout = 3 * time.Second

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"` // seconds
}

type memoryHealth struct {
	HeapAllocBytes  uint64  `json:"heapAllocBytes"`
	HeapSysBytes    uint64  `json:"heapSysBytes"`
	SysBytes        uint64  `json:"sysBytes"`
	NumGC           uint32  `json:"numGC"`
	Goroutines      int     `json:"goroutines"`
	HostTotalBytes  uint64  `json:"hostTotalBytes,omitempty"`
	HostAvailBytes  uint64  `json:"hostAvailableBytes,omitempty"`
	HostUsedPercent float64 `json:"hostUsedPercent,omitempty"`
}

type componentHealth struct {
	Status   string `json:"status"` // ok|down|disabled
	Backend  string `json:"backend,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Error    string `json:"error,omitempty"`
}

type archiveHealth struct {
	componentHealth
	Outcomes map[model.ScanJobStatus]int `json:"outcomes,omitempty"`
}

type detailedHealthResponse struct {
	healthResponse
	Version    string          `json:"version,omitempty"`
	Memory     memoryHealth    `json:"memory"`
	Jobs       model.JobStats  `json:"jobs"`
	RateLimit  componentHealth `json:"rateLimit"`
	Extraction componentHealth `json:"extraction"`
	Archive    archiveHealth   `json:"archive"`
}

func (s *Server) basicHealth() healthResponse {
	now := s.now()
	return healthResponse{
		Status:    "ok",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(s.started).Seconds(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.basicHealth())
}

// handleHealthDetailed reports every dependency. A failing dependency marks
// the service degraded but the endpoint still answers 200.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	l := logging.With(ctx, s.log)

	resp := detailedHealthResponse{
		healthResponse: s.basicHealth(),
		Version:        s.opts.Version,
		Memory:         readMemory(),
	}

	if stats, err := s.opts.Scans.Stats(ctx); err != nil {
		l.Warn().Err(err).Msg("job stats unavailable")
		resp.Status = "degraded"
		resp.Jobs = model.NewJobStats()
	} else {
		resp.Jobs = stats
	}

	resp.RateLimit = componentHealth{Status: "disabled"}
	if s.opts.Limiter != nil {
		resp.RateLimit = componentHealth{Status: "ok", Backend: s.opts.Limiter.Name()}
		if s.opts.LimiterDB != nil {
			if err := s.opts.LimiterDB.Ping(ctx); err != nil {
				// requests still pass through the in-process fallback
				resp.RateLimit.Status = "down"
				resp.RateLimit.Error = err.Error()
				resp.Status = "degraded"
			}
		}
	}

	resp.Extraction = componentHealth{Status: "disabled"}
	if s.opts.Extraction != nil {
		info := s.opts.Extraction.Provider()
		resp.Extraction = componentHealth{Status: "ok", Provider: info.Provider, Model: info.Name}
		if err := s.opts.Extraction.Ping(ctx); err != nil {
			resp.Extraction.Status = "down"
			resp.Extraction.Error = err.Error()
			resp.Status = "degraded"
		}
	}

	resp.Archive = archiveHealth{componentHealth: componentHealth{Status: "disabled"}}
	if s.opts.Archive != nil {
		resp.Archive.Status = "ok"
		resp.Archive.Backend = "postgres"
		if err := s.opts.Archive.Ping(ctx); err != nil {
			resp.Archive.Status = "down"
			resp.Archive.Error = err.Error()
			resp.Status = "degraded"
		} else if counts, err := s.opts.Archive.CountByStatus(ctx); err == nil {
			resp.Archive.Outcomes = counts
		}
	}

	if !s.opts.Dev {
		resp.RateLimit.Error = redactErr(resp.RateLimit.Error)
		resp.Extraction.Error = redactErr(resp.Extraction.Error)
		resp.Archive.Error = redactErr(resp.Archive.Error)
	}
	writeJSON(w, http.StatusOK, resp)
}

func readMemory() memoryHealth {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m := memoryHealth{
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		SysBytes:       ms.Sys,
		NumGC:          ms.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.HostTotalBytes = vm.Total
		m.HostAvailBytes = vm.Available
		m.HostUsedPercent = vm.UsedPercent
	}
	return m
}

func redactErr(s string) string {
	if s == "" {
		return ""
	}
	return "unavailable"
}
