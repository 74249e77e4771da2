// Package profiling mounts pprof endpoints and a runtime stats report.
//
// The endpoints expose goroutine stacks and heap contents. The server only
// mounts them when server.profiling is set, which is meant for local use.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/usdbridge/usdbridge/internal/web/response"
)

// Config holds profiling configuration
type Config struct {
	// Path is the URL prefix for the pprof endpoints
	Path string

	// StatsPath serves RuntimeStats as JSON; empty disables it
	StatsPath string

	// BlockRate sets the block profiling rate (0 = disabled)
	BlockRate int

	// MutexFraction sets the mutex profiling fraction (0 = disabled)
	MutexFraction int
}

// DefaultConfig returns default profiling configuration
func DefaultConfig() *Config {
	return &Config{
		Path:          "/debug/pprof",
		StatsPath:     "/debug/stats",
		BlockRate:     0,
		MutexFraction: 0,
	}
}

// RegisterRoutes registers the pprof and stats routes with a router
func RegisterRoutes(router chi.Router, config *Config) {
	if config == nil {
		config = DefaultConfig()
	}

	if config.BlockRate > 0 {
		runtime.SetBlockProfileRate(config.BlockRate)
	}
	if config.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(config.MutexFraction)
	}

	router.Route(config.Path, func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)

		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})

	if config.StatsPath != "" {
		router.Get(config.StatsPath, StatsHandler())
	}
}

// Stats is a snapshot of the Go runtime
type Stats struct {
	Goroutines int         `json:"goroutines"`
	CPUs       int         `json:"cpus"`
	Memory     MemoryStats `json:"memory"`
}

// MemoryStats reports heap usage in bytes, with readable copies
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	AllocText  string `json:"alloc_text"`
	SysText    string `json:"sys_text"`
}

// RuntimeStats returns current runtime statistics
func RuntimeStats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Stats{
		Goroutines: runtime.NumGoroutine(),
		CPUs:       runtime.NumCPU(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
			AllocText:  humanize.Bytes(m.Alloc),
			SysText:    humanize.Bytes(m.Sys),
		},
	}
}

// StatsHandler returns an HTTP handler that serves runtime statistics
func StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, RuntimeStats())
	}
}
