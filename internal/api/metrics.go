package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

const bytesPerMiB = 1 << 20

// SystemMetrics is the /api/v1/metrics document.
type SystemMetrics struct {
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Events        EventMetrics      `json:"events"`
	Providers     []ProviderMetrics `json:"providers"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// EventMetrics describes the event stream.
type EventMetrics struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// ProviderMetrics is one provider's registry size, or the error it
// returned instead.
type ProviderMetrics struct {
	Name        string `json:"name"`
	Sessions    int    `json:"sessions"`
	Accessories int    `json:"accessories"`
	Error       string `json:"error,omitempty"`
}

// DatabaseMetrics is present only when history is enabled.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       runtimeMetrics(),
		Events:        EventMetrics{Subscribers: s.hub.Subscribers(), Dropped: s.hub.Dropped()},
		Providers:     s.providerMetrics(r.Context()),
		Database:      s.databaseMetrics(),
	})
}

func runtimeMetrics() RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / bytesPerMiB,
		MemoryTotalMB: float64(m.TotalAlloc) / bytesPerMiB,
		NumGC:         m.NumGC,
	}
}

func (s *Server) providerMetrics(ctx context.Context) []ProviderMetrics {
	out := make([]ProviderMetrics, 0, len(s.stats))
	for _, src := range s.stats {
		st, err := src.Stats(ctx)
		if err != nil {
			out = append(out, ProviderMetrics{Name: src.Name(), Error: err.Error()})
			continue
		}
		out = append(out, ProviderMetrics{Name: st.Name, Sessions: st.Sessions, Accessories: st.Accessories})
	}
	return out
}

func (s *Server) databaseMetrics() *DatabaseMetrics {
	if s.database == nil {
		return nil
	}
	st := s.database.Stats()
	return &DatabaseMetrics{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}
