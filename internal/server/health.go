package server

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/lanternhq/lantern/internal/database"
)

// handleHealth serves GET /health: database pings plus CPU and memory usage
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	databases := map[string]string{}
	healthy := true
	for name, db := range map[string]*database.DB{
		"core":   s.cfg.CoreDB,
		"events": s.cfg.EventsDB,
		"cache":  s.cfg.CacheDB,
	} {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(ctx); err != nil {
			databases[name] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			databases[name] = "ok"
		}
	}

	cpuPct, memPct := s.systemStats()

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"databases": databases,
		"system": map[string]float64{
			"cpu_percent": cpuPct,
			"mem_percent": memPct,
		},
		"timestamp": time.Now().UTC(),
	})
}

// systemStats samples CPU over a short window so the endpoint stays fast for
// pollers
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return firstOrZero(cpuPercent), 0
	}

	return firstOrZero(cpuPercent), memStat.UsedPercent
}

func firstOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[0]
}
