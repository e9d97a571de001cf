package handler

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
)

const (
	metricsInterval = 7 * time.Second
	// A score backlog this deep means results reach students late.
	scoreBacklogWarn = 500
)

// SystemHandler streams runtime metrics and worker queue depths via SSE.
type SystemHandler struct {
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type runtimeMetrics struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
}

type systemMetrics struct {
	At      time.Time      `json:"at"`
	Uptime  string         `json:"uptime"`
	Runtime runtimeMetrics `json:"runtime"`
	// Queues maps each worker queue to its length; nil when Redis is unreachable.
	Queues       map[string]int64 `json:"queues"`
	ScoreBacklog bool             `json:"score_backlog"`
}

// SystemMetricsSSE godoc
// GET /api/v1/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		c.SSEvent("metrics", h.collect(reqCtx))
		c.Writer.Flush()

		select {
		case <-reqCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := systemMetrics{
		At:     time.Now().UTC(),
		Uptime: formatUptime(time.Since(h.startTime)),
		Runtime: runtimeMetrics{
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  ms.HeapAlloc,
			Sys:        ms.Sys,
			NumGC:      ms.NumGC,
			GoVersion:  runtime.Version(),
			NumCPU:     runtime.NumCPU(),
		},
	}

	queues := config.WorkerKey.Queues()
	pipe := h.rdb.Pipeline()
	lens := make([]*redis.IntCmd, len(queues))
	for i, q := range queues {
		lens[i] = pipe.LLen(ctx, q)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Debug().Err(err).Msg("Queue depth read failed")
		return m
	}

	m.Queues = make(map[string]int64, len(queues))
	for i, q := range queues {
		m.Queues[q] = lens[i].Val()
	}
	m.ScoreBacklog = m.Queues[config.WorkerKey.ScoreAttemptsQueue] >= scoreBacklogWarn
	return m
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	if days > 0 {
		return fmt.Sprintf("%dd%s", days, d)
	}
	return d.String()
}
