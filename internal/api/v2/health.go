package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/colossusbot/modwatch/internal/logger"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Database      string  `json:"database"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	RSSBytes      uint64  `json:"rss_bytes,omitempty"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
	StreamClients int     `json:"stream_clients"`
}

// Health reports process and database status. An unreachable database answers 503.
func (c *Controller) Health(ctx echo.Context) error {
	resp := HealthResponse{
		Status:        "ok",
		Database:      "ok",
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	if c.stream != nil {
		resp.StreamClients = c.stream.Clients()
	}

	if proc, err := process.NewProcessWithContext(ctx.Request().Context(), int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if mem, err := proc.MemoryInfoWithContext(ctx.Request().Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := proc.CPUPercentWithContext(ctx.Request().Context()); err == nil {
			resp.CPUPercent = cpu
		}
	}

	code := http.StatusOK
	if c.dbPing != nil {
		if err := c.dbPing(ctx.Request().Context()); err != nil {
			c.log.Warn("health check database ping failed", logger.Error(err))
			resp.Status = "degraded"
			resp.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	return ctx.JSON(code, resp)
}
