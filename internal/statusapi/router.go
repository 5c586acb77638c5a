package statusapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/breeze-rmm/session-panel/internal/health"
	"github.com/breeze-rmm/session-panel/internal/heartbeat"
	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("statusapi")

// SnapshotSource exposes the result of the last tick.
type SnapshotSource interface {
	Snapshot() (heartbeat.Snapshot, bool)
}

type Deps struct {
	Health *health.Monitor
	Panel  SnapshotSource
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", func(c *gin.Context) {
		overall := deps.Health.Overall()
		code := http.StatusOK
		if overall == health.Unhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": overall,
			"checks": deps.Health.All(),
		})
	})

	r.GET("/panel", func(c *gin.Context) {
		snap, ok := deps.Panel.Snapshot()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no tick has completed yet"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("status request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			logging.KeyDurationMs, time.Since(start).Milliseconds())
	}
}
