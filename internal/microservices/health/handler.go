package health

import (
	"log/slog"
	"net/http"
	"time"

	"eventmanager/internal/microservices/connector"

	"github.com/gin-gonic/gin"
)

// StatsProvider reports receiver state; *connector.Receiver satisfies it.
type StatsProvider interface {
	Stats() connector.Stats
}

type Handler struct {
	receiver StatsProvider
	started  time.Time
}

func NewHandler(receiver StatsProvider) *Handler {
	return &Handler{receiver: receiver, started: time.Now()}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/check-conn", h.CheckConn)
	r.GET("/stats", h.Stats)
}

// CheckConn answers 200 while the receiver is listening and 503 otherwise.
func (h *Handler) CheckConn(c *gin.Context) {
	stats := h.receiver.Stats()
	if !stats.Listening {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"message":   "receiver is not listening",
			"listening": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "bot is alive",
		"listening": true,
	})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"receiver": h.receiver.Stats(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

// NewRouter builds the gin engine with recovery and slog request logging.
func NewRouter(receiver StatsProvider, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	NewHandler(receiver).RegisterRoutes(r)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("health_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
