package http

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/internal/storage"
	"github.com/saker-ai/julius-bridge/internal/ws"
	"github.com/saker-ai/julius-bridge/pkg/julius"
	"github.com/saker-ai/julius-bridge/webassets"
)

// HistoryStore is the history API surface.
type HistoryStore interface {
	ws.HistoryReader
	Delete(uid string) bool
}

// Deps are the components the router serves. History, Presets and Metrics
// may be nil.
type Deps struct {
	Backend ws.Backend
	WS      *ws.Handler
	History HistoryStore
	Presets *appconfig.Presets
	Metrics http.Handler
}

type commandRequest struct {
	Command string `json:"command"`
}

// NewRouter builds the bridge HTTP API.
func NewRouter(cfg appconfig.Config, deps Deps, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.WS != nil {
		router.GET("/client-ws", func(c *gin.Context) {
			deps.WS.Handle(c.Writer, c.Request)
		})
	}

	api := router.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Backend.Status())
	})
	api.POST("/command", func(c *gin.Context) {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
			return
		}
		sendCommand(c, deps.Backend, req.Command)
	})

	api.GET("/presets", func(c *gin.Context) {
		presets := []appconfig.Preset{}
		if deps.Presets != nil {
			presets = deps.Presets.List()
		}
		c.JSON(http.StatusOK, gin.H{"presets": presets})
	})
	api.POST("/presets/:name", func(c *gin.Context) {
		if deps.Presets == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": appconfig.ErrPresetNotFound.Error()})
			return
		}
		preset, err := deps.Presets.Lookup(c.Param("name"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		sendCommand(c, deps.Backend, preset.Command)
	})

	if deps.History != nil {
		mountHistory(api, deps.History)
	}

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics))
	}

	mountEmbeddedConsole(router, logger)
	return router
}

func sendCommand(c *gin.Context, backend ws.Backend, command string) {
	err := backend.SendCommand(c.Request.Context(), command)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "sent", "command": strings.TrimSpace(command)})
	case errors.Is(err, julius.ErrNotConnected):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, julius.ErrSendTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func mountHistory(api *gin.RouterGroup, history HistoryStore) {
	api.GET("/history", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"histories": history.List()})
	})
	api.GET("/history/:uid", func(c *gin.Context) {
		uid := c.Param("uid")
		records, err := history.Get(uid)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"uid": uid, "records": records})
		case errors.Is(err, storage.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
	api.DELETE("/history/:uid", func(c *gin.Context) {
		uid := c.Param("uid")
		if !history.Delete(uid) {
			c.JSON(http.StatusNotFound, gin.H{"error": storage.ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": uid})
	})
}

func mountEmbeddedConsole(router *gin.Engine, logger *zap.Logger) bool {
	embeddedRoot, err := webassets.Subdir("console")
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded console", zap.Error(err))
		}
		return false
	}

	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded index.html", zap.Error(err))
		}
		return false
	}
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	router.StaticFS("/console", http.FS(embeddedRoot))
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
