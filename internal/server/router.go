package server

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with recovery, access logging, CORS,
// and every API route registered.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(h.logger))
	router.Use(cors.New(corsConfig(h.cfg.Server.CORSOrigins)))
	router.MaxMultipartMemory = h.maxUploadBytes

	router.GET("/", h.handleRoot)
	router.GET("/health", h.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/chat", h.handleChat)
		api.POST("/rag-chat", h.handleRAGChat)
		api.POST("/regulatory-rag-chat", h.handleRegulatoryChat)

		api.POST("/upload-document", h.handleUploadDocument)
		api.DELETE("/document/:filename", h.handleDeleteDocument)
		api.GET("/global-knowledge-base", h.handleKnowledgeBaseInfo)

		api.GET("/sessions", h.handleListSessions)
		api.GET("/session/:id", h.handleGetSession)
		api.DELETE("/session/:id", h.handleDeleteSession)

		api.GET("/regulatory-roles", h.handleRegulatoryRoles)
	}

	return router
}

// corsConfig translates the configured origin list. A "*" entry allows
// every origin, which cannot be combined with credentials.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// requestLogger emits one structured access-log line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"client", c.ClientIP())
	}
}
