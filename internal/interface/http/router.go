package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eduask/backend/internal/infra/config"
	"github.com/eduask/backend/internal/interface/ws"
)

// NewRouter wires up the HTTP handlers and returns a configured server,
// implementing spec.md §6's full route surface: stateless-JWT auth, the
// ingestion/content endpoints, the per-document and global query flows, and
// the ingestion-status WebSocket.
func NewRouter(cfg *config.Config, handler *Handler, wsHandler *ws.Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		errorHandlingMiddleware(handler.logger),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.limiter, handler.logger),
	)

	auth := router.Group("/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
	}

	protected := router.Group("/")
	protected.Use(authMiddleware(handler.authSvc))
	{
		protected.GET("/auth/me", handler.Profile)

		content := protected.Group("/content")
		{
			content.POST("/upload", handler.UploadContent)
			content.DELETE("/:id", handler.DeleteContent)
			content.GET("/user/:id", handler.ListUserContent)
		}

		query := protected.Group("/query")
		{
			query.POST("/global/complete", handler.QueryGlobalComplete)
			query.POST("/:doc_id", handler.QueryDocument)
			query.POST("/:doc_id/complete", handler.QueryDocumentComplete)
			query.GET("/:doc_id/popular", handler.PopularQuestions)
		}
	}

	if wsHandler != nil {
		router.GET("/ws/document/:id/status", func(c *gin.Context) { wsHandler.Status(c) })
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}
