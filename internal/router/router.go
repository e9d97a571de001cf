package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Exam    *handler.ExamHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// answerLimiter may be nil to disable write rate limiting.
func SetupRouter(handlers *Handlers, answerLimiter *middleware.RateLimiter, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	answerWrites := func(c *gin.Context) { c.Next() }
	if answerLimiter != nil {
		answerWrites = answerLimiter.Middleware(middleware.ByParam("attempt_id"))
	}

	// ─── 1. Attempt Store ──────────────────────────────────────────────
	attempts := router.Group("/api/v1/attempts/:attempt_id", middleware.NoStore())
	{
		// The attempt payload carries every question; compress it.
		attempts.GET("", middleware.Brotli(middleware.DefaultBrotliQuality, middleware.DefaultBrotliMinLength), handlers.Attempt.GetAttempt)
		attempts.POST("/start", handlers.Attempt.StartAttempt)
		attempts.PUT("/answers/:question_id", answerWrites, handlers.Attempt.SaveAnswer)
		attempts.POST("/violations", handlers.Attempt.ReportViolation)
		attempts.POST("/submit", handlers.Attempt.SubmitAttempt)
		attempts.GET("/results", handlers.Attempt.GetResults)
	}

	// ─── 2. Exams ──────────────────────────────────────────────────────
	exams := router.Group("/api/v1/exams/:exam_id")
	{
		exams.GET("", handlers.Exam.GetExam)
		exams.POST("/refresh-cache", handlers.Exam.RefreshExamCache)
		if handlers.Monitor != nil {
			exams.GET("/monitor", handlers.Monitor.MonitorExamSSE)
		}
	}

	if handlers.System != nil {
		router.GET("/api/v1/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 3. WebSocket ──────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
