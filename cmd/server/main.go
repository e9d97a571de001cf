package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
	"golang.org/x/sync/errgroup"
)

const (
	httpShutdownTimeout = 5 * time.Second
	// Workers drain their buffers within worker.ShutdownTimeout; leave headroom.
	workerDrainTimeout = worker.ShutdownTimeout + 2*time.Second
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem attempt store")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool, rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, resultRepo, examService, rdb, log)
	monitorService := service.NewMonitorService(monitorRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	var answerLimiter *middleware.RateLimiter
	if cfg.AnswerRatePerMinute > 0 {
		answerLimiter = middleware.NewRateLimiter(cfg.AnswerRatePerMinute, time.Minute)
	}

	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, log),
		Exam:    handler.NewExamHandler(examService, log),
		WS:      handler.NewWSHandler(attemptService, answerLimiter, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, examService, monitorService, log),
		System:  handler.NewSystemHandler(rdb, log),
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, answerLimiter, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Background Workers ─────────────────────────────────────
	// Workers get their own context so they keep draining while the HTTP
	// server finishes in-flight requests.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	workers, workerCtx := errgroup.WithContext(workerCtx)
	workers.Go(func() error {
		worker.NewAutosaveWorker(pool, rdb, log).Start(workerCtx)
		return nil
	})
	workers.Go(func() error {
		worker.NewViolationWorker(pool, rdb, log).Start(workerCtx)
		return nil
	})
	workers.Go(func() error {
		worker.NewQuestionOrderWorker(pool, rdb, log).Start(workerCtx)
		return nil
	})
	workers.Go(func() error {
		worker.NewScoringWorker(pool, rdb, examService, log).Start(workerCtx)
		return nil
	})
	workers.Go(func() error {
		return worker.NewSweeper(attemptService, cfg.SweepSchedule, cfg.SweepGrace, log).Start(workerCtx)
	})
	if answerLimiter != nil {
		workers.Go(func() error {
			answerLimiter.RunCleanup(workerCtx.Done())
			return nil
		})
	}

	// ─── Serve ─────────────────────────────────────────────────────────
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server error")
	case <-workerCtx.Done():
		// A worker returned an error (e.g. an invalid sweep schedule).
		log.Error().Msg("Background worker stopped, shutting down")
	}

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their buffers to drain.
	workerCancel()
	drained := make(chan error, 1)
	go func() { drained <- workers.Wait() }()
	select {
	case err := <-drained:
		if err != nil {
			log.Error().Err(err).Msg("Worker error")
		}
	case <-time.After(workerDrainTimeout):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
