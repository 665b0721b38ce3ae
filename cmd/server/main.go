// Package main runs the live classroom HTTP server with WebSocket signaling
// and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightclass/backend/config"
	"github.com/brightclass/backend/internal/auth"
	"github.com/brightclass/backend/internal/devices"
	"github.com/brightclass/backend/internal/middleware"
	"github.com/brightclass/backend/internal/models"
	"github.com/brightclass/backend/internal/realtime"
	"github.com/brightclass/backend/internal/rtc"
	"github.com/brightclass/backend/internal/session"
	"github.com/brightclass/backend/internal/sessionlog"
	"github.com/brightclass/backend/internal/sessions"
	"github.com/brightclass/backend/pkg/database"
	"github.com/brightclass/backend/pkg/queue"
	"github.com/brightclass/backend/pkg/redis"
	"github.com/brightclass/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	engine := rtc.NewEngine(logger, iceServers)
	engine.SetStatsInterval(cfg.Classroom.StatsInterval)

	registry := devices.NewRegistry(devices.StaticProvider(nil), logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	manager := session.NewManager(engine, session.Config{ReconnectTimeout: cfg.Classroom.ReconnectTimeout}, logger)
	sessionHandler := sessions.NewHandler(sessionRepo, manager, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Transport stats feed the per-participant quality tier.
	engine.SetSampleHandler(func(sessionID, participantID uuid.UUID, sample models.QualitySample) {
		if coord, ok := manager.Get(sessionID); ok {
			coord.RecordQualitySample(participantID, sample)
		}
	})

	// Every roster change fans out to connected clients and keeps the
	// persisted lifecycle columns in step with the live state.
	manager.SetSnapshotHandler(func(view models.SessionView) {
		hub.BroadcastToSessionAndPublish(view.SessionID, "session_snapshot", view)
		if view.Status == models.SessionOngoing && view.StartedAt != nil {
			_ = sessionRepo.MarkOngoing(ctx, view.SessionID, *view.StartedAt)
		}
		_ = sessionRepo.UpdatePeakParticipants(ctx, view.SessionID, len(view.Participants))
	})
	manager.SetCompletionHandler(func(sess models.ClassSession) {
		endedAt := time.Now()
		if sess.EndedAt != nil {
			endedAt = *sess.EndedAt
		}
		_ = sessionRepo.MarkCompleted(ctx, sess.ID, endedAt)
		_ = jobQueue.EnqueueSessionSummary(ctx, queue.SessionSummaryPayload{SessionID: sess.ID, EndedAt: endedAt})
		hub.BroadcastToSessionAndPublish(sess.ID, "session_ended", gin.H{"session_id": sess.ID, "ended_at": endedAt})
		engine.CloseSession(sess.ID)
		manager.Remove(sess.ID)
	})

	// Attendance log (joins/leaves per connection)
	sessionLogRepo := sessionlog.NewRepository(pool)
	sessionLogHandler := sessionlog.NewHandler(sessionLogRepo)
	hub.SetSessionLogger(
		func(sessionID, userID uuid.UUID) {
			_ = sessionLogRepo.LogJoin(context.Background(), sessionID, userID)
		},
		func(sessionID, userID uuid.UUID, joinedAt time.Time) {
			_ = sessionLogRepo.LogLeave(context.Background(), sessionID, userID, joinedAt)
		},
	)

	jwtValidate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{
			UserID:      claims.UserID,
			Role:        models.Role(claims.Role),
			DisplayName: claims.Name,
		}, nil
	}
	resolveCoordinator := func(ctx context.Context, sessionID uuid.UUID) (*session.Coordinator, error) {
		if coord, ok := manager.Get(sessionID); ok {
			return coord, nil
		}
		s, err := sessionRepo.GetByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errors.New("session not found")
		}
		return manager.GetOrCreate(*s), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireRole("tutor", "admin"), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.GET("/sessions/:id/snapshot", sessionHandler.Snapshot)
		api.POST("/sessions/:id/end", middleware.RequireRole("tutor", "admin"), sessionHandler.End)
		api.POST("/sessions/:id/cancel", middleware.RequireRole("tutor", "admin"), sessionHandler.Cancel)
		api.GET("/sessions/:id/attendees", middleware.RequireRole("tutor", "admin"), sessionLogHandler.GetAttendees)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate, resolveCoordinator, engine, registry))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
