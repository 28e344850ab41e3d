package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-stream/config"
	"worker-stream/constant"
	"worker-stream/dto"
	streamHandler "worker-stream/handler"
	"worker-stream/pkg/pidstore"
	"worker-stream/pkg/rabbitmq"
	"worker-stream/repository"
	"worker-stream/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}

	redisClient, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRedisClient")
	}

	repo := repository.NewRepo(cfg.DB)
	pids := pidstore.New(redisClient)
	dispatcher := rabbitmq.NewPublisher(conn, cfg.Queue)

	streamService := service.NewStreamService(repo, pids, cfg)
	controlService := service.NewControlService(repo, pids)
	scheduler := service.NewScheduler(repo, dispatcher)

	serviceDeps := streamHandler.ServiceDependencies{
		StreamService:  streamService,
		ControlService: controlService,
	}

	// Each start command occupies one worker slot for the whole
	// remaining broadcast, so the pool size bounds concurrent streams.
	commands := []constant.StreamCommand{constant.CommandStartStream, constant.CommandKillStream}
	streamConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, commands, cfg.Server.Workers, streamHandler.StreamCommandHandler)
	go func() {
		err := streamConsumer.Consume(ctx, serviceDeps)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("Stream consumer error")
		}
	}()

	go scheduler.Run(ctx)

	r := gin.Default()
	addHealth(r)
	addStreamRoutes(r, ctx, repo, controlService)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// addStreamRoutes exposes the control surface over HTTP so a request
// handling process can stop a stream running on any worker.
func addStreamRoutes(r *gin.Engine, ctx context.Context, repo repository.StreamRepository, control service.ControlService) {
	r.GET("/streams/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
			return
		}

		stream, err := repo.FindStreamById(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}

		resp := dto.StreamStatusResponse{
			StreamId: stream.ID,
			Status:   stream.Status.String(),
		}
		if stream.StartedAt != nil {
			v := stream.StartedAt.Format(time.RFC3339)
			resp.StartedAt = &v
		}
		if stream.EndedAt != nil {
			v := stream.EndedAt.Format(time.RFC3339)
			resp.EndedAt = &v
		}
		resp.ErrorMessage = stream.ErrorMessage
		c.JSON(http.StatusOK, resp)
	})

	r.POST("/streams/:id/stop", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
			return
		}

		reqCtx := zerolog.Ctx(ctx).WithContext(c.Request.Context())
		if err := control.Cancel(reqCtx, id); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
