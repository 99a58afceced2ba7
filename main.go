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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"support-chat/internal/attachments"
	"support-chat/internal/config"
	"support-chat/internal/db"
	"support-chat/internal/handlers"
	"support-chat/internal/middleware"
	"support-chat/internal/notify"
	"support-chat/internal/observability"
	"support-chat/internal/rabbitmq"
	"support-chat/internal/redisbus"
	"support-chat/internal/repositories"
	"support-chat/internal/services"
	"support-chat/internal/telemetry"
	"support-chat/internal/ws"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	bus := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer bus.Close()
	observability.SetPublisher(bus)
	log.Info().Str("mode", rabbitmq.PublisherMode(bus)).Str("reason", rabbitmq.PublisherNoopReason(bus)).Msg("event bus ready")
	audit := telemetry.NewAuditEmitter(bus, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	hub := ws.NewHub()
	fanout := notify.NewFanout()
	if rabbitmq.PublisherMode(bus) == "amqp" {
		fanout.Add("amqp", notify.NewBusPublisher(bus))
	}
	wireRealtime(ctx, cfg, hub, fanout)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	store := attachments.NewStore(cfg.PublicDir, attachments.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, cfg.TranscodeTimeout))
	chatService := services.NewChatService(chatRepo, messageRepo, userRepo, store, fanout)

	chatHandler := handlers.NewChatHandler(chatService, audit, cfg.UploadTempDir, cfg.MaxUploadSize)
	wsHandler := ws.NewHandler(hub, chatRepo, cfg.JWTSecret)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = 32 << 20
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestID(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/public", cfg.PublicDir)
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(cfg.JWTSecret))
	chatHandler.Register(api)
	handlers.RegisterDebugRoutes(api, audit, cfg.IsDevelopment())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Strs("sinks", fanout.Sinks()).Msg("chat service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// wireRealtime delivers events to local websocket clients. With Redis the hub
// is fed by the bridge only, so every instance sees each event exactly once.
func wireRealtime(ctx context.Context, cfg *config.Config, hub *ws.Hub, fanout *notify.Fanout) {
	if cfg.RedisURL == "" {
		fanout.Add("hub", hub)
		return
	}

	client, err := redisbus.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, delivering to local hub only")
		fanout.Add("hub", hub)
		return
	}

	fanout.Add("redis", redisbus.NewPublisher(client))
	bridge := redisbus.NewBridge(client, hub)
	go func() {
		defer client.Close()
		if err := bridge.Run(ctx); err != nil {
			log.Error().Err(err).Msg("redis bridge stopped")
		}
	}()
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", cfg.ServiceName).Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
