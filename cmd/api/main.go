package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-ticket-sales/internal/api"
	"github.com/sanosuguru/go-ticket-sales/internal/api/handler"
	custommw "github.com/sanosuguru/go-ticket-sales/internal/api/middleware"
	"github.com/sanosuguru/go-ticket-sales/internal/application"
	"github.com/sanosuguru/go-ticket-sales/internal/config"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/payment"
	"github.com/sanosuguru/go-ticket-sales/internal/infrastructure/paymentgw"
	"github.com/sanosuguru/go-ticket-sales/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-ticket-sales/internal/infrastructure/redis"
	"github.com/sanosuguru/go-ticket-sales/internal/notification"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/logger"
	"github.com/sanosuguru/go-ticket-sales/internal/pkg/metrics"
	"github.com/sanosuguru/go-ticket-sales/internal/worker"
)

func main() {
	// .env があれば読み込む（なくてもよい）
	_ = godotenv.Load()

	cfg := config.Load()
	defer logger.Sync()

	m := metrics.Init()

	// PostgreSQL
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.RunMigrations(db.DB, "migrations"); err != nil {
		logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
	}

	// Redis
	redisClient, err := redisinfra.NewClient(&redisinfra.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal("Redis接続に失敗しました", zap.Error(err))
	}
	defer redisClient.Close()

	lockManager := redisinfra.NewLockManager(redisClient)
	statsCache := redisinfra.NewStatsCache(redisClient)

	// 決済ゲートウェイ
	gateway := paymentgw.NewClient(&cfg.Payment, m)
	retryPolicy := payment.RetryPolicy{
		MaxRetries: cfg.Payment.MaxRetries,
		Interval:   cfg.Payment.RetryInterval,
		Multiplier: 2.0,
	}

	// 通知（AMQPが無効ならNop）
	var notifier notification.Notifier = notification.NopNotifier{}
	if cfg.Notification.Enabled {
		amqpNotifier, err := notification.NewAMQPNotifier(cfg.Notification.AMQPURL)
		if err != nil {
			logger.Fatal("AMQP接続に失敗しました", zap.Error(err))
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	// リポジトリとサービス
	txManager := postgres.NewTxManager(db)
	eventRepo := postgres.NewEventRepository(db)
	ticketRepo := postgres.NewTicketRepository(db)

	purchaseService := application.NewPurchaseService(
		txManager, ticketRepo, eventRepo, gateway, retryPolicy,
		cfg.Purchase.MaxActivePerUser, cfg.Payment.Currency,
		statsCache, notifier, m,
	)
	poolService := application.NewTicketPoolService(
		txManager, ticketRepo, eventRepo, lockManager, statsCache, m,
	)
	eventService := application.NewEventService(
		eventRepo, ticketRepo, purchaseService, statsCache, notifier,
	)
	statsService := application.NewStatsService(
		ticketRepo, statsCache, cfg.Stats.CacheTTL, m,
	)

	// 期限切れ予約スイーパー
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	sweeper := worker.NewReservationSweeper(poolService, cfg.Sweeper.Interval, cfg.Sweeper.ReservationTTL)
	go sweeper.Start(sweeperCtx)

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	custommw.SetupMiddleware(e)
	e.Use(custommw.PrometheusMiddleware(m))

	registerRoutes(e, cfg, eventService, poolService, purchaseService, statsService)

	// サーバー起動
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	// シグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています")

	sweeperCancel()
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("サーバーシャットダウンエラー", zap.Error(err))
	}

	logger.Info("サーバーが正常にシャットダウンしました")
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	eventService *application.EventService,
	poolService *application.TicketPoolService,
	purchaseService *application.PurchaseService,
	statsService *application.StatsService,
) {
	healthHandler := handler.NewHealthHandler()
	eventHandler := handler.NewEventHandler(eventService, statsService)
	ticketHandler := handler.NewTicketHandler(poolService)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService)
	webhookHandler := handler.NewWebhookHandler(purchaseService, cfg.Payment.WebhookSecret)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), custommw.MetricsBasicAuth())

	v1 := e.Group("/api/v1")
	v1.GET("/health", healthHandler.Check)

	v1.POST("/events", eventHandler.Create)
	v1.GET("/events", eventHandler.List)
	v1.GET("/events/:id", eventHandler.GetByID)
	v1.POST("/events/:id/ticket-types", eventHandler.AddTicketType)
	v1.POST("/events/:id/publish", eventHandler.Publish)
	v1.POST("/events/:id/complete", eventHandler.Complete)
	v1.POST("/events/:id/cancel", eventHandler.Cancel)
	v1.GET("/events/:id/stats", eventHandler.Stats)

	v1.POST("/events/:id/tickets", ticketHandler.CreateBatch)
	v1.GET("/events/:id/tickets", ticketHandler.ListByEvent)
	v1.GET("/tickets/:id", ticketHandler.GetByID)
	v1.PUT("/tickets/:id/price", ticketHandler.ChangePrice)

	v1.POST("/tickets/:id/purchase", purchaseHandler.Purchase)
	v1.POST("/tickets/:id/cancel", purchaseHandler.Cancel)

	v1.POST("/webhooks/payment", webhookHandler.HandlePayment)
}
