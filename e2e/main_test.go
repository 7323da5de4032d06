package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-ticket-sales/internal/api"
	"github.com/sanosuguru/go-ticket-sales/internal/api/handler"
	"github.com/sanosuguru/go-ticket-sales/internal/api/middleware"
	"github.com/sanosuguru/go-ticket-sales/internal/application"
	"github.com/sanosuguru/go-ticket-sales/internal/config"
	"github.com/sanosuguru/go-ticket-sales/internal/domain/payment"
	"github.com/sanosuguru/go-ticket-sales/internal/infrastructure/paymentgw"
	"github.com/sanosuguru/go-ticket-sales/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-ticket-sales/internal/infrastructure/redis"
)

const testWebhookSecret = "whsec_e2e"

// stubGateway はE2Eテスト用の決済ゲートウェイスタブ
// 常に成功を返し、呼び出し回数を記録する
type stubGateway struct {
	server   *httptest.Server
	intents  atomic.Int64
	confirms atomic.Int64
	refunds  atomic.Int64
}

func newStubGateway() *stubGateway {
	g := &stubGateway{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		n := g.intents.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": fmt.Sprintf("pi_e2e_%d", n), "status": "pending",
		})
	})
	mux.HandleFunc("/v1/payment_intents/", func(w http.ResponseWriter, r *http.Request) {
		g.confirms.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "pi_e2e", "status": "succeeded",
		})
	})
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		n := g.refunds.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": fmt.Sprintf("re_e2e_%d", n),
		})
	})
	g.server = httptest.NewServer(mux)
	return g
}

// TestServer はE2Eテスト用のサーバー
type TestServer struct {
	Echo    *echo.Echo
	Gateway *stubGateway
	Cleanup func()
}

// NewTestServer はテスト用サーバーを作成
// DBまたはRedisに接続できない環境ではテストをスキップする
func NewTestServer(t *testing.T) *TestServer {
	cfg := config.Load()

	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		t.Skipf("DB接続エラー: %v", err)
	}
	if err := postgres.RunMigrations(db.DB, "../migrations"); err != nil {
		db.Close()
		t.Skipf("マイグレーションエラー: %v", err)
	}

	redisClient, err := redisinfra.NewClient(&redisinfra.Config{
		Host: cfg.Redis.Host, Port: cfg.Redis.Port,
	})
	if err != nil {
		db.Close()
		t.Skipf("Redis接続エラー: %v", err)
	}

	stub := newStubGateway()
	gwCfg := cfg.Payment
	gwCfg.BaseURL = stub.server.URL
	gateway := paymentgw.NewClient(&gwCfg, nil)

	lockManager := redisinfra.NewLockManager(redisClient)
	statsCache := redisinfra.NewStatsCache(redisClient)

	txManager := postgres.NewTxManager(db)
	eventRepo := postgres.NewEventRepository(db)
	ticketRepo := postgres.NewTicketRepository(db)

	retryPolicy := payment.RetryPolicy{MaxRetries: 2, Interval: 10 * time.Millisecond, Multiplier: 2.0}
	purchaseService := application.NewPurchaseService(
		txManager, ticketRepo, eventRepo, gateway, retryPolicy,
		cfg.Purchase.MaxActivePerUser, cfg.Payment.Currency, statsCache, nil, nil,
	)
	poolService := application.NewTicketPoolService(
		txManager, ticketRepo, eventRepo, lockManager, statsCache, nil,
	)
	eventService := application.NewEventService(eventRepo, ticketRepo, purchaseService, statsCache, nil)
	statsService := application.NewStatsService(ticketRepo, statsCache, time.Minute, nil)

	eventHandler := handler.NewEventHandler(eventService, statsService)
	ticketHandler := handler.NewTicketHandler(poolService)
	purchaseHandler := handler.NewPurchaseHandler(purchaseService)
	webhookHandler := handler.NewWebhookHandler(purchaseService, testWebhookSecret)
	healthHandler := handler.NewHealthHandler()

	e := echo.New()
	e.Validator = api.NewValidator()
	middleware.SetupMiddleware(e)

	v1 := e.Group("/api/v1")
	v1.GET("/health", healthHandler.Check)

	v1.POST("/events", eventHandler.Create)
	v1.GET("/events", eventHandler.List)
	v1.GET("/events/:id", eventHandler.GetByID)
	v1.POST("/events/:id/publish", eventHandler.Publish)
	v1.POST("/events/:id/cancel", eventHandler.Cancel)
	v1.GET("/events/:id/stats", eventHandler.Stats)

	v1.POST("/events/:id/tickets", ticketHandler.CreateBatch)
	v1.GET("/events/:id/tickets", ticketHandler.ListByEvent)
	v1.GET("/tickets/:id", ticketHandler.GetByID)

	v1.POST("/tickets/:id/purchase", purchaseHandler.Purchase)
	v1.POST("/tickets/:id/cancel", purchaseHandler.Cancel)

	v1.POST("/webhooks/payment", webhookHandler.HandlePayment)

	cleanup := func() {
		db.Exec("DELETE FROM tickets")
		db.Exec("DELETE FROM event_ticket_types")
		db.Exec("DELETE FROM events")
		redisClient.FlushDB(context.Background())
		stub.server.Close()
		redisClient.Close()
		db.Close()
	}

	return &TestServer{Echo: e, Gateway: stub, Cleanup: cleanup}
}
