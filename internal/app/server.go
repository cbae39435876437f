package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/kitchenhub/internal/auth"
	"github.com/hitoshi/kitchenhub/internal/config"
	"github.com/hitoshi/kitchenhub/internal/handler"
	"github.com/hitoshi/kitchenhub/internal/hub"
	"github.com/hitoshi/kitchenhub/internal/kitchen"
	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/metrics"
	"github.com/hitoshi/kitchenhub/internal/middleware"
	"github.com/hitoshi/kitchenhub/internal/security"
)

// server はワイヤリング済みのHTTPハンドラーと、停止時に後始末が必要なコンポーネント。
type server struct {
	handler     http.Handler
	hub         *hub.Hub
	rateLimiter *middleware.RateLimiter
}

// newServer はストアから全依存関係を組み立てる。
// メトリクスはサーバーごとのレジストリに登録する。
func newServer(cfg *config.Config, st *stores, logger *slog.Logger) *server {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 2. ドメインサービス
	validator := message.NewValidator(security.NewNameSanitizer(), 0)
	oracle := kitchen.NewMembershipOracle(st.members)
	stateStore := kitchen.NewStateStore(st.state, logger)

	h := hub.New(validator, oracle, stateStore, collector, logger, hub.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.WSMaxMessageSize,
		SendBuffer:     cfg.WSSendBuffer,
		MessageRate:    cfg.WSMessageRate,
		MessageBurst:   cfg.WSMessageBurst,
		ApplyTimeout:   cfg.ApplyTimeout,
	})
	kitchenService := kitchen.NewService(oracle, stateStore, h, validator, cfg.ImageMaxSize)

	// 3. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload))
	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     auth.NewAuthenticator(st.sessions),
		SessionCookieName: cfg.SessionCookieName,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		Gatherer:          reg,
		Logger:            logger,

		WebSocket: http.HandlerFunc(h.ServeWS),

		KitchenService: kitchenService,
		MaxImageSize:   cfg.ImageMaxSize,

		HealthChecker: kitchenService,
	})

	return &server{handler: router, hub: h, rateLimiter: rateLimiter}
}

// shutdown はWebSocket接続を閉じ、バックグラウンド処理を停止する。
func (s *server) shutdown(ctx context.Context) error {
	defer s.rateLimiter.Stop()
	return s.hub.Shutdown(ctx)
}

// close はシャットダウン待ちをせずにバックグラウンド処理を停止する。
func (s *server) close() {
	s.rateLimiter.Stop()
}
