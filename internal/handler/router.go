package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kitchenhub/internal/metrics"
	"github.com/hitoshi/kitchenhub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	SessionCookieName string
	AllowedOrigins    []string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer
	Logger            *slog.Logger

	// WebSocket
	WebSocket http.Handler

	// キッチン
	KitchenService KitchenServiceInterface
	MaxImageSize   int64

	// ヘルスチェック
	HealthChecker HealthChecker
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → RateLimit(General)
//
// /health と /metrics はセッション不要。/ws はセッションのみを通し、
// 接続後のレート制限はHub側で行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(m))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	// CORSはルーティング前に適用し、プリフライトにも応答させる
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	session := middleware.NewSessionMiddleware(deps.Authenticator, deps.SessionCookieName)

	// WebSocket接続（Upgrade前にセッションを検証する）
	r.With(session).Get("/ws", deps.WebSocket.ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	kitchenHandler := NewKitchenHandler(deps.KitchenService, deps.MaxImageSize)
	r.Group(func(r chi.Router) {
		r.Use(session)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/kitchens", func(r chi.Router) {
			r.Post("/", kitchenHandler.CreateKitchen)

			r.Route("/{kitchenID}", func(r chi.Router) {
				r.Post("/custom-products", kitchenHandler.CreateCustomProduct)

				r.Route("/custom-products/{productID}/image", func(r chi.Router) {
					// 画像アップロードには専用のレート制限を追加
					r.With(deps.RateLimiter.UploadMiddleware()).Put("/", kitchenHandler.UploadImage)
					r.Get("/", kitchenHandler.GetImage)
				})

				r.Post("/grocery/{productID}/buy", kitchenHandler.BuyGroceryItem)
				r.Delete("/members/me", kitchenHandler.LeaveKitchen)
			})
		})
	})

	return r
}
