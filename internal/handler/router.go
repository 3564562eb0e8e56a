package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/timebank/internal/metrics"
	"github.com/hitoshi/timebank/internal/middleware"
)

// DBPinger はヘルスチェックに必要なデータベース接続確認のインターフェース。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// セッション管理（認証＋プロフィール）
	SessionService SessionServiceInterface
	ProfileService ProfileServiceInterface
	SessionReader  middleware.SessionReader

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用エンドポイント
	DB       DBPinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS
//
// 認証ルート（/auth/login, /auth/register）にはIPごとのレート制限を追加する。
// プロフィールルート（/api/*）はRequireLoginの内側に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.SessionService)
	profileHandler := NewProfileHandler(deps.ProfileService)

	// --- 運用エンドポイント ---
	r.Get("/health", newHealthHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証ルート ---
	// ログインと登録はクレデンシャル総当たり対策のレート制限付き
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireLoginMiddleware(deps.SessionReader))

		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/me", profileHandler.GetProfile)
			r.Patch("/me", profileHandler.UpdateProfile)
		})
	})

	return r
}

// newHealthHandler はデータベース接続を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
