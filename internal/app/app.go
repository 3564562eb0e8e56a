// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/hitoshi/timebank/internal/config"
	"github.com/hitoshi/timebank/internal/database"
	"github.com/hitoshi/timebank/internal/handler"
	"github.com/hitoshi/timebank/internal/identity"
	"github.com/hitoshi/timebank/internal/logger"
	"github.com/hitoshi/timebank/internal/metrics"
	"github.com/hitoshi/timebank/internal/middleware"
	"github.com/hitoshi/timebank/internal/repository"
	"github.com/hitoshi/timebank/internal/security"
	"github.com/hitoshi/timebank/internal/session"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("identity_base_url", cfg.IdentityBaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)

	// 4. セキュリティサービスの初期化
	sanitizer := security.NewProfileSanitizer()
	avatarGuard := security.NewAvatarGuard()

	// 5. IDプロバイダークライアントの初期化
	// プロバイダーAPIへの全リクエストはレイテンシ計測付きのTransportを通す
	providerClient := &http.Client{
		Timeout:   15 * time.Second,
		Transport: metrics.NewLatencyTransport(nil, collector),
	}
	provider := identity.NewHTTPProvider(identity.HTTPProviderConfig{
		BaseURL:             cfg.IdentityBaseURL,
		APIKey:              cfg.IdentityAPIKey,
		InitialRefreshToken: cfg.IdentityRefreshToken,
		RefreshMargin:       cfg.RefreshMargin,
		RefreshInterval:     cfg.RefreshInterval,
		HTTPClient:          providerClient,
	})
	defer provider.Close()

	// 6. セッションマネージャーの初期化
	sessions := session.NewManager(provider, profileRepo, session.Options{
		Sanitizer:      sanitizer,
		AvatarVerifier: avatarGuard,
		Metrics:        collector,
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	sessions.Initialize(initCtx)
	initCancel()
	defer sessions.Close()

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionService: sessions,
		ProfileService: sessions,
		SessionReader:  sessions,

		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		DB:       db,
		Gatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// 同時接続数はLimitListenerで制限する
	listener, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	listener = netutil.LimitListener(listener, cfg.MaxConnections)

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", listener.Addr().String()),
			slog.Int("max_connections", cfg.MaxConnections),
		)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
