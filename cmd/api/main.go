// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/chatpdf/internal/auth"
	"github.com/yourusername/chatpdf/internal/chat"
	"github.com/yourusername/chatpdf/internal/config"
	"github.com/yourusername/chatpdf/internal/embedding"
	"github.com/yourusername/chatpdf/internal/pdf"
	"github.com/yourusername/chatpdf/internal/queue"
	"github.com/yourusername/chatpdf/internal/store"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()

	// データベース接続とテーブル作成
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		cancel()
		log.Fatalf("Failed to migrate database: %v", err)
	}
	cancel()

	// ドメインサービスの組み立て
	embedder, err := setupEmbedder(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to init embedder: %v", err)
	}
	vectors := setupVectorStore(cfg, logger)
	blobs, staticDir, err := setupStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}

	embeddingService := embedding.NewService(db, vectors, embedder, logger)
	extractor := pdf.NewExtractor(cfg.MaxFileSize, cfg.MaxPages)
	pdfService := pdf.NewService(db, blobs, extractor, vectors, logger)
	taskQueue := queue.New(cfg.QueueHistoryLimit, logger)
	scheduler := &embeddingJobScheduler{queue: taskQueue, embeddings: embeddingService}
	authManager := auth.NewManager(db, cfg.JWTSecret)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxFileSize

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	router.Use(cors.New(corsConfig))

	// ローカルストレージの場合はアップロード済みファイルを自前で配信する
	if staticDir != "" {
		router.Static("/files", staticDir)
	}

	setupRoutes(router, db, authManager, pdfService, embeddingService, scheduler, taskQueue)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if err := db.Ping(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "chatpdf-api",
			"version": "0.1.0",
		})
	}
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(
	router *gin.Engine,
	db *store.Store,
	authManager *auth.Manager,
	pdfService *pdf.Service,
	embeddingService *embedding.Service,
	scheduler pdf.EmbeddingScheduler,
	taskQueue *queue.TaskQueue,
) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth(db))

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/signup", authManager.Signup)
			authRoutes.POST("/login", authManager.Login)
		}

		// ファイルを保存しない解析は認証不要（元システムの挙動に合わせる）
		api.POST("/pdf/parse", pdf.ParseHandler(pdfService))

		// SSE は EventSource から Authorization ヘッダーを付けられないため認証外
		api.GET("/embeddings/status/:pdfId", queue.StatusStreamHandler(taskQueue, queue.StreamOptions{}))

		protected := api.Group("")
		protected.Use(authManager.RequireAuth())
		{
			pdfRoutes := protected.Group("/pdf")
			{
				pdfRoutes.POST("/upload", pdf.UploadHandler(pdfService, scheduler))
				pdfRoutes.GET("/list", pdf.ListHandler(pdfService))
				pdfRoutes.GET("/i/:pdfId", pdf.ChunksHandler(pdfService))
				pdfRoutes.DELETE("/i/:pdfId", pdf.DeleteHandler(pdfService))
			}

			protected.POST("/embeddings/search", embedding.SearchHandler(embeddingService))

			chatRoutes := protected.Group("/chat")
			{
				chatRoutes.GET("/:pdfId", chat.FetchHandler(db))
				chatRoutes.POST("", chat.SaveHandler(db))
			}

			protected.GET("/jobs", queue.ListHandler(taskQueue))
		}
	}
}
