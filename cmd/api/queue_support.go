package main

import (
	"context"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/chatpdf/internal/config"
	"github.com/yourusername/chatpdf/internal/embedding"
	"github.com/yourusername/chatpdf/internal/queue"
	"github.com/yourusername/chatpdf/internal/storage"
	"github.com/yourusername/chatpdf/internal/store"
	"github.com/yourusername/chatpdf/internal/vectorstore"
)

// embedJobTimeout は1ドキュメント分の埋め込み生成に許す最大時間です。
const embedJobTimeout = 10 * time.Minute

// jobNameGenerateEmbeddings は埋め込み生成ジョブのキュー上の名前です。
const jobNameGenerateEmbeddings = "generate-embeddings"

// embeddingJobScheduler はアップロード完了後の埋め込み生成をキューへ投入します。
// pdf.EmbeddingScheduler を実装します。
type embeddingJobScheduler struct {
	queue      *queue.TaskQueue
	embeddings *embedding.Service
}

func (s *embeddingJobScheduler) Schedule(doc *store.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("document is nil")
	}
	// ハンドラーの戻り後もジョブが参照するためコピーを渡す
	docCopy := *doc
	jobID := s.queue.Enqueue(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), embedJobTimeout)
		defer cancel()
		return s.embeddings.Generate(ctx, &docCopy)
	}, jobNameGenerateEmbeddings, doc.ID)
	return jobID, nil
}

// setupEmbedder は OpenAI クライアントを組み立て、Redis が利用可能なら
// キャッシュを重ねて返します。
func setupEmbedder(cfg *config.Config, logger *log.Logger) (embedding.Embedder, error) {
	client, err := embedding.NewOpenAIClient(embedding.OpenAIConfig{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return client, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// キャッシュなしでも動作に支障はない
		logger.Printf("redis unavailable, embedding cache disabled: %v", err)
		return client, nil
	}

	ttl := time.Duration(cfg.EmbedCacheTTLMin) * time.Minute
	return embedding.NewCache(client, rdb, cfg.EmbeddingModel, ttl), nil
}

// setupVectorStore は QDRANT_URL が設定されていれば Qdrant を、
// そうでなければインメモリ実装を返します。
func setupVectorStore(cfg *config.Config, logger *log.Logger) vectorstore.Store {
	if cfg.QdrantURL == "" {
		logger.Printf("QDRANT_URL not set, using in-memory vector store")
		return vectorstore.NewMemory()
	}
	return vectorstore.NewQdrant(vectorstore.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
}

// setupStorage は STORAGE_DRIVER に応じてローカルまたはS3のストレージを返します。
// ローカルの場合は静的配信用のディレクトリも合わせて返します。
func setupStorage(cfg *config.Config) (storage.Storage, string, error) {
	switch cfg.StorageDriver {
	case "s3":
		s3Store, err := storage.NewS3(context.Background(), storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to init s3 storage: %w", err)
		}
		return s3Store, "", nil
	case "local":
		baseURL := cfg.PublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Port
		}
		local, err := storage.NewLocal(cfg.StorageDir, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to init local storage: %w", err)
		}
		return local, local.Dir(), nil
	default:
		return nil, "", fmt.Errorf("unknown STORAGE_DRIVER: %s", cfg.StorageDriver)
	}
}
