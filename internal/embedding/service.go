package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/yourusername/chatpdf/internal/store"
	"github.com/yourusername/chatpdf/internal/vectorstore"
)

// embedBatchSize は埋め込み API への1リクエストあたりの最大文数です。
const embedBatchSize = 100

// ChunkStore は生成したチャンクの永続化を提供します。
type ChunkStore interface {
	CreateChunks(ctx context.Context, chunks []*store.Chunk) error
	DeleteChunksByDocument(ctx context.Context, documentID string) error
}

// Service はドキュメントの埋め込み生成と類似検索を提供します。
type Service struct {
	chunks   ChunkStore
	vectors  vectorstore.Store
	embedder Embedder
	logger   *log.Logger
}

// NewService は Service を作成します。
func NewService(chunks ChunkStore, vectors vectorstore.Store, embedder Embedder, logger *log.Logger) *Service {
	return &Service{
		chunks:   chunks,
		vectors:  vectors,
		embedder: embedder,
		logger:   logger,
	}
}

// Generate はドキュメント全ページを文単位に分割し、埋め込みを生成して
// DB とベクトルストアの両方へ保存します。
func (s *Service) Generate(ctx context.Context, doc *store.Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}

	var chunks []*store.Chunk
	for pageIdx, pageText := range doc.Pages {
		sentences := SplitSentences(pageText)
		for i, sentence := range sentences {
			chunks = append(chunks, &store.Chunk{
				ID:            uuid.NewString(),
				DocumentID:    doc.ID,
				Page:          pageIdx + 1,
				SentenceIndex: i + 1,
				Text:          sentence,
			})
		}
	}
	if len(chunks) == 0 {
		s.logger.Printf("no sentences extracted document=%s", doc.ID)
		return nil
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch failed: %w", err)
		}
		for i, c := range batch {
			c.Embedding = vectors[i]
		}
	}

	// 次元数は実際に返ってきたベクトルから決める。Embedder の Dimension は
	// キャッシュ全ヒット時に 0 のままのことがある。
	if err := s.vectors.Init(ctx, len(chunks[0].Embedding)); err != nil {
		return fmt.Errorf("vector store init failed: %w", err)
	}

	// 再実行（前回の途中失敗のリトライ）で重複しないよう、同一ドキュメントの
	// 既存データを先に消してから書き込む。
	if err := s.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear previous vectors failed: %w", err)
	}
	if err := s.chunks.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear previous chunks failed: %w", err)
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:            c.ID,
			DocumentID:    c.DocumentID,
			Page:          c.Page,
			SentenceIndex: c.SentenceIndex,
			Text:          c.Text,
			Vector:        c.Embedding,
		}
	}
	if err := s.vectors.Upsert(ctx, points); err != nil {
		return fmt.Errorf("vector store upsert failed: %w", err)
	}
	if err := s.chunks.CreateChunks(ctx, chunks); err != nil {
		return fmt.Errorf("persist chunks failed: %w", err)
	}

	s.logger.Printf("embeddings generated document=%s chunks=%d", doc.ID, len(chunks))
	return nil
}

// Search はクエリを埋め込み、指定ドキュメント内で類似チャンクを検索します。
func (s *Service) Search(ctx context.Context, query, documentID string, topK int) ([]vectorstore.Match, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	matches, err := s.vectors.Search(ctx, vector, documentID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return matches, nil
}
