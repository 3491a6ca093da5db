package pdf

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/chatpdf/internal/storage"
	"github.com/yourusername/chatpdf/internal/store"
)

// DocumentStore はドキュメントとチャンクの永続化を提供します。
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *store.Document) error
	DocumentsByUser(ctx context.Context, userID string) ([]*store.Document, error)
	DocumentByID(ctx context.Context, id string) (*store.Document, error)
	ChunksByDocument(ctx context.Context, documentID string) ([]*store.Chunk, error)
	DeleteDocumentData(ctx context.Context, documentID string) error
}

// VectorDeleter はドキュメント単位でベクトルを削除します。
type VectorDeleter interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Service はアップロードから削除までのドキュメント管理を提供します。
type Service struct {
	store     DocumentStore
	storage   storage.Storage
	extractor *Extractor
	vectors   VectorDeleter
	logger    *log.Logger
}

// NewService は Service を作成します。
func NewService(docs DocumentStore, blobs storage.Storage, extractor *Extractor, vectors VectorDeleter, logger *log.Logger) *Service {
	return &Service{
		store:     docs,
		storage:   blobs,
		extractor: extractor,
		vectors:   vectors,
		logger:    logger,
	}
}

// Parse はファイルを保存せずページテキストの抽出だけを行います。
func (s *Service) Parse(ctx context.Context, data []byte) (*ExtractResult, error) {
	return s.extractor.Extract(data)
}

// Upload はPDFを検証・保存し、ドキュメントレコードを作成します。
// 埋め込み生成はここでは行わず、呼び出し側がジョブとして投入します。
func (s *Service) Upload(ctx context.Context, userID, fileName string, data []byte) (*store.Document, error) {
	result, err := s.extractor.Extract(data)
	if err != nil {
		return nil, err
	}

	objectName := fmt.Sprintf("%s/%d_%s", userID, time.Now().UnixMilli(), fileName)
	fileURL, err := s.storage.Save(ctx, objectName, data, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("store upload failed: %w", err)
	}

	doc := &store.Document{
		UserID:   userID,
		FileName: fileName,
		FileURL:  fileURL,
		NumPages: result.NumPages,
		Pages:    result.Pages,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		// 孤児ファイルを残さない
		if delErr := s.storage.Delete(ctx, objectName); delErr != nil {
			s.logger.Printf("orphan cleanup failed object=%s: %v", objectName, delErr)
		}
		return nil, fmt.Errorf("create document failed: %w", err)
	}

	s.logger.Printf("document uploaded id=%s user=%s pages=%d", doc.ID, userID, doc.NumPages)
	return doc, nil
}

// List はユーザーのドキュメントを新しい順に返します。
func (s *Service) List(ctx context.Context, userID string) ([]*store.Document, error) {
	return s.store.DocumentsByUser(ctx, userID)
}

// Chunks は1ドキュメントのチャンクをページ・文順で返します。
func (s *Service) Chunks(ctx context.Context, userID, documentID string) ([]*store.Chunk, error) {
	if _, err := s.ownedDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.store.ChunksByDocument(ctx, documentID)
}

// Delete はドキュメントと関連データ（ファイル・ベクトル・チャット）を削除します。
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.ownedDocument(ctx, userID, documentID)
	if err != nil {
		return err
	}

	if name := s.storage.NameFromURL(doc.FileURL); name != "" {
		if err := s.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete blob failed: %w", err)
		}
	}
	if err := s.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete vectors failed: %w", err)
	}
	if err := s.store.DeleteDocumentData(ctx, documentID); err != nil {
		return fmt.Errorf("delete document data failed: %w", err)
	}

	s.logger.Printf("document deleted id=%s user=%s", documentID, userID)
	return nil
}

func (s *Service) ownedDocument(ctx context.Context, userID, documentID string) (*store.Document, error) {
	doc, err := s.store.DocumentByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError("NOT_FOUND", "指定されたPDFが見つかりません。", err)
		}
		return nil, err
	}
	if doc.UserID != userID {
		return nil, newError("FORBIDDEN", "このPDFへのアクセス権限がありません。", nil)
	}
	return doc, nil
}
