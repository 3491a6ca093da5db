// Package store はユーザー・ドキュメント・チャンク・会話の永続化レイヤーを提供します。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrNotFound は対象レコードが存在しない場合に返されます。
var ErrNotFound = errors.New("record not found")

// Store は PostgreSQL を背後に持つリポジトリです。
type Store struct {
	db *bun.DB
}

// New はDSNから接続を確立して Store を作成します。
func New(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &Store{db: db}, nil
}

// NewWithDB は既存の bun.DB をラップします（テスト用）。
func NewWithDB(db *bun.DB) *Store {
	return &Store{db: db}
}

// Migrate は必要なテーブルが存在しない場合に作成します。
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*User)(nil),
		(*Document)(nil),
		(*Chunk)(nil),
		(*Chat)(nil),
		(*Message)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}
	return nil
}

// Close は接続を閉じます。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping は接続を確認します。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser はユーザーを作成します。メールアドレスが重複している場合は
// エラーを返します。
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := &User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: passwordHash,
	}
	if _, err := s.db.NewInsert().Model(user).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// UserByEmail はメールアドレスでユーザーを検索します。
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	user := new(User)
	err := s.db.NewSelect().Model(user).Where("email = ?", email).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserByID はIDでユーザーを検索します。
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	user := new(User)
	err := s.db.NewSelect().Model(user).Where("u.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateDocument はドキュメントレコードを作成します。
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, err := s.db.NewInsert().Model(doc).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// DocumentsByUser はユーザーのドキュメントを新しい順に返します。
func (s *Store) DocumentsByUser(ctx context.Context, userID string) ([]*Document, error) {
	var docs []*Document
	err := s.db.NewSelect().Model(&docs).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// DocumentByID はIDでドキュメントを検索します。
func (s *Store) DocumentByID(ctx context.Context, id string) (*Document, error) {
	doc := new(Document)
	err := s.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateChunks はチャンクをまとめて挿入します。空のスライスは何もしません。
func (s *Store) CreateChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
	}
	if _, err := s.db.NewInsert().Model(&chunks).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// DeleteChunksByDocument はドキュメントのチャンクをすべて削除します。
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.NewDelete().Model((*Chunk)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// ChunksByDocument はドキュメントのチャンクをページ・文の順で返します。
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	var chunks []*Chunk
	err := s.db.NewSelect().Model(&chunks).
		Where("document_id = ?", documentID).
		Order("page ASC", "sentence_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteDocumentData はドキュメントと関連データ（メッセージ・会話・チャンク）を
// 1トランザクションで削除します。
func (s *Store) DeleteDocumentData(ctx context.Context, documentID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var chatIDs []string
		if err := tx.NewSelect().Model((*Chat)(nil)).
			Column("ch.id").
			Where("document_id = ?", documentID).
			Scan(ctx, &chatIDs); err != nil {
			return err
		}
		if len(chatIDs) > 0 {
			if _, err := tx.NewDelete().Model((*Message)(nil)).
				Where("chat_id IN (?)", bun.In(chatIDs)).
				Exec(ctx); err != nil {
				return err
			}
		}
		if _, err := tx.NewDelete().Model((*Chat)(nil)).
			Where("document_id = ?", documentID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).
			Where("document_id = ?", documentID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*Document)(nil)).
			Where("id = ?", documentID).
			Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

// ChatByUserAndDocument は (ユーザー, ドキュメント) に対応する会話を返します。
func (s *Store) ChatByUserAndDocument(ctx context.Context, userID, documentID string) (*Chat, error) {
	chat := new(Chat)
	err := s.db.NewSelect().Model(chat).
		Relation("Messages", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at ASC")
		}).
		Where("user_id = ?", userID).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// CreateChat は空の会話を作成します。
func (s *Store) CreateChat(ctx context.Context, userID, documentID string) (*Chat, error) {
	chat := &Chat{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocumentID: documentID,
	}
	if _, err := s.db.NewInsert().Model(chat).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// ChatByIDForUser は会話がそのユーザーのものであることを確認して返します。
func (s *Store) ChatByIDForUser(ctx context.Context, chatID, userID string) (*Chat, error) {
	chat := new(Chat)
	err := s.db.NewSelect().Model(chat).
		Where("ch.id = ?", chatID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// ReplaceMessages は会話のメッセージを丸ごと入れ替え、更新後の一覧を返します。
func (s *Store) ReplaceMessages(ctx context.Context, chatID string, messages []*Message) ([]*Message, error) {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Message)(nil)).
			Where("chat_id = ?", chatID).
			Exec(ctx); err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		for _, m := range messages {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			m.ChatID = chatID
			if m.CreatedAt.IsZero() {
				m.CreatedAt = time.Now().UTC()
			}
		}
		_, err := tx.NewInsert().Model(&messages).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var updated []*Message
	if err := s.db.NewSelect().Model(&updated).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}
