package store

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// User は登録済みユーザーを表します。Password には bcrypt ハッシュを保存します。
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,notnull,unique" json:"email"`
	Password  string    `bun:"password,notnull" json:"-"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// Document はアップロードされたPDF1件を表します。Pages には抽出済みの
// ページ単位テキストをそのまま保持します。
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        string    `bun:"id,pk" json:"id"`
	UserID    string    `bun:"user_id,notnull" json:"userId"`
	FileName  string    `bun:"file_name,notnull" json:"fileName"`
	FileURL   string    `bun:"file_url,notnull" json:"fileUrl"`
	NumPages  int       `bun:"num_pages,notnull" json:"numPages"`
	Pages     []string  `bun:"pages,array" json:"pages"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// Chunk はページ内の1文とその埋め込みベクトルを表します。
type Chunk struct {
	bun.BaseModel `bun:"table:document_chunks,alias:c"`

	ID            string    `bun:"id,pk" json:"id"`
	DocumentID    string    `bun:"document_id,notnull" json:"pdfId"`
	Page          int       `bun:"page,notnull" json:"page"`
	SentenceIndex int       `bun:"sentence_index,notnull" json:"sentenceIndex"`
	Text          string    `bun:"text,notnull" json:"text"`
	Embedding     []float64 `bun:"embedding,array" json:"-"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// Chat はユーザーとドキュメントの組に1つ紐づく会話です。
type Chat struct {
	bun.BaseModel `bun:"table:chats,alias:ch"`

	ID         string    `bun:"id,pk" json:"id"`
	UserID     string    `bun:"user_id,notnull" json:"userId"`
	DocumentID string    `bun:"document_id,notnull" json:"pdfId"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`

	Messages []*Message `bun:"rel:has-many,join:id=chat_id" json:"messages,omitempty"`
}

// Message は会話内の1メッセージです。Parts はフロントエンドが組み立てた
// JSON構造をそのまま保持します。
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID        string          `bun:"id,pk" json:"id"`
	ChatID    string          `bun:"chat_id,notnull" json:"chatId"`
	Role      string          `bun:"role,notnull" json:"role"`
	Parts     json.RawMessage `bun:"parts,type:jsonb" json:"parts"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}
