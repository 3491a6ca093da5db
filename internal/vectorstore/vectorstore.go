// Package vectorstore は埋め込みベクトルの索引と類似検索を抽象化します。
package vectorstore

import "context"

// Point は索引に登録する1件のベクトルと付随情報です。
type Point struct {
	ID            string
	DocumentID    string
	Page          int
	SentenceIndex int
	Text          string
	Vector        []float64
}

// Match は検索にヒットした1件です。
type Match struct {
	Text          string  `json:"text"`
	Page          int     `json:"page"`
	SentenceIndex int     `json:"sentenceIndex"`
	Score         float64 `json:"score"`
}

// Store はベクトル索引への登録・検索・削除を提供します。
type Store interface {
	// Init は次元数を確定させ、必要なら索引を作成します。
	Init(ctx context.Context, dimension int) error
	// Upsert はポイントをまとめて登録します。
	Upsert(ctx context.Context, points []Point) error
	// Search はドキュメントで絞り込んだ上位 topK 件をスコア降順で返します。
	Search(ctx context.Context, vector []float64, documentID string, topK int) ([]Match, error)
	// DeleteByDocument はドキュメントに属するポイントを削除します。
	DeleteByDocument(ctx context.Context, documentID string) error
}
