// Package embedding はテキストの埋め込み生成と類似検索を提供します。
package embedding

import "context"

// Embedder はテキストを数値ベクトルへ変換します。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}
