package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "embed:"

// Cache は Embedder の結果を Redis にキャッシュします。
// 同一テキストの再埋め込み（再アップロードや再検索）で API 呼び出しを省きます。
type Cache struct {
	inner Embedder
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

// NewCache はキャッシュ付き Embedder を作成します。
func NewCache(inner Embedder, rdb *redis.Client, model string, ttl time.Duration) *Cache {
	return &Cache{
		inner: inner,
		rdb:   rdb,
		model: model,
		ttl:   ttl,
	}
}

func (c *Cache) Dimension() int { return c.inner.Dimension() }

// Embed はキャッシュを参照し、未登録のテキストのみ埋め込みを生成します。
func (c *Cache) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch はキャッシュミスしたテキストだけをまとめて埋め込みます。
// Redis の障害は埋め込み自体を止めません。
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, len(texts))
	var missIdx []int
	for i, text := range texts {
		data, err := c.rdb.Get(ctx, c.cacheKey(text)).Bytes()
		if err != nil {
			missIdx = append(missIdx, i)
			continue
		}
		var v []float64
		if err := json.Unmarshal(data, &v); err != nil || len(v) == 0 {
			missIdx = append(missIdx, i)
			continue
		}
		vectors[i] = v
	}
	if len(missIdx) == 0 {
		return vectors, nil
	}

	missed := make([]string, len(missIdx))
	for i, idx := range missIdx {
		missed[i] = texts[idx]
	}
	fresh, err := c.inner.EmbedBatch(ctx, missed)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		vectors[idx] = fresh[i]
		if payload, err := json.Marshal(fresh[i]); err == nil {
			c.rdb.Set(ctx, c.cacheKey(texts[idx]), payload, c.ttl)
		}
	}
	return vectors, nil
}

func (c *Cache) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "|" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
