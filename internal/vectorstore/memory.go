package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// Memory はコサイン類似度を総当たりで計算するインメモリ実装です。
// 開発環境とテストで使用します。
type Memory struct {
	mu        sync.RWMutex
	dimension int
	points    []Point
}

// NewMemory は空のインメモリ索引を作成します。
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = dimension
	return nil
}

// Upsert は同一IDのポイントを置き換えます。未知のIDは追加します。
func (m *Memory) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		replaced := false
		for i := range m.points {
			if m.points[i].ID == p.ID {
				m.points[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			m.points = append(m.points, p)
		}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float64, documentID string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, p := range m.points {
		if documentID != "" && p.DocumentID != documentID {
			continue
		}
		score := cosine(vector, p.Vector)
		matches = append(matches, Match{
			Text:          p.Text,
			Page:          p.Page,
			SentenceIndex: p.SentenceIndex,
			Score:         score,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.points[:0]
	for _, p := range m.points {
		if p.DocumentID != documentID {
			kept = append(kept, p)
		}
	}
	m.points = kept
	return nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
