package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Qdrant は Qdrant の REST API を直接叩く最小限のクライアントです。
// コサイン距離を前提とし、コレクションが無ければ作成します。
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

// QdrantConfig は Qdrant への接続設定です。
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewQdrant は Qdrant クライアントを作成します。
func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (q *Qdrant) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// 同一スキーマで既存の場合は 200 が返る
	return q.putJSON(ctx, fmt.Sprintf("%s/collections/%s", q.url, q.collection), body)
}

func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := make([]map[string]any, len(points))
	for i, p := range points {
		payload[i] = map[string]any{
			"id":     p.ID,
			"vector": p.Vector,
			"payload": map[string]any{
				"document_id":    p.DocumentID,
				"page":           p.Page,
				"sentence_index": p.SentenceIndex,
				"text":           p.Text,
			},
		}
	}
	body := map[string]any{"points": payload}
	return q.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", q.url, q.collection), body)
}

func (q *Qdrant) Search(ctx context.Context, vector []float64, documentID string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if documentID != "" {
		req["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key":   "document_id",
					"match": map[string]any{"value": documentID},
				},
			},
		}
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", q.url, q.collection), req, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		match := Match{Score: r.Score}
		if v, ok := r.Payload["text"].(string); ok {
			match.Text = v
		}
		if v, ok := r.Payload["page"].(float64); ok {
			match.Page = int(v)
		}
		if v, ok := r.Payload["sentence_index"].(float64); ok {
			match.SentenceIndex = int(v)
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (q *Qdrant) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "document_id",
					"match": map[string]any{"value": documentID},
				},
			},
		},
	}
	return q.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.url, q.collection), body, nil)
}

func (q *Qdrant) putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (q *Qdrant) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
