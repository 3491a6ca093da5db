package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// OpenAIClient は OpenAI 互換 API を利用する Embedder 実装です。
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int

	// dimension はドレインゴルーチンと検索ハンドラーの双方から
	// 触られるため mu で保護します。
	mu        sync.Mutex
	dimension int
}

// OpenAIConfig は OpenAI クライアントの設定です。
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIClient は OpenAI 互換の埋め込みクライアントを作成します。
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{Timeout: timeout},
		maxRetries: 5,
	}, nil
}

// Dimension は生成されるベクトルの次元数を返します。初回の Embed 前は 0 です。
func (c *OpenAIClient) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed は単一テキストの埋め込みを生成します。
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch は複数テキストの埋め込みを1リクエストで生成します。
// 429 と 5xx はバックオフしながらリトライします。
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	type requestBody struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		data, err := json.Marshal(requestBody{Input: texts, Model: c.model})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("openai embeddings failed: %s", resp.Status)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					resp.Body.Close()
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(time.Duration(secs) * time.Second):
					}
					continue
				}
			}
			resp.Body.Close()
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
		}

		var out struct {
			Data []struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, err
		}
		if len(out.Data) != len(texts) {
			return nil, fmt.Errorf("openai embeddings returned %d vectors for %d inputs", len(out.Data), len(texts))
		}

		vectors := make([][]float64, len(texts))
		for _, d := range out.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, fmt.Errorf("openai embeddings returned invalid index %d", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return nil, fmt.Errorf("no embedding returned for input %d", i)
			}
		}
		c.mu.Lock()
		if c.dimension == 0 {
			c.dimension = len(vectors[0])
		}
		c.mu.Unlock()
		return vectors, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no embedding returned")
	}
	return nil, lastErr
}

func retryDelay(attempt int) time.Duration {
	base := 200 * time.Millisecond
	delay := base << attempt
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}
