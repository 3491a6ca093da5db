package queue

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultPollThreshold = 4

	messageGenerating      = "Generating embeddings..."
	messageStillGenerating = "Still generating embeddings, hang tight..."
)

// StreamOptions は進捗ストリームの動作設定です。ゼロ値のフィールドには
// 既定値（2秒間隔・4回の閾値）が適用されます。
type StreamOptions struct {
	// PollInterval はキューを再照会する間隔です。
	PollInterval time.Duration
	// PollThreshold はこの回数を超えたポーリングで文言を切り替えます。
	PollThreshold int
	// ParamName はリソースキーを受け取るパスパラメーター名です。
	ParamName string
}

type statusEvent struct {
	Status string `json:"status"`
}

// StatusStreamHandler はリソースキーに紐づくタスクの進捗をSSEで配信する
// ハンドラーを返します。接続直後に1件、その後は一定間隔ごとに1件ずつ
// イベントを送り、タスクが終了状態に達したらその状態を載せて切断します。
// 一致するタスクが見つからない間は汎用の進捗文言を送り続けます。
func StatusStreamHandler(q *TaskQueue, opts StreamOptions) gin.HandlerFunc {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	threshold := opts.PollThreshold
	if threshold <= 0 {
		threshold = defaultPollThreshold
	}
	param := opts.ParamName
	if param == "" {
		param = "pdfId"
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.Param(param))
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リソースIDを指定してください。",
			})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		c.SSEvent("status", statusEvent{Status: messageGenerating})
		c.Writer.Flush()

		// 切断時に必ず止める。タイマーを放置するとリークする。
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		polls := 0
		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
				polls++
				tasks := q.List(Filter{ResourceKey: key})
				if len(tasks) > 0 {
					// 到着順で最初のタスクを追跡する。同じキーで再投入が
					// あっても追跡対象は切り替えない。
					if t := tasks[0]; t.Status.Terminal() {
						c.SSEvent("status", statusEvent{Status: string(t.Status)})
						c.Writer.Flush()
						return
					}
				}
				msg := messageGenerating
				if polls > threshold {
					msg = messageStillGenerating
				}
				c.SSEvent("status", statusEvent{Status: msg})
				c.Writer.Flush()
			}
		}
	}
}
