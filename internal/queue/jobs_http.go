package queue

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type jobView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ResourceKey string `json:"resourceKey"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// ListHandler は GET /api/jobs のハンドラーを返します。
// name / status / resourceKey クエリーで絞り込めます。
func ListHandler(q *TaskQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := Filter{
			Name:        strings.TrimSpace(c.Query("name")),
			ResourceKey: strings.TrimSpace(c.Query("resourceKey")),
		}
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			status := Status(raw)
			switch status {
			case StatusPending, StatusRunning, StatusDone, StatusFailed:
				filter.Status = status
			default:
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "statusには pending / running / done / failed のいずれかを指定してください。",
				})
				return
			}
		}

		tasks := q.List(filter)
		jobs := make([]jobView, len(tasks))
		for i, t := range tasks {
			jobs[i] = jobView{
				ID:          t.ID,
				Name:        t.Name,
				ResourceKey: t.ResourceKey,
				Status:      string(t.Status),
				Error:       t.Error,
			}
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}
