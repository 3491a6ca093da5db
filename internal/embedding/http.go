package embedding

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/chatpdf/internal/vectorstore"
)

// searchTopK は検索で返す最大チャンク数です。
const searchTopK = 10

// Searcher は質問文による類似検索を提供します。
type Searcher interface {
	Search(ctx context.Context, query, documentID string, topK int) ([]vectorstore.Match, error)
}

type searchRequest struct {
	Question string `json:"question"`
	PDFID    string `json:"pdfId"`
}

// SearchHandler は POST /api/embeddings/search のハンドラーを返します。
func SearchHandler(svc Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "JSON形式でquestionとpdfIdを送信してください。",
			})
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		req.PDFID = strings.TrimSpace(req.PDFID)
		if req.Question == "" || req.PDFID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "questionとpdfIdは必須です。",
			})
			return
		}

		matches, err := svc.Search(c.Request.Context(), req.Question, req.PDFID, searchTopK)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "類似検索に失敗しました。",
			})
			return
		}
		if matches == nil {
			matches = []vectorstore.Match{}
		}
		c.JSON(http.StatusOK, gin.H{"chunks": matches})
	}
}
