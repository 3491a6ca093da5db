// Package chat はドキュメントごとの会話履歴の取得と保存を提供します。
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/chatpdf/internal/auth"
	"github.com/yourusername/chatpdf/internal/store"
)

// ChatStore は会話とメッセージの永続化を提供します。
type ChatStore interface {
	ChatByUserAndDocument(ctx context.Context, userID, documentID string) (*store.Chat, error)
	CreateChat(ctx context.Context, userID, documentID string) (*store.Chat, error)
	ChatByIDForUser(ctx context.Context, chatID, userID string) (*store.Chat, error)
	ReplaceMessages(ctx context.Context, chatID string, messages []*store.Message) ([]*store.Message, error)
}

// FetchHandler は GET /api/chat/:pdfId のハンドラーを返します。
// 会話が存在しなければ空の会話を作成して返します。
func FetchHandler(chats ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserIDKey)
		documentID := strings.TrimSpace(c.Param("pdfId"))
		if documentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "PDFのIDを指定してください。",
			})
			return
		}

		ctx := c.Request.Context()
		chat, err := chats.ChatByUserAndDocument(ctx, userID, documentID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				serverError(c)
				return
			}
			chat, err = chats.CreateChat(ctx, userID, documentID)
			if err != nil {
				serverError(c)
				return
			}
		}

		messages := chat.Messages
		if messages == nil {
			messages = []*store.Message{}
		}
		c.JSON(http.StatusOK, gin.H{
			"chatId":   chat.ID,
			"messages": messages,
		})
	}
}

type saveRequest struct {
	ChatID   string `json:"chatId"`
	Messages []struct {
		Role      string          `json:"role"`
		Parts     json.RawMessage `json:"parts"`
		CreatedAt time.Time       `json:"createdAt"`
	} `json:"messages"`
}

// SaveHandler は POST /api/chat のハンドラーを返します。
// 会話のメッセージを受け取った内容でまるごと置き換えます。
func SaveHandler(chats ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserIDKey)

		var req saveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "JSON形式でchatIdとmessagesを送信してください。",
			})
			return
		}
		if strings.TrimSpace(req.ChatID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "chatIdは必須です。",
			})
			return
		}

		ctx := c.Request.Context()
		chat, err := chats.ChatByIDForUser(ctx, req.ChatID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "NOT_FOUND",
					"message": "指定された会話が見つかりません。",
				})
				return
			}
			serverError(c)
			return
		}

		messages := make([]*store.Message, len(req.Messages))
		for i, m := range req.Messages {
			createdAt := m.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			messages[i] = &store.Message{
				ChatID:    chat.ID,
				Role:      m.Role,
				Parts:     m.Parts,
				CreatedAt: createdAt,
			}
		}

		saved, err := chats.ReplaceMessages(ctx, chat.ID, messages)
		if err != nil {
			serverError(c)
			return
		}
		if saved == nil {
			saved = []*store.Message{}
		}
		c.JSON(http.StatusOK, gin.H{
			"chatId":   chat.ID,
			"messages": saved,
		})
	}
}

func serverError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "サーバー内部でエラーが発生しました。",
	})
}
