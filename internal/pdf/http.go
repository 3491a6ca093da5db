package pdf

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/chatpdf/internal/auth"
	"github.com/yourusername/chatpdf/internal/store"
)

// ParseService はページテキストの抽出を提供します。
type ParseService interface {
	Parse(ctx context.Context, data []byte) (*ExtractResult, error)
}

// UploadService はアップロードとドキュメント作成を提供します。
type UploadService interface {
	Upload(ctx context.Context, userID, fileName string, data []byte) (*store.Document, error)
}

// DocumentService はドキュメントの参照と削除を提供します。
type DocumentService interface {
	List(ctx context.Context, userID string) ([]*store.Document, error)
	Chunks(ctx context.Context, userID, documentID string) ([]*store.Chunk, error)
	Delete(ctx context.Context, userID, documentID string) error
}

// EmbeddingScheduler は埋め込み生成ジョブをキューへ投入します。
type EmbeddingScheduler interface {
	Schedule(doc *store.Document) (jobID string, err error)
}

// ParseHandler は POST /api/pdf/parse のハンドラーを返します。
func ParseHandler(svc ParseService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, _, err := readUploadedFile(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		result, err := svc.Parse(c.Request.Context(), data)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// UploadHandler は POST /api/pdf/upload のハンドラーを返します。
// ドキュメント作成後、埋め込みジョブを投入してジョブの完了を待たずに応答します。
func UploadHandler(svc UploadService, scheduler EmbeddingScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserIDKey)
		data, fileName, err := readUploadedFile(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		doc, err := svc.Upload(c.Request.Context(), userID, fileName, data)
		if err != nil {
			respondWithError(c, err)
			return
		}

		jobID, err := scheduler.Schedule(doc)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"pdf":   doc,
			"jobId": jobID,
		})
	}
}

// ListHandler は GET /api/pdf/list のハンドラーを返します。
func ListHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserIDKey)
		docs, err := svc.List(c.Request.Context(), userID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if docs == nil {
			docs = []*store.Document{}
		}
		c.JSON(http.StatusOK, gin.H{"pdfs": docs})
	}
}

// ChunksHandler は GET /api/pdf/i/:pdfId のハンドラーを返します。
func ChunksHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserIDKey)
		documentID := strings.TrimSpace(c.Param("pdfId"))
		if documentID == "" {
			respondWithError(c, newError("INVALID_INPUT", "PDFのIDを指定してください。", nil))
			return
		}
		chunks, err := svc.Chunks(c.Request.Context(), userID, documentID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if chunks == nil {
			chunks = []*store.Chunk{}
		}
		c.JSON(http.StatusOK, gin.H{"chunks": chunks})
	}
}

// DeleteHandler は DELETE /api/pdf/i/:pdfId のハンドラーを返します。
func DeleteHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserIDKey)
		documentID := strings.TrimSpace(c.Param("pdfId"))
		if documentID == "" {
			respondWithError(c, newError("INVALID_INPUT", "PDFのIDを指定してください。", nil))
			return
		}
		if err := svc.Delete(c.Request.Context(), userID, documentID); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "PDF and all related data deleted successfully",
		})
	}
}

func readUploadedFile(c *gin.Context) ([]byte, string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, "", newError("INVALID_INPUT", "multipart/form-data でPDFファイルを送信してください。", err)
	}
	defer form.RemoveAll()

	file, err := extractSingleFile(form)
	if err != nil {
		return nil, "", err
	}

	src, err := file.Open()
	if err != nil {
		return nil, "", newError("INVALID_INPUT", "アップロードされたファイルを開けませんでした。", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", newError("INVALID_INPUT", "アップロードされたファイルの読み込みに失敗しました。", err)
	}
	return data, file.Filename, nil
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	for _, field := range []string{"file", "file[]", "files", "files[]"} {
		if files := form.File[field]; len(files) > 0 {
			return files[0], nil
		}
	}
	return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
}
