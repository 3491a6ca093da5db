package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/chatpdf/internal/auth"
	"github.com/yourusername/chatpdf/internal/store"
)

type stubUploadService struct {
	doc         *store.Document
	err         error
	gotUserID   string
	gotFileName string
	gotSize     int
}

func (s *stubUploadService) Upload(ctx context.Context, userID, fileName string, data []byte) (*store.Document, error) {
	s.gotUserID = userID
	s.gotFileName = fileName
	s.gotSize = len(data)
	return s.doc, s.err
}

type stubParseService struct {
	result *ExtractResult
	err    error
}

func (s *stubParseService) Parse(ctx context.Context, data []byte) (*ExtractResult, error) {
	return s.result, s.err
}

type stubDocService struct {
	docs      []*store.Document
	chunks    []*store.Chunk
	err       error
	deletedID string
}

func (s *stubDocService) List(ctx context.Context, userID string) ([]*store.Document, error) {
	return s.docs, s.err
}

func (s *stubDocService) Chunks(ctx context.Context, userID, documentID string) ([]*store.Chunk, error) {
	return s.chunks, s.err
}

func (s *stubDocService) Delete(ctx context.Context, userID, documentID string) error {
	s.deletedID = documentID
	return s.err
}

type stubScheduler struct {
	jobID  string
	err    error
	gotDoc *store.Document
}

func (s *stubScheduler) Schedule(doc *store.Document) (string, error) {
	s.gotDoc = doc
	return s.jobID, s.err
}

func testRouter(configure func(*gin.Engine)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserIDKey, "user1")
	})
	configure(router)
	return router
}

func multipartRequest(t *testing.T, path, field, fileName string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadHandlerSchedulesJob(t *testing.T) {
	svc := &stubUploadService{doc: &store.Document{ID: "doc1", UserID: "user1", FileName: "a.pdf"}}
	scheduler := &stubScheduler{jobID: "job-1"}
	router := testRouter(func(r *gin.Engine) {
		r.POST("/api/pdf/upload", UploadHandler(svc, scheduler))
	})

	req := multipartRequest(t, "/api/pdf/upload", "file", "a.pdf", []byte("%PDF-1.7 data"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		PDF   *store.Document `json:"pdf"`
		JobID string          `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.PDF == nil || body.PDF.ID != "doc1" {
		t.Errorf("unexpected pdf in response: %+v", body.PDF)
	}
	if body.JobID != "job-1" {
		t.Errorf("unexpected jobId: %q", body.JobID)
	}
	if svc.gotUserID != "user1" || svc.gotFileName != "a.pdf" || svc.gotSize == 0 {
		t.Errorf("unexpected upload args: %q %q %d", svc.gotUserID, svc.gotFileName, svc.gotSize)
	}
	if scheduler.gotDoc == nil || scheduler.gotDoc.ID != "doc1" {
		t.Errorf("scheduler not called with document: %+v", scheduler.gotDoc)
	}
}

func TestUploadHandlerWithoutFile(t *testing.T) {
	router := testRouter(func(r *gin.Engine) {
		r.POST("/api/pdf/upload", UploadHandler(&stubUploadService{}, &stubScheduler{}))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/pdf/upload", strings.NewReader(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_INPUT") {
		t.Errorf("expected INVALID_INPUT: %s", rec.Body.String())
	}
}

func TestUploadHandlerAcceptsAlternateFieldNames(t *testing.T) {
	for _, field := range []string{"file", "files", "files[]"} {
		svc := &stubUploadService{doc: &store.Document{ID: "doc1"}}
		router := testRouter(func(r *gin.Engine) {
			r.POST("/api/pdf/upload", UploadHandler(svc, &stubScheduler{jobID: "j"}))
		})
		req := multipartRequest(t, "/api/pdf/upload", field, "a.pdf", []byte("%PDF-1.7"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("field %q: expected 200, got %d", field, rec.Code)
		}
	}
}

func TestUploadHandlerMapsLimitExceeded(t *testing.T) {
	svc := &stubUploadService{err: newError("LIMIT_EXCEEDED", "ファイルサイズが上限を超えています。", nil)}
	router := testRouter(func(r *gin.Engine) {
		r.POST("/api/pdf/upload", UploadHandler(svc, &stubScheduler{}))
	})

	req := multipartRequest(t, "/api/pdf/upload", "file", "big.pdf", []byte("%PDF-1.7"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestParseHandlerReturnsPages(t *testing.T) {
	svc := &stubParseService{result: &ExtractResult{NumPages: 2, Pages: []string{"one", "two"}}}
	router := testRouter(func(r *gin.Engine) {
		r.POST("/api/pdf/parse", ParseHandler(svc))
	})

	req := multipartRequest(t, "/api/pdf/parse", "file", "a.pdf", []byte("%PDF-1.7"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body ExtractResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.NumPages != 2 || len(body.Pages) != 2 {
		t.Errorf("unexpected result: %+v", body)
	}
}

func TestListHandlerEmptyIsArray(t *testing.T) {
	router := testRouter(func(r *gin.Engine) {
		r.GET("/api/pdf/list", ListHandler(&stubDocService{}))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/list", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pdfs":[]`) {
		t.Errorf("expected empty pdfs array: %s", rec.Body.String())
	}
}

func TestChunksHandlerReturnsChunks(t *testing.T) {
	svc := &stubDocService{chunks: []*store.Chunk{{ID: "c1", DocumentID: "doc1", Text: "hello"}}}
	router := testRouter(func(r *gin.Engine) {
		r.GET("/api/pdf/i/:pdfId", ChunksHandler(svc))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/i/doc1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"text":"hello"`) {
		t.Errorf("expected chunk text in response: %s", rec.Body.String())
	}
}

func TestDeleteHandlerSuccess(t *testing.T) {
	svc := &stubDocService{}
	router := testRouter(func(r *gin.Engine) {
		r.DELETE("/api/pdf/i/:pdfId", DeleteHandler(svc))
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/pdf/i/doc1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.deletedID != "doc1" {
		t.Errorf("unexpected deleted id: %q", svc.deletedID)
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("expected success flag: %s", rec.Body.String())
	}
}

func TestDeleteHandlerNotFound(t *testing.T) {
	svc := &stubDocService{err: newError("NOT_FOUND", "指定されたPDFが見つかりません。", nil)}
	router := testRouter(func(r *gin.Engine) {
		r.DELETE("/api/pdf/i/:pdfId", DeleteHandler(svc))
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/pdf/i/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
