package queue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func jobsRouter(q *TaskQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/jobs", ListHandler(q))
	return router
}

func getJobs(t *testing.T, router *gin.Engine, path string) (int, []jobView) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body struct {
		Jobs []jobView `json:"jobs"`
	}
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid response: %v", err)
		}
	}
	return rec.Code, body.Jobs
}

func TestListHandlerFiltersByQuery(t *testing.T) {
	q := newTestQueue()
	done := make(chan struct{})
	q.Enqueue(func() error { return nil }, "generate-embeddings", "doc1")
	q.Enqueue(func() error { <-done; return nil }, "generate-embeddings", "doc2")
	defer close(done)

	waitForStatus(t, q, "doc1", StatusDone)

	code, jobs := getJobs(t, jobsRouter(q), "/api/jobs")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	code, jobs = getJobs(t, jobsRouter(q), "/api/jobs?resourceKey=doc1&status=done")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(jobs) != 1 || jobs[0].ResourceKey != "doc1" || jobs[0].Status != "done" {
		t.Errorf("unexpected filtered jobs: %+v", jobs)
	}

	code, jobs = getJobs(t, jobsRouter(q), "/api/jobs?name=no-such-job")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(jobs) != 0 {
		t.Errorf("expected empty result, got %+v", jobs)
	}
}

func TestListHandlerRejectsUnknownStatus(t *testing.T) {
	code, _ := getJobs(t, jobsRouter(newTestQueue()), "/api/jobs?status=bogus")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}
}

func TestListHandlerEmptyQueueIsArray(t *testing.T) {
	router := jobsRouter(newTestQueue())
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"jobs":[]}` {
		t.Errorf("expected empty jobs array, got %s", rec.Body.String())
	}
}
