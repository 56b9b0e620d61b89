package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"judgeflow/internal/job"
	"judgeflow/internal/submit/controller"
	"judgeflow/internal/submit/service"
	appErr "judgeflow/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeProducer struct {
	jobs []*job.Job
	err  error
}

func (f *fakeProducer) Enqueue(_ context.Context, j *job.Job) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, j)
	return "job-1", nil
}

type fakeStatuses struct {
	updates map[string]job.SubmissionUpdate
}

func (f *fakeStatuses) Get(_ context.Context, token string) (job.SubmissionUpdate, error) {
	if update, ok := f.updates[token]; ok {
		return update, nil
	}
	return job.SubmissionUpdate{}, appErr.New(appErr.StatusNotFound)
}

func newTestRouter(producer *fakeProducer, statuses *fakeStatuses) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if statuses == nil {
		statuses = &fakeStatuses{updates: map[string]job.SubmissionUpdate{}}
	}
	ctrl := controller.NewSubmitController(service.NewSubmitService(producer), statuses)
	router.POST("/api/submit", ctrl.Create)
	router.GET("/api/status/:token", ctrl.GetStatus)
	return router
}

type responseEnvelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, responseEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env responseEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestCreateReturnsTokenAndJobID(t *testing.T) {
	producer := &fakeProducer{}
	router := newTestRouter(producer, nil)

	rec, env := doJSON(t, router, http.MethodPost, "/api/submit", map[string]interface{}{
		"source_code": "print(1)",
		"language_id": 71,
		"stdin":       "5",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var data struct {
		Token string `json:"token"`
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Token == "" || data.JobID != "job-1" {
		t.Fatalf("unexpected response data: %+v", data)
	}
	if len(producer.jobs) != 1 || producer.jobs[0].Stdin != "5" {
		t.Fatalf("job not enqueued as submitted: %+v", producer.jobs)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	router := newTestRouter(&fakeProducer{}, nil)

	rec, _ := doJSON(t, router, http.MethodPost, "/api/submit", map[string]interface{}{
		"language_id": 71,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// A queue outage maps to HTTP 503, not a hang or a 500.
func TestCreateQueueUnavailableMapsTo503(t *testing.T) {
	producer := &fakeProducer{err: appErr.New(appErr.QueueUnavailable)}
	router := newTestRouter(producer, nil)

	rec, env := doJSON(t, router, http.MethodPost, "/api/submit", map[string]interface{}{
		"source_code": "print(1)",
		"language_id": 71,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.Code != int(appErr.QueueUnavailable) {
		t.Fatalf("expected QueueUnavailable code, got %d", env.Code)
	}
}

func TestGetStatusReturnsStoredUpdate(t *testing.T) {
	statuses := &fakeStatuses{updates: map[string]job.SubmissionUpdate{
		"tok-1": job.Completed("report"),
	}}
	router := newTestRouter(&fakeProducer{}, statuses)

	rec, env := doJSON(t, router, http.MethodGet, "/api/status/tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var update job.SubmissionUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if update.Status != job.StatusCompleted || update.Output != "report" {
		t.Fatalf("unexpected update: %+v", update)
	}
}

func TestGetStatusUnknownToken(t *testing.T) {
	router := newTestRouter(&fakeProducer{}, nil)
	rec, _ := doJSON(t, router, http.MethodGet, "/api/status/tok-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
