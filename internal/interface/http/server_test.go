package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
	"github.com/classpulse/classpulse/internal/interface/http/handlers"
)

var now = time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

func grade(v float64) *float64 { return &v }

func newTestServer(t *testing.T, mutate func(*Config, *Dependencies)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := memory.NewStore(&memory.Snapshot{
		Classes: []roster.Class{{ID: "c-1", Name: "Physics", TeacherID: "t-1", Verified: true}},
		Students: []memory.EnrolledStudent{
			{Student: roster.Student{ID: "s-1", ClassID: "c-1", Name: "Ada"}},
		},
		Activity: []activity.Record{
			{ID: "r-1", StudentID: "s-1", ClassID: "c-1", Type: activity.TypeAssignmentSubmitted,
				Timestamp: now.Add(-time.Hour), Metadata: activity.Metadata{Subject: "Motion", Grade: grade(88)}},
		},
		Assignments: []grading.Assignment{{ID: "a-1", ClassID: "c-1", Title: "Quiz", MaxPoints: 20}},
		Submissions: []grading.Submission{
			{ID: "sub-1", AssignmentID: "a-1", StudentID: "s-1", Status: grading.StatusSubmitted},
		},
	})
	require.NoError(t, err)

	qdeps := query.Dependencies{
		Activity:    store,
		Submissions: store.Submissions(),
		Roster:      store,
		Now:         func() time.Time { return now },
	}
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	deps := Dependencies{
		StudentMetrics:     query.NewGetStudentMetricsHandler(qdeps),
		ClassMetrics:       query.NewGetClassMetricsHandler(qdeps),
		ClassInterventions: query.NewGetClassInterventionsHandler(qdeps),
		WeeklyDigest:       query.NewGetWeeklyDigestHandler(qdeps),
		LearningGaps:       query.NewGetLearningGapsHandler(qdeps),
		GradeSubmission: command.NewGradeSubmissionHandler(command.GradeSubmissionDeps{
			Assignments: store.Assignments(),
			Rubrics:     store.Rubrics(),
			Submissions: store.Submissions(),
			Publisher:   nopPublisher{},
			Now:         func() time.Time { return now },
		}),
		RecordActivity: command.NewRecordActivityHandler(store, nil, nil),
		Sessions:       memory.NewSessionStore(),
		Version:        "test",
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	s := NewServer(cfg, deps)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) (*httptest.ResponseRecorder, handlers.Response) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp handlers.Response
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataMap(t *testing.T, resp handlers.Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealthEndpoints(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	s := newTestServer(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	w, _ := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	checker.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })

	w, resp := do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "failing: postgres", resp.Error.Message)

	w, _ = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStudentMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w, resp := do(t, s, http.MethodGet, "/api/v1/students/s-1/metrics", "", handlers.HeaderRequestID, "req-42")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, "req-42", w.Header().Get(handlers.HeaderRequestID))

	data := dataMap(t, resp)
	assert.Equal(t, "s-1", data["student_id"])
	assert.Equal(t, 88.0, data["average_grade"])

	w, resp = do(t, s, http.MethodGet, "/api/v1/students/nobody/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Error.Code)

	w, _ = do(t, s, http.MethodGet, "/api/v1/students/s-1/digest?at=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodGet, "/api/v1/students/s-1/digest?at="+now.Format(time.RFC3339), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClassRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w, resp := do(t, s, http.MethodGet, "/api/v1/classes/c-1/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", dataMap(t, resp)["class_id"])

	w, resp = do(t, s, http.MethodGet, "/api/v1/classes/c-1/interventions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, dataMap(t, resp)["evaluated"])

	w, _ = do(t, s, http.MethodGet, "/api/v1/classes/c-404/interventions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGradeSubmission(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) { c.APIKeys = []string{"secret"} })

	w, resp := do(t, s, http.MethodPost, "/api/v1/submissions/sub-1/grade", `{"manual_grade":15}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_api_key", resp.Error.Code)

	w, resp = do(t, s, http.MethodPost, "/api/v1/submissions/sub-1/grade", `{"manual_grade":15}`, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_api_key", resp.Error.Code)

	w, resp = do(t, s, http.MethodPost, "/api/v1/submissions/sub-1/grade", `{"manual_grade":15}`, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.Equal(t, 15.0, data["grade"])
	assert.Equal(t, 20.0, data["max_points"])

	w, resp = do(t, s, http.MethodPost, "/api/v1/submissions/sub-1/grade", `{"manual_grade":25}`, "X-API-Key", "secret")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", resp.Error.Code)

	w, _ = do(t, s, http.MethodPost, "/api/v1/submissions/sub-1/grade", `{}`, "X-API-Key", "secret")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/v1/submissions/missing/grade", `{"manual_grade":1}`, "X-API-Key", "secret")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/v1/submissions/sub-1/grade", `{not json`, "X-API-Key", "secret")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordActivity(t *testing.T) {
	s := newTestServer(t, nil)

	w, resp := do(t, s, http.MethodPost, "/api/v1/activity",
		`{"student_id":"s-1","class_id":"c-1","type":"message_sent","timestamp":"2026-03-12T14:00:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 1, resp.Meta.TotalCount)

	w, _ = do(t, s, http.MethodPost, "/api/v1/activity",
		`[{"student_id":"s-1","type":"session_active"},{"student_id":"s-1","type":"dancing"}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(t, s, http.MethodPost, "/api/v1/activity",
		`[{"student_id":"s-1","type":"session_active"},{"student_id":"s-1","type":"other"}]`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, resp.Meta.TotalCount)
}

func TestSessionRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := do(t, s, http.MethodGet, "/api/v1/sessions/sess-1/keys/theme", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, s, http.MethodPut, "/api/v1/sessions/sess-1/keys/theme", `{"mode":"dark"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, http.MethodPut, "/api/v1/sessions/sess-1/keys/theme", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := do(t, s, http.MethodGet, "/api/v1/sessions/sess-1/keys/theme", "")
	require.Equal(t, http.StatusOK, w.Code)
	value, ok := dataMap(t, resp)["value"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "dark", value["mode"])

	w, resp = do(t, s, http.MethodGet, "/api/v1/sessions/sess-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Meta.TotalCount)

	w, _ = do(t, s, http.MethodDelete, "/api/v1/sessions/sess-1/keys/theme", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = do(t, s, http.MethodGet, "/api/v1/sessions/sess-1/keys/theme", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitAndCORS(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.RateLimitPerMinute = 2
		c.AllowedOrigins = []string{"https://school.example"}
	})

	for i := 0; i < 2; i++ {
		w, _ := do(t, s, http.MethodGet, "/api/v1/students/s-1/gaps", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, resp := do(t, s, http.MethodGet, "/api/v1/students/s-1/gaps", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", resp.Error.Code)

	w, _ = do(t, s, http.MethodOptions, "/api/v1/classes/c-1/metrics", "", "Origin", "https://school.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://school.example", w.Header().Get("Access-Control-Allow-Origin"))

	w, _ = do(t, s, http.MethodGet, "/live", "", "Origin", "https://elsewhere.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{shared.ErrStudentNotFound, http.StatusNotFound},
		{shared.ErrInvalidMaxPoints, http.StatusBadRequest},
		{shared.ErrNoGradeAvailable, http.StatusUnprocessableEntity},
		{shared.ErrSessionClosed, http.StatusConflict},
		{shared.ErrNotificationFailed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := handlers.StatusFor(tc.err)
		assert.Equal(t, tc.want, got, "%v", tc.err)
	}
}
