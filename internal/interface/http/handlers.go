package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/internal/interface/http/handlers"
	"github.com/classpulse/classpulse/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(c *gin.Context) {
	handlers.RespondOK(c, gin.H{
		"name":    "ClassPulse Analytics API",
		"version": handlers.APIVersion,
		"endpoints": gin.H{
			"health":         "/health",
			"student":        "/api/v1/students/{id}/metrics",
			"digest":         "/api/v1/students/{id}/digest",
			"gaps":           "/api/v1/students/{id}/gaps",
			"class":          "/api/v1/classes/{id}/metrics",
			"interventions":  "/api/v1/classes/{id}/interventions",
			"grade":          "/api/v1/submissions/{id}/grade",
			"activity":       "/api/v1/activity",
			"session_values": "/api/v1/sessions/{sid}/keys/{key}",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleReady is 200 only when every dependency answers.
func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Healthy {
		handlers.RespondError(c, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	handlers.RespondOK(c, gin.H{"ready": true})
}

func (s *Server) handleLive(c *gin.Context) {
	handlers.RespondOK(c, gin.H{"alive": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// atParam parses the optional RFC 3339 "at" query parameter.
func atParam(c *gin.Context) (time.Time, bool) {
	raw := c.Query("at")
	if raw == "" {
		return time.Time{}, true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		handlers.RespondError(c, http.StatusBadRequest, "invalid_request", "at must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return at, true
}

func (s *Server) handleStudentMetrics(c *gin.Context) {
	at, ok := atParam(c)
	if !ok {
		return
	}
	res, err := s.deps.StudentMetrics.Handle(c.Request.Context(), query.GetStudentMetricsQuery{
		StudentID: c.Param("id"),
		At:        at,
	})
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.RespondOK(c, res)
}

func (s *Server) handleWeeklyDigest(c *gin.Context) {
	at, ok := atParam(c)
	if !ok {
		return
	}
	res, err := s.deps.WeeklyDigest.Handle(c.Request.Context(), query.GetWeeklyDigestQuery{
		StudentID: c.Param("id"),
		At:        at,
	})
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.RespondOK(c, res)
}

func (s *Server) handleLearningGaps(c *gin.Context) {
	res, err := s.deps.LearningGaps.Handle(c.Request.Context(), query.GetLearningGapsQuery{
		StudentID: c.Param("id"),
	})
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, res, &handlers.ResponseMeta{TotalCount: len(res)})
}

func (s *Server) handleClassMetrics(c *gin.Context) {
	res, err := s.deps.ClassMetrics.Handle(c.Request.Context(), query.GetClassMetricsQuery{
		ClassID: c.Param("id"),
	})
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.RespondOK(c, res)
}

func (s *Server) handleClassInterventions(c *gin.Context) {
	res, err := s.deps.ClassInterventions.Handle(c.Request.Context(), query.GetClassInterventionsQuery{
		ClassID: c.Param("id"),
	})
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.Respond(c, http.StatusOK, res, &handlers.ResponseMeta{TotalCount: len(res.Alerts)})
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

// gradeRequest is the body of POST /submissions/:id/grade.
type gradeRequest struct {
	RubricScores map[string]float64 `json:"rubric_scores"`
	ManualGrade  *float64           `json:"manual_grade"`
	Feedback     string             `json:"feedback"`
}

func (s *Server) handleGradeSubmission(c *gin.Context) {
	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	res, err := s.deps.GradeSubmission.Handle(c.Request.Context(), command.GradeSubmissionCommand{
		SubmissionID: c.Param("id"),
		RubricScores: req.RubricScores,
		ManualGrade:  req.ManualGrade,
		Feedback:     req.Feedback,
	})
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.RespondOK(c, res)
}

// handleRecordActivity accepts one record or an array of them.
func (s *Server) handleRecordActivity(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		handlers.RespondError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		return
	}

	var cmds []command.RecordActivityCommand
	if err := json.Unmarshal(body, &cmds); err != nil {
		var one command.RecordActivityCommand
		if err := json.Unmarshal(body, &one); err != nil {
			handlers.RespondError(c, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		cmds = []command.RecordActivityCommand{one}
	}

	records, err := s.deps.RecordActivity.Handle(c.Request.Context(), cmds...)
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	handlers.Respond(c, http.StatusCreated, records, &handlers.ResponseMeta{TotalCount: len(records)})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STATE
// ══════════════════════════════════════════════════════════════════════════════

// withSession opens the session for the request and closes it afterwards.
func (s *Server) withSession(c *gin.Context, fn func(repo session.Repository)) {
	repo, err := s.deps.Sessions.Open(c.Request.Context(), c.Param("sid"))
	if err != nil {
		handlers.RespondDomainError(c, err)
		return
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.FromContext(c.Request.Context()).Warn("session close failed", logger.Err(err))
		}
	}()
	fn(repo)
}

// sessionValue renders a stored value. Values written through the API are
// JSON; anything else is returned as a string.
func sessionValue(raw []byte) interface{} {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	return string(raw)
}

func (s *Server) handleGetSession(c *gin.Context) {
	s.withSession(c, func(repo session.Repository) {
		values := make(map[string]interface{})
		for _, key := range repo.Keys() {
			raw, err := repo.Get(c.Request.Context(), key)
			if err != nil {
				if shared.IsNotFound(err) {
					continue
				}
				handlers.RespondDomainError(c, err)
				return
			}
			values[key] = sessionValue(raw)
		}
		handlers.Respond(c, http.StatusOK, gin.H{
			"session_id": repo.SessionID(),
			"values":     values,
		}, &handlers.ResponseMeta{TotalCount: len(values)})
	})
}

func (s *Server) handleGetSessionKey(c *gin.Context) {
	s.withSession(c, func(repo session.Repository) {
		raw, err := repo.Get(c.Request.Context(), c.Param("key"))
		if err != nil {
			handlers.RespondDomainError(c, err)
			return
		}
		handlers.RespondOK(c, gin.H{"key": c.Param("key"), "value": sessionValue(raw)})
	})
}

func (s *Server) handlePutSessionKey(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		handlers.RespondError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		return
	}
	if !json.Valid(body) {
		handlers.RespondError(c, http.StatusBadRequest, "invalid_request", "value must be JSON")
		return
	}

	s.withSession(c, func(repo session.Repository) {
		if err := repo.Set(c.Request.Context(), c.Param("key"), body); err != nil {
			handlers.RespondDomainError(c, err)
			return
		}
		handlers.RespondOK(c, gin.H{"key": c.Param("key"), "value": json.RawMessage(body)})
	})
}

func (s *Server) handleDeleteSessionKey(c *gin.Context) {
	s.withSession(c, func(repo session.Repository) {
		if err := repo.Delete(c.Request.Context(), c.Param("key")); err != nil {
			handlers.RespondDomainError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
