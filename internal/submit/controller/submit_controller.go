package controller

import (
	"context"

	"judgeflow/internal/job"
	"judgeflow/internal/submit/service"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmitRequest is the enqueue API request body.
type SubmitRequest struct {
	SourceCode     string `json:"source_code" binding:"required"`
	LanguageID     int    `json:"language_id" binding:"required"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
	ProblemID      int64  `json:"problem_id"`
	IsSubmission   bool   `json:"is_submission"`
}

// SubmitResponse is the enqueue API response body.
type SubmitResponse struct {
	Token string `json:"token"`
	JobID string `json:"job_id"`
}

// StatusReader looks up the latest stored status for a token. Satisfied by
// status.Repository.
type StatusReader interface {
	Get(ctx context.Context, token string) (job.SubmissionUpdate, error)
}

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
	statuses      StatusReader
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService, statuses StatusReader) *SubmitController {
	return &SubmitController{submitService: submitService, statuses: statuses}
}

// Create enqueues one execution job and returns its token and job id.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	out, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		SourceCode:     req.SourceCode,
		LanguageID:     req.LanguageID,
		Stdin:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
		ProblemID:      req.ProblemID,
		IsSubmission:   req.IsSubmission,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, SubmitResponse{Token: out.Token, JobID: out.JobID})
}

// GetStatus returns the latest stored status for a token, for clients that
// reconnect after missing the pushed result.
func (h *SubmitController) GetStatus(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "Invalid token")
		return
	}
	update, err := h.statuses.Get(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, update)
}
