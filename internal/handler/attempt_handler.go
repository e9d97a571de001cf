package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// AttemptService is the attempt lifecycle as the HTTP and stream handlers use it.
type AttemptService interface {
	Load(ctx context.Context, attemptID string) (*model.LoadedAttempt, error)
	Start(ctx context.Context, attemptID string) (time.Time, error)
	SaveAnswer(ctx context.Context, attemptID string, answer model.AnswerSync) error
	ReportViolation(ctx context.Context, attemptID string, reason model.ViolationReason, count int) (int, error)
	Submit(ctx context.Context, attemptID string) (*model.SubmitResponse, error)
	Results(ctx context.Context, attemptID string) (*model.ResultResponse, error)
}

// AttemptHandler serves the remote attempt store API.
type AttemptHandler struct {
	attempts AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// attemptID parses the :attempt_id path parameter, failing the request when malformed.
func attemptID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return id.String(), true
}

// attemptErrorCode maps service errors to a status and error code.
func attemptErrorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound), errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrAttemptNotStarted):
		return http.StatusConflict, response.ErrAttemptNotStarted
	case errors.Is(err, service.ErrAttemptSubmitted):
		return http.StatusConflict, response.ErrAttemptSubmitted
	case errors.Is(err, service.ErrAttemptNotSubmitted):
		return http.StatusConflict, response.ErrNotSubmitted
	case errors.Is(err, service.ErrAttemptExpired):
		return http.StatusConflict, response.ErrAttemptExpired
	case errors.Is(err, service.ErrQuestionNotInExam):
		return http.StatusUnprocessableEntity, response.ErrUnknownQuestion
	case errors.Is(err, service.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, response.ErrInvalidAnswer
	case errors.Is(err, service.ErrExamNotPublished):
		return http.StatusConflict, response.ErrExamNotPublished
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusConflict, response.ErrNoQuestions
	}
	return http.StatusInternalServerError, response.ErrInternal
}

func (h *AttemptHandler) fail(c *gin.Context, attemptID string, err error) {
	status, code := attemptErrorCode(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("attempt_id", attemptID).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Attempt request failed")
	}
	response.Fail(c, status, code)
}

// GetAttempt godoc
// GET /api/v1/attempts/:attempt_id
// Returns the student-facing attempt: questions in frozen order, timing and answers.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	loaded, err := h.attempts.Load(c.Request.Context(), id)
	if err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, loaded)
}

// StartAttempt godoc
// POST /api/v1/attempts/:attempt_id/start
// Idempotent: repeated calls return the original start instant.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	startedAt, err := h.attempts.Start(c.Request.Context(), id)
	if err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, model.StartResponse{StartedAt: startedAt})
}

// SaveAnswer godoc
// PUT /api/v1/attempts/:attempt_id/answers/:question_id
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer := model.AnswerSync{
		QuestionID:        questionID.String(),
		SelectedOptionID:  req.SelectedOptionID,
		TextAnswer:        req.TextAnswer,
		TimeSpentSeconds:  req.TimeSpentSeconds,
		IsMarkedForReview: req.IsMarkedForReview,
	}
	if err := h.attempts.SaveAnswer(c.Request.Context(), id, answer); err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": answer.QuestionID, "status": "saved"})
}

// ReportViolation godoc
// POST /api/v1/attempts/:attempt_id/violations
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	count, err := h.attempts.ReportViolation(c.Request.Context(), id, req.Reason, req.Count)
	if err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"violation_count": count})
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
// Idempotent: a repeat returns the original instant with already_submitted set.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	res, err := h.attempts.Submit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetResults godoc
// GET /api/v1/attempts/:attempt_id/results
// 200 with READY or WITHHELD, 202 with EVALUATING while scoring is in progress.
func (h *AttemptHandler) GetResults(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	res, err := h.attempts.Results(c.Request.Context(), id)
	if errors.Is(err, service.ErrResultPending) {
		if res == nil {
			res = &model.ResultResponse{Status: model.ResultStatusEvaluating}
		}
		response.Success(c, http.StatusAccepted, res)
		return
	}
	if err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
