package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
)

// APIError is a non-2xx reply from the attempt store.
type APIError struct {
	Status    int
	Code      response.ErrCode
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("attempt store: HTTP %d", e.Status)
	}
	if e.RequestID == "" {
		return fmt.Sprintf("attempt store: HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("attempt store: HTTP %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
}

// Is lets errors.Is(err, engine.ErrRejected) match client errors. Timeouts
// and rate limiting are worth retrying; other 4xx replies are not.
func (e *APIError) Is(target error) bool {
	if target != engine.ErrRejected {
		return false
	}
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code response.ErrCode) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// AttemptStore talks to the attempt store HTTP API. It implements
// engine.AttemptStore and engine.ViolationReporter.
type AttemptStore struct {
	http *resty.Client
	log  zerolog.Logger
}

var (
	_ engine.AttemptStore      = (*AttemptStore)(nil)
	_ engine.ViolationReporter = (*AttemptStore)(nil)
)

// NewAttemptStore creates a client for baseURL (for example http://host:8080/api/v1).
// Retries are left to the engine, which knows which writes are obsolete.
func NewAttemptStore(baseURL string, timeout time.Duration, log zerolog.Logger) *AttemptStore {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &AttemptStore{
		http: c,
		log:  log.With().Str("component", "attempt_store_client").Logger(),
	}
}

// call executes one request and unwraps the response envelope.
func call[T any](ctx context.Context, s *AttemptStore, method, path, attemptID string, body any) (T, int, error) {
	var (
		ok   response.Envelope[T]
		fail response.Envelope[any]
		zero T
	)
	req := s.http.R().
		SetContext(ctx).
		SetPathParam("attempt_id", attemptID).
		SetResult(&ok).
		SetError(&fail)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{
			Status:    resp.StatusCode(),
			RequestID: resp.Header().Get(response.HeaderRequestID),
		}
		if fail.Error != nil {
			apiErr.Code = fail.Error.Code
			apiErr.Message = fail.Error.Message
		}
		return zero, resp.StatusCode(), apiErr
	}
	return ok.Data, resp.StatusCode(), nil
}

func (s *AttemptStore) LoadAttempt(ctx context.Context, attemptID string) (*model.LoadedAttempt, error) {
	loaded, _, err := call[*model.LoadedAttempt](ctx, s, http.MethodGet, "/attempts/{attempt_id}", attemptID, nil)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, errors.New("attempt store: empty attempt payload")
	}
	return loaded, nil
}

func (s *AttemptStore) StartAttempt(ctx context.Context, attemptID string) (time.Time, error) {
	res, _, err := call[model.StartResponse](ctx, s, http.MethodPost, "/attempts/{attempt_id}/start", attemptID, nil)
	if err != nil {
		return time.Time{}, err
	}
	return res.StartedAt, nil
}

func (s *AttemptStore) SaveAnswer(ctx context.Context, attemptID string, answer model.AnswerSync) error {
	body := model.SaveAnswerRequest{
		SelectedOptionID:  answer.SelectedOptionID,
		TextAnswer:        answer.TextAnswer,
		TimeSpentSeconds:  answer.TimeSpentSeconds,
		IsMarkedForReview: answer.IsMarkedForReview,
	}
	path := "/attempts/{attempt_id}/answers/" + url.PathEscape(answer.QuestionID)
	_, _, err := call[map[string]any](ctx, s, http.MethodPut, path, attemptID, body)
	return err
}

// SubmitAttempt treats a conflict on an already submitted attempt as success
// and recovers the original instant from the attempt itself.
func (s *AttemptStore) SubmitAttempt(ctx context.Context, attemptID string) (time.Time, error) {
	res, _, err := call[model.SubmitResponse](ctx, s, http.MethodPost, "/attempts/{attempt_id}/submit", attemptID, nil)
	if err == nil {
		if res.AlreadySubmitted {
			s.log.Info().Str("attempt_id", attemptID).Msg("Attempt was already submitted")
		}
		return res.SubmittedAt, nil
	}
	if !IsCode(err, response.ErrAttemptSubmitted) {
		return time.Time{}, err
	}

	loaded, lerr := s.LoadAttempt(ctx, attemptID)
	if lerr != nil {
		return time.Time{}, fmt.Errorf("reload submitted attempt: %w", lerr)
	}
	if loaded.SubmittedAt == nil {
		return time.Time{}, err
	}
	return *loaded.SubmittedAt, nil
}

// FetchResults maps 202 and not-yet-submitted replies to engine.ErrResultPending.
func (s *AttemptStore) FetchResults(ctx context.Context, attemptID string) (*model.Result, error) {
	res, status, err := call[model.ResultResponse](ctx, s, http.MethodGet, "/attempts/{attempt_id}/results", attemptID, nil)
	if err != nil {
		if IsCode(err, response.ErrNotSubmitted) {
			return nil, engine.ErrResultPending
		}
		return nil, err
	}

	switch {
	case res.Status == model.ResultStatusWithheld:
		return nil, engine.ErrResultWithheld
	case status == http.StatusAccepted, res.Status == model.ResultStatusEvaluating, res.Result == nil:
		return nil, engine.ErrResultPending
	}
	return res.Result, nil
}

func (s *AttemptStore) ReportViolation(ctx context.Context, attemptID string, reason model.ViolationReason, count int) error {
	body := model.ViolationRequest{Reason: reason, Count: count}
	_, _, err := call[map[string]any](ctx, s, http.MethodPost, "/attempts/{attempt_id}/violations", attemptID, body)
	return err
}
