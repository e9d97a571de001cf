package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
)

const testAttemptID = "0b8a3f2c-5d0e-4c61-9f39-2f9d1c7c1a11"

func writeEnvelope(w http.ResponseWriter, status int, data any, code response.ErrCode) {
	body := response.Response{Data: data}
	if code != "" {
		body.Error = &response.ErrorBody{Code: code, Message: response.GetMessage(code)}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestStore(t *testing.T, mux *http.ServeMux) *AttemptStore {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewAttemptStore(srv.URL+"/api/v1", 2*time.Second, zerolog.Nop())
}

func TestAttemptStore_LoadAndStart(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/attempts/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, model.LoadedAttempt{
			AttemptID:       r.PathValue("id"),
			Title:           "Fisika Dasar",
			DurationMinutes: 90,
		}, "")
	})
	mux.HandleFunc("POST /api/v1/attempts/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, model.StartResponse{StartedAt: startedAt}, "")
	})
	store := newTestStore(t, mux)

	loaded, err := store.LoadAttempt(context.Background(), testAttemptID)
	if err != nil {
		t.Fatalf("LoadAttempt: %v", err)
	}
	if loaded.AttemptID != testAttemptID || loaded.DurationMinutes != 90 {
		t.Fatalf("unexpected attempt: %+v", loaded)
	}

	got, err := store.StartAttempt(context.Background(), testAttemptID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if !got.Equal(startedAt) {
		t.Fatalf("started_at = %v, want %v", got, startedAt)
	}
}

func TestAttemptStore_SaveAnswer(t *testing.T) {
	var gotPath string
	var gotBody model.SaveAnswerRequest

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/attempts/{id}/answers/{qid}", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.PathValue("qid")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "saved"}, "")
	})
	store := newTestStore(t, mux)

	text := "9.81"
	err := store.SaveAnswer(context.Background(), testAttemptID, model.AnswerSync{
		QuestionID:       "q-7",
		TextAnswer:       &text,
		TimeSpentSeconds: 42,
	})
	if err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if gotPath != "q-7" {
		t.Errorf("question path = %q, want q-7", gotPath)
	}
	if gotBody.TextAnswer == nil || *gotBody.TextAnswer != text || gotBody.SelectedOptionID != nil {
		t.Errorf("unexpected body: %+v", gotBody)
	}
	if gotBody.TimeSpentSeconds != 42 {
		t.Errorf("time_spent_seconds = %d, want 42", gotBody.TimeSpentSeconds)
	}
}

func TestAttemptStore_ErrorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/attempts/{id}/answers/{qid}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(response.HeaderRequestID, "req-42")
		writeEnvelope(w, http.StatusUnprocessableEntity, nil, response.ErrUnknownQuestion)
	})
	store := newTestStore(t, mux)

	opt := "opt-a"
	err := store.SaveAnswer(context.Background(), testAttemptID, model.AnswerSync{QuestionID: "q-x", SelectedOptionID: &opt})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != response.ErrUnknownQuestion {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.RequestID != "req-42" {
		t.Fatalf("request id = %q", apiErr.RequestID)
	}
	if !IsCode(err, response.ErrUnknownQuestion) {
		t.Fatal("IsCode did not match")
	}
	if !errors.Is(err, engine.ErrRejected) {
		t.Fatal("a 422 reply must be marked as rejected")
	}
}

func TestAPIError_Rejected(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := fmt.Errorf("save: %w", &APIError{Status: tt.status})
			if got := errors.Is(err, engine.ErrRejected); got != tt.want {
				t.Fatalf("errors.Is(HTTP %d, ErrRejected) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAttemptStore_Submit(t *testing.T) {
	submittedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/v1/attempts/{id}/submit", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, model.SubmitResponse{SubmittedAt: submittedAt, AlreadySubmitted: true}, "")
		})
		store := newTestStore(t, mux)

		got, err := store.SubmitAttempt(context.Background(), testAttemptID)
		if err != nil {
			t.Fatalf("SubmitAttempt: %v", err)
		}
		if !got.Equal(submittedAt) {
			t.Fatalf("submitted_at = %v, want %v", got, submittedAt)
		}
	})

	t.Run("ConflictIsIdempotent", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/v1/attempts/{id}/submit", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusConflict, nil, response.ErrAttemptSubmitted)
		})
		mux.HandleFunc("GET /api/v1/attempts/{id}", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, model.LoadedAttempt{AttemptID: r.PathValue("id"), SubmittedAt: &submittedAt}, "")
		})
		store := newTestStore(t, mux)

		got, err := store.SubmitAttempt(context.Background(), testAttemptID)
		if err != nil {
			t.Fatalf("SubmitAttempt: %v", err)
		}
		if !got.Equal(submittedAt) {
			t.Fatalf("submitted_at = %v, want %v", got, submittedAt)
		}
	})

	t.Run("OtherConflictFails", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/v1/attempts/{id}/submit", func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusConflict, nil, response.ErrAttemptNotStarted)
		})
		store := newTestStore(t, mux)

		if _, err := store.SubmitAttempt(context.Background(), testAttemptID); !IsCode(err, response.ErrAttemptNotStarted) {
			t.Fatalf("expected ATTEMPT_NOT_STARTED, got %v", err)
		}
	})
}

func TestAttemptStore_FetchResults(t *testing.T) {
	rank := 3
	tests := []struct {
		name    string
		status  int
		body    any
		code    response.ErrCode
		wantErr error
	}{
		{
			name:    "Evaluating",
			status:  http.StatusAccepted,
			body:    model.ResultResponse{Status: model.ResultStatusEvaluating},
			wantErr: engine.ErrResultPending,
		},
		{
			name:    "NotYetSubmitted",
			status:  http.StatusConflict,
			code:    response.ErrNotSubmitted,
			wantErr: engine.ErrResultPending,
		},
		{
			name:    "Withheld",
			status:  http.StatusOK,
			body:    model.ResultResponse{Status: model.ResultStatusWithheld},
			wantErr: engine.ErrResultWithheld,
		},
		{
			name:   "Ready",
			status: http.StatusOK,
			body: model.ResultResponse{
				Status: model.ResultStatusReady,
				Result: &model.Result{TotalScore: 18, MaxScore: 20, Percentage: 90, Rank: &rank},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/v1/attempts/{id}/results", func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.body, tt.code)
			})
			store := newTestStore(t, mux)

			res, err := store.FetchResults(context.Background(), testAttemptID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchResults: %v", err)
			}
			if res.TotalScore != 18 || res.Rank == nil || *res.Rank != 3 {
				t.Fatalf("unexpected result: %+v", res)
			}
		})
	}
}

func TestAttemptStore_ReportViolation(t *testing.T) {
	var got model.ViolationRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/attempts/{id}/violations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, http.StatusOK, map[string]int{"violation_count": 2}, "")
	})
	store := newTestStore(t, mux)

	if err := store.ReportViolation(context.Background(), testAttemptID, model.ViolationTabHidden, 2); err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if got.Reason != model.ViolationTabHidden || got.Count != 2 {
		t.Fatalf("unexpected body: %+v", got)
	}
}
