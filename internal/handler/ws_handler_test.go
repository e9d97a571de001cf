package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// reply is the union of every server event used by the tests.
type reply struct {
	Event            ws.Event  `json:"event"`
	Code             string    `json:"code"`
	Error            string    `json:"error"`
	QuestionID       string    `json:"question_id"`
	Count            int       `json:"count"`
	SubmittedAt      time.Time `json:"submitted_at"`
	AlreadySubmitted bool      `json:"already_submitted"`
}

func dialStream(t *testing.T, f *fakeAttempts, limiter *middleware.RateLimiter) *websocket.Conn {
	t.Helper()
	h := NewWSHandler(f, limiter, zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/ws/v1/attempts/:attempt_id/stream", h.AttemptStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/attempts/" + testAttemptID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg ws.RequestPayload) reply {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var r reply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return r
}

func TestWSHandler_Stream(t *testing.T) {
	submittedAt := time.Date(2026, 5, 4, 9, 15, 0, 0, time.UTC)
	f := &fakeAttempts{submit: &model.SubmitResponse{SubmittedAt: submittedAt}}
	conn := dialStream(t, f, nil)

	if r := roundTrip(t, conn, ws.RequestPayload{Action: ws.ActionPing}); r.Event != ws.EventPong {
		t.Fatalf("ping: event = %s", r.Event)
	}

	opt := "opt-c"
	r := roundTrip(t, conn, ws.RequestPayload{
		Action:           ws.ActionAutosave,
		QuestionID:       testQuestionID,
		SelectedOptionID: &opt,
		TimeSpentSeconds: 30,
	})
	if r.Event != ws.EventSaved || r.QuestionID != testQuestionID {
		t.Fatalf("autosave: unexpected reply %+v", r)
	}
	if saved := f.savedAnswers(); len(saved) != 1 || saved[0].Value() != opt {
		t.Fatalf("saved = %+v", saved)
	}

	r = roundTrip(t, conn, ws.RequestPayload{Action: ws.ActionViolation, Reason: string(model.ViolationTabHidden), Count: 1})
	if r.Event != ws.EventViolation || r.Count != 1 {
		t.Fatalf("violation: unexpected reply %+v", r)
	}

	r = roundTrip(t, conn, ws.RequestPayload{Action: ws.ActionSubmit})
	if r.Event != ws.EventSubmitted || !r.SubmittedAt.Equal(submittedAt) {
		t.Fatalf("submit: unexpected reply %+v", r)
	}
}

func TestWSHandler_Rejections(t *testing.T) {
	text := "42"
	opt := "opt-a"

	tests := []struct {
		name string
		f    *fakeAttempts
		msg  ws.RequestPayload
		code response.ErrCode
	}{
		{
			name: "UnknownAction",
			f:    &fakeAttempts{},
			msg:  ws.RequestPayload{Action: "teleport"},
			code: response.ErrInvalidPayload,
		},
		{
			name: "InvalidQuestionID",
			f:    &fakeAttempts{},
			msg:  ws.RequestPayload{Action: ws.ActionAutosave, QuestionID: "../../keys", TextAnswer: &text},
			code: response.ErrInvalidID,
		},
		{
			name: "BothValues",
			f:    &fakeAttempts{},
			msg:  ws.RequestPayload{Action: ws.ActionAutosave, QuestionID: testQuestionID, TextAnswer: &text, SelectedOptionID: &opt},
			code: response.ErrValidation,
		},
		{
			name: "UnknownReason",
			f:    &fakeAttempts{},
			msg:  ws.RequestPayload{Action: ws.ActionViolation, Reason: "screenshot"},
			code: response.ErrValidation,
		},
		{
			name: "SubmittedAttempt",
			f:    &fakeAttempts{err: service.ErrAttemptSubmitted},
			msg:  ws.RequestPayload{Action: ws.ActionAutosave, QuestionID: testQuestionID, TextAnswer: &text},
			code: response.ErrAttemptSubmitted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialStream(t, tt.f, nil)
			r := roundTrip(t, conn, tt.msg)
			if r.Event != ws.EventError || r.Code != string(tt.code) {
				t.Fatalf("reply = %+v, want error %s", r, tt.code)
			}
			if saved := tt.f.savedAnswers(); len(saved) != 0 {
				t.Fatalf("rejected write reached the service: %+v", saved)
			}
		})
	}
}

func TestWSHandler_RateLimited(t *testing.T) {
	f := &fakeAttempts{}
	conn := dialStream(t, f, middleware.NewRateLimiter(1, time.Hour))

	text := "B"
	msg := ws.RequestPayload{Action: ws.ActionAutosave, QuestionID: testQuestionID, TextAnswer: &text}
	if r := roundTrip(t, conn, msg); r.Event != ws.EventSaved {
		t.Fatalf("first write: %+v", r)
	}
	if r := roundTrip(t, conn, msg); r.Code != string(response.ErrRateLimitExceeded) {
		t.Fatalf("second write: %+v", r)
	}
	if saved := f.savedAnswers(); len(saved) != 1 {
		t.Fatalf("saved %d answers, want 1", len(saved))
	}
}
