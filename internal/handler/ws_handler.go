package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

const wsRequestTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams answer writes, violations and submission over one socket.
type WSHandler struct {
	attempts AttemptService
	limiter  *middleware.RateLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter may be nil.
func NewWSHandler(attempts AttemptService, limiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	id, ok := attemptID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := logger.ForAttempt(h.log, id)
	wsLog.Info().Msg("Client connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), wsRequestTimeout)
		h.dispatch(ctx, conn, wsLog, id, &msg)
		cancel()
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID string, msg *ws.RequestPayload) {
	switch msg.Action {
	case ws.ActionPing:
		ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
	case ws.ActionAutosave:
		h.handleAutosave(ctx, conn, attemptID, msg)
	case ws.ActionViolation:
		h.handleViolation(ctx, conn, attemptID, msg)
	case ws.ActionSubmit:
		h.handleSubmit(ctx, conn, wsLog, attemptID)
	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, attemptID string, err error) {
	status, code := attemptErrorCode(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("attempt_id", attemptID).Msg("Stream request failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code))
}

// handleAutosave stores a single answer write.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, attemptID string, msg *ws.RequestPayload) {
	if h.limiter != nil && !h.limiter.Allow("attempt_id:"+attemptID) {
		ws.WriteError(conn, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded))
		return
	}

	// SECURITY: question ids are UUIDs; anything else never reaches a Redis key.
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), "invalid question_id format")
		return
	}
	if (msg.SelectedOptionID == nil) == (msg.TextAnswer == nil) {
		ws.WriteError(conn, string(response.ErrValidation), "exactly one of selected_option_id and text_answer is required")
		return
	}
	if msg.TimeSpentSeconds < 0 {
		ws.WriteError(conn, string(response.ErrValidation), "time_spent_seconds must not be negative")
		return
	}

	answer := model.AnswerSync{
		QuestionID:        questionID.String(),
		SelectedOptionID:  msg.SelectedOptionID,
		TextAnswer:        msg.TextAnswer,
		TimeSpentSeconds:  msg.TimeSpentSeconds,
		IsMarkedForReview: msg.IsMarkedForReview,
	}
	if err := h.attempts.SaveAnswer(ctx, attemptID, answer); err != nil {
		h.writeServiceError(conn, attemptID, err)
		return
	}
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: answer.QuestionID})
}

func (h *WSHandler) handleViolation(ctx context.Context, conn *websocket.Conn, attemptID string, msg *ws.RequestPayload) {
	reason := model.ViolationReason(msg.Reason)
	switch reason {
	case model.ViolationFullscreenExit, model.ViolationTabHidden, model.ViolationWindowBlur:
	default:
		ws.WriteError(conn, string(response.ErrValidation), "unknown violation reason")
		return
	}

	count, err := h.attempts.ReportViolation(ctx, attemptID, reason, msg.Count)
	if err != nil {
		h.writeServiceError(conn, attemptID, err)
		return
	}
	ws.WriteTyped(conn, ws.ViolationResponse{Event: ws.EventViolation, Count: count})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID string) {
	res, err := h.attempts.Submit(ctx, attemptID)
	if err != nil {
		h.writeServiceError(conn, attemptID, err)
		return
	}

	wsLog.Info().Bool("already_submitted", res.AlreadySubmitted).Msg("Attempt submitted over stream")
	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:            ws.EventSubmitted,
		SubmittedAt:      res.SubmittedAt,
		AlreadySubmitted: res.AlreadySubmitted,
	})
}
