package websocket

import "time"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload is the union of every client message; Action selects which
// fields are meaningful.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QuestionID        string  `json:"question_id,omitempty"`
	SelectedOptionID  *string `json:"selected_option_id,omitempty"`
	TextAnswer        *string `json:"text_answer,omitempty"`
	TimeSpentSeconds  int     `json:"time_spent_seconds,omitempty"`
	IsMarkedForReview bool    `json:"is_marked_for_review,omitempty"`

	// violation
	Reason string `json:"reason,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventViolation Event = "violation_recorded"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type ViolationResponse struct {
	Event Event `json:"event"`
	Count int   `json:"count"`
}

type SubmittedResponse struct {
	Event            Event     `json:"event"`
	SubmittedAt      time.Time `json:"submitted_at"`
	AlreadySubmitted bool      `json:"already_submitted"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
