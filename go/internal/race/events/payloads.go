package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/typerace/go/internal/models"
)

// QueueRejectedPayload is the payload for a queue_rejected event.
type QueueRejectedPayload struct {
	Reason string `json:"reason"`
}

// MatchFoundPayload is the payload for a match_found event.
type MatchFoundPayload struct {
	SessionID uuid.UUID           `json:"session_id"`
	Roster    []models.PlayerSlot `json:"roster"`
}

// RosterPayload is the payload for a roster_updated event.
type RosterPayload struct {
	Roster []models.PlayerSlot `json:"roster"`
}

// CountdownStartedPayload is the payload for a countdown_started event.
type CountdownStartedPayload struct {
	Seconds   int       `json:"seconds"`
	StartedAt time.Time `json:"started_at"`
}

// RaceStartedPayload is the payload for a race_started event.
type RaceStartedPayload struct {
	Text      string    `json:"text"`
	StartedAt time.Time `json:"started_at"`
}

// ProgressPayload is the payload for a progress_update event.
type ProgressPayload struct {
	ClientID uuid.UUID `json:"client_id"`
	Progress float64   `json:"progress"`
}

// RaceFinishedPayload is the payload for a race_finished event.
type RaceFinishedPayload struct {
	SessionID      uuid.UUID `json:"session_id"`
	WinnerClientID uuid.UUID `json:"winner_client_id"`
	WinnerUsername string    `json:"winner_username"`
	TextLength     int       `json:"text_length"`
	Duration       string    `json:"duration"`
	DurationMS     int64     `json:"duration_ms"`
	FinishedAt     time.Time `json:"finished_at"`
}

// OpponentLeftPayload is the payload for an opponent_left event.
type OpponentLeftPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// ChatPayload is the payload for a chat_message event.
type ChatPayload struct {
	Username string    `json:"username"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}
