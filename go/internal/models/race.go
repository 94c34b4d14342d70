package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase defines a session's position in the race state machine.
type Phase string

const (
	PhaseLobby     Phase = "LOBBY"
	PhaseCountdown Phase = "COUNTDOWN"
	PhaseRacing    Phase = "RACING"
	PhaseFinished  Phase = "FINISHED"
)

// WaitingPlayer is a client queued for matchmaking, not yet in a session.
type WaitingPlayer struct {
	ClientID   uuid.UUID `json:"client_id"`
	Username   string    `json:"username"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// PlayerSlot holds one participant's state inside a session.
type PlayerSlot struct {
	ClientID     uuid.UUID `json:"client_id"`
	Username     string    `json:"username"`
	Ready        bool      `json:"ready"`
	Progress     float64   `json:"progress"`
	LastProgress time.Time `json:"last_progress,omitempty"`
}
