package events

import (
	"github.com/google/uuid"
)

// Event types shared between the race and gateway packages.

// Type identifies an outbound race event.
type Type string

const (
	TypeQueueRejected    Type = "queue_rejected"
	TypeMatchFound       Type = "match_found"
	TypeRosterUpdated    Type = "roster_updated"
	TypeCountdownStarted Type = "countdown_started"
	TypeRaceStarted      Type = "race_started"
	TypeProgressUpdate   Type = "progress_update"
	TypeRaceFinished     Type = "race_finished"
	TypeOpponentLeft     Type = "opponent_left"
	TypeChatMessage      Type = "chat_message"
)

// Outbound is one event emitted by the core, addressed to a set of clients.
type Outbound struct {
	Type      Type
	SessionID uuid.UUID   // zero for pre-match events
	To        []uuid.UUID // recipient client IDs
	Payload   any
}

// Sink receives outbound events for delivery. The gateway's router implements
// it over the live transport; tests use a recording sink.
type Sink func(Outbound)
