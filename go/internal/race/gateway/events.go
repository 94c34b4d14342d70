package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/typerace/go/internal/race/events"
)

// RaceEvent is the wire envelope for every outbound event.
type RaceEvent struct {
	ID        string          `json:"id"`                   // Event UUID
	SessionID string          `json:"session_id,omitempty"` // Empty for pre-match events
	Type      events.Type     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewRaceEvent wraps a payload into a wire envelope.
func NewRaceEvent(typ events.Type, sessionID uuid.UUID, payload any) (*RaceEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	ev := &RaceEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
	if sessionID != (uuid.UUID{}) {
		ev.SessionID = sessionID.String()
	}
	return ev, nil
}

// CommandType identifies an inbound client command.
type CommandType string

const (
	CommandJoinQueue      CommandType = "join_queue"
	CommandToggleReady    CommandType = "toggle_ready"
	CommandUpdateProgress CommandType = "update_progress"
	CommandLeaveSession   CommandType = "leave_session"
	CommandSendChat       CommandType = "send_chat"
)

// ClientCommand is the wire shape of every inbound client message.
type ClientCommand struct {
	Type      CommandType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// JoinQueueData is the data for a join_queue command.
type JoinQueueData struct {
	Username string `json:"username"`
}

// ProgressData is the data for an update_progress command.
type ProgressData struct {
	Progress float64 `json:"progress"`
}

// ChatData is the data for a send_chat command.
type ChatData struct {
	Text string `json:"text"`
}

// ConnectedPayload is sent once after the WebSocket upgrade so the client
// knows its own identity in subsequent events.
type ConnectedPayload struct {
	ClientID uuid.UUID `json:"client_id"`
}

// TypeConnected is the transport-level hello event.
const TypeConnected events.Type = "connected"
