package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/matchqueue"
	"github.com/mcdev12/typerace/go/internal/race"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

// Sender delivers wire events to a set of clients. The connection manager
// implements it; tests use a recorder.
type Sender interface {
	SendToClients(to []uuid.UUID, event *RaceEvent)
}

// EventPublisher mirrors race lifecycle events to a message bus for
// downstream consumers (result recording). May be absent.
type EventPublisher interface {
	Publish(ctx context.Context, event *RaceEvent) error
}

// RouterConfig holds tunables for the matchmaking and race core.
type RouterConfig struct {
	Countdown time.Duration
	RaceTexts []string
}

// Router is the boundary between the transport and the matchmaking/race core.
// It maps each inbound command to exactly one queue or session operation and
// determines the broadcast set for every resulting event. It also enforces
// the cross-component invariant that a client is either queued or in a
// session, never both.
type Router struct {
	queue    *matchqueue.Queue
	registry *race.Registry
	sender   Sender

	publisher EventPublisher
	mirrorCh  chan *RaceEvent
}

// NewRouter builds the core: matchmaking queue, session registry, and the
// event fan-out glue between them and the transport.
func NewRouter(cfg RouterConfig, clock clockwork.Clock, sender Sender, publisher EventPublisher) *Router {
	r := &Router{
		queue:     matchqueue.NewQueue(clock),
		sender:    sender,
		publisher: publisher,
		mirrorCh:  make(chan *RaceEvent, 256),
	}
	r.registry = race.NewRegistry(clock, cfg.Countdown, cfg.RaceTexts, r.emit)
	return r
}

// Registry exposes the session registry for wiring and stats.
func (r *Router) Registry() *race.Registry {
	return r.registry
}

// Queue exposes the matchmaking queue for stats.
func (r *Router) Queue() *matchqueue.Queue {
	return r.queue
}

// Start runs the mirror loop that forwards lifecycle events to the publisher.
// Publishing happens off the session lock so a slow broker never stalls a race.
func (r *Router) Start(ctx context.Context) {
	if r.publisher == nil {
		return
	}
	log.Info().Msg("event mirror started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event mirror shutting down")
			return
		case event := <-r.mirrorCh:
			if err := r.publisher.Publish(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("failed to mirror event")
			}
		}
	}
}

// emit is the sink handed to the session registry: it wraps core events into
// wire envelopes, fans them out, and mirrors lifecycle events to the bus.
func (r *Router) emit(ev events.Outbound) {
	event, err := NewRaceEvent(ev.Type, ev.SessionID, ev.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to build event envelope")
		return
	}
	r.sender.SendToClients(ev.To, event)

	switch ev.Type {
	case events.TypeMatchFound, events.TypeRaceStarted, events.TypeRaceFinished:
		r.mirror(event)
	}
}

func (r *Router) mirror(event *RaceEvent) {
	if r.publisher == nil {
		return
	}
	select {
	case r.mirrorCh <- event:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("mirror channel full, dropping event")
	}
}

// HandleCommand dispatches one inbound client command. Every failure here is
// scoped to a single client or session; nothing is fatal.
func (r *Router) HandleCommand(clientID uuid.UUID, cmd ClientCommand) {
	switch cmd.Type {
	case CommandJoinQueue:
		r.handleJoinQueue(clientID, cmd)
	case CommandToggleReady:
		if sess, ok := r.resolveSession(clientID, cmd); ok {
			r.dropIfInvalid(clientID, sess.ToggleReady(clientID))
		}
	case CommandUpdateProgress:
		r.handleUpdateProgress(clientID, cmd)
	case CommandLeaveSession:
		if sess, ok := r.resolveSession(clientID, cmd); ok {
			r.teardown(sess, clientID)
		}
	case CommandSendChat:
		r.handleSendChat(clientID, cmd)
	default:
		log.Warn().
			Str("client_id", clientID.String()).
			Str("command", string(cmd.Type)).
			Msg("unknown command type, dropping")
	}
}

func (r *Router) handleJoinQueue(clientID uuid.UUID, cmd ClientCommand) {
	var data JoinQueueData
	if err := json.Unmarshal(cmd.Data, &data); err != nil {
		log.Warn().Err(err).Str("client_id", clientID.String()).Msg("malformed join_queue data")
		return
	}

	username := strings.TrimSpace(data.Username)
	if username == "" {
		r.reject(clientID, "username is required")
		return
	}
	if _, ok := r.registry.GetByClient(clientID); ok {
		r.reject(clientID, "already in a session")
		return
	}
	if r.queue.Contains(clientID) {
		r.reject(clientID, "already in queue")
		return
	}

	if _, err := r.queue.Enqueue(clientID, username); err != nil {
		if errors.Is(err, matchqueue.ErrDuplicateName) {
			r.reject(clientID, "name already in queue")
			return
		}
		log.Error().Err(err).Str("client_id", clientID.String()).Msg("enqueue failed")
		return
	}

	first, second, ok := r.queue.DequeuePair()
	if !ok {
		return
	}

	sess := r.registry.Create(first, second)
	r.emit(events.Outbound{
		Type:      events.TypeMatchFound,
		SessionID: sess.ID(),
		To:        []uuid.UUID{first.ClientID, second.ClientID},
		Payload: events.MatchFoundPayload{
			SessionID: sess.ID(),
			Roster:    sess.Roster(),
		},
	})
}

func (r *Router) handleUpdateProgress(clientID uuid.UUID, cmd ClientCommand) {
	sess, ok := r.resolveSession(clientID, cmd)
	if !ok {
		return
	}
	var data ProgressData
	if err := json.Unmarshal(cmd.Data, &data); err != nil {
		log.Warn().Err(err).Str("client_id", clientID.String()).Msg("malformed update_progress data")
		return
	}
	r.dropIfInvalid(clientID, sess.UpdateProgress(clientID, data.Progress))
}

func (r *Router) handleSendChat(clientID uuid.UUID, cmd ClientCommand) {
	sess, ok := r.resolveSession(clientID, cmd)
	if !ok {
		return
	}
	var data ChatData
	if err := json.Unmarshal(cmd.Data, &data); err != nil {
		log.Warn().Err(err).Str("client_id", clientID.String()).Msg("malformed send_chat data")
		return
	}
	if data.Text == "" {
		return
	}

	opponent, err := sess.Opponent(clientID)
	if err != nil {
		r.dropIfInvalid(clientID, err)
		return
	}
	var sender string
	for _, slot := range sess.Roster() {
		if slot.ClientID == clientID {
			sender = slot.Username
		}
	}

	// Chat is pure relay to the other slot, never persisted.
	r.emit(events.Outbound{
		Type:      events.TypeChatMessage,
		SessionID: sess.ID(),
		To:        []uuid.UUID{opponent.ClientID},
		Payload: events.ChatPayload{
			Username: sender,
			Text:     data.Text,
			SentAt:   time.Now(),
		},
	})
}

// HandleDisconnect runs the disconnect-driven teardown path: the client is
// removed from the queue if queued, or its session is terminated if matched.
// Exactly one of the two, never both.
func (r *Router) HandleDisconnect(clientID uuid.UUID) {
	if r.queue.Remove(clientID) {
		return
	}
	if sess, ok := r.registry.GetByClient(clientID); ok {
		r.teardown(sess, clientID)
	}
}

// teardown ends a session on behalf of a leaving client and removes it from
// the registry. Safe to call twice; both steps are idempotent. A non-member
// cannot tear down someone else's session.
func (r *Router) teardown(sess *race.Session, leaverID uuid.UUID) {
	if err := sess.TerminateEarly(leaverID); err != nil {
		r.dropIfInvalid(leaverID, err)
		return
	}
	r.registry.Destroy(sess.ID())
}

// resolveSession parses the command's session ID and looks it up. A stale ID
// is a harmless race with teardown and is logged and dropped.
func (r *Router) resolveSession(clientID uuid.UUID, cmd ClientCommand) (*race.Session, bool) {
	sessionID, err := uuid.Parse(cmd.SessionID)
	if err != nil {
		log.Warn().
			Str("client_id", clientID.String()).
			Str("session_id", cmd.SessionID).
			Str("command", string(cmd.Type)).
			Msg("invalid session id, dropping command")
		return nil, false
	}
	sess, err := r.registry.Get(sessionID)
	if err != nil {
		log.Debug().
			Str("client_id", clientID.String()).
			Str("session_id", cmd.SessionID).
			Str("command", string(cmd.Type)).
			Msg("session not found, dropping command")
		return nil, false
	}
	return sess, true
}

// dropIfInvalid logs and swallows InvalidParticipant errors from session
// operations. Late events referencing stale clients never crash a session.
func (r *Router) dropIfInvalid(clientID uuid.UUID, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, race.ErrInvalidParticipant) {
		log.Warn().
			Str("client_id", clientID.String()).
			Msg("command from non-participant, dropping")
		return
	}
	log.Error().Err(err).Str("client_id", clientID.String()).Msg("session operation failed")
}

func (r *Router) reject(clientID uuid.UUID, reason string) {
	r.emit(events.Outbound{
		Type:    events.TypeQueueRejected,
		To:      []uuid.UUID{clientID},
		Payload: events.QueueRejectedPayload{Reason: reason},
	})
}
