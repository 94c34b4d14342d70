package race

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

// ErrSessionNotFound is returned when an event references a session that is no
// longer registered. This is a harmless race with teardown, not a fault.
var ErrSessionNotFound = errors.New("session not found")

// DefaultCountdown is the delay between both players readying up and the race
// starting.
const DefaultCountdown = 4 * time.Second

// DefaultRaceTexts are used when no texts are configured.
var DefaultRaceTexts = []string{
	"The quick brown fox jumps over the lazy dog and runs away from the hunter.",
	"Typing fast is useless if every second word needs fixing before you move on.",
	"A race is won long before the finish line, one clean keystroke at a time.",
}

// Registry owns every live session, keyed by session ID, together with the
// reverse index from client ID to session ID. A client is referenced by at
// most one session at any time. Sessions never outlive their registry entry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byClient map[uuid.UUID]uuid.UUID

	clock     clockwork.Clock
	countdown time.Duration
	texts     []string
	sink      events.Sink
}

// NewRegistry creates an empty session registry. Sessions it creates run their
// countdown on the given clock, pick their race text from texts, and emit
// events through sink.
func NewRegistry(clock clockwork.Clock, countdown time.Duration, texts []string, sink events.Sink) *Registry {
	if countdown <= 0 {
		countdown = DefaultCountdown
	}
	if len(texts) == 0 {
		texts = DefaultRaceTexts
	}
	return &Registry{
		sessions:  make(map[uuid.UUID]*Session),
		byClient:  make(map[uuid.UUID]uuid.UUID),
		clock:     clock,
		countdown: countdown,
		texts:     texts,
		sink:      sink,
	}
}

// Create builds a Lobby-phase session for two paired players, stores it, and
// indexes both clients.
func (r *Registry) Create(first, second models.WaitingPlayer) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	for r.sessions[id] != nil {
		id = uuid.New()
	}

	text := r.texts[rand.Intn(len(r.texts))]
	sess := newSession(id, first, second, text, r.countdown, r.clock, r.sink)

	r.sessions[id] = sess
	r.byClient[first.ClientID] = id
	r.byClient[second.ClientID] = id

	log.Info().
		Str("session_id", id.String()).
		Str("first", first.Username).
		Str("second", second.Username).
		Int("live_sessions", len(r.sessions)).
		Msg("session created")

	return sess
}

// Get looks up a live session by ID.
func (r *Registry) Get(sessionID uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetByClient resolves a client to the session it currently occupies.
func (r *Registry) GetByClient(clientID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.byClient[clientID]
	if !ok {
		return nil, false
	}
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// Destroy removes and discards a session, cancelling any pending countdown so
// nothing is broadcast for it afterwards. Idempotent.
func (r *Registry) Destroy(sessionID uuid.UUID) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	for _, slot := range sess.Roster() {
		if r.byClient[slot.ClientID] == sessionID {
			delete(r.byClient, slot.ClientID)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	sess.stopCountdown()

	log.Info().
		Str("session_id", sessionID.String()).
		Int("live_sessions", remaining).
		Msg("session destroyed")
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
