package matchqueue

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
)

// ErrDuplicateName is returned when a username is already waiting in the queue.
var ErrDuplicateName = errors.New("username already in queue")

// Queue holds players waiting for an opponent and pairs them in arrival order.
// There is no skill matching: the two longest-waiting players are always paired
// first. All methods are safe for concurrent use; Enqueue and DequeuePair are
// mutually exclusive so a player cannot be paired and removed at the same time.
type Queue struct {
	mu      sync.Mutex
	waiting []models.WaitingPlayer
	clock   clockwork.Clock
}

// NewQueue creates an empty matchmaking queue.
func NewQueue(clock clockwork.Clock) *Queue {
	return &Queue{
		clock: clock,
	}
}

// Enqueue appends a player to the queue. Usernames are ephemeral and
// self-asserted, but must be unique (case-insensitive) among currently-queued
// players.
func (q *Queue) Enqueue(clientID uuid.UUID, username string) (models.WaitingPlayer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range q.waiting {
		if strings.EqualFold(w.Username, username) {
			return models.WaitingPlayer{}, ErrDuplicateName
		}
	}

	player := models.WaitingPlayer{
		ClientID:   clientID,
		Username:   username,
		EnqueuedAt: q.clock.Now(),
	}
	q.waiting = append(q.waiting, player)

	log.Debug().
		Str("client_id", clientID.String()).
		Str("username", username).
		Int("queue_len", len(q.waiting)).
		Msg("player enqueued")

	return player, nil
}

// DequeuePair atomically removes and returns the two longest-waiting players.
// It returns false when fewer than two players are queued.
func (q *Queue) DequeuePair() (models.WaitingPlayer, models.WaitingPlayer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) < 2 {
		return models.WaitingPlayer{}, models.WaitingPlayer{}, false
	}

	first, second := q.waiting[0], q.waiting[1]
	q.waiting = append(q.waiting[:0:0], q.waiting[2:]...)

	log.Debug().
		Str("first", first.Username).
		Str("second", second.Username).
		Int("queue_len", len(q.waiting)).
		Msg("paired waiting players")

	return first, second, true
}

// Remove takes a player out of the queue, used on cancel or disconnect.
// It reports whether the player was queued; removing an absent player is a no-op.
func (q *Queue) Remove(clientID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, w := range q.waiting {
		if w.ClientID == clientID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			log.Debug().
				Str("client_id", clientID.String()).
				Str("username", w.Username).
				Msg("player removed from queue")
			return true
		}
	}
	return false
}

// Contains reports whether the client is currently queued.
func (q *Queue) Contains(clientID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range q.waiting {
		if w.ClientID == clientID {
			return true
		}
	}
	return false
}

// Len returns the number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
