package race

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

// ErrInvalidParticipant is returned when an operation references a client that
// does not occupy one of the session's two slots.
var ErrInvalidParticipant = errors.New("client is not a participant of this session")

// Session is one two-player race. It moves through
// Lobby -> Countdown -> Racing -> Finished, with early termination from any
// non-terminal phase when an opponent leaves. A session always has exactly two
// slots; there are no spectators and no mid-race substitution.
//
// All state mutations are serialized by the session's own mutex. Events are
// emitted synchronously through the sink while holding it, so sinks must not
// call back into the session.
type Session struct {
	mu    sync.Mutex
	id    uuid.UUID
	slots [2]models.PlayerSlot
	phase models.Phase
	text  string

	winner    *uuid.UUID
	aborted   bool
	startedAt time.Time // Racing entry, used for the winner's race duration

	clock           clockwork.Clock
	countdown       time.Duration
	cancelCountdown chan struct{}

	sink events.Sink
}

func newSession(id uuid.UUID, first, second models.WaitingPlayer, text string, countdown time.Duration, clock clockwork.Clock, sink events.Sink) *Session {
	return &Session{
		id: id,
		slots: [2]models.PlayerSlot{
			{ClientID: first.ClientID, Username: first.Username},
			{ClientID: second.ClientID, Username: second.Username},
		},
		phase:     models.PhaseLobby,
		text:      text,
		clock:     clock,
		countdown: countdown,
		sink:      sink,
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Phase returns the session's current phase.
func (s *Session) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Text returns the race text. It is fixed at session creation and identical
// for both slots.
func (s *Session) Text() string {
	return s.text
}

// Winner returns the winning client, if one has been recorded.
func (s *Session) Winner() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.winner == nil {
		return uuid.UUID{}, false
	}
	return *s.winner, true
}

// Roster returns a copy of both player slots.
func (s *Session) Roster() []models.PlayerSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *Session) rosterLocked() []models.PlayerSlot {
	return []models.PlayerSlot{s.slots[0], s.slots[1]}
}

func (s *Session) memberIDsLocked() []uuid.UUID {
	return []uuid.UUID{s.slots[0].ClientID, s.slots[1].ClientID}
}

func (s *Session) slotIndexLocked(clientID uuid.UUID) (int, bool) {
	for i := range s.slots {
		if s.slots[i].ClientID == clientID {
			return i, true
		}
	}
	return 0, false
}

// Opponent returns the other participant's slot.
func (s *Session) Opponent(clientID uuid.UUID) (models.PlayerSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.slotIndexLocked(clientID)
	if !ok {
		return models.PlayerSlot{}, ErrInvalidParticipant
	}
	return s.slots[1-idx], nil
}

// ToggleReady flips the participant's ready flag. It only mutates state in the
// Lobby phase; in any other phase the current roster is re-broadcast so a late
// toggle still leaves both clients with a consistent view. When the toggle
// makes both slots ready the session enters Countdown exactly once, even under
// simultaneous toggles from both players.
func (s *Session) ToggleReady(clientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.slotIndexLocked(clientID)
	if !ok {
		return fmt.Errorf("toggle ready: %w", ErrInvalidParticipant)
	}

	if s.phase != models.PhaseLobby {
		s.emitLocked(events.TypeRosterUpdated, events.RosterPayload{Roster: s.rosterLocked()}, s.memberIDsLocked())
		return nil
	}

	s.slots[idx].Ready = !s.slots[idx].Ready
	s.emitLocked(events.TypeRosterUpdated, events.RosterPayload{Roster: s.rosterLocked()}, s.memberIDsLocked())

	if s.slots[0].Ready && s.slots[1].Ready {
		s.enterCountdownLocked()
	}
	return nil
}

// enterCountdownLocked transitions Lobby -> Countdown and arms the start
// timer. The phase check in ToggleReady guarantees this runs at most once.
func (s *Session) enterCountdownLocked() {
	s.phase = models.PhaseCountdown
	s.emitLocked(events.TypeCountdownStarted, events.CountdownStartedPayload{
		Seconds:   int(s.countdown / time.Second),
		StartedAt: s.clock.Now(),
	}, s.memberIDsLocked())

	timer := s.clock.NewTimer(s.countdown)
	cancel := make(chan struct{})
	s.cancelCountdown = cancel

	log.Debug().
		Str("session_id", s.id.String()).
		Dur("countdown", s.countdown).
		Msg("countdown started")

	go func() {
		select {
		case <-timer.Chan():
			s.beginRace()
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()
}

// beginRace transitions Countdown -> Racing when the countdown timer fires.
// The session may have been torn down while the timer was pending, so the
// phase is re-checked under the lock.
func (s *Session) beginRace() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A cancelled countdown sets cancelCountdown to nil under the lock, so a
	// timer that fired concurrently with teardown loses here.
	if s.phase != models.PhaseCountdown || s.cancelCountdown == nil {
		return
	}
	s.phase = models.PhaseRacing
	s.startedAt = s.clock.Now()
	s.cancelCountdown = nil

	s.emitLocked(events.TypeRaceStarted, events.RaceStartedPayload{
		Text:      s.text,
		StartedAt: s.startedAt,
	}, s.memberIDsLocked())

	log.Info().
		Str("session_id", s.id.String()).
		Int("text_length", len(s.text)).
		Msg("race started")
}

// UpdateProgress records a participant's typing progress. Progress is clamped
// to [0,100] and monotonic per slot: stale or duplicate reports are silently
// ignored. The first participant to reach 100 while racing becomes the winner
// and the session finishes; later reports never change the winner.
func (s *Session) UpdateProgress(clientID uuid.UUID, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.slotIndexLocked(clientID)
	if !ok {
		return fmt.Errorf("update progress: %w", ErrInvalidParticipant)
	}

	if s.phase != models.PhaseRacing && s.phase != models.PhaseFinished {
		// Progress before the race starts is dropped, matching a client that
		// types ahead of the gun.
		return nil
	}

	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	if progress <= s.slots[idx].Progress {
		return nil
	}

	s.slots[idx].Progress = progress
	s.slots[idx].LastProgress = s.clock.Now()

	if s.phase == models.PhaseFinished {
		// Tail reports after the race is decided are recorded but not
		// broadcast, and the winner never changes.
		return nil
	}

	s.emitLocked(events.TypeProgressUpdate, events.ProgressPayload{
		ClientID: clientID,
		Progress: progress,
	}, s.memberIDsLocked())

	if progress >= 100 && s.winner == nil {
		s.finishLocked(idx)
	}
	return nil
}

// finishLocked records the winner and transitions Racing -> Finished.
func (s *Session) finishLocked(winnerIdx int) {
	winnerID := s.slots[winnerIdx].ClientID
	s.winner = &winnerID
	s.phase = models.PhaseFinished

	now := s.clock.Now()
	duration := now.Sub(s.startedAt)

	s.emitLocked(events.TypeRaceFinished, events.RaceFinishedPayload{
		SessionID:      s.id,
		WinnerClientID: winnerID,
		WinnerUsername: s.slots[winnerIdx].Username,
		TextLength:     len(s.text),
		Duration:       duration.String(),
		DurationMS:     duration.Milliseconds(),
		FinishedAt:     now,
	}, s.memberIDsLocked())

	log.Info().
		Str("session_id", s.id.String()).
		Str("winner", s.slots[winnerIdx].Username).
		Dur("duration", duration).
		Msg("race finished")
}

// TerminateEarly ends the session without a winner because the given
// participant left or disconnected. The remaining player is notified. Valid in
// any non-terminal phase; calling it again, or after a normal finish, only
// cancels timers without another notification.
func (s *Session) TerminateEarly(leaverID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.slotIndexLocked(leaverID)
	if !ok {
		return fmt.Errorf("terminate early: %w", ErrInvalidParticipant)
	}

	s.stopCountdownLocked()

	if s.phase == models.PhaseFinished {
		return nil
	}
	s.phase = models.PhaseFinished
	s.aborted = true

	remaining := s.slots[1-idx].ClientID
	s.emitLocked(events.TypeOpponentLeft, events.OpponentLeftPayload{SessionID: s.id}, []uuid.UUID{remaining})

	log.Info().
		Str("session_id", s.id.String()).
		Str("leaver", s.slots[idx].Username).
		Msg("session terminated early")
	return nil
}

// Aborted reports whether the session ended without a winner.
func (s *Session) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// stopCountdown cancels a pending countdown timer so a torn-down session can
// never emit a race start.
func (s *Session) stopCountdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCountdownLocked()
}

func (s *Session) stopCountdownLocked() {
	if s.cancelCountdown != nil {
		close(s.cancelCountdown)
		s.cancelCountdown = nil
	}
}

func (s *Session) emitLocked(typ events.Type, payload any, to []uuid.UUID) {
	if s.sink == nil {
		return
	}
	s.sink(events.Outbound{
		Type:      typ,
		SessionID: s.id,
		To:        to,
		Payload:   payload,
	})
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
