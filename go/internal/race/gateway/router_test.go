package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/typerace/go/internal/race"
	"github.com/mcdev12/typerace/go/internal/race/events"
)

// recordingSender captures every event the router fans out.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentEvent
}

type sentEvent struct {
	To    []uuid.UUID
	Event *RaceEvent
}

func (r *recordingSender) SendToClients(to []uuid.UUID, event *RaceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEvent{To: to, Event: event})
}

func (r *recordingSender) ofType(typ events.Type) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, s := range r.sent {
		if s.Event.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func decodePayload[T any](t *testing.T, ev *RaceEvent) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
	return payload
}

func newTestRouter(clock clockwork.Clock) (*Router, *recordingSender) {
	sender := &recordingSender{}
	router := NewRouter(RouterConfig{Countdown: race.DefaultCountdown}, clock, sender, nil)
	return router, sender
}

func joinQueue(t *testing.T, router *Router, clientID uuid.UUID, username string) {
	t.Helper()
	data, _ := json.Marshal(JoinQueueData{Username: username})
	router.HandleCommand(clientID, ClientCommand{Type: CommandJoinQueue, Data: data})
}

func sendProgress(t *testing.T, router *Router, clientID uuid.UUID, sessionID string, progress float64) {
	t.Helper()
	data, _ := json.Marshal(ProgressData{Progress: progress})
	router.HandleCommand(clientID, ClientCommand{Type: CommandUpdateProgress, SessionID: sessionID, Data: data})
}

func waitForEvent(t *testing.T, sender *recordingSender, typ events.Type, want int) []sentEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sender.ofType(typ); len(got) >= want {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("saw %d %s events, want %d", len(sender.ofType(typ)), typ, want)
	return nil
}

func TestFullRaceScenario(t *testing.T) {
	clock := clockwork.NewFakeClock()
	router, sender := newTestRouter(clock)

	alice, bob := uuid.New(), uuid.New()
	joinQueue(t, router, alice, "alice")
	joinQueue(t, router, bob, "bob")

	found := sender.ofType(events.TypeMatchFound)
	if len(found) != 1 {
		t.Fatalf("match_found emitted %d times, want 1", len(found))
	}
	if len(found[0].To) != 2 {
		t.Fatalf("match_found addressed to %d clients, want 2", len(found[0].To))
	}
	match := decodePayload[events.MatchFoundPayload](t, found[0].Event)
	if len(match.Roster) != 2 {
		t.Fatalf("roster has %d slots, want 2", len(match.Roster))
	}
	sessionID := match.SessionID.String()

	sess, err := router.Registry().Get(match.SessionID)
	if err != nil {
		t.Fatalf("session not registered: %v", err)
	}

	// Both ready up; countdown must start exactly once.
	router.HandleCommand(alice, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	router.HandleCommand(bob, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	if got := len(sender.ofType(events.TypeCountdownStarted)); got != 1 {
		t.Fatalf("countdown_started emitted %d times, want 1", got)
	}

	clock.Advance(race.DefaultCountdown)
	started := waitForEvent(t, sender, events.TypeRaceStarted, 1)
	text := decodePayload[events.RaceStartedPayload](t, started[0].Event).Text
	if text != sess.Text() {
		t.Errorf("race_started text = %q, want %q", text, sess.Text())
	}
	if len(started[0].To) != 2 {
		t.Errorf("race_started addressed to %d clients, want 2", len(started[0].To))
	}

	sendProgress(t, router, alice, sessionID, 55)
	sendProgress(t, router, alice, sessionID, 100)

	finished := sender.ofType(events.TypeRaceFinished)
	if len(finished) != 1 {
		t.Fatalf("race_finished emitted %d times, want 1", len(finished))
	}
	result := decodePayload[events.RaceFinishedPayload](t, finished[0].Event)
	if result.WinnerClientID != alice || result.WinnerUsername != "alice" {
		t.Errorf("winner = %s (%s), want alice", result.WinnerUsername, result.WinnerClientID)
	}

	// Bob finishing later never changes the outcome.
	sendProgress(t, router, bob, sessionID, 100)
	if got := len(sender.ofType(events.TypeRaceFinished)); got != 1 {
		t.Errorf("race_finished emitted %d times after tail report, want 1", got)
	}
	if winner, _ := sess.Winner(); winner != alice {
		t.Errorf("winner changed to %s", winner)
	}
}

func TestDuplicateNameRejectedOnlyToRequester(t *testing.T) {
	router, sender := newTestRouter(clockwork.NewFakeClock())

	alice, impostor := uuid.New(), uuid.New()
	joinQueue(t, router, alice, "alice")
	joinQueue(t, router, impostor, "ALICE")

	rejected := sender.ofType(events.TypeQueueRejected)
	if len(rejected) != 1 {
		t.Fatalf("queue_rejected emitted %d times, want 1", len(rejected))
	}
	if len(rejected[0].To) != 1 || rejected[0].To[0] != impostor {
		t.Errorf("queue_rejected addressed to %v, want only the impostor", rejected[0].To)
	}
	if router.Queue().Len() != 1 {
		t.Errorf("queue length = %d, want 1", router.Queue().Len())
	}
}

func TestDisconnectDuringCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	router, sender := newTestRouter(clock)

	alice, bob := uuid.New(), uuid.New()
	joinQueue(t, router, alice, "alice")
	joinQueue(t, router, bob, "bob")
	match := decodePayload[events.MatchFoundPayload](t, sender.ofType(events.TypeMatchFound)[0].Event)
	sessionID := match.SessionID.String()

	router.HandleCommand(alice, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	router.HandleCommand(bob, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})

	router.HandleDisconnect(bob)

	left := sender.ofType(events.TypeOpponentLeft)
	if len(left) != 1 {
		t.Fatalf("opponent_left emitted %d times, want 1", len(left))
	}
	if len(left[0].To) != 1 || left[0].To[0] != alice {
		t.Errorf("opponent_left addressed to %v, want only alice", left[0].To)
	}
	if router.Registry().Len() != 0 {
		t.Errorf("registry still holds %d sessions", router.Registry().Len())
	}

	// The countdown must never produce a race start for the dead session.
	clock.Advance(race.DefaultCountdown * 2)
	time.Sleep(10 * time.Millisecond)
	if got := len(sender.ofType(events.TypeRaceStarted)); got != 0 {
		t.Errorf("race_started emitted %d times after teardown, want 0", got)
	}

	// A late toggle on the stale session ID is dropped without any event.
	before := sender.count()
	router.HandleCommand(alice, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	if sender.count() != before {
		t.Error("late toggle on a destroyed session emitted events")
	}
}

func TestDisconnectWhileQueuedOnlyLeavesQueue(t *testing.T) {
	router, sender := newTestRouter(clockwork.NewFakeClock())

	alice := uuid.New()
	joinQueue(t, router, alice, "alice")
	router.HandleDisconnect(alice)

	if router.Queue().Len() != 0 {
		t.Errorf("queue length = %d after disconnect, want 0", router.Queue().Len())
	}
	if got := len(sender.ofType(events.TypeOpponentLeft)); got != 0 {
		t.Errorf("opponent_left emitted %d times for a queued player, want 0", got)
	}

	// The name is free again for the next player.
	carol := uuid.New()
	joinQueue(t, router, carol, "alice")
	if got := len(sender.ofType(events.TypeQueueRejected)); got != 0 {
		t.Errorf("queue_rejected emitted %d times, want 0", got)
	}
}

func TestLeaveSessionMidRace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	router, sender := newTestRouter(clock)

	alice, bob := uuid.New(), uuid.New()
	joinQueue(t, router, alice, "alice")
	joinQueue(t, router, bob, "bob")
	match := decodePayload[events.MatchFoundPayload](t, sender.ofType(events.TypeMatchFound)[0].Event)
	sessionID := match.SessionID.String()

	router.HandleCommand(alice, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	router.HandleCommand(bob, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	clock.Advance(race.DefaultCountdown)
	waitForEvent(t, sender, events.TypeRaceStarted, 1)

	router.HandleCommand(bob, ClientCommand{Type: CommandLeaveSession, SessionID: sessionID})

	left := sender.ofType(events.TypeOpponentLeft)
	if len(left) != 1 || left[0].To[0] != alice {
		t.Fatalf("opponent_left = %v, want exactly one event to alice", left)
	}
	if router.Registry().Len() != 0 {
		t.Errorf("registry still holds %d sessions", router.Registry().Len())
	}

	// Leaving twice is harmless.
	router.HandleCommand(bob, ClientCommand{Type: CommandLeaveSession, SessionID: sessionID})
	if got := len(sender.ofType(events.TypeOpponentLeft)); got != 1 {
		t.Errorf("opponent_left emitted %d times after repeat leave, want 1", got)
	}
}

func TestChatRelaysOnlyToOpponent(t *testing.T) {
	router, sender := newTestRouter(clockwork.NewFakeClock())

	alice, bob := uuid.New(), uuid.New()
	joinQueue(t, router, alice, "alice")
	joinQueue(t, router, bob, "bob")
	match := decodePayload[events.MatchFoundPayload](t, sender.ofType(events.TypeMatchFound)[0].Event)

	data, _ := json.Marshal(ChatData{Text: "good luck"})
	router.HandleCommand(alice, ClientCommand{Type: CommandSendChat, SessionID: match.SessionID.String(), Data: data})

	chats := sender.ofType(events.TypeChatMessage)
	if len(chats) != 1 {
		t.Fatalf("chat_message emitted %d times, want 1", len(chats))
	}
	if len(chats[0].To) != 1 || chats[0].To[0] != bob {
		t.Errorf("chat addressed to %v, want only bob", chats[0].To)
	}
	payload := decodePayload[events.ChatPayload](t, chats[0].Event)
	if payload.Username != "alice" || payload.Text != "good luck" {
		t.Errorf("chat payload = %+v, want alice/good luck", payload)
	}
}

// recordingPublisher stands in for the JetStream mirror.
type recordingPublisher struct {
	mu        sync.Mutex
	published []*RaceEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *RaceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) ofType(typ events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.published {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestLifecycleEventsAreMirroredExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sender := &recordingSender{}
	publisher := &recordingPublisher{}
	router := NewRouter(RouterConfig{Countdown: race.DefaultCountdown}, clock, sender, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Start(ctx)

	alice, bob := uuid.New(), uuid.New()
	joinQueue(t, router, alice, "alice")
	joinQueue(t, router, bob, "bob")
	match := decodePayload[events.MatchFoundPayload](t, sender.ofType(events.TypeMatchFound)[0].Event)
	sessionID := match.SessionID.String()

	router.HandleCommand(alice, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	router.HandleCommand(bob, ClientCommand{Type: CommandToggleReady, SessionID: sessionID})
	clock.Advance(race.DefaultCountdown)
	waitForEvent(t, sender, events.TypeRaceStarted, 1)

	sendProgress(t, router, alice, sessionID, 100)
	sendProgress(t, router, bob, sessionID, 100)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if publisher.ofType(events.TypeRaceFinished) >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	for _, typ := range []events.Type{events.TypeMatchFound, events.TypeRaceStarted, events.TypeRaceFinished} {
		if got := publisher.ofType(typ); got != 1 {
			t.Errorf("%s mirrored %d times, want 1", typ, got)
		}
	}
	if got := publisher.ofType(events.TypeProgressUpdate); got != 0 {
		t.Errorf("progress_update mirrored %d times, want 0", got)
	}
}

func TestQueuePairsStrictlyInArrivalOrder(t *testing.T) {
	router, sender := newTestRouter(clockwork.NewFakeClock())

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = uuid.New()
		joinQueue(t, router, ids[i], fmt.Sprintf("player-%d", i))
	}

	found := sender.ofType(events.TypeMatchFound)
	if len(found) != 2 {
		t.Fatalf("match_found emitted %d times, want 2", len(found))
	}
	first := decodePayload[events.MatchFoundPayload](t, found[0].Event)
	if first.Roster[0].Username != "player-0" || first.Roster[1].Username != "player-1" {
		t.Errorf("first pairing = %s/%s, want player-0/player-1",
			first.Roster[0].Username, first.Roster[1].Username)
	}
}
