package authority

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tdnguyen-dev/numberhunt/internal/game"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

// waitFor drains the outbox until an envelope for event arrives, so tests
// never hang on broadcast ordering details.
func waitFor(t *testing.T, ch <-chan protocol.Envelope, event string, within time.Duration) protocol.Envelope {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %s", event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
			return protocol.Envelope{}
		}
	}
}

func decode[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
	return v
}

func TestHubCreateGetSamePointer(t *testing.T) {
	h := NewHub(context.Background(), nil, rand.New(rand.NewSource(1)), nil)

	reply := make(chan *Room, 1)
	h.Inbox() <- CreateRoom{Name: "fun", Reply: reply}
	r1 := <-reply

	h.Inbox() <- GetRoom{ID: r1.ID(), Reply: reply}
	r2 := <-reply

	if r1 == nil || r1 != r2 {
		t.Fatalf("expected the same room pointer")
	}
}

type testRoom struct {
	room  *Room
	clock *clockwork.FakeClock
	outA  chan protocol.Envelope
	outB  chan protocol.Envelope
}

func newTestRoom(t *testing.T) *testRoom {
	t.Helper()
	clock := clockwork.NewFakeClock()
	room := NewRoom(context.Background(), RoomConfig{
		Info:  protocol.Room{ID: "R1", Name: "fun", Status: "open"},
		Clock: clock,
		Seed:  1,
	})

	tr := &testRoom{
		room:  room,
		clock: clock,
		outA:  make(chan protocol.Envelope, 32),
		outB:  make(chan protocol.Envelope, 32),
	}

	reply := make(chan protocol.JoinRoomResponse, 1)
	room.Inbox() <- Join{Player: protocol.Player{ID: "a", Name: "an"}, Outbox: tr.outA, Reply: reply}
	if resp := <-reply; !resp.Success || !resp.Player.IsHost {
		t.Fatalf("first joiner must become host: %+v", resp)
	}

	room.Inbox() <- Join{Player: protocol.Player{ID: "b", Name: "binh"}, Outbox: tr.outB, Reply: reply}
	if resp := <-reply; !resp.Success || resp.Player.IsHost {
		t.Fatalf("second joiner must not be host: %+v", resp)
	}
	return tr
}

func (tr *testRoom) start(t *testing.T) protocol.RoundStarted {
	t.Helper()
	reply := make(chan error, 1)
	tr.room.Inbox() <- Start{PlayerID: "a", Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("start: %v", err)
	}
	started := waitFor(t, tr.outA, protocol.EventRoundStarted, time.Second)
	return decode[protocol.RoundStarted](t, started)
}

func TestStartGates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	room := NewRoom(context.Background(), RoomConfig{
		Info:  protocol.Room{ID: "R1", Status: "open"},
		Clock: clock,
		Seed:  1,
	})
	out := make(chan protocol.Envelope, 32)
	joinReply := make(chan protocol.JoinRoomResponse, 1)
	room.Inbox() <- Join{Player: protocol.Player{ID: "a"}, Outbox: out, Reply: joinReply}
	<-joinReply

	reply := make(chan error, 1)
	room.Inbox() <- Start{PlayerID: "a", Reply: reply}
	if err := <-reply; err != errNeedPlayers {
		t.Fatalf("want errNeedPlayers, got %v", err)
	}

	room.Inbox() <- Join{Player: protocol.Player{ID: "b"}, Outbox: make(chan protocol.Envelope, 32), Reply: joinReply}
	<-joinReply

	room.Inbox() <- Start{PlayerID: "b", Reply: reply}
	if err := <-reply; err != errNotHost {
		t.Fatalf("want errNotHost, got %v", err)
	}

	room.Inbox() <- Start{PlayerID: "a", Reply: reply}
	if err := <-reply; err != nil {
		t.Fatalf("host start failed: %v", err)
	}

	room.Inbox() <- Start{PlayerID: "a", Reply: reply}
	if err := <-reply; err != errRoundRunning {
		t.Fatalf("want errRoundRunning, got %v", err)
	}
}

func TestRoundBroadcastsSharedSeed(t *testing.T) {
	tr := newTestRoom(t)
	startedA := tr.start(t)
	startedB := decode[protocol.RoundStarted](t, waitFor(t, tr.outB, protocol.EventRoundStarted, time.Second))

	if startedA.Seed != startedB.Seed || startedA.TargetNumber != startedB.TargetNumber {
		t.Fatalf("clients received diverging rounds: %+v vs %+v", startedA, startedB)
	}
	if startedA.TimeRemaining != game.RoundSeconds {
		t.Fatalf("want %ds round, got %d", game.RoundSeconds, startedA.TimeRemaining)
	}
}

func TestCorrectGuessLocksAndAdvances(t *testing.T) {
	tr := newTestRoom(t)
	started := tr.start(t)

	tr.room.Inbox() <- GuessReport{Correct: true, Guess: protocol.Guess{
		PlayerID:      "a",
		GuessedNumber: started.TargetNumber,
		TargetNumber:  started.TargetNumber,
		Color:         "#1a2b3c",
	}}

	lockB := decode[protocol.NumberCorrect](t, waitFor(t, tr.outB, protocol.EventNumberCorrect, time.Second))
	if lockB.GuessedNumber != started.TargetNumber || lockB.PlayerID != "a" || lockB.Color != "#1a2b3c" {
		t.Fatalf("bad lock broadcast: %+v", lockB)
	}

	score := decode[protocol.Player](t, waitFor(t, tr.outB, protocol.EventScoreUpdated, time.Second))
	if score.ID != "a" || score.Score != game.CorrectReward {
		t.Fatalf("bad score broadcast: %+v", score)
	}

	var next int
	env := waitFor(t, tr.outB, protocol.EventTargetUpdate, time.Second)
	if err := json.Unmarshal(env.Data, &next); err != nil {
		t.Fatalf("decode target: %v", err)
	}
	if next == started.TargetNumber || next < 1 || next > 100 {
		t.Fatalf("bad next target %d", next)
	}

	// A replay of the same claim is absorbed: no second lock broadcast.
	tr.room.Inbox() <- GuessReport{Correct: true, Guess: protocol.Guess{
		PlayerID:      "a",
		GuessedNumber: started.TargetNumber,
		TargetNumber:  started.TargetNumber,
		Color:         "#1a2b3c",
	}}
	view := tr.room.View()
	if view.Ranking[0].Score != game.CorrectReward {
		t.Fatalf("replayed claim double-scored: %+v", view.Ranking)
	}
}

func TestWrongGuessFloorsAtZero(t *testing.T) {
	tr := newTestRoom(t)
	started := tr.start(t)

	tr.room.Inbox() <- GuessReport{Correct: false, Guess: protocol.Guess{
		PlayerID:      "b",
		GuessedNumber: started.TargetNumber + 1,
		TargetNumber:  started.TargetNumber,
	}}

	score := decode[protocol.Player](t, waitFor(t, tr.outA, protocol.EventScoreUpdated, time.Second))
	if score.ID != "b" || score.Score != 0 {
		t.Fatalf("penalty must floor at zero: %+v", score)
	}
}

func TestTickerCountsDown(t *testing.T) {
	tr := newTestRoom(t)
	tr.start(t)

	tr.clock.Advance(time.Second)
	var remaining int
	env := waitFor(t, tr.outA, protocol.EventTimeUpdate, time.Second)
	if err := json.Unmarshal(env.Data, &remaining); err != nil {
		t.Fatalf("decode tick: %v", err)
	}
	if remaining != game.RoundSeconds-1 {
		t.Fatalf("want %d, got %d", game.RoundSeconds-1, remaining)
	}
}

func TestHostPromotionOnLeave(t *testing.T) {
	tr := newTestRoom(t)

	tr.room.Inbox() <- Leave{PlayerID: "a"}
	waitFor(t, tr.outB, protocol.EventPlayerLeft, time.Second)

	promoted := decode[protocol.Player](t, waitFor(t, tr.outB, protocol.EventPlayerJoined, time.Second))
	if promoted.ID != "b" || !promoted.IsHost {
		t.Fatalf("oldest member must inherit the host seat: %+v", promoted)
	}
}

func TestRejoinReplacesOutbox(t *testing.T) {
	tr := newTestRoom(t)

	fresh := make(chan protocol.Envelope, 32)
	reply := make(chan protocol.JoinRoomResponse, 1)
	tr.room.Inbox() <- Join{Player: protocol.Player{ID: "a", Name: "an"}, Outbox: fresh, Reply: reply}
	resp := <-reply
	if !resp.Success || !resp.Player.IsHost {
		t.Fatalf("rejoin must return the existing record: %+v", resp)
	}

	// Broadcasts now land on the fresh outbox.
	waitFor(t, fresh, protocol.EventPlayersCount, time.Second)

	view := tr.room.View()
	if view.Info.PlayersCount != 2 {
		t.Fatalf("rejoin must not duplicate membership: %+v", view.Info)
	}
}

func TestStaleConnectionLeaveKeepsRejoinedPlayer(t *testing.T) {
	tr := newTestRoom(t)

	fresh := make(chan protocol.Envelope, 32)
	reply := make(chan protocol.JoinRoomResponse, 1)
	tr.room.Inbox() <- Join{Player: protocol.Player{ID: "a", Name: "an"}, Outbox: fresh, Reply: reply}
	if resp := <-reply; !resp.Success {
		t.Fatalf("rejoin failed: %+v", resp)
	}

	// The half-open first connection finally dies and tears down. Its
	// departure names the dead outbox, so the rejoined member stays.
	tr.room.Inbox() <- Leave{PlayerID: "a", Outbox: tr.outA}

	view := tr.room.View()
	if view.Info.PlayersCount != 2 {
		t.Fatalf("stale teardown evicted a rejoined player: %+v", view.Info)
	}
	for _, p := range view.Ranking {
		if p.ID == "a" && !p.IsHost {
			t.Fatalf("host seat lost to a stale teardown: %+v", p)
		}
	}

	// A departure from the live connection still applies.
	tr.room.Inbox() <- Leave{PlayerID: "a", Outbox: fresh}
	waitFor(t, tr.outB, protocol.EventPlayerLeft, time.Second)
	if view := tr.room.View(); view.Info.PlayersCount != 1 {
		t.Fatalf("live leave must still apply: %+v", view.Info)
	}
}
