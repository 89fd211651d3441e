package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/tdnguyen-dev/numberhunt/internal/identity"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
	"github.com/tdnguyen-dev/numberhunt/internal/session"
)

type emitRecord struct {
	event string
	data  any
	ack   session.AckFunc
}

// fakeTransport records emits and lets tests fire pushes into the registered
// handlers, standing in for the websocket session.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]session.Handler
	emits    []emitRecord
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]session.Handler)}
}

func (f *fakeTransport) On(event string, h session.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeTransport) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeTransport) Emit(event string, payload any, ack session.AckFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitRecord{event: event, data: payload, ack: ack})
	return nil
}

func (f *fakeTransport) push(t *testing.T, event string, payload any) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", event)
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		data = raw
	}
	h(data)
}

func (f *fakeTransport) lastEmit(event string) (emitRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.emits) - 1; i >= 0; i-- {
		if f.emits[i].event == event {
			return f.emits[i], true
		}
	}
	return emitRecord{}, false
}

func (f *fakeTransport) countEmits(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emits {
		if e.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	client    *Client
	transport *fakeTransport
	ident     *identity.Manager
	clock     *clockwork.FakeClock
}

func newFixture(t *testing.T, seedIdentity bool) *fixture {
	t.Helper()
	ident := identity.NewManager(identity.NewMemStore())
	if seedIdentity {
		require.NoError(t, ident.SavePlayer(protocol.Player{ID: "p1", Name: "an", IsHost: true}))
		require.NoError(t, ident.SaveRoomID("R1"))
	}
	transport := newFakeTransport()
	clock := clockwork.NewFakeClock()
	c := NewClient(context.Background(), Config{
		Transport: transport,
		Identity:  ident,
		Clock:     clock,
	})
	t.Cleanup(c.Close)
	return &fixture{client: c, transport: transport, ident: ident, clock: clock}
}

func (fx *fixture) startRound(t *testing.T) {
	t.Helper()
	fx.transport.push(t, protocol.EventRoundStarted,
		protocol.RoundStarted{TargetNumber: 42, TimeRemaining: 180, Seed: 7})
	require.Eventually(t, func() bool {
		return fx.client.State().Round.Started
	}, time.Second, 5*time.Millisecond)
}

func TestRejoinOnEveryConnect(t *testing.T) {
	fx := newFixture(t, true)

	fx.transport.push(t, protocol.EventConnect, nil)
	require.Eventually(t, func() bool {
		return fx.transport.countEmits(protocol.EventJoinRoom) == 1
	}, time.Second, 5*time.Millisecond)

	rec, _ := fx.transport.lastEmit(protocol.EventJoinRoom)
	req := rec.data.(protocol.JoinRoom)
	require.Equal(t, "R1", req.RoomID)
	require.Equal(t, "p1", req.PlayerID)
	require.True(t, req.IsHost)
	require.NotNil(t, rec.ack, "join must carry an acknowledgement callback")

	// The ack returns the authoritative record: score 30, host revoked.
	resp, err := json.Marshal(protocol.JoinRoomResponse{
		Success: true,
		Player:  &protocol.Player{ID: "p1", Name: "an", Score: 30, IsHost: false},
	})
	require.NoError(t, err)
	rec.ack(resp, nil)

	require.Eventually(t, func() bool {
		s := fx.client.State()
		return s.Provisional == 30 && !s.Self.IsHost
	}, time.Second, 5*time.Millisecond, "authoritative record must replace local identity")

	// Persisted record now matches the correction.
	p, ok := fx.ident.Player()
	require.True(t, ok)
	require.Equal(t, 30, p.Score)

	// A reconnect replays the join again.
	fx.transport.push(t, protocol.EventConnect, nil)
	require.Eventually(t, func() bool {
		return fx.transport.countEmits(protocol.EventJoinRoom) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRejoinFailureIsNonFatal(t *testing.T) {
	fx := newFixture(t, true)
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p1", IsHost: true})
	fx.transport.push(t, protocol.EventConnect, nil)

	rec, ok := fx.transport.lastEmit(protocol.EventJoinRoom)
	require.Eventually(t, func() bool {
		rec, ok = fx.transport.lastEmit(protocol.EventJoinRoom)
		return ok
	}, time.Second, 5*time.Millisecond)

	rec.ack(nil, session.ErrAckTimeout)

	// Last-known state survives; later pushes still re-synchronize.
	require.Eventually(t, func() bool {
		return len(fx.client.State().Players) == 1
	}, time.Second, 5*time.Millisecond)
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p2"})
	require.Eventually(t, func() bool {
		return len(fx.client.State().Players) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestGuessRoundTrip(t *testing.T) {
	fx := newFixture(t, true)
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p1", IsHost: true})
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p2"})
	fx.startRound(t)

	require.NoError(t, fx.client.Guess(42))
	s := fx.client.State()
	require.Equal(t, CorrectReward, s.Provisional)
	require.Equal(t, "p1", s.Locked[42].PlayerID)

	rec, ok := fx.transport.lastEmit(protocol.EventCorrectGuess)
	require.True(t, ok)
	g := rec.data.(protocol.Guess)
	require.Equal(t, 42, g.GuessedNumber)
	require.Equal(t, 42, g.TargetNumber)

	// Authority echoes the lock and advances the target.
	fx.transport.push(t, protocol.EventNumberCorrect,
		protocol.NumberCorrect{GuessedNumber: 42, PlayerID: "p1", Color: g.Color})
	fx.transport.push(t, protocol.EventTargetUpdate, 17)
	require.Eventually(t, func() bool {
		return fx.client.State().Round.Target == 17
	}, time.Second, 5*time.Millisecond)

	// Guessing the claimed number again is rejected with no score effect.
	require.ErrorIs(t, fx.client.Guess(42), ErrNumberLocked)
	require.Equal(t, CorrectReward, fx.client.State().Provisional)
}

func TestWrongGuessCooldownExpires(t *testing.T) {
	fx := newFixture(t, true)
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p1", IsHost: true})
	fx.startRound(t)

	require.NoError(t, fx.client.Guess(5))
	require.True(t, fx.client.State().Cooldown[5])
	require.ErrorIs(t, fx.client.Guess(5), ErrNumberCooldown)

	fx.clock.Advance(CooldownSeconds * time.Second)
	require.Eventually(t, func() bool {
		return !fx.client.State().Cooldown[5]
	}, time.Second, 5*time.Millisecond, "lockout must clear itself")
}

func TestLocalCountdownFreeRuns(t *testing.T) {
	fx := newFixture(t, true)
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p1", IsHost: true})
	fx.startRound(t)

	fx.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return fx.client.State().Round.Timer == 179
	}, time.Second, 5*time.Millisecond)

	// An authoritative tick overrides the local countdown.
	fx.transport.push(t, protocol.EventTimeUpdate, 150)
	require.Eventually(t, func() bool {
		return fx.client.State().Round.Timer == 150
	}, time.Second, 5*time.Millisecond)

	// Reaching zero completes the round exactly once and signals it.
	fx.transport.push(t, protocol.EventTimeUpdate, 0)
	select {
	case <-fx.client.RoundEnded():
	case <-time.After(time.Second):
		t.Fatalf("round end not signalled")
	}
	require.True(t, fx.client.State().Round.Completed)
}

func TestStartRoundHostGate(t *testing.T) {
	fx := newFixture(t, true)
	// Authority demotes us on join: start must become a no-op.
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p1", IsHost: false})
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p2", IsHost: true})

	require.Eventually(t, func() bool {
		return len(fx.client.State().Players) == 2
	}, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, fx.client.StartRound(), ErrNotHost)
	require.Equal(t, 0, fx.transport.countEmits(protocol.EventStartRound))
}

func TestLeaveRoomClearsPersistedRoom(t *testing.T) {
	fx := newFixture(t, true)
	fx.transport.push(t, protocol.EventPlayerJoined, protocol.Player{ID: "p1", IsHost: true})

	require.NoError(t, fx.client.LeaveRoom())
	_, ok := fx.transport.lastEmit(protocol.EventLeaveRoom)
	require.True(t, ok)

	_, hasRoom := fx.ident.RoomID()
	require.False(t, hasRoom, "explicit leave clears the room id")
	_, hasPlayer := fx.ident.Player()
	require.True(t, hasPlayer, "player record survives leaving")
}

func TestJoinRoomAckRejection(t *testing.T) {
	fx := newFixture(t, true)

	done := make(chan error, 1)
	go func() { done <- fx.client.JoinRoom("R2") }()

	var rec emitRecord
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = fx.transport.lastEmit(protocol.EventJoinRoom)
		return ok
	}, time.Second, 5*time.Millisecond)

	resp, err := json.Marshal(protocol.JoinRoomResponse{Success: false, Error: "room full"})
	require.NoError(t, err)
	rec.ack(resp, nil)

	select {
	case err := <-done:
		require.EqualError(t, err, "room full")
	case <-time.After(time.Second):
		t.Fatalf("JoinRoom did not return")
	}
}

func TestUnsubscribeClosesSnapshotChannel(t *testing.T) {
	fx := newFixture(t, true)

	frames := make(chan State, 4)
	fx.client.Subscribe("ui", frames)

	// The registration itself delivers a first snapshot.
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatalf("no snapshot after subscribing")
	}

	fx.client.Unsubscribe("ui")
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "unsubscribed channel never closed")
}

func TestCloseClosesSnapshotChannels(t *testing.T) {
	fx := newFixture(t, true)

	frames := make(chan State, 4)
	fx.client.Subscribe("ui", frames)
	fx.client.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-frames:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "close left the snapshot channel open")
}
