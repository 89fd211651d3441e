// Package leaderboard holds the two read-only score projections: a global
// top-N and a room-scoped full ranking. Neither feeds back into gameplay.
package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

// GlobalTopN is how many entries the global projection keeps.
const GlobalTopN = 5

// Fetcher is the slice of the CRUD collaborator the aggregator reads from.
type Fetcher interface {
	TopPlayers(ctx context.Context) ([]protocol.Player, error)
	RoomLeaderboard(ctx context.Context, roomID string) ([]protocol.Player, error)
}

type Aggregator struct {
	fetch Fetcher
	clock clockwork.Clock
	log   *zap.Logger

	mu     sync.RWMutex
	global []protocol.Player
	room   []protocol.Player
	roomID string
}

func New(fetch Fetcher, clock clockwork.Clock, log *zap.Logger) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{fetch: fetch, clock: clock, log: log}
}

// SetRoom scopes the room projection. An empty id disables it.
func (a *Aggregator) SetRoom(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roomID = roomID
	a.room = nil
}

// RefreshGlobal re-queries the global top-N.
func (a *Aggregator) RefreshGlobal(ctx context.Context) error {
	players, err := a.fetch.TopPlayers(ctx)
	if err != nil {
		a.log.Warn("global leaderboard fetch failed", zap.Error(err))
		return err
	}
	ranked := rank(players)
	if len(ranked) > GlobalTopN {
		ranked = ranked[:GlobalTopN]
	}
	a.mu.Lock()
	a.global = ranked
	a.mu.Unlock()
	return nil
}

// RefreshRoom re-queries the current room's full ranking.
func (a *Aggregator) RefreshRoom(ctx context.Context) error {
	a.mu.RLock()
	roomID := a.roomID
	a.mu.RUnlock()
	if roomID == "" {
		return nil
	}
	players, err := a.fetch.RoomLeaderboard(ctx, roomID)
	if err != nil {
		a.log.Warn("room leaderboard fetch failed",
			zap.String("room_id", roomID), zap.Error(err))
		return err
	}
	ranked := rank(players)
	a.mu.Lock()
	if a.roomID == roomID {
		a.room = ranked
	}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) Global() []protocol.Player {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]protocol.Player(nil), a.global...)
}

func (a *Aggregator) Room() []protocol.Player {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]protocol.Player(nil), a.room...)
}

// Run refreshes the projections until ctx is cancelled: once at start, on
// every round-end signal, and on the polling cadence for the room view.
func (a *Aggregator) Run(ctx context.Context, poll time.Duration, roundEnds <-chan struct{}) {
	_ = a.RefreshGlobal(ctx)
	_ = a.RefreshRoom(ctx)

	ticker := a.clock.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_ = a.RefreshRoom(ctx)
		case <-roundEnds:
			_ = a.RefreshGlobal(ctx)
			_ = a.RefreshRoom(ctx)
		}
	}
}

// rank orders by score descending with a stable sort, so equal scores keep
// their prior relative order.
func rank(players []protocol.Player) []protocol.Player {
	out := append([]protocol.Player(nil), players...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
