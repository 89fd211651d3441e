// Package authority is a single-process authoritative peer for local play
// and integration tests: a hub actor that owns player records and rooms, a
// room actor per room driving rounds, and the HTTP/websocket surface the
// client consumes.
package authority

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

type HubMsg interface{ isHubMsg() }

type CreatePlayer struct {
	Name  string
	Reply chan protocol.Player
}

type GetPlayer struct {
	ID    string
	Reply chan *protocol.Player
}

type CreateRoom struct {
	Name  string
	Reply chan *Room
}

type GetRoom struct {
	ID    string
	Reply chan *Room
}

type ListRooms struct {
	Reply chan []protocol.Room
}

type RemoveRoom struct{ ID string }

// RecordScores folds a finished round's scores into the global board.
type RecordScores struct{ Players []protocol.Player }

type TopPlayers struct {
	N     int
	Reply chan []protocol.Player
}

type ShutdownHub struct{}

func (CreatePlayer) isHubMsg() {}
func (GetPlayer) isHubMsg()    {}
func (CreateRoom) isHubMsg()   {}
func (GetRoom) isHubMsg()      {}
func (ListRooms) isHubMsg()    {}
func (RemoveRoom) isHubMsg()   {}
func (RecordScores) isHubMsg() {}
func (TopPlayers) isHubMsg()   {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*Room
	players map[string]protocol.Player
	best    []protocol.Player // arrival-ordered, score is personal best

	clock clockwork.Clock
	rng   *rand.Rand
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, clock clockwork.Clock, rng *rand.Rand, log *zap.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*Room),
		players: make(map[string]protocol.Player),
		clock:   clock,
		rng:     rng,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreatePlayer:
				p := protocol.Player{ID: uuid.NewString(), Name: msg.Name}
				h.players[p.ID] = p
				h.log.Info("player created",
					zap.String("player_id", p.ID), zap.String("name", p.Name))
				msg.Reply <- p

			case GetPlayer:
				if p, ok := h.players[msg.ID]; ok {
					msg.Reply <- &p
					break
				}
				msg.Reply <- nil

			case CreateRoom:
				room := NewRoom(h.ctx, RoomConfig{
					Info: protocol.Room{
						ID:        uuid.NewString(),
						Name:      msg.Name,
						CreatedAt: h.clock.Now(),
						Status:    "open",
					},
					Clock:  h.clock,
					Seed:   h.rng.Int63(),
					Notify: h.inbox,
					Logger: h.log,
				})
				h.rooms[room.ID()] = room
				h.log.Info("room created", zap.String("room_id", room.ID()))
				msg.Reply <- room

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case ListRooms:
				out := make([]protocol.Room, 0, len(h.rooms))
				for _, room := range h.rooms {
					out = append(out, room.View().Info)
				}
				sort.Slice(out, func(i, j int) bool {
					return out[i].CreatedAt.Before(out[j].CreatedAt)
				})
				msg.Reply <- out

			case RemoveRoom:
				if room := h.rooms[msg.ID]; room != nil {
					room.Inbox() <- Shutdown{}
					delete(h.rooms, msg.ID)
				}

			case RecordScores:
				for _, p := range msg.Players {
					h.record(p)
				}

			case TopPlayers:
				msg.Reply <- h.top(msg.N)

			case ShutdownHub:
				for _, room := range h.rooms {
					room.Inbox() <- Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) record(p protocol.Player) {
	for i := range h.best {
		if h.best[i].ID == p.ID {
			if p.Score > h.best[i].Score {
				h.best[i].Score = p.Score
			}
			return
		}
	}
	h.best = append(h.best, protocol.Player{ID: p.ID, Name: p.Name, Score: p.Score})
}

func (h *Hub) top(n int) []protocol.Player {
	out := append([]protocol.Player(nil), h.best...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
