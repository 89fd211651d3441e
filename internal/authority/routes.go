package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

// Routes builds the CRUD surface and the websocket endpoint the client
// consumes.
func Routes(h *Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Post("/player", createPlayer(h))
	r.Get("/room", listRooms(h))
	r.Post("/room", createRoom(h))
	r.Delete("/room/{roomID}", deleteRoom(h))
	r.Get("/room/{roomID}/leaderboard", roomLeaderboard(h))
	r.Get("/player/top-5-players", topPlayers(h))
	r.Get("/ws", wsHandler(h, log))
	r.Get("/healthz", healthz)
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func createPlayer(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		reply := make(chan protocol.Player, 1)
		h.Inbox() <- CreatePlayer{Name: body.Name, Reply: reply}
		writeJSON(w, http.StatusCreated, <-reply)
	}
}

func listRooms(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []protocol.Room, 1)
		h.Inbox() <- ListRooms{Reply: reply}
		writeJSON(w, http.StatusOK, <-reply)
	}
}

func createRoom(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		reply := make(chan *Room, 1)
		h.Inbox() <- CreateRoom{Name: body.Name, Reply: reply}
		room := <-reply
		writeJSON(w, http.StatusCreated, room.View().Info)
	}
}

func deleteRoom(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		reply := make(chan *Room, 1)
		h.Inbox() <- GetRoom{ID: roomID, Reply: reply}
		if <-reply == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		h.Inbox() <- RemoveRoom{ID: roomID}
		w.WriteHeader(http.StatusNoContent)
	}
}

func roomLeaderboard(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan *Room, 1)
		h.Inbox() <- GetRoom{ID: chi.URLParam(r, "roomID"), Reply: reply}
		room := <-reply
		if room == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, room.View().Ranking)
	}
}

func topPlayers(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []protocol.Player, 1)
		h.Inbox() <- TopPlayers{N: 5, Reply: reply}
		writeJSON(w, http.StatusOK, <-reply)
	}
}

// wsHandler owns one client connection: a writer goroutine drains the
// room-facing outbox while the read loop routes client events, answering
// acks inline.
func wsHandler(h *Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		outbox := make(chan protocol.Envelope, 32)

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case env, ok := <-outbox:
					if !ok {
						return
					}
					payload, err := json.Marshal(env)
					if err != nil {
						continue
					}
					ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
					err = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
					if err != nil {
						return
					}
				}
			}
		}()

		var (
			room     *Room
			playerID string
		)
		defer func() {
			if room != nil {
				// Tagged with this connection's outbox so a teardown racing
				// a completed rejoin cannot evict the player.
				room.Inbox() <- Leave{PlayerID: playerID, Outbox: outbox}
			}
		}()

		ack := func(seq uint64, payload any) {
			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			select {
			case outbox <- protocol.Envelope{Ack: seq, Data: data}:
			default:
			}
		}

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Warn("bad frame from client", zap.Error(err))
				continue
			}

			switch env.Event {
			case protocol.EventJoinRoom:
				var req protocol.JoinRoom
				if err := json.Unmarshal(env.Data, &req); err != nil {
					ack(env.Seq, protocol.JoinRoomResponse{Success: false, Error: "bad payload"})
					continue
				}
				next, resp := joinRoom(h, req, outbox)
				if resp.Success {
					if room != nil && room != next {
						room.Inbox() <- Leave{PlayerID: playerID, Outbox: outbox}
					}
					room = next
					playerID = req.PlayerID
				}
				ack(env.Seq, resp)

			case protocol.EventLeaveRoom:
				if room != nil {
					room.Inbox() <- Leave{PlayerID: playerID, Outbox: outbox}
					room = nil
					playerID = ""
				}

			case protocol.EventStartRound:
				if room == nil {
					ack(env.Seq, protocol.JoinRoomResponse{Success: false, Error: "not in a room"})
					continue
				}
				reply := make(chan error, 1)
				room.Inbox() <- Start{PlayerID: playerID, Reply: reply}
				if err := <-reply; err != nil {
					ack(env.Seq, protocol.JoinRoomResponse{Success: false, Error: err.Error()})
					continue
				}
				ack(env.Seq, protocol.JoinRoomResponse{Success: true})

			case protocol.EventCorrectGuess, protocol.EventWrongGuess:
				if room == nil {
					continue
				}
				var g protocol.Guess
				if err := json.Unmarshal(env.Data, &g); err != nil {
					continue
				}
				g.PlayerID = playerID
				room.Inbox() <- GuessReport{Guess: g, Correct: env.Event == protocol.EventCorrectGuess}

			default:
				log.Warn("unknown client event", zap.String("event", env.Event))
			}
		}
	}
}

// joinRoom resolves the room and the player record, then performs the
// membership join through the room actor. A rejoin for a known player id
// replaces the dead connection's outbox with this one.
func joinRoom(h *Hub, req protocol.JoinRoom, outbox chan protocol.Envelope) (*Room, protocol.JoinRoomResponse) {
	roomReply := make(chan *Room, 1)
	h.Inbox() <- GetRoom{ID: req.RoomID, Reply: roomReply}
	room := <-roomReply
	if room == nil {
		return nil, protocol.JoinRoomResponse{Success: false, Error: "room not found"}
	}

	playerReply := make(chan *protocol.Player, 1)
	h.Inbox() <- GetPlayer{ID: req.PlayerID, Reply: playerReply}
	player := <-playerReply
	if player == nil {
		return nil, protocol.JoinRoomResponse{Success: false, Error: "unknown player"}
	}

	reply := make(chan protocol.JoinRoomResponse, 1)
	room.Inbox() <- Join{Player: *player, Outbox: outbox, Reply: reply}
	return room, <-reply
}
