// Package protocol defines the named events and payload shapes exchanged
// between a game client and the authority, plus the JSON envelope that
// carries them over a websocket connection.
package protocol

import (
	"encoding/json"
	"time"
)

// Events pushed by the authority.
const (
	// EventConnect is synthetic: the session fires it locally on every
	// (re)established connection. It never travels on the wire.
	EventConnect = "connect"

	EventPlayerJoined  = "room:playerJoined"
	EventPlayerLeft    = "player:leave"
	EventPlayersCount  = "room:playersCount"
	EventRoundStarted  = "game:started"
	EventTargetUpdate  = "game:targetUpdate"
	EventTimeUpdate    = "game:timeUpdate"
	EventRoundEnd      = "game:end"
	EventScoreUpdated  = "score:updated"
	EventNumberCorrect = "game:numberCorrect"
)

// Events emitted by the client.
const (
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventStartRound   = "game:start"
	EventCorrectGuess = "player:correctGuess"
	EventWrongGuess   = "player:wrongGuess"
)

// Envelope is the wire frame. A sender that expects an acknowledgement sets
// Seq; the reply carries the same value in Ack and no Event. Pushes carry an
// Event and no Seq.
type Envelope struct {
	Event string          `json:"event,omitempty"`
	Seq   uint64          `json:"seq,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Marshal builds an envelope with the payload encoded into Data.
func Marshal(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// Player is the authority-owned player record. The client holds a cached
// replica; score and host flag are only ever corrected by authority pushes.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Score   int    `json:"score"`
	IsHost  bool   `json:"isHost,omitempty"`
	IsReady bool   `json:"isReady,omitempty"`
}

// Room is the authority-owned room record, observed but never mutated by
// clients.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	Status       string    `json:"status"`
	PlayersCount int       `json:"playersCount"`
}

// RoundStarted announces a new round. Seed drives the shared grid
// permutation: every client in the round derives the same layout from it.
type RoundStarted struct {
	TargetNumber  int   `json:"targetNumber"`
	TimeRemaining int   `json:"timeRemaining"`
	Seed          int64 `json:"seed"`
}

// NumberCorrect is broadcast to every client in the room, including the
// guesser, when a number is permanently claimed.
type NumberCorrect struct {
	GuessedNumber int    `json:"guessedNumber"`
	PlayerID      string `json:"playerId"`
	Color         string `json:"color"`
}

// PlayersCount updates only the numeric count shown in UI; it never
// supersedes the detailed membership list.
type PlayersCount struct {
	PlayersCount int `json:"playersCount"`
}

// JoinRoom is sent on first join and replayed on reconnect with the
// persisted identity.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	IsHost   bool   `json:"isHost,omitempty"`
}

// JoinRoomResponse is the acknowledgement payload for JoinRoom.
type JoinRoomResponse struct {
	Success bool    `json:"success"`
	Player  *Player `json:"player,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type LeaveRoom struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type StartRound struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

// Guess reports a local guess to the authority. Color is set only on
// correct guesses; Points carries the optimistic delta the client applied.
type Guess struct {
	RoomID        string `json:"roomId"`
	PlayerID      string `json:"playerId"`
	Points        int    `json:"points"`
	GuessedNumber int    `json:"guessedNumber"`
	TargetNumber  int    `json:"targetNumber"`
	Color         string `json:"color,omitempty"`
}

// RoundEnd optionally names the winning player.
type RoundEnd struct {
	Winner *Player `json:"winner,omitempty"`
}
