// Package game holds the client-local projection of a room and its round:
// membership, the active target, the countdown, locks and scores. All
// mutation goes through the reducer in reduce.go and the command handler in
// apply.go; the Client actor in client.go is the single writer.
package game

import "github.com/tdnguyen-dev/numberhunt/internal/protocol"

const (
	// RoundSeconds is the configured countdown maximum.
	RoundSeconds = 180
	// CorrectReward and WrongPenalty are the optimistic deltas; the
	// authority's score pushes remain the source of truth.
	CorrectReward = 10
	WrongPenalty  = 5
	// CooldownSeconds is how long an incorrectly guessed cell stays
	// disabled for the guessing player only.
	CooldownSeconds = 3
	// MinPlayersToStart gates the host's first start request client-side.
	MinPlayersToStart = 2
)

// Round tracks round status, the current target and the countdown.
// Target is non-zero iff Started && !Completed.
type Round struct {
	Target    int
	Timer     int
	Started   bool
	Completed bool
	Seed      int64
}

// Lock records a permanently claimed number and the claimant's color.
type Lock struct {
	PlayerID string
	Color    string
}

// State is the full projection. Provisional is the score shown in UI;
// Confirmed is the last authoritative value and replaces Provisional
// whenever a score push for the local player arrives.
type State struct {
	RoomID       string
	Self         protocol.Player
	HasSelf      bool
	Players      []protocol.Player
	PlayersCount int

	Round       Round
	Grid        []int
	Locked      map[int]Lock
	Cooldown    map[int]bool
	Provisional int
	Confirmed   int

	Winner *protocol.Player
}

func NewState() State {
	return State{
		Round:    Round{Timer: RoundSeconds},
		Locked:   map[int]Lock{},
		Cooldown: map[int]bool{},
	}
}

// playerIndex returns the membership slot for id, or -1.
func playerIndex(players []protocol.Player, id string) int {
	for i := range players {
		if players[i].ID == id {
			return i
		}
	}
	return -1
}

func clonePlayers(players []protocol.Player) []protocol.Player {
	return append([]protocol.Player(nil), players...)
}

func cloneLocks(locks map[int]Lock) map[int]Lock {
	out := make(map[int]Lock, len(locks))
	for k, v := range locks {
		out[k] = v
	}
	return out
}

func cloneCooldown(cd map[int]bool) map[int]bool {
	out := make(map[int]bool, len(cd))
	for k, v := range cd {
		out[k] = v
	}
	return out
}
