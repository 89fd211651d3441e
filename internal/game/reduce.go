package game

import (
	"github.com/tdnguyen-dev/numberhunt/internal/grid"
	"github.com/tdnguyen-dev/numberhunt/internal/protocol"
)

// Event is one authority push (or locally generated timer event) applied to
// the projection. Reduce is pure and idempotent under replay: pushes may
// arrive again after a reconnect, in any order relative to local state.
type Event interface{ isGameEvent() }

type PlayerJoined struct{ Player protocol.Player }
type PlayerLeft struct{ PlayerID string }
type PlayersCount struct{ Count int }
type RoundStarted struct {
	Target  int
	Seconds int
	Seed    int64
}
type TargetUpdate struct{ Target int }
type TimeUpdate struct{ Seconds int }
type RoundEnded struct{ Winner *protocol.Player }
type ScoreUpdated struct{ Player protocol.Player }
type NumberLocked struct {
	Number   int
	PlayerID string
	Color    string
}

// LocalTick is the liveness fallback: a one-second decrement free-run
// between authoritative time pushes.
type LocalTick struct{}

// CooldownExpired re-enables a cell after the incorrect-guess lockout.
type CooldownExpired struct{ Number int }

func (PlayerJoined) isGameEvent()    {}
func (PlayerLeft) isGameEvent()      {}
func (PlayersCount) isGameEvent()    {}
func (RoundStarted) isGameEvent()    {}
func (TargetUpdate) isGameEvent()    {}
func (TimeUpdate) isGameEvent()      {}
func (RoundEnded) isGameEvent()      {}
func (ScoreUpdated) isGameEvent()    {}
func (NumberLocked) isGameEvent()    {}
func (LocalTick) isGameEvent()       {}
func (CooldownExpired) isGameEvent() {}

// Reduce returns the projection after applying one event. Replayed or
// out-of-order pushes must land as no-ops, never as errors.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case PlayerJoined:
		// Adopt the pushed record as our own only when we hold no record
		// yet or the ids match; a stale broadcast for another player must
		// not overwrite fresher local identity.
		if !s.HasSelf || e.Player.ID == s.Self.ID {
			s.Self = e.Player
			s.HasSelf = true
			s.Confirmed = e.Player.Score
			s.Provisional = e.Player.Score
		}
		if i := playerIndex(s.Players, e.Player.ID); i >= 0 {
			// Repeated join for a known id is an update, not a duplicate.
			s.Players = clonePlayers(s.Players)
			s.Players[i] = e.Player
		} else {
			s.Players = append(clonePlayers(s.Players), e.Player)
		}
		return s

	case PlayerLeft:
		i := playerIndex(s.Players, e.PlayerID)
		if i < 0 {
			return s
		}
		players := clonePlayers(s.Players)
		s.Players = append(players[:i], players[i+1:]...)
		return s

	case PlayersCount:
		s.PlayersCount = e.Count
		return s

	case RoundStarted:
		// Replaying the identical start must not reset the round again.
		if s.Round.Started && !s.Round.Completed &&
			s.Round.Seed == e.Seed && s.Round.Target == e.Target {
			return s
		}
		s.Round = Round{
			Target:  e.Target,
			Timer:   e.Seconds,
			Started: true,
			Seed:    e.Seed,
		}
		s.Grid = grid.Shuffle(e.Seed)
		s.Locked = map[int]Lock{}
		s.Cooldown = map[int]bool{}
		s.Provisional = 0
		s.Confirmed = 0
		s.Winner = nil
		return s

	case TargetUpdate:
		// Target pushes only mean anything mid-round; one replayed after
		// completion is absorbed, keeping Target zero outside active play.
		if !s.Round.Started || s.Round.Completed {
			return s
		}
		s.Round.Target = e.Target
		return s

	case TimeUpdate:
		if !s.Round.Started || s.Round.Completed {
			return s
		}
		t := e.Seconds
		if t > s.Round.Timer {
			// A late tick never raises the countdown mid-round.
			t = s.Round.Timer
		}
		if t <= 0 {
			t = 0
		}
		s.Round.Timer = t
		if t == 0 {
			s.Round.Completed = true
			s.Round.Target = 0
		}
		return s

	case RoundEnded:
		if s.Round.Completed {
			return s
		}
		s.Round.Completed = true
		s.Round.Target = 0
		s.Winner = e.Winner
		return s

	case ScoreUpdated:
		if i := playerIndex(s.Players, e.Player.ID); i >= 0 {
			s.Players = clonePlayers(s.Players)
			s.Players[i].Score = e.Player.Score
		}
		if s.HasSelf && e.Player.ID == s.Self.ID {
			// Authoritative replacement, never an addition: this is the
			// correction for any optimistic drift.
			s.Self.Score = e.Player.Score
			s.Confirmed = e.Player.Score
			s.Provisional = e.Player.Score
		}
		return s

	case NumberLocked:
		if _, locked := s.Locked[e.Number]; locked {
			return s
		}
		s.Locked = cloneLocks(s.Locked)
		s.Locked[e.Number] = Lock{PlayerID: e.PlayerID, Color: e.Color}
		return s

	case LocalTick:
		if !s.Round.Started || s.Round.Completed || s.Round.Timer <= 0 {
			return s
		}
		s.Round.Timer--
		if s.Round.Timer == 0 {
			s.Round.Completed = true
			s.Round.Target = 0
		}
		return s

	case CooldownExpired:
		if !s.Cooldown[e.Number] {
			return s
		}
		s.Cooldown = cloneCooldown(s.Cooldown)
		delete(s.Cooldown, e.Number)
		return s

	default:
		return s
	}
}
